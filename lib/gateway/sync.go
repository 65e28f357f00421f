// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package gateway

import (
	"context"
	"errors"

	"github.com/bureau-foundation/portal/lib/ipc"
	"github.com/bureau-foundation/portal/lib/peer"
)

// handleCoreToGateway delivers core output to one session.
func (g *Gateway) handleCoreToGateway(ctx context.Context, request *peer.Request) (any, error) {
	g.claimCore(request.Peer())

	var message ipc.SessionMessage
	if err := request.Decode(&message); err != nil {
		return nil, err
	}
	if message.Operation != 0 {
		return nil, ipc.UnrecognizedOperation("session", message.Operation)
	}
	if err := g.sessions.DataOut(message.SessionID, message.Fields); err != nil {
		return nil, err
	}
	return nil, nil
}

// handleAdminCoreToGateway runs a core admin operation.
func (g *Gateway) handleAdminCoreToGateway(ctx context.Context, request *peer.Request) (any, error) {
	core := request.Peer()
	g.claimCore(core)

	var message ipc.AdminMessage
	if err := request.Decode(&message); err != nil {
		return nil, err
	}
	g.logger.Debug("core admin message",
		"operation", message.Operation,
		"session", message.SessionID,
	)

	switch message.Operation {
	case ipc.OperationLogin:
		g.sessions.ServerLoggedIn(message.SessionID, message.StateBlob)

	case ipc.OperationDisconnectOne:
		g.sessions.ServerDisconnect(message.SessionID, message.Reason)

	case ipc.OperationDisconnectAll:
		g.sessions.ServerDisconnectAll(message.Reason)

	case ipc.OperationReload, ipc.OperationReset:
		if !g.scheduleRestart(core, message.Operation, nil) {
			return nil, errors.New("no launch command recorded")
		}

	case ipc.OperationShutdownCore:
		g.notifyCore(ipc.OperationShutdownCore)

	case ipc.OperationShutdownAll:
		g.scheduleShutdown(core)

	case ipc.OperationPortalSync:
		// The snapshot goes out in the reply; the registry learns about
		// the new core only after the core has it.
		request.AfterReply(func() {
			g.setRestartExpected(false)
			g.sessions.OnCoreConnected()
		})
		return ipc.AdminReply{SessionData: g.sessions.GetAllSyncData()}, nil

	case ipc.OperationSessionSync:
		g.sessions.ServerSessionSync(message.SessionData, message.CleanOnly())
		g.setRestartExpected(true)

	case ipc.OperationForceConnect:
		if message.Connect == nil {
			return nil, errors.New("force-connect without connection parameters")
		}
		if err := g.sessions.ServerConnect(ctx, *message.Connect); err != nil {
			return nil, err
		}

	default:
		return nil, ipc.UnrecognizedOperation("admin", message.Operation)
	}
	return ipc.AdminReply{}, nil
}

// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package client

import (
	"context"
	"fmt"
	"io"

	"github.com/bureau-foundation/portal/lib/ipc"
	"github.com/bureau-foundation/portal/lib/netutil"
	"github.com/bureau-foundation/portal/lib/peer"
	"github.com/bureau-foundation/portal/lib/wire"
)

// CoreHandler is what the core application implements to receive
// gateway traffic.
type CoreHandler interface {
	// HandleInput receives client input for one session.
	HandleInput(ctx context.Context, sessionID string, fields map[string]any) error
	// HandleNotice receives a reload, reset, shutdown-core or
	// shutdown-all notice. The gateway is acknowledged when it
	// returns; the core is then expected to exit.
	HandleNotice(ctx context.Context, operation ipc.Operation) error
}

// Core is the core process's connection to the gateway.
type Core struct {
	connection
}

// DialCore connects to the gateway at address. Call PortalSync next
// to register as the core and recover session state.
func DialCore(ctx context.Context, address netutil.Address, handler CoreHandler, config peer.Config) (*Core, error) {
	conn, err := netutil.Dial(ctx, address)
	if err != nil {
		return nil, err
	}
	return NewCore(conn, handler, config), nil
}

// NewCore runs the core protocol on an established connection.
func NewCore(conn io.ReadWriteCloser, handler CoreHandler, config peer.Config) *Core {
	table := peer.NewTable()
	table.Handle(wire.KindGatewayToCore, func(ctx context.Context, request *peer.Request) (any, error) {
		var message ipc.SessionMessage
		if err := request.Decode(&message); err != nil {
			return nil, err
		}
		if message.Operation != 0 {
			return nil, ipc.UnrecognizedOperation("session", message.Operation)
		}
		return nil, handler.HandleInput(ctx, message.SessionID, message.Fields)
	})
	table.Handle(wire.KindAdminGatewayToCore, func(ctx context.Context, request *peer.Request) (any, error) {
		var message ipc.AdminMessage
		if err := request.Decode(&message); err != nil {
			return nil, err
		}
		switch message.Operation {
		case ipc.OperationReload, ipc.OperationReset, ipc.OperationShutdownCore, ipc.OperationShutdownAll:
			return nil, handler.HandleNotice(ctx, message.Operation)
		default:
			return nil, ipc.UnrecognizedOperation("notice", message.Operation)
		}
	})
	return &Core{connection: startConnection(conn, table, config)}
}

func (c *Core) admin(ctx context.Context, message ipc.AdminMessage) (ipc.AdminReply, error) {
	var reply ipc.AdminReply
	if err := c.peer.Call(ctx, wire.KindAdminCoreToGateway, message, &reply); err != nil {
		return ipc.AdminReply{}, fmt.Errorf("%s: %w", message.Operation, err)
	}
	return reply, nil
}

// PortalSync registers this connection as the core and returns every
// session's sync blob, keyed by session ID.
func (c *Core) PortalSync(ctx context.Context) (map[string][]byte, error) {
	reply, err := c.admin(ctx, ipc.AdminMessage{Operation: ipc.OperationPortalSync})
	if err != nil {
		return nil, err
	}
	if reply.SessionData == nil {
		return map[string][]byte{}, nil
	}
	return reply.SessionData, nil
}

// Login reports that a session authenticated, with its new state.
func (c *Core) Login(ctx context.Context, sessionID string, blob []byte) error {
	_, err := c.admin(ctx, ipc.AdminMessage{
		Operation: ipc.OperationLogin,
		SessionID: sessionID,
		StateBlob: blob,
	})
	return err
}

// Disconnect drops one session.
func (c *Core) Disconnect(ctx context.Context, sessionID, reason string) error {
	_, err := c.admin(ctx, ipc.AdminMessage{
		Operation: ipc.OperationDisconnectOne,
		SessionID: sessionID,
		Reason:    reason,
	})
	return err
}

// DisconnectAll drops every session.
func (c *Core) DisconnectAll(ctx context.Context, reason string) error {
	_, err := c.admin(ctx, ipc.AdminMessage{Operation: ipc.OperationDisconnectAll, Reason: reason})
	return err
}

// SessionSync pushes the core's session state to the gateway, usually
// right before a restart. With clean set the gateway drops sessions
// missing from data.
func (c *Core) SessionSync(ctx context.Context, data map[string][]byte, clean bool) error {
	_, err := c.admin(ctx, ipc.AdminMessage{
		Operation:   ipc.OperationSessionSync,
		SessionData: data,
		Clean:       &clean,
	})
	return err
}

// ForceConnect asks the gateway to open an outbound connection.
func (c *Core) ForceConnect(ctx context.Context, request ipc.ConnectRequest) error {
	_, err := c.admin(ctx, ipc.AdminMessage{Operation: ipc.OperationForceConnect, Connect: &request})
	return err
}

// Request asks the gateway to reload, reset or shut down, exactly as
// an operator command would.
func (c *Core) Request(ctx context.Context, operation ipc.Operation) error {
	switch operation {
	case ipc.OperationReload, ipc.OperationReset, ipc.OperationShutdownCore, ipc.OperationShutdownAll:
	default:
		return ipc.UnrecognizedOperation("core request", operation)
	}
	_, err := c.admin(ctx, ipc.AdminMessage{Operation: operation})
	return err
}

// Send delivers output to one session's client.
func (c *Core) Send(ctx context.Context, sessionID string, fields map[string]any) error {
	message := ipc.SessionMessage{SessionID: sessionID, Fields: fields}
	if err := c.peer.Call(ctx, wire.KindCoreToGateway, message, nil); err != nil {
		return fmt.Errorf("sending to session %s: %w", sessionID, err)
	}
	return nil
}

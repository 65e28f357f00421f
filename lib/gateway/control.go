// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package gateway

import (
	"context"
	"fmt"

	"github.com/bureau-foundation/portal/lib/ipc"
	"github.com/bureau-foundation/portal/lib/peer"
)

func succeeded(message string, pid *int) ipc.OperatorResult {
	return ipc.OperatorResult{Success: true, Message: message, PID: pid}
}

func failed(message string) ipc.OperatorResult {
	return ipc.OperatorResult{Success: false, Message: message}
}

func (g *Gateway) handleStatus(ctx context.Context, request *peer.Request) (any, error) {
	return g.Status(), nil
}

// handleOperatorCommand is the operator tool's entrypoint. Every
// operation answers with an OperatorResult, refusals and unknown codes
// included, and the connection stays open for the next command.
func (g *Gateway) handleOperatorCommand(ctx context.Context, request *peer.Request) (any, error) {
	if request.Peer().Role() == peer.RoleUnknown {
		request.Peer().SetRole(peer.RoleOperator)
	}

	var command ipc.OperatorCommand
	if err := request.Decode(&command); err != nil {
		g.logger.Warn("rejecting undecodable operator command", "error", err)
		return failed(fmt.Sprintf("malformed operator command: %v", err)), nil
	}
	g.logger.Info("operator command", "operation", command.Operation)

	switch command.Operation {
	case ipc.OperationStart:
		return g.operatorStart(ctx, command.Arguments), nil
	case ipc.OperationReload, ipc.OperationReset:
		return g.operatorRestart(ctx, command.Operation, command.Arguments), nil
	case ipc.OperationShutdownCore:
		return g.operatorShutdownCore(), nil
	case ipc.OperationShutdownAll:
		return g.operatorShutdownAll(request), nil
	default:
		err := ipc.UnrecognizedOperation("operator", command.Operation)
		g.logger.Warn("rejecting operator command", "error", err)
		return failed(err.Error()), nil
	}
}

// launchCommand decodes the operator's command, falling back to the
// recorded one when none was sent.
func (g *Gateway) launchCommand(arguments []byte) ([]string, error) {
	command, err := ipc.DecodeLaunchCommand(arguments)
	if err != nil {
		return nil, err
	}
	if len(command) == 0 {
		command = g.supervisor.Command()
	}
	if len(command) == 0 {
		return nil, fmt.Errorf("no launch command given and none recorded")
	}
	return command, nil
}

func (g *Gateway) spawnResult(ctx context.Context, arguments []byte) ipc.OperatorResult {
	command, err := g.launchCommand(arguments)
	if err != nil {
		return failed(err.Error())
	}
	pid, err := g.supervisor.Spawn(ctx, command)
	if err != nil {
		return failed(fmt.Sprintf("Core failed to start: %v", err))
	}
	return succeeded(fmt.Sprintf("Core started at PID=%d.", pid), &pid)
}

func (g *Gateway) operatorStart(ctx context.Context, arguments []byte) ipc.OperatorResult {
	if g.CoreConnected() {
		if pid, ok := g.supervisor.CurrentProcessID(); ok {
			return failed(fmt.Sprintf("Core already running at PID=%d.", pid))
		}
		return failed("Core already running.")
	}
	return g.spawnResult(ctx, arguments)
}

// operatorRestart handles reload and reset. With a core connected the
// restart is sequenced on its disconnect and no PID is known yet;
// otherwise the core is simply started.
func (g *Gateway) operatorRestart(ctx context.Context, mode ipc.Operation, arguments []byte) ipc.OperatorResult {
	core := g.currentCore()
	if core == nil {
		return g.spawnResult(ctx, arguments)
	}

	fallback, err := ipc.DecodeLaunchCommand(arguments)
	if err != nil {
		return failed(err.Error())
	}
	if !g.scheduleRestart(core, mode, fallback) {
		return failed("no launch command given and none recorded")
	}
	return succeeded(mode.String()+" scheduled", nil)
}

func (g *Gateway) operatorShutdownCore() ipc.OperatorResult {
	if !g.CoreConnected() {
		return failed("Core not running.")
	}
	g.notifyCore(ipc.OperationShutdownCore)
	return succeeded("Core stopped.", nil)
}

func (g *Gateway) operatorShutdownAll(request *peer.Request) ipc.OperatorResult {
	if core := g.currentCore(); core != nil {
		g.scheduleShutdown(core)
		return succeeded("Shutting down core and gateway.", nil)
	}
	request.AfterReply(g.RequestShutdown)
	return succeeded("Shutting down gateway.", nil)
}

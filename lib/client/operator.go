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

// Operator issues status queries and operator commands.
type Operator struct {
	connection
}

// DialOperator connects to the gateway at address.
func DialOperator(ctx context.Context, address netutil.Address, config peer.Config) (*Operator, error) {
	conn, err := netutil.Dial(ctx, address)
	if err != nil {
		return nil, err
	}
	return NewOperator(conn, config), nil
}

// NewOperator runs the operator protocol on an established connection.
func NewOperator(conn io.ReadWriteCloser, config peer.Config) *Operator {
	return &Operator{connection: startConnection(conn, nil, config)}
}

// Status asks the gateway for the state of both processes.
func (o *Operator) Status(ctx context.Context) (ipc.StatusReply, error) {
	var reply ipc.StatusReply
	if err := o.peer.Call(ctx, wire.KindStatus, nil, &reply); err != nil {
		return ipc.StatusReply{}, fmt.Errorf("status: %w", err)
	}
	return reply, nil
}

// Command sends one operator command. launch is the core command for
// start, reload and reset; nil lets the gateway use its recorded one.
// A refused operation is a result with Success false, not an error.
func (o *Operator) Command(ctx context.Context, operation ipc.Operation, launch []string) (ipc.OperatorResult, error) {
	request := ipc.OperatorCommand{Operation: operation}
	if len(launch) > 0 {
		arguments, err := ipc.EncodeLaunchCommand(launch)
		if err != nil {
			return ipc.OperatorResult{}, err
		}
		request.Arguments = arguments
	}

	var result ipc.OperatorResult
	if err := o.peer.Call(ctx, wire.KindOperatorCommand, request, &result); err != nil {
		return ipc.OperatorResult{}, fmt.Errorf("%s: %w", operation, err)
	}
	return result, nil
}

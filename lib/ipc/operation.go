// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package ipc

import (
	"errors"
	"fmt"
	"sort"
)

// Operation is the one-byte code carried by operator commands and
// admin messages. The numeric values are protocol constants.
type Operation byte

const (
	// OperationPortalSync: the core asks for the gateway's session
	// snapshot after (re)connecting.
	OperationPortalSync Operation = 3
	// OperationLogin: a session has authenticated in the core.
	OperationLogin Operation = 4
	// OperationDisconnectOne: the core drops one session.
	OperationDisconnectOne Operation = 5
	// OperationDisconnectAll: the core drops every session.
	OperationDisconnectAll Operation = 6
	// OperationSessionSync: the core pushes its session view back.
	OperationSessionSync Operation = 8
	// OperationForceConnect: the core asks the gateway to open an
	// outbound connection on a session's behalf.
	OperationForceConnect Operation = 11
	// OperationReload: restart the core, keeping sessions.
	OperationReload Operation = 14
	// OperationStart: launch the core.
	OperationStart Operation = 15
	// OperationShutdownAll: stop the core and the gateway.
	OperationShutdownAll Operation = 16
	// OperationShutdownCore: stop the core only.
	OperationShutdownCore Operation = 17
	// OperationReset: restart the core as a cold start.
	OperationReset Operation = 19
)

var operationNames = map[Operation]string{
	OperationPortalSync:    "portal-sync",
	OperationLogin:         "login",
	OperationDisconnectOne: "disconnect-one",
	OperationDisconnectAll: "disconnect-all",
	OperationSessionSync:   "session-sync",
	OperationForceConnect:  "force-connect",
	OperationReload:        "reload",
	OperationStart:         "start",
	OperationShutdownAll:   "shutdown-all",
	OperationShutdownCore:  "shutdown-core",
	OperationReset:         "reset",
}

// String returns the operation's name, or "unknown(N)".
func (o Operation) String() string {
	if name, ok := operationNames[o]; ok {
		return name
	}
	return fmt.Sprintf("unknown(%d)", byte(o))
}

// Valid reports whether o is part of the enumeration.
func (o Operation) Valid() bool {
	_, ok := operationNames[o]
	return ok
}

// ParseOperation maps a name produced by String back to its code.
func ParseOperation(name string) (Operation, error) {
	for operation, candidate := range operationNames {
		if candidate == name {
			return operation, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnrecognizedOperation, name)
}

// OperationNames returns every operation name in sorted order.
func OperationNames() []string {
	names := make([]string, 0, len(operationNames))
	for _, name := range operationNames {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ErrUnrecognizedOperation is the protocol error for a code the
// receiver does not handle. The dispatcher reports it to the caller
// with a distinct error code; the connection stays open.
var ErrUnrecognizedOperation = errors.New("unrecognized operation")

// UnrecognizedOperation wraps ErrUnrecognizedOperation with the code
// and the channel it arrived on.
func UnrecognizedOperation(channel string, operation Operation) error {
	return fmt.Errorf("%w %s on %s channel", ErrUnrecognizedOperation, operation, channel)
}

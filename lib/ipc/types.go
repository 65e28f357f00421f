// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package ipc

import (
	"fmt"

	"github.com/bureau-foundation/portal/lib/codec"
)

// StatusReply answers a Status request.
type StatusReply struct {
	PortalUp   bool `cbor:"portal_up"`
	CoreUp     bool `cbor:"core_up"`
	GatewayPID int  `cbor:"gateway_pid"`

	// CorePID is nil (CBOR null) until the supervisor has started a
	// core process.
	CorePID *int `cbor:"core_pid"`

	// CoreAlive reports whether the recorded core PID still answers a
	// signal-0 probe. A core can be alive but disconnected while it
	// restarts.
	CoreAlive bool `cbor:"core_alive"`

	// RestartExpected is set when the core pushed a session sync (it
	// is about to go down) and cleared by the next portal sync.
	RestartExpected bool `cbor:"restart_expected"`

	Sessions int `cbor:"sessions"`
}

// OperatorCommand is the operator tool's single entrypoint. For start,
// reload and reset, Arguments is a launch command produced by
// EncodeLaunchCommand.
type OperatorCommand struct {
	Operation Operation `cbor:"operation"`
	Arguments []byte    `cbor:"arguments,omitempty"`
}

// OperatorResult is the structured reply to an OperatorCommand. A
// failed operation is Success=false with a Message, never a dropped
// connection.
type OperatorResult struct {
	Success bool   `cbor:"success"`
	Message string `cbor:"message"`

	// PID is set when the operation spawned a core process.
	PID *int `cbor:"pid,omitempty"`
}

// EncodeLaunchCommand serializes a core launch command (argv).
func EncodeLaunchCommand(command []string) ([]byte, error) {
	if len(command) == 0 {
		return nil, fmt.Errorf("launch command is empty")
	}
	return codec.Marshal(command)
}

// DecodeLaunchCommand parses OperatorCommand.Arguments. Empty
// arguments decode to a nil command; the gateway then falls back to
// its cached command.
func DecodeLaunchCommand(arguments []byte) ([]string, error) {
	if len(arguments) == 0 {
		return nil, nil
	}
	var command []string
	if err := codec.Unmarshal(arguments, &command); err != nil {
		return nil, fmt.Errorf("decoding launch command: %w", err)
	}
	return command, nil
}

// SessionMessage carries per-session data: CoreToGateway (output for
// a client) and GatewayToCore (input from a client). Operation must be
// zero; session traffic never carries admin codes.
type SessionMessage struct {
	SessionID string         `cbor:"session_id"`
	Operation Operation      `cbor:"operation,omitempty"`
	Fields    map[string]any `cbor:"fields,omitempty"`
}

// AdminMessage is the payload of AdminCoreToGateway and
// AdminGatewayToCore. Which fields are meaningful depends on
// Operation.
type AdminMessage struct {
	SessionID string    `cbor:"session_id,omitempty"`
	Operation Operation `cbor:"operation"`

	// StateBlob is the session's serialized state (login).
	StateBlob []byte `cbor:"state_blob,omitempty"`

	// Reason is shown to disconnected clients (disconnect-one,
	// disconnect-all).
	Reason string `cbor:"reason,omitempty"`

	// SessionData maps session ID to state blob (session-sync).
	SessionData map[string][]byte `cbor:"session_data,omitempty"`

	// Clean controls whether session-sync drops gateway sessions the
	// core no longer knows. Nil means true.
	Clean *bool `cbor:"clean,omitempty"`

	// Connect describes the outbound connection (force-connect).
	Connect *ConnectRequest `cbor:"connect,omitempty"`
}

// CleanOnly resolves the Clean default.
func (m *AdminMessage) CleanOnly() bool {
	return m.Clean == nil || *m.Clean
}

// ConnectRequest asks the gateway to originate a connection, for
// protocols the gateway dials out on (chat bridges and the like).
type ConnectRequest struct {
	// ProtocolPath names the connector registered with the session
	// registry.
	ProtocolPath string         `cbor:"protocol_path"`
	Config       map[string]any `cbor:"config,omitempty"`
}

// AdminReply answers an AdminCoreToGateway call. Only portal-sync
// fills SessionData.
type AdminReply struct {
	SessionData map[string][]byte `cbor:"session_data,omitempty"`
}

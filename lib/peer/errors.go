// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package peer

import (
	"errors"
	"fmt"

	"github.com/bureau-foundation/portal/lib/ipc"
)

var (
	// ErrClosed is returned by Call when the connection closes before
	// a reply arrives, or when the peer was already closed.
	ErrClosed = errors.New("peer: connection closed")

	// ErrTimeout is returned by Call when the configured call timeout
	// elapses without a reply.
	ErrTimeout = errors.New("peer: call timed out")
)

// Error codes carried in error replies.
const (
	// CodeHandlerError: the handler returned an error.
	CodeHandlerError = "handler_error"
	// CodeUnrecognized: the request named an operation the receiver
	// does not handle.
	CodeUnrecognized = "unrecognized"
	// CodeUnknownKind: no handler is registered for the message kind.
	CodeUnknownKind = "unknown_kind"
	// CodeBadPayload: the request payload could not be decoded.
	CodeBadPayload = "bad_payload"
	// CodeInternal: the handler panicked.
	CodeInternal = "internal"
)

// ErrorReply is the payload of a reply frame with wire.FlagError set.
type ErrorReply struct {
	Code    string `cbor:"code"`
	Message string `cbor:"message"`
}

// RemoteError is a failure reported by the other side of a call.
type RemoteError struct {
	Code    string
	Message string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("remote %s: %s", e.Code, e.Message)
}

// Is lets callers test a RemoteError against ipc.ErrUnrecognizedOperation
// without inspecting the code.
func (e *RemoteError) Is(target error) bool {
	return target == ipc.ErrUnrecognizedOperation && e.Code == CodeUnrecognized
}

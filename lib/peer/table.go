// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package peer

import (
	"context"
	"fmt"

	"github.com/bureau-foundation/portal/lib/wire"
)

// HandlerFunc processes one inbound request. The returned value is
// CBOR-encoded into the reply; nil produces an empty reply. A returned
// error becomes an error reply and is logged; the connection stays
// open either way.
type HandlerFunc func(ctx context.Context, request *Request) (any, error)

// Table maps message kinds to handlers. Build it once before any peer
// starts serving; it is read concurrently afterwards and must not be
// modified.
type Table struct {
	handlers map[wire.Kind]HandlerFunc
}

// NewTable returns an empty dispatch table.
func NewTable() *Table {
	return &Table{handlers: make(map[wire.Kind]HandlerFunc)}
}

// Handle registers handler for kind. Panics on an invalid kind or a
// duplicate registration, both of which are programming errors.
func (t *Table) Handle(kind wire.Kind, handler HandlerFunc) {
	if !kind.Valid() {
		panic(fmt.Sprintf("peer.Table: invalid message kind %d", uint16(kind)))
	}
	if _, exists := t.handlers[kind]; exists {
		panic(fmt.Sprintf("peer.Table: duplicate handler for %s", kind))
	}
	t.handlers[kind] = handler
}

// Lookup returns the handler for kind.
func (t *Table) Lookup(kind wire.Kind) (HandlerFunc, bool) {
	if t == nil {
		return nil, false
	}
	handler, ok := t.handlers[kind]
	return handler, ok
}

// Request is one inbound call as seen by a handler.
type Request struct {
	peer  *Peer
	frame wire.Frame
	after []func()
}

// Peer returns the connection the request arrived on.
func (r *Request) Peer() *Peer { return r.peer }

// Kind returns the request's message kind.
func (r *Request) Kind() wire.Kind { return r.frame.Kind }

// CorrelationID returns the caller's correlation ID.
func (r *Request) CorrelationID() uint64 { return r.frame.CorrelationID }

// Decode decodes the request payload into value.
func (r *Request) Decode(value any) error {
	return wire.DecodeMessage(r.frame, r.peer.config.Options.Limits, value)
}

// AfterReply schedules fn to run once the reply frame has been
// written (or the write has failed). Functions run in registration
// order on the handler's goroutine.
func (r *Request) AfterReply(fn func()) {
	r.after = append(r.after, fn)
}

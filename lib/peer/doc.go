// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package peer runs the call/reply protocol on one persistent
// connection between the gateway and a core (or an operator tool).
//
// Both ends are symmetric: either side can Call, and inbound requests
// are routed by message kind through a Table built at startup. Every
// call carries a correlation ID so replies may arrive in any order.
//
// A Peer owns exactly one reader goroutine (Serve). Inbound requests
// are handled on their own goroutines so that a slow handler, such as
// one spawning a core process, never stalls the connection. Writes
// are serialized, one frame per Write.
//
// Closing a Peer closes the transport, rejects every pending call with
// ErrClosed, and then runs the registered close hooks in order. The
// gateway relies on that ordering: its disconnect actions run from a
// close hook and therefore always see a closed transport.
package peer

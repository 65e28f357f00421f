// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package gateway implements the gateway side of the control channel:
// it accepts connections from the core and from operator tools,
// answers status queries, starts, reloads, resets and stops the core,
// and relays session state and traffic between the core and the
// session registry.
//
// Core state is derived from two facts: whether the supervisor holds
// a core PID, and whether a core connection is open. Exactly one core
// connection is authoritative at a time. A connection becomes the
// core connection by sending core traffic; a newer one replaces it.
//
// Restarts are sequenced on disconnect: while a core is connected, a
// reload registers a respawn action on the core connection and asks
// the core to exit. The action fires once the connection has closed,
// so the old core is gone before the new one starts.
package gateway

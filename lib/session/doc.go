// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package session is the gateway's in-memory session registry: one
// entry per connected client, holding the opaque sync blob the core
// last reported for it and the Sink that reaches the client.
//
// The registry outlives core restarts. When a core reconnects it asks
// for every blob (GetAllSyncData) and rebuilds its view; before going
// down it pushes its own view back (ServerSessionSync). Blob digests
// (BLAKE3) let a sync skip sessions whose state did not change.
//
// Operations naming a session the registry does not know are no-ops:
// the client may have disconnected while the message was in flight.
package session

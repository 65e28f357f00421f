// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Portal is the gateway process. It owns client sessions, listens on
// the control channel for the core and for operators, and launches the
// core process on request.
//
// Usage:
//
//	portal --config /etc/portal/portal.yaml
//
// Configuration comes from --config or PORTAL_CONFIG (see lib/config).
// With core.autostart set the core is launched as soon as the listener
// is up; otherwise the configured command is only recorded so a later
// "portalctl start" can use it.
//
// SIGINT and SIGTERM stop the gateway. Connected peers are closed and
// the process waits up to gateway.shutdown_grace for them to drain.
// A core-initiated shutdown-all stops the gateway the same way once the
// core has disconnected.
package main

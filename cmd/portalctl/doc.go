// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Portalctl is the operator tool for a running portal gateway.
//
// Usage:
//
//	portalctl [flags] status
//	portalctl [flags] start [-- command...]
//	portalctl [flags] reload [-- command...]
//	portalctl [flags] reset [-- command...]
//	portalctl [flags] stop
//	portalctl [flags] shutdown
//
// The gateway address comes from --address, or from gateway.listen in
// the file named by --config or PORTAL_CONFIG. A command after "--"
// replaces the core launch command the gateway has recorded.
//
// stop shuts the core down and leaves the gateway running; shutdown
// stops both. A command the gateway reports as failed exits with
// status 2.
package main

// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package supervisor launches the core process on the gateway's
// behalf and keeps the process record: the core's PID, the exact
// command it was started with, and when.
//
// The record outlives any one core process. A reload respawns the
// core with the recorded command; a failed spawn clears the PID but
// keeps the command of the last successful start.
//
// The core's merged stdout and stderr are forwarded to the log line by
// line for a bounded capture window after launch, so startup failures
// (a traceback, a bad flag) end up in the gateway log. After the
// window the output is drained and discarded; the core is expected to
// log through its own channels once running.
//
// When a state file is configured, the record is written atomically
// as CBOR after every change, so a restarted gateway can still report
// the last core PID and reuse its command.
package supervisor

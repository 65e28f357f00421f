// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package clock provides an injectable time source.
//
// Components that wait on time (the supervisor's startup capture
// window, the gateway's shutdown grace period) take a Clock instead of
// calling the time package. Production code passes Real(); tests pass
// Fake() and move time explicitly:
//
//	c := clock.Fake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
//	go supervisor.Spawn(ctx, command)
//	c.WaitForTimers(1)          // the capture window is armed
//	c.Advance(5 * time.Second)  // close it deterministically
package clock

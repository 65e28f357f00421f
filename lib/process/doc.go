// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package process holds entrypoint helpers shared by the portal
// binaries: reporting a fatal error before (or instead of) the
// structured logger, and exiting.
package process

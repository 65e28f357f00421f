// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package testutil provides shared test helpers for portal packages.
//
// [SocketDir] creates a short temporary directory for Unix domain
// sockets (sun_path is limited to 108 bytes, which t.TempDir() can
// exceed). [RequireReceive], [RequireClosed] and [RequireNoReceive]
// wrap the select-with-timeout pattern so tests never hang on a lost
// message. [UniqueID] generates distinguishable session IDs.
//
// All helpers call t.Fatalf on failure.
package testutil

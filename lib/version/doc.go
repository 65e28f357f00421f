// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package version carries build information for the portal binaries.
package version

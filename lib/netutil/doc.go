// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package netutil parses portal addresses, opens listeners and dials
// them, and classifies the errors a connection produces when its peer
// goes away.
package netutil

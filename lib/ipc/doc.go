// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package ipc defines the operation codes and CBOR payload types of the
// gateway↔core and gateway↔operator protocol. The gateway, the core
// client and portalctl all import this package so the vocabulary is
// defined once. A code that one side knows must be known to the other;
// anything else is rejected with [ErrUnrecognizedOperation].
package ipc

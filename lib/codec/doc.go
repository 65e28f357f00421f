// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package codec holds the portal's single CBOR configuration.
//
// Every frame payload exchanged between the gateway, the core and the
// operator tool is a CBOR value, and so is the supervisor's state file.
// Encoding uses Core Deterministic Encoding (RFC 8949 §4.2) so the same
// message always produces the same bytes, which keeps frame checksums
// stable across retries and makes captured traffic diffable.
//
//	data, err := codec.Marshal(message)
//	err = codec.Unmarshal(data, &message)
//
// Struct fields on wire types carry `cbor` tags. Decoding ignores
// unknown fields, so a newer core can add fields without breaking an
// older gateway.
package codec

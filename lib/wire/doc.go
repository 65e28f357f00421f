// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package wire frames portal messages on a persistent byte stream.
//
// Every message is one frame: a 28-byte big-endian header followed by
// the payload.
//
//	offset  size  field
//	0       4     magic "PTAL"
//	4       1     version (1)
//	5       1     flags (response, error, zstd, lz4)
//	6       2     message kind
//	8       8     correlation ID
//	16      4     payload length
//	20      8     checksum: first 8 bytes of keyed BLAKE3(payload)
//
// The payload is a CBOR value (see lib/codec), optionally compressed.
// A compressed payload starts with its 4-byte uncompressed length so
// the decoder can enforce the payload limit before allocating.
//
// Decoding failures are reported as *FrameError. Its Recoverable flag
// tells the reader whether the stream is still positioned on a frame
// boundary (the bad frame can be dropped) or not (the connection has
// to go).
package wire

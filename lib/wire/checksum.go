// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package wire

import (
	"github.com/zeebo/blake3"
)

// checksumSize is the number of digest bytes kept in the header.
const checksumSize = 8

// frameDomainKey separates frame checksums from any other BLAKE3 use
// of the same bytes. ASCII "portal.wire.frame", zero-padded.
var frameDomainKey = [32]byte{
	'p', 'o', 'r', 't', 'a', 'l', '.', 'w', 'i', 'r', 'e', '.',
	'f', 'r', 'a', 'm', 'e',
}

func checksum(payload []byte) [checksumSize]byte {
	hasher, err := blake3.NewKeyed(frameDomainKey[:])
	if err != nil {
		// Only a wrong key length fails, and the key is fixed-size.
		panic("wire: BLAKE3 keyed hash initialization failed: " + err.Error())
	}
	hasher.Write(payload)
	var sum [checksumSize]byte
	copy(sum[:], hasher.Sum(nil))
	return sum
}

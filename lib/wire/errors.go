// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package wire

import (
	"errors"
	"fmt"
)

// Reasons carried by FrameError. Compare with errors.Is.
var (
	ErrTruncated          = errors.New("truncated frame")
	ErrBadMagic           = errors.New("bad magic")
	ErrUnsupportedVersion = errors.New("unsupported version")
	ErrPayloadTooLarge    = errors.New("payload too large")
	ErrChecksumMismatch   = errors.New("checksum mismatch")
	ErrUnknownKind        = errors.New("unknown message kind")
	ErrTrailingBytes      = errors.New("trailing bytes after frame")
	ErrCompression        = errors.New("bad compressed payload")
	ErrBadPayload         = errors.New("undecodable payload")
)

// FrameError describes a frame that could not be decoded.
type FrameError struct {
	// Reason is one of the Err* sentinels above.
	Reason error

	// Kind, Flags and CorrelationID are filled in when the header was
	// read intact, so a request with an unknown kind can still be
	// answered.
	Kind          Kind
	Flags         Flags
	CorrelationID uint64
	HeaderIntact  bool

	// Recoverable is true when the reader is still aligned on a frame
	// boundary and can continue with the next frame.
	Recoverable bool

	// Err is the underlying cause, if any (an I/O error, a
	// decompression or CBOR error).
	Err error
}

func (e *FrameError) Error() string {
	message := "wire: " + e.Reason.Error()
	if e.HeaderIntact {
		message += fmt.Sprintf(" (kind %s, correlation %d)", e.Kind, e.CorrelationID)
	}
	if e.Err != nil {
		message += ": " + e.Err.Error()
	}
	return message
}

// Is matches the Reason sentinel.
func (e *FrameError) Is(target error) bool {
	return target == e.Reason
}

func (e *FrameError) Unwrap() error {
	return e.Err
}

// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package wire

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

const (
	// Magic is "PTAL" in ASCII.
	Magic uint32 = 0x5054414C
	// Version is the only frame version this package speaks.
	Version uint8 = 1
	// HeaderLen is the fixed header size.
	HeaderLen = 28
)

// Flags are per-frame bits.
type Flags uint8

const (
	// FlagResponse marks a reply; its correlation ID names the call.
	FlagResponse Flags = 1 << 0
	// FlagError marks a failed reply; the payload is an error body.
	FlagError Flags = 1 << 1
	// FlagZstd marks a zstd-compressed payload.
	FlagZstd Flags = 1 << 2
	// FlagLZ4 marks an LZ4-block-compressed payload.
	FlagLZ4 Flags = 1 << 3
)

// Frame is one decoded wire message. Payload is exactly what was on
// the wire, still compressed if a compression flag is set; use Body
// for the CBOR bytes.
type Frame struct {
	Kind          Kind
	Flags         Flags
	CorrelationID uint64
	Payload       []byte
}

// IsResponse reports whether the frame answers a call.
func (f Frame) IsResponse() bool { return f.Flags&FlagResponse != 0 }

// IsError reports whether the frame is a failed reply.
func (f Frame) IsError() bool { return f.Flags&FlagError != 0 }

// Limits bounds the memory one frame may claim.
type Limits struct {
	MaxPayload uint32
}

// DefaultLimits allows payloads up to 8 MiB, which covers a portal
// sync snapshot of several thousand sessions.
func DefaultLimits() Limits {
	return Limits{MaxPayload: 8 << 20}
}

type header struct {
	magic         uint32
	version       uint8
	flags         Flags
	kind          Kind
	correlationID uint64
	payloadLen    uint32
	checksum      [checksumSize]byte
}

func putHeader(buffer []byte, h header) {
	binary.BigEndian.PutUint32(buffer[0:4], h.magic)
	buffer[4] = h.version
	buffer[5] = byte(h.flags)
	binary.BigEndian.PutUint16(buffer[6:8], uint16(h.kind))
	binary.BigEndian.PutUint64(buffer[8:16], h.correlationID)
	binary.BigEndian.PutUint32(buffer[16:20], h.payloadLen)
	copy(buffer[20:28], h.checksum[:])
}

func parseHeader(buffer []byte) header {
	var h header
	h.magic = binary.BigEndian.Uint32(buffer[0:4])
	h.version = buffer[4]
	h.flags = Flags(buffer[5])
	h.kind = Kind(binary.BigEndian.Uint16(buffer[6:8]))
	h.correlationID = binary.BigEndian.Uint64(buffer[8:16])
	h.payloadLen = binary.BigEndian.Uint32(buffer[16:20])
	copy(h.checksum[:], buffer[20:28])
	return h
}

// Encode serializes f into a complete frame. The kind is not checked:
// a reply to a request of unknown kind echoes that kind back.
func Encode(f Frame, limits Limits) ([]byte, error) {
	if uint64(len(f.Payload)) > uint64(limits.MaxPayload) {
		return nil, &FrameError{Reason: ErrPayloadTooLarge, Kind: f.Kind, CorrelationID: f.CorrelationID, HeaderIntact: true}
	}
	buffer := make([]byte, HeaderLen+len(f.Payload))
	putHeader(buffer, header{
		magic:         Magic,
		version:       Version,
		flags:         f.Flags,
		kind:          f.Kind,
		correlationID: f.CorrelationID,
		payloadLen:    uint32(len(f.Payload)),
		checksum:      checksum(f.Payload),
	})
	copy(buffer[HeaderLen:], f.Payload)
	return buffer, nil
}

// Decode parses one complete frame from data. It is the pure inverse
// of Encode: data must hold exactly one frame.
func Decode(data []byte, limits Limits) (Frame, error) {
	frame, err := ReadFrame(bytes.NewReader(data), limits)
	if err != nil {
		if errors.Is(err, io.EOF) {
			return Frame{}, &FrameError{Reason: ErrTruncated, Err: err}
		}
		return Frame{}, err
	}
	if consumed := HeaderLen + len(frame.Payload); consumed != len(data) {
		return Frame{}, &FrameError{
			Reason:        ErrTrailingBytes,
			Kind:          frame.Kind,
			CorrelationID: frame.CorrelationID,
			HeaderIntact:  true,
		}
	}
	return frame, nil
}

// ReadFrame reads one frame from r. A clean end of stream before any
// header byte returns io.EOF unchanged; every other failure is a
// *FrameError.
func ReadFrame(r io.Reader, limits Limits) (Frame, error) {
	var buffer [HeaderLen]byte
	if _, err := io.ReadFull(r, buffer[:]); err != nil {
		if errors.Is(err, io.EOF) {
			return Frame{}, io.EOF
		}
		return Frame{}, &FrameError{Reason: ErrTruncated, Err: err}
	}

	h := parseHeader(buffer[:])
	if h.magic != Magic {
		return Frame{}, &FrameError{Reason: ErrBadMagic}
	}
	if h.version != Version {
		return Frame{}, &FrameError{Reason: ErrUnsupportedVersion}
	}
	if h.payloadLen > limits.MaxPayload {
		return Frame{}, &FrameError{
			Reason:        ErrPayloadTooLarge,
			Kind:          h.kind,
			Flags:         h.flags,
			CorrelationID: h.correlationID,
			HeaderIntact:  true,
		}
	}

	payload := make([]byte, h.payloadLen)
	if _, err := io.ReadFull(r, payload); err != nil {
		return Frame{}, &FrameError{
			Reason:        ErrTruncated,
			Kind:          h.kind,
			Flags:         h.flags,
			CorrelationID: h.correlationID,
			HeaderIntact:  true,
			Err:           err,
		}
	}

	// From here on the stream is aligned on the next frame.
	if checksum(payload) != h.checksum {
		return Frame{}, &FrameError{
			Reason:        ErrChecksumMismatch,
			Kind:          h.kind,
			Flags:         h.flags,
			CorrelationID: h.correlationID,
			HeaderIntact:  true,
			Recoverable:   true,
		}
	}
	if !h.kind.Valid() {
		return Frame{}, &FrameError{
			Reason:        ErrUnknownKind,
			Kind:          h.kind,
			Flags:         h.flags,
			CorrelationID: h.correlationID,
			HeaderIntact:  true,
			Recoverable:   true,
		}
	}

	return Frame{
		Kind:          h.kind,
		Flags:         h.flags,
		CorrelationID: h.correlationID,
		Payload:       payload,
	}, nil
}

// WriteFrame encodes f and writes it to w in a single Write call, so
// a caller serializing writes with a mutex never interleaves frames.
func WriteFrame(w io.Writer, f Frame, limits Limits) error {
	data, err := Encode(f, limits)
	if err != nil {
		return err
	}
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("writing %s frame: %w", f.Kind, err)
	}
	return nil
}

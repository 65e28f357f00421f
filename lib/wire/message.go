// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package wire

import (
	"fmt"

	"github.com/bureau-foundation/portal/lib/codec"
)

// Options controls how EncodeMessage builds a frame.
type Options struct {
	Compression Compression
	// Threshold is the smallest CBOR body that is compressed.
	Threshold int
	Limits    Limits
}

// DefaultOptions compresses bodies of 4 KiB and more with zstd.
func DefaultOptions() Options {
	return Options{
		Compression: CompressionZstd,
		Threshold:   4096,
		Limits:      DefaultLimits(),
	}
}

// EncodeMessage CBOR-encodes value and frames it. A nil value
// produces an empty payload.
func EncodeMessage(kind Kind, correlationID uint64, flags Flags, value any, options Options) ([]byte, error) {
	var body []byte
	if value != nil {
		var err error
		body, err = codec.Marshal(value)
		if err != nil {
			return nil, fmt.Errorf("encoding %s payload: %w", kind, err)
		}
	}
	if uint64(len(body)) > uint64(options.Limits.MaxPayload) {
		return nil, &FrameError{Reason: ErrPayloadTooLarge, Kind: kind, CorrelationID: correlationID, HeaderIntact: true}
	}

	payload, compressionFlag, err := compress(body, options.Compression, options.Threshold)
	if err != nil {
		return nil, fmt.Errorf("compressing %s payload: %w", kind, err)
	}
	flags &^= FlagZstd | FlagLZ4
	return Encode(Frame{
		Kind:          kind,
		Flags:         flags | compressionFlag,
		CorrelationID: correlationID,
		Payload:       payload,
	}, options.Limits)
}

// Body returns the frame's CBOR bytes, decompressing if needed.
// A payload that fails to decompress is a recoverable *FrameError:
// the frame itself was read whole.
func (f Frame) Body(limits Limits) ([]byte, error) {
	body, err := decompress(f.Payload, f.Flags, limits)
	if err != nil {
		return nil, &FrameError{
			Reason:        ErrCompression,
			Kind:          f.Kind,
			CorrelationID: f.CorrelationID,
			HeaderIntact:  true,
			Recoverable:   true,
			Err:           err,
		}
	}
	return body, nil
}

// DecodeMessage decodes the frame body into value. An empty body
// leaves value untouched. A body that does not decode into value is a
// FrameError with reason ErrBadPayload.
func DecodeMessage(f Frame, limits Limits, value any) error {
	body, err := f.Body(limits)
	if err != nil {
		return err
	}
	if len(body) == 0 {
		return nil
	}
	if err := codec.Unmarshal(body, value); err != nil {
		return &FrameError{
			Reason:        ErrBadPayload,
			Kind:          f.Kind,
			Flags:         f.Flags,
			CorrelationID: f.CorrelationID,
			HeaderIntact:  true,
			Recoverable:   true,
			Err:           err,
		}
	}
	return nil
}

// DecodeFields decodes the frame body as a generic field map, for
// logging and relaying payloads whose shape this side does not own.
func DecodeFields(f Frame, limits Limits) (map[string]any, error) {
	fields := map[string]any{}
	if err := DecodeMessage(f, limits, &fields); err != nil {
		return nil, err
	}
	return fields, nil
}

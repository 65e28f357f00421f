// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package wire

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Compression selects how large payloads are compressed before
// framing. Portal-sync snapshots of a busy gateway are the main
// beneficiary; ordinary admin messages stay below the threshold.
type Compression uint8

const (
	CompressionNone Compression = iota
	CompressionZstd
	CompressionLZ4
)

func (c Compression) String() string {
	switch c {
	case CompressionNone:
		return "none"
	case CompressionZstd:
		return "zstd"
	case CompressionLZ4:
		return "lz4"
	default:
		return fmt.Sprintf("compression(%d)", uint8(c))
	}
}

// ParseCompression parses the names produced by String.
func ParseCompression(name string) (Compression, error) {
	switch name {
	case "none", "":
		return CompressionNone, nil
	case "zstd":
		return CompressionZstd, nil
	case "lz4":
		return CompressionLZ4, nil
	default:
		return 0, fmt.Errorf("unknown compression %q (want none, zstd or lz4)", name)
	}
}

// sizePrefixLen is the uncompressed-length prefix on compressed payloads.
const sizePrefixLen = 4

// maxDecoderMemory caps the window a zstd frame may ask for. The
// output itself is bounded separately by the declared size, which is
// already checked against the payload limit.
const maxDecoderMemory = 64 << 20

// zstd.Encoder is safe for concurrent use through EncodeAll, so one
// serves every connection. Decoders stream into a buffer of the
// declared size and are pooled, since a streaming decoder serves one
// frame at a time.
var (
	zstdEncoder  *zstd.Encoder
	zstdDecoders = sync.Pool{
		New: func() any {
			decoder, err := zstd.NewReader(nil,
				zstd.WithDecoderConcurrency(1),
				zstd.WithDecoderLowmem(true),
				zstd.WithDecoderMaxMemory(maxDecoderMemory),
			)
			if err != nil {
				panic("wire: zstd decoder initialization failed: " + err.Error())
			}
			return decoder
		},
	}
)

func init() {
	var err error
	zstdEncoder, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		panic("wire: zstd encoder initialization failed: " + err.Error())
	}
}

// zstdDecode expands body into exactly size bytes. Output past size is
// an error discovered after reading one byte more, so a frame whose
// prefix understates its expansion never allocates beyond size.
func zstdDecode(body []byte, size uint32) ([]byte, error) {
	decoder := zstdDecoders.Get().(*zstd.Decoder)
	defer zstdDecoders.Put(decoder)

	if err := decoder.Reset(bytes.NewReader(body)); err != nil {
		return nil, err
	}
	result := make([]byte, size)
	if _, err := io.ReadFull(decoder, result); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("expanded to fewer than %d bytes", size)
		}
		return nil, err
	}
	var extra [1]byte
	if read, err := decoder.Read(extra[:]); read > 0 {
		return nil, fmt.Errorf("expands past declared size %d", size)
	} else if err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}
	return result, nil
}

// compress returns the payload to put on the wire and the flag that
// marks its encoding. Payloads below threshold, and payloads that do
// not shrink, go out uncompressed.
func compress(data []byte, algorithm Compression, threshold int) ([]byte, Flags, error) {
	if algorithm == CompressionNone || len(data) < threshold || len(data) == 0 {
		return data, 0, nil
	}

	var body []byte
	var flag Flags
	switch algorithm {
	case CompressionZstd:
		body = zstdEncoder.EncodeAll(data, nil)
		flag = FlagZstd
	case CompressionLZ4:
		destination := make([]byte, lz4.CompressBlockBound(len(data)))
		written, err := lz4.CompressBlock(data, destination, nil)
		if err != nil {
			return nil, 0, fmt.Errorf("lz4 compress: %w", err)
		}
		if written == 0 {
			return data, 0, nil
		}
		body = destination[:written]
		flag = FlagLZ4
	default:
		return nil, 0, fmt.Errorf("unsupported compression %s", algorithm)
	}

	if len(body)+sizePrefixLen >= len(data) {
		return data, 0, nil
	}
	out := make([]byte, sizePrefixLen+len(body))
	binary.BigEndian.PutUint32(out, uint32(len(data)))
	copy(out[sizePrefixLen:], body)
	return out, flag, nil
}

// decompress reverses compress according to flags.
func decompress(payload []byte, flags Flags, limits Limits) ([]byte, error) {
	if flags&(FlagZstd|FlagLZ4) == 0 {
		return payload, nil
	}
	if len(payload) < sizePrefixLen {
		return nil, fmt.Errorf("missing size prefix")
	}
	size := binary.BigEndian.Uint32(payload)
	if size > limits.MaxPayload {
		return nil, fmt.Errorf("uncompressed size %d exceeds limit %d", size, limits.MaxPayload)
	}
	body := payload[sizePrefixLen:]

	switch {
	case flags&FlagZstd != 0:
		result, err := zstdDecode(body, size)
		if err != nil {
			return nil, fmt.Errorf("zstd: %w", err)
		}
		return result, nil
	default:
		result := make([]byte, size)
		read, err := lz4.UncompressBlock(body, result)
		if err != nil {
			return nil, fmt.Errorf("lz4: %w", err)
		}
		if uint32(read) != size {
			return nil, fmt.Errorf("lz4: got %d bytes, expected %d", read, size)
		}
		return result, nil
	}
}

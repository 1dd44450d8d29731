// Package codec provides the MessagePack + ZStandard encoding used by
// table snapshot files.
package codec

import (
	"fmt"
	"sync"

	"github.com/klauspost/compress/zstd"
	"github.com/vmihailenco/msgpack/v5"
)

var (
	encOnce sync.Once
	encoder *zstd.Encoder
	encErr  error

	decOnce sync.Once
	decoder *zstd.Decoder
	decErr  error
)

// Encode serializes v with MessagePack and compresses the result with
// ZStandard. Safe for concurrent use.
func Encode(v any) ([]byte, error) {
	data, err := msgpack.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to encode snapshot: %w", err)
	}

	encOnce.Do(func() {
		encoder, encErr = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	})
	if encErr != nil {
		return nil, fmt.Errorf("failed to create zstd encoder: %w", encErr)
	}

	// EncodeAll is goroutine-safe.
	return encoder.EncodeAll(data, make([]byte, 0, len(data)/2)), nil
}

// Decode decompresses data and deserializes it into v, which must be a
// pointer to the target structure.
func Decode(data []byte, v any) error {
	decOnce.Do(func() {
		decoder, decErr = zstd.NewReader(nil)
	})
	if decErr != nil {
		return fmt.Errorf("failed to create zstd decoder: %w", decErr)
	}

	raw, err := decoder.DecodeAll(data, nil)
	if err != nil {
		return fmt.Errorf("failed to decompress snapshot: %w", err)
	}

	if err := msgpack.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("failed to decode snapshot: %w", err)
	}
	return nil
}

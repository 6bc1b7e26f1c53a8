package cache

import (
	"encoding/base64"
	"encoding/json"
	"fmt"

	"github.com/klauspost/compress/zstd"
)

// codec compresses cache values with zstd. Both halves are safe for
// concurrent EncodeAll/DecodeAll calls.
type codec struct {
	encoder *zstd.Encoder
	decoder *zstd.Decoder
}

var defaultCodec = mustCodec()

func newCodec() (*codec, error) {
	encoder, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, fmt.Errorf("failed to create zstd encoder: %w", err)
	}
	decoder, err := zstd.NewReader(nil)
	if err != nil {
		encoder.Close()
		return nil, fmt.Errorf("failed to create zstd decoder: %w", err)
	}
	return &codec{encoder: encoder, decoder: decoder}, nil
}

func mustCodec() *codec {
	c, err := newCodec()
	if err != nil {
		panic(err)
	}
	return c
}

// encode marshals v to JSON, compresses it and returns base64 text.
func encode(v interface{}) (string, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("failed to marshal cache value: %w", err)
	}
	return base64.StdEncoding.EncodeToString(defaultCodec.encoder.EncodeAll(raw, nil)), nil
}

// decode reverses encode into v.
func decode(data string, v interface{}) error {
	compressed, err := base64.StdEncoding.DecodeString(data)
	if err != nil {
		return fmt.Errorf("failed to decode cache value: %w", err)
	}
	raw, err := defaultCodec.decoder.DecodeAll(compressed, nil)
	if err != nil {
		return fmt.Errorf("failed to decompress cache value: %w", err)
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("failed to unmarshal cache value: %w", err)
	}
	return nil
}

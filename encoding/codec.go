package encoding

import (
	"fmt"
	"sync"

	"github.com/klauspost/compress/zstd"
)

// Frame markers. The first byte of every encoded frame says how the rest is
// stored, so peers with different compression settings still understand each
// other.
const (
	frameRaw  byte = 0x00
	frameZstd byte = 0x01
)

// Compression names accepted by NewCodec.
const (
	CompressionNone = "none"
	CompressionZstd = "zstd"
)

// Codec turns payloads into framed msgpack bytes, optionally zstd compressed.
// It is safe for concurrent use: zstd EncodeAll and DecodeAll may be called
// from many goroutines on the same encoder and decoder.
type Codec struct {
	encoder   *zstd.Encoder
	decoder   *zstd.Decoder
	closeOnce sync.Once
}

// NewCodec builds a codec. compression is CompressionNone, CompressionZstd, or
// "" (treated as none). level is a zstd level name such as "fastest" or
// "default"; it is ignored when compression is off.
func NewCodec(compression, level string) (*Codec, error) {
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create zstd decoder: %w", err)
	}
	c := &Codec{decoder: dec}

	switch compression {
	case "", CompressionNone:
		return c, nil
	case CompressionZstd:
	default:
		dec.Close()
		return nil, fmt.Errorf("unknown compression: %s", compression)
	}

	zstdLevel := zstd.SpeedDefault
	if level != "" {
		ok, parsed := zstd.EncoderLevelFromString(level)
		if !ok {
			dec.Close()
			return nil, fmt.Errorf("unknown zstd level: %s", level)
		}
		zstdLevel = parsed
	}

	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstdLevel))
	if err != nil {
		dec.Close()
		return nil, fmt.Errorf("failed to create zstd encoder: %w", err)
	}
	c.encoder = enc
	return c, nil
}

// Compressed reports whether Encode compresses frames.
func (c *Codec) Compressed() bool {
	return c.encoder != nil
}

// Encode marshals v and frames the result.
func (c *Codec) Encode(v interface{}) ([]byte, error) {
	data, err := Marshal(v)
	if err != nil {
		return nil, err
	}

	if c.encoder == nil {
		return append([]byte{frameRaw}, data...), nil
	}

	out := make([]byte, 1, len(data)/2+1)
	out[0] = frameZstd
	return c.encoder.EncodeAll(data, out), nil
}

// Decode reads a frame produced by any Codec and unmarshals it into v.
func (c *Codec) Decode(frame []byte, v interface{}) error {
	if len(frame) == 0 {
		return fmt.Errorf("empty frame")
	}

	body := frame[1:]
	switch frame[0] {
	case frameRaw:
	case frameZstd:
		raw, err := c.decoder.DecodeAll(body, nil)
		if err != nil {
			return fmt.Errorf("failed to decompress frame: %w", err)
		}
		body = raw
	default:
		return fmt.Errorf("unknown frame marker: 0x%02x", frame[0])
	}

	return Unmarshal(body, v)
}

// Close releases the zstd resources. Safe to call more than once.
func (c *Codec) Close() {
	c.closeOnce.Do(func() {
		if c.encoder != nil {
			_ = c.encoder.Close()
		}
		c.decoder.Close()
	})
}

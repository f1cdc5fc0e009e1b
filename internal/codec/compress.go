package codec

import (
	"github.com/klauspost/compress/zstd"
)

// compressMinSize is the smallest frame worth compressing. Below this the
// zstd header overhead outweighs any win.
const compressMinSize = 128

// Compressor applies transparent zstd compression to stored frames.
// Compression happens below hashing: keys are computed over uncompressed
// frames, so enabling or disabling it never changes a key.
//
// The decoder side is always active. A store written with compression on
// must stay readable after a reopen with compression off, so Decompress
// sniffs the zstd magic regardless of the enabled flag.
type Compressor struct {
	encoder *zstd.Encoder
	decoder *zstd.Decoder
	enabled bool
}

// NewCompressor returns a Compressor at the given level (1 fastest, 2
// default, 3 better). A disabled Compressor writes bytes through untouched
// but still decompresses on read.
func NewCompressor(level int, enabled bool) (*Compressor, error) {
	decoder, err := zstd.NewReader(nil)
	if err != nil {
		return nil, err
	}

	c := &Compressor{decoder: decoder, enabled: enabled}
	if !enabled {
		return c, nil
	}

	var encoderLevel zstd.EncoderLevel
	switch level {
	case 1:
		encoderLevel = zstd.SpeedFastest
	case 2:
		encoderLevel = zstd.SpeedDefault
	case 3:
		encoderLevel = zstd.SpeedBetterCompression
	default:
		encoderLevel = zstd.SpeedDefault
	}

	c.encoder, err = zstd.NewWriter(nil,
		zstd.WithEncoderLevel(encoderLevel),
		zstd.WithEncoderConcurrency(1),
	)
	if err != nil {
		decoder.Close()
		return nil, err
	}

	return c, nil
}

// Compress returns the compressed form of data, or data itself when
// compression is disabled, the input is small, or compression does not win.
func (c *Compressor) Compress(data []byte) []byte {
	if !c.enabled || len(data) < compressMinSize {
		return data
	}

	compressed := c.encoder.EncodeAll(data, make([]byte, 0, len(data)))
	if len(compressed) >= len(data) {
		return data
	}

	return compressed
}

// Decompress reverses Compress. Frames that were stored uncompressed (no
// zstd magic) come back as-is, so readers never need to know whether the
// writer had compression on. Corrupted compressed frames also come back
// as-is; the caller's hash verification catches them.
func (c *Compressor) Decompress(data []byte) []byte {
	decompressed, err := c.decoder.DecodeAll(data, nil)
	if err != nil {
		return data
	}
	return decompressed
}

func (c *Compressor) Close() error {
	if c.encoder != nil {
		c.encoder.Close()
	}
	if c.decoder != nil {
		c.decoder.Close()
	}
	return nil
}

package store

import (
	"errors"
	"fmt"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
	"github.com/zeebo/blake3"
)

// Compression names the encoding of a stored document body.
type Compression string

const (
	CompressionNone Compression = "none"
	CompressionZstd Compression = "zstd"
	CompressionLZ4  Compression = "lz4"
)

func ParseCompression(name string) (Compression, error) {
	switch c := Compression(name); c {
	case CompressionNone, CompressionZstd, CompressionLZ4:
		return c, nil
	case "":
		return CompressionNone, nil
	default:
		return "", fmt.Errorf("unknown compression %q", name)
	}
}

var errIncompressible = errors.New("data is incompressible")

var (
	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
)

func init() {
	var err error
	if zstdEncoder, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault)); err != nil {
		panic("store: zstd encoder initialization failed: " + err.Error())
	}
	if zstdDecoder, err = zstd.NewReader(nil); err != nil {
		panic("store: zstd decoder initialization failed: " + err.Error())
	}
}

// encode compresses data with the preferred algorithm and reports the one that
// was actually used; content that does not shrink is stored as-is.
func encode(data []byte, preferred Compression) ([]byte, Compression, error) {
	var out []byte
	var err error
	switch preferred {
	case CompressionNone:
		return nonNil(data), CompressionNone, nil
	case CompressionZstd:
		out = zstdEncoder.EncodeAll(data, nil)
		if len(out) >= len(data) {
			err = errIncompressible
		}
	case CompressionLZ4:
		out = make([]byte, lz4.CompressBlockBound(len(data)))
		var n int
		if n, err = lz4.CompressBlock(data, out, nil); err != nil {
			return nil, "", fmt.Errorf("lz4 compress: %w", err)
		}
		if n == 0 || n >= len(data) {
			err = errIncompressible
		}
		out = out[:n]
	default:
		return nil, "", fmt.Errorf("unsupported compression %q", preferred)
	}
	if errors.Is(err, errIncompressible) {
		return nonNil(data), CompressionNone, nil
	}
	return out, preferred, nil
}

// nonNil keeps empty bodies from binding as SQL NULL.
func nonNil(b []byte) []byte {
	if b == nil {
		return []byte{}
	}
	return b
}

func decode(data []byte, c Compression, size int) ([]byte, error) {
	switch c {
	case CompressionNone:
		if len(data) != size {
			return nil, fmt.Errorf("stored size %d does not match expected %d", len(data), size)
		}
		return data, nil
	case CompressionZstd:
		out, err := zstdDecoder.DecodeAll(data, make([]byte, 0, size))
		if err != nil {
			return nil, fmt.Errorf("zstd decompress: %w", err)
		}
		if len(out) != size {
			return nil, fmt.Errorf("zstd decompress: got %d bytes, expected %d", len(out), size)
		}
		return out, nil
	case CompressionLZ4:
		out := make([]byte, size)
		n, err := lz4.UncompressBlock(data, out)
		if err != nil {
			return nil, fmt.Errorf("lz4 decompress: %w", err)
		}
		if n != size {
			return nil, fmt.Errorf("lz4 decompress: got %d bytes, expected %d", n, size)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unsupported compression %q", c)
	}
}

// Digest is the BLAKE3 hash of a document body.
func Digest(content string) []byte {
	sum := blake3.Sum256([]byte(content))
	return sum[:]
}

package utils

import (
	"bytes"
	"compress/gzip"
	"fmt"
	"io"

	"github.com/andybalholm/brotli"
)

// CompressionAlgorithm defines supported compression methods
type CompressionAlgorithm byte

const (
	CompressionNone CompressionAlgorithm = iota
	CompressionGzip
	CompressionBrotli
)

// minCompressSize is the payload size below which compression is skipped.
const minCompressSize = 512

func (a CompressionAlgorithm) String() string {
	switch a {
	case CompressionNone:
		return "none"
	case CompressionGzip:
		return "gzip"
	case CompressionBrotli:
		return "brotli"
	}
	return fmt.Sprintf("unknown(%d)", byte(a))
}

// CompressData compresses data using the specified algorithm
func CompressData(data []byte, algorithm CompressionAlgorithm) ([]byte, error) {
	if len(data) == 0 {
		return data, nil
	}

	var buf bytes.Buffer
	var writer io.WriteCloser
	switch algorithm {
	case CompressionNone:
		return data, nil
	case CompressionGzip:
		writer = gzip.NewWriter(&buf)
	case CompressionBrotli:
		writer = brotli.NewWriterLevel(&buf, brotli.DefaultCompression)
	default:
		return nil, fmt.Errorf("unsupported compression algorithm: %s", algorithm)
	}

	if _, err := writer.Write(data); err != nil {
		return nil, fmt.Errorf("failed to write %s data: %w", algorithm, err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("failed to close %s writer: %w", algorithm, err)
	}
	return buf.Bytes(), nil
}

// DecompressData decompresses data using the specified algorithm
func DecompressData(compressed []byte, algorithm CompressionAlgorithm) ([]byte, error) {
	if len(compressed) == 0 {
		return compressed, nil
	}

	var reader io.Reader
	switch algorithm {
	case CompressionNone:
		return compressed, nil
	case CompressionGzip:
		gz, err := gzip.NewReader(bytes.NewReader(compressed))
		if err != nil {
			return nil, fmt.Errorf("failed to create gzip reader: %w", err)
		}
		defer gz.Close()
		reader = gz
	case CompressionBrotli:
		reader = brotli.NewReader(bytes.NewReader(compressed))
	default:
		return nil, fmt.Errorf("unsupported compression algorithm: %s", algorithm)
	}

	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s data: %w", algorithm, err)
	}
	return data, nil
}

// Pack compresses data with brotli when it is large enough to benefit and
// prefixes the algorithm so Unpack needs no side channel.
func Pack(data []byte) ([]byte, error) {
	algorithm := CompressionBrotli
	if len(data) < minCompressSize {
		algorithm = CompressionNone
	}

	body, err := CompressData(data, algorithm)
	if err != nil {
		return nil, err
	}
	out := make([]byte, 0, len(body)+1)
	out = append(out, byte(algorithm))
	return append(out, body...), nil
}

// Unpack reverses Pack.
func Unpack(packed []byte) ([]byte, error) {
	if len(packed) == 0 {
		return nil, fmt.Errorf("empty packed payload")
	}
	return DecompressData(packed[1:], CompressionAlgorithm(packed[0]))
}

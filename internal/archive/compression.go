package archive

import (
	"bytes"
	"compress/gzip"
	"io"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"

	"dbrewind/internal/apperrors"
)

// Compression selects the algorithm applied to encoded archive payloads.
type Compression string

const (
	CompressionNone Compression = "none"
	CompressionGzip Compression = "gzip"
	CompressionLZ4  Compression = "lz4"
	CompressionZstd Compression = "zstd"
)

// IsValid reports whether the compression name is one of the supported
// algorithms.
func (c Compression) IsValid() bool {
	switch c {
	case CompressionNone, CompressionGzip, CompressionLZ4, CompressionZstd:
		return true
	}
	return false
}

type compressor interface {
	compress(data []byte, level int) ([]byte, error)
	decompress(data []byte) ([]byte, error)
	defaultLevel() int
	maxLevel() int
}

var compressors = map[Compression]compressor{
	CompressionGzip: gzipCompressor{},
	CompressionLZ4:  lz4Compressor{},
	CompressionZstd: zstdCompressor{},
}

// Compress applies the named algorithm at the given level. A level outside
// the algorithm's range falls back to its default.
func Compress(data []byte, algorithm Compression, level int) ([]byte, error) {
	if algorithm == CompressionNone {
		return data, nil
	}
	c, ok := compressors[algorithm]
	if !ok {
		return nil, apperrors.Errorf(apperrors.KindStorage, "unsupported compression algorithm: %s", algorithm)
	}
	if level < 1 || level > c.maxLevel() {
		level = c.defaultLevel()
	}
	return c.compress(data, level)
}

// Decompress reverses Compress for the named algorithm.
func Decompress(data []byte, algorithm Compression) ([]byte, error) {
	if algorithm == CompressionNone {
		return data, nil
	}
	c, ok := compressors[algorithm]
	if !ok {
		return nil, apperrors.Errorf(apperrors.KindStorage, "unsupported compression algorithm: %s", algorithm)
	}
	return c.decompress(data)
}

type gzipCompressor struct{}

func (gzipCompressor) compress(data []byte, level int) ([]byte, error) {
	var buf bytes.Buffer
	writer, err := gzip.NewWriterLevel(&buf, level)
	if err != nil {
		return nil, apperrors.New(apperrors.KindStorage, "failed to create gzip writer", err)
	}
	if _, err := writer.Write(data); err != nil {
		writer.Close()
		return nil, apperrors.New(apperrors.KindStorage, "failed to compress archive payload", err)
	}
	if err := writer.Close(); err != nil {
		return nil, apperrors.New(apperrors.KindStorage, "failed to finalize gzip stream", err)
	}
	return buf.Bytes(), nil
}

func (gzipCompressor) decompress(data []byte) ([]byte, error) {
	reader, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, apperrors.New(apperrors.KindCorruption, "archive payload is not valid gzip", err)
	}
	defer reader.Close()

	decompressed, err := io.ReadAll(reader)
	if err != nil {
		return nil, apperrors.New(apperrors.KindCorruption, "failed to decompress gzip payload", err)
	}
	return decompressed, nil
}

func (gzipCompressor) defaultLevel() int { return gzip.DefaultCompression }
func (gzipCompressor) maxLevel() int     { return gzip.BestCompression }

type lz4Compressor struct{}

func (lz4Compressor) compress(data []byte, level int) ([]byte, error) {
	var buf bytes.Buffer
	writer := lz4.NewWriter(&buf)
	if level > 6 {
		if err := writer.Apply(lz4.CompressionLevelOption(lz4.Level9)); err != nil {
			return nil, apperrors.New(apperrors.KindStorage, "failed to configure lz4 writer", err)
		}
	}
	if _, err := writer.Write(data); err != nil {
		writer.Close()
		return nil, apperrors.New(apperrors.KindStorage, "failed to compress archive payload", err)
	}
	if err := writer.Close(); err != nil {
		return nil, apperrors.New(apperrors.KindStorage, "failed to finalize lz4 stream", err)
	}
	return buf.Bytes(), nil
}

func (lz4Compressor) decompress(data []byte) ([]byte, error) {
	decompressed, err := io.ReadAll(lz4.NewReader(bytes.NewReader(data)))
	if err != nil {
		return nil, apperrors.New(apperrors.KindCorruption, "failed to decompress lz4 payload", err)
	}
	return decompressed, nil
}

func (lz4Compressor) defaultLevel() int { return 1 }
func (lz4Compressor) maxLevel() int     { return 12 }

type zstdCompressor struct{}

func (zstdCompressor) compress(data []byte, level int) ([]byte, error) {
	encoderLevel := zstd.SpeedFastest
	switch {
	case level <= 1:
		encoderLevel = zstd.SpeedFastest
	case level <= 3:
		encoderLevel = zstd.SpeedDefault
	case level <= 6:
		encoderLevel = zstd.SpeedBetterCompression
	default:
		encoderLevel = zstd.SpeedBestCompression
	}

	encoder, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(encoderLevel))
	if err != nil {
		return nil, apperrors.New(apperrors.KindStorage, "failed to create zstd encoder", err)
	}
	defer encoder.Close()

	return encoder.EncodeAll(data, make([]byte, 0, len(data))), nil
}

func (zstdCompressor) decompress(data []byte) ([]byte, error) {
	decoder, err := zstd.NewReader(nil)
	if err != nil {
		return nil, apperrors.New(apperrors.KindStorage, "failed to create zstd decoder", err)
	}
	defer decoder.Close()

	decompressed, err := decoder.DecodeAll(data, nil)
	if err != nil {
		return nil, apperrors.New(apperrors.KindCorruption, "failed to decompress zstd payload", err)
	}
	return decompressed, nil
}

func (zstdCompressor) defaultLevel() int { return 3 }
func (zstdCompressor) maxLevel() int     { return 22 }

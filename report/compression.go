package report

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Compression defines the compression algorithm used for snapshot blocks.
type Compression uint8

const (
	// CompressionNone stores blocks as is. It is the zero value.
	CompressionNone Compression = 0
	// CompressionLZ4 uses LZ4 block compression (fast).
	CompressionLZ4 Compression = 1
	// CompressionZSTD uses ZSTD (better ratio).
	CompressionZSTD Compression = 2
)

func (c Compression) String() string {
	switch c {
	case CompressionNone:
		return "none"
	case CompressionLZ4:
		return "lz4"
	case CompressionZSTD:
		return "zstd"
	default:
		return fmt.Sprintf("compression(%d)", uint8(c))
	}
}

// ZSTD encoder/decoder pools for efficiency
var (
	zstdEncoderPool sync.Pool
	zstdDecoderPool sync.Pool
)

func getZstdEncoder() *zstd.Encoder {
	if v := zstdEncoderPool.Get(); v != nil {
		return v.(*zstd.Encoder)
	}
	enc, _ := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	return enc
}

func putZstdEncoder(enc *zstd.Encoder) {
	zstdEncoderPool.Put(enc)
}

func getZstdDecoder() *zstd.Decoder {
	if v := zstdDecoderPool.Get(); v != nil {
		return v.(*zstd.Decoder)
	}
	dec, _ := zstd.NewReader(nil)
	return dec
}

func putZstdDecoder(dec *zstd.Decoder) {
	zstdDecoderPool.Put(dec)
}

// Block format: [UncompressedSize uint32][CompressedSize uint32][Data...]
// If CompressedSize == 0, the block is stored uncompressed.
const (
	blockHeaderSize  = 8
	defaultBlockSize = 256 * 1024
)

var errCorruptBlock = errors.New("corrupt snapshot block")

// compressBlocks splits data into blocks and compresses each one, appending
// the result to dst.
func compressBlocks(dst, data []byte, c Compression, blockSize int) ([]byte, error) {
	if blockSize <= 0 {
		blockSize = defaultBlockSize
	}
	for len(data) > 0 {
		n := min(blockSize, len(data))
		var err error
		dst, err = appendBlock(dst, data[:n], c)
		if err != nil {
			return nil, err
		}
		data = data[n:]
	}
	return dst, nil
}

// appendBlock compresses one block. Blocks that do not shrink by at least
// 10% are stored uncompressed.
func appendBlock(dst, block []byte, c Compression) ([]byte, error) {
	var compressed []byte
	switch c {
	case CompressionNone:
	case CompressionLZ4:
		buf := make([]byte, lz4.CompressBlockBound(len(block)))
		n, err := lz4.CompressBlock(block, buf, nil)
		if err != nil {
			return nil, err
		}
		compressed = buf[:n] // n == 0: incompressible
	case CompressionZSTD:
		enc := getZstdEncoder()
		compressed = enc.EncodeAll(block, nil)
		putZstdEncoder(enc)
	default:
		return nil, fmt.Errorf("unknown compression %s", c)
	}

	dst = binary.LittleEndian.AppendUint32(dst, uint32(len(block)))
	if len(compressed) == 0 || float64(len(compressed)) > float64(len(block))*0.9 {
		dst = binary.LittleEndian.AppendUint32(dst, 0)
		return append(dst, block...), nil
	}
	dst = binary.LittleEndian.AppendUint32(dst, uint32(len(compressed)))
	return append(dst, compressed...), nil
}

// decompressBlocks reads all blocks and returns the concatenated data.
func decompressBlocks(data []byte, c Compression) ([]byte, error) {
	var out []byte
	for len(data) > 0 {
		if len(data) < blockHeaderSize {
			return nil, fmt.Errorf("%w: truncated header", errCorruptBlock)
		}
		uncompressedSize := binary.LittleEndian.Uint32(data[0:])
		compressedSize := binary.LittleEndian.Uint32(data[4:])
		data = data[blockHeaderSize:]

		if compressedSize == 0 {
			if uint32(len(data)) < uncompressedSize {
				return nil, fmt.Errorf("%w: block extends beyond data", errCorruptBlock)
			}
			out = append(out, data[:uncompressedSize]...)
			data = data[uncompressedSize:]
			continue
		}

		if uint32(len(data)) < compressedSize {
			return nil, fmt.Errorf("%w: compressed block extends beyond data", errCorruptBlock)
		}
		compressed := data[:compressedSize]
		data = data[compressedSize:]

		start := len(out)
		switch c {
		case CompressionLZ4:
			out = append(out, make([]byte, uncompressedSize)...)
			n, err := lz4.UncompressBlock(compressed, out[start:])
			if err != nil {
				return nil, err
			}
			if uint32(n) != uncompressedSize {
				return nil, fmt.Errorf("%w: decompressed size mismatch", errCorruptBlock)
			}
		case CompressionZSTD:
			dec := getZstdDecoder()
			var err error
			out, err = dec.DecodeAll(compressed, out)
			putZstdDecoder(dec)
			if err != nil {
				return nil, err
			}
			if uint32(len(out)-start) != uncompressedSize {
				return nil, fmt.Errorf("%w: decompressed size mismatch", errCorruptBlock)
			}
		default:
			return nil, fmt.Errorf("%w: compressed block with compression %s", errCorruptBlock, c)
		}
	}
	return out, nil
}

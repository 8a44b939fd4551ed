package lz4

import (
	"encoding/binary"
	"fmt"

	"github.com/pierrec/lz4/v4"
)

// Compressor implements compress.Compressor with lz4 block compression,
// code 2. The uncompressed length is prepended as a uvarint so that
// Uncompress can size its output buffer exactly instead of guessing.
// A zero prefix marks a block that was stored raw because lz4 could not
// shrink it.
type Compressor struct {
	c lz4.Compressor
}

func (Compressor) Code() byte {
	return 2
}

func (c Compressor) Compress(data []byte) ([]byte, error) {
	buf := make([]byte, binary.MaxVarintLen64+lz4.CompressBlockBound(len(data)))
	prefix := binary.PutUvarint(buf, uint64(len(data)))
	n, err := c.c.CompressBlock(data, buf[prefix:])
	if err != nil {
		return nil, err
	}
	if n == 0 {
		// Incompressible input. Store it raw behind a zero prefix.
		raw := make([]byte, 1+len(data))
		raw[0] = 0
		copy(raw[1:], data)
		return raw, nil
	}
	return buf[:prefix+n], nil
}

func (Compressor) Uncompress(data []byte) ([]byte, error) {
	size, prefix := binary.Uvarint(data)
	if prefix <= 0 {
		return nil, fmt.Errorf("lz4: missing length prefix")
	}
	if size == 0 {
		out := make([]byte, len(data)-prefix)
		copy(out, data[prefix:])
		return out, nil
	}
	buf := make([]byte, size)
	n, err := lz4.UncompressBlock(data[prefix:], buf)
	if err != nil {
		return nil, err
	}
	return buf[:n], nil
}

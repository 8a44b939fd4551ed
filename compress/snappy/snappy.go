package snappy

import (
	"github.com/golang/snappy"
)

// Compressor implements compress.Compressor with snappy block encoding,
// code 3. Block encoding carries its own length header, so unlike the
// stream form there is nothing to flush or close.
type Compressor struct{}

func (Compressor) Code() byte {
	return 3
}

func (Compressor) Compress(data []byte) ([]byte, error) {
	return snappy.Encode(nil, data), nil
}

func (Compressor) Uncompress(data []byte) ([]byte, error) {
	return snappy.Decode(nil, data)
}

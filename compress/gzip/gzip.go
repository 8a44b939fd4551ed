package gzip

import (
	"bytes"
	"compress/gzip"
	"io"
)

// Compressor implements compress.Compressor with gzip, code 1.
type Compressor struct{}

func (Compressor) Code() byte {
	return 1
}

func (Compressor) Compress(data []byte) ([]byte, error) {
	buf := bytes.NewBuffer(nil)
	gw := gzip.NewWriter(buf)
	if _, err := gw.Write(data); err != nil {
		return nil, err
	}
	// Close, not just Flush: the gzip footer is only written on Close, and
	// without it Uncompress sees a truncated stream.
	if err := gw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (Compressor) Uncompress(data []byte) ([]byte, error) {
	gr, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = gr.Close()
	}()
	return io.ReadAll(gr)
}

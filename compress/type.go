package compress

// Compressor shrinks an encoded message body before it is chunked and
// restores it after reassembly. The compressor code travels in the message
// header so the receiving side can pick the matching implementation.
type Compressor interface {
	Code() byte
	Compress(data []byte) ([]byte, error)
	Uncompress(data []byte) ([]byte, error)
}

// DoNothingCompressor is the identity compressor, code 0. Using it instead
// of a nil check keeps every encode/decode path uniform.
type DoNothingCompressor struct{}

func (DoNothingCompressor) Code() byte {
	return 0
}

func (DoNothingCompressor) Compress(data []byte) ([]byte, error) {
	return data, nil
}

func (DoNothingCompressor) Uncompress(data []byte) ([]byte, error) {
	return data, nil
}

// Registry resolves compressor codes found in message headers.
type Registry struct {
	compressors map[byte]Compressor
}

func NewRegistry(compressors ...Compressor) *Registry {
	r := &Registry{compressors: make(map[byte]Compressor, len(compressors)+1)}
	r.Register(DoNothingCompressor{})
	for _, c := range compressors {
		r.Register(c)
	}
	return r
}

func (r *Registry) Register(c Compressor) {
	r.compressors[c.Code()] = c
}

func (r *Registry) Get(code byte) (Compressor, bool) {
	c, ok := r.compressors[code]
	return c, ok
}

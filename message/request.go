package message

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"sort"
	"strings"

	"midirpc/compress"
	"midirpc/internal/errs"
)

// Wire layout, request:
//
//	0        4        8        12  13  14  15         23
//	┌────────┬────────┬────────┬───┬───┬───┬──────────┬──────────────┬──────┐
//	│headLen │bodyLen │ msgID  │ver│cmp│flg│createdAt │target\n k\rv\n│ body │
//	└────────┴────────┴────────┴───┴───┴───┴──────────┴──────────────┴──────┘
//
// The head stays uncompressed; the body (args + kwargs) is compressed with
// the compressor named by the cmp byte.
const (
	requestFixedHeader = 23

	splitter     = '\n'
	pairSplitter = '\r'
)

// EncodeRequest serializes req. The request's Compressor field is set to the
// code of the compressor actually used.
func EncodeRequest(req *Request, comp compress.Compressor) ([]byte, error) {
	if err := checkTarget(req.Target); err != nil {
		return nil, err
	}
	for k, v := range req.Meta {
		if k == "" || strings.ContainsAny(k, "\r\n") || strings.ContainsRune(v, '\n') {
			return nil, fmt.Errorf("%w: %q=%q", errs.ErrInvalidMeta, k, v)
		}
	}
	body, err := encodeRequestBody(req)
	if err != nil {
		return nil, err
	}
	if comp == nil {
		comp = compress.DoNothingCompressor{}
	}
	if body, err = comp.Compress(body); err != nil {
		return nil, fmt.Errorf("midirpc: compress request body: %w", err)
	}
	req.Compressor = comp.Code()

	headLen := requestFixedHeader + len(req.Target) + 1
	for k, v := range req.Meta {
		headLen += len(k) + 1 + len(v) + 1
	}
	bs := make([]byte, 0, headLen+len(body))
	bs = binary.BigEndian.AppendUint32(bs, uint32(headLen))
	bs = binary.BigEndian.AppendUint32(bs, uint32(len(body)))
	bs = binary.BigEndian.AppendUint32(bs, req.MessageID)
	bs = append(bs, Version, req.Compressor, 0)
	bs = binary.BigEndian.AppendUint64(bs, uint64(req.CreatedAt))
	bs = append(bs, req.Target...)
	bs = append(bs, splitter)
	for _, k := range sortedMetaKeys(req.Meta) {
		bs = append(bs, k...)
		bs = append(bs, pairSplitter)
		bs = append(bs, req.Meta[k]...)
		bs = append(bs, splitter)
	}
	return append(bs, body...), nil
}

// DecodeRequest is the inverse of EncodeRequest. Malformed or truncated
// input fails with errs.ErrMalformedMessage; an unregistered compressor code
// fails with errs.ErrUnknownCompressor. On error nothing is returned, so a
// caller never observes a half-decoded request.
func DecodeRequest(bs []byte, reg *compress.Registry) (*Request, error) {
	if len(bs) < requestFixedHeader {
		return nil, fmt.Errorf("%w: request shorter than fixed header", errs.ErrMalformedMessage)
	}
	headLen := int(binary.BigEndian.Uint32(bs[:4]))
	bodyLen := int(binary.BigEndian.Uint32(bs[4:8]))
	if headLen < requestFixedHeader || headLen > len(bs) || headLen+bodyLen != len(bs) {
		return nil, fmt.Errorf("%w: request length fields disagree with data", errs.ErrMalformedMessage)
	}
	if bs[12] != Version {
		return nil, fmt.Errorf("%w: unsupported request version %d", errs.ErrMalformedMessage, bs[12])
	}

	head := bs[requestFixedHeader:headLen]
	idx := bytes.IndexByte(head, splitter)
	if idx < 0 {
		return nil, fmt.Errorf("%w: missing target delimiter", errs.ErrMalformedMessage)
	}
	target := string(head[:idx])
	head = head[idx+1:]

	var meta map[string]string
	for len(head) > 0 {
		idx = bytes.IndexByte(head, splitter)
		if idx < 0 {
			return nil, fmt.Errorf("%w: unterminated meta pair", errs.ErrMalformedMessage)
		}
		pair := head[:idx]
		pi := bytes.IndexByte(pair, pairSplitter)
		if pi < 0 {
			return nil, fmt.Errorf("%w: meta pair without separator", errs.ErrMalformedMessage)
		}
		if meta == nil {
			meta = make(map[string]string, 4)
		}
		meta[string(pair[:pi])] = string(pair[pi+1:])
		head = head[idx+1:]
	}

	comp, ok := reg.Get(bs[13])
	if !ok {
		return nil, fmt.Errorf("%w: 0x%02x", errs.ErrUnknownCompressor, bs[13])
	}
	body, err := comp.Uncompress(bs[headLen:])
	if err != nil {
		return nil, fmt.Errorf("%w: uncompress request body: %v", errs.ErrMalformedMessage, err)
	}
	args, kwargs, err := decodeRequestBody(body)
	if err != nil {
		return nil, err
	}

	return &Request{
		MessageID:  binary.BigEndian.Uint32(bs[8:12]),
		Compressor: bs[13],
		CreatedAt:  int64(binary.BigEndian.Uint64(bs[15:23])),
		Target:     target,
		Meta:       meta,
		Args:       args,
		KwArgs:     kwargs,
	}, nil
}

func encodeRequestBody(req *Request) ([]byte, error) {
	bs := binary.BigEndian.AppendUint16(nil, uint16(len(req.Args)))
	var err error
	for _, arg := range req.Args {
		if bs, err = appendValue(bs, arg); err != nil {
			return nil, err
		}
	}
	bs = binary.BigEndian.AppendUint16(bs, uint16(len(req.KwArgs)))
	for _, k := range sortedKeys(req.KwArgs) {
		bs = appendLenBytes(bs, []byte(k))
		if bs, err = appendValue(bs, req.KwArgs[k]); err != nil {
			return nil, err
		}
	}
	return bs, nil
}

func decodeRequestBody(body []byte) ([]any, map[string]any, error) {
	r := &reader{bs: body}
	nargs, err := r.readUint16()
	if err != nil {
		return nil, nil, err
	}
	var args []any
	for i := 0; i < int(nargs); i++ {
		v, err := readValue(r)
		if err != nil {
			return nil, nil, err
		}
		args = append(args, v)
	}
	nkw, err := r.readUint16()
	if err != nil {
		return nil, nil, err
	}
	var kwargs map[string]any
	for i := 0; i < int(nkw); i++ {
		k, err := r.readString()
		if err != nil {
			return nil, nil, err
		}
		v, err := readValue(r)
		if err != nil {
			return nil, nil, err
		}
		if kwargs == nil {
			kwargs = make(map[string]any, nkw)
		}
		kwargs[k] = v
	}
	if r.remaining() != 0 {
		return nil, nil, fmt.Errorf("%w: %d trailing bytes after request body", errs.ErrMalformedMessage, r.remaining())
	}
	return args, kwargs, nil
}

func checkTarget(target string) error {
	if target == "" || strings.ContainsAny(target, "\r\n") {
		return fmt.Errorf("%w: %q", errs.ErrInvalidTarget, target)
	}
	return nil
}

func sortedMetaKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

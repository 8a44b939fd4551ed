package message

import (
	"encoding/binary"
	"fmt"

	"midirpc/compress"
	"midirpc/internal/errs"
)

// Wire layout, response:
//
//	0        4        8        12  13  14  15
//	┌────────┬────────┬────────┬───┬───┬───┬────────────────┬──────┐
//	│headLen │bodyLen │ msgID  │ver│cmp│sts│ stdout (len+b) │ body │
//	└────────┴────────┴────────┴───┴───┴───┴────────────────┴──────┘
//
// The body depends on the status byte: the return value for Ok, the fault
// descriptor for Fault, the refusal reason for Rejected.
const responseFixedHeader = 15

// EncodeResponse serializes resp. The response's Compressor field is set to
// the code of the compressor actually used.
func EncodeResponse(resp *Response, comp compress.Compressor) ([]byte, error) {
	body, err := encodeResponseBody(resp)
	if err != nil {
		return nil, err
	}
	if comp == nil {
		comp = compress.DoNothingCompressor{}
	}
	if body, err = comp.Compress(body); err != nil {
		return nil, fmt.Errorf("midirpc: compress response body: %w", err)
	}
	resp.Compressor = comp.Code()

	headLen := responseFixedHeader + 4 + len(resp.Stdout)
	bs := make([]byte, 0, headLen+len(body))
	bs = binary.BigEndian.AppendUint32(bs, uint32(headLen))
	bs = binary.BigEndian.AppendUint32(bs, uint32(len(body)))
	bs = binary.BigEndian.AppendUint32(bs, resp.MessageID)
	bs = append(bs, Version, resp.Compressor, byte(resp.Status))
	bs = appendLenBytes(bs, []byte(resp.Stdout))
	return append(bs, body...), nil
}

// DecodeResponse is the inverse of EncodeResponse, with the same error
// contract as DecodeRequest.
func DecodeResponse(bs []byte, reg *compress.Registry) (*Response, error) {
	if len(bs) < responseFixedHeader {
		return nil, fmt.Errorf("%w: response shorter than fixed header", errs.ErrMalformedMessage)
	}
	headLen := int(binary.BigEndian.Uint32(bs[:4]))
	bodyLen := int(binary.BigEndian.Uint32(bs[4:8]))
	if headLen < responseFixedHeader || headLen > len(bs) || headLen+bodyLen != len(bs) {
		return nil, fmt.Errorf("%w: response length fields disagree with data", errs.ErrMalformedMessage)
	}
	if bs[12] != Version {
		return nil, fmt.Errorf("%w: unsupported response version %d", errs.ErrMalformedMessage, bs[12])
	}
	status := Status(bs[14])
	if status > StatusRejected {
		return nil, fmt.Errorf("%w: unknown response status %d", errs.ErrMalformedMessage, status)
	}

	hr := &reader{bs: bs[responseFixedHeader:headLen]}
	stdout, err := hr.readString()
	if err != nil {
		return nil, err
	}
	if hr.remaining() != 0 {
		return nil, fmt.Errorf("%w: %d trailing bytes after response head", errs.ErrMalformedMessage, hr.remaining())
	}

	comp, ok := reg.Get(bs[13])
	if !ok {
		return nil, fmt.Errorf("%w: 0x%02x", errs.ErrUnknownCompressor, bs[13])
	}
	body, err := comp.Uncompress(bs[headLen:])
	if err != nil {
		return nil, fmt.Errorf("%w: uncompress response body: %v", errs.ErrMalformedMessage, err)
	}

	resp := &Response{
		MessageID:  binary.BigEndian.Uint32(bs[8:12]),
		Compressor: bs[13],
		Status:     status,
		Stdout:     stdout,
	}
	r := &reader{bs: body}
	switch status {
	case StatusOk:
		if resp.Value, err = readValue(r); err != nil {
			return nil, err
		}
	case StatusFault:
		fault := &FaultDesc{}
		if fault.Kind, err = r.readString(); err != nil {
			return nil, err
		}
		if fault.Message, err = r.readString(); err != nil {
			return nil, err
		}
		if fault.Trace, err = r.readString(); err != nil {
			return nil, err
		}
		resp.Fault = fault
	case StatusRejected:
		if resp.Rejection, err = r.readString(); err != nil {
			return nil, err
		}
	}
	if r.remaining() != 0 {
		return nil, fmt.Errorf("%w: %d trailing bytes after response body", errs.ErrMalformedMessage, r.remaining())
	}
	return resp, nil
}

func encodeResponseBody(resp *Response) ([]byte, error) {
	switch resp.Status {
	case StatusOk:
		return appendValue(nil, resp.Value)
	case StatusFault:
		fault := resp.Fault
		if fault == nil {
			fault = &FaultDesc{}
		}
		bs := appendLenBytes(nil, []byte(fault.Kind))
		bs = appendLenBytes(bs, []byte(fault.Message))
		return appendLenBytes(bs, []byte(fault.Trace)), nil
	case StatusRejected:
		return appendLenBytes(nil, []byte(resp.Rejection)), nil
	default:
		return nil, fmt.Errorf("%w: unknown response status %d", errs.ErrMalformedMessage, resp.Status)
	}
}

package transport

import (
	"bytes"
	"encoding/base64"
	"fmt"

	"midirpc/chunk"
	"midirpc/internal/errs"
)

// SysEx framing. Every datagram is one MIDI System Exclusive message:
//
//	F0 7D 'M' 'r' 'p' 'c'  org typ  id id  seq seq  tot tot  payload...  F7
//
// 0x7D is the MIDI non-commercial manufacturer id. All header fields are
// 7-bit clean: id, seq and total are 14-bit big-endian values carried in two
// data bytes each, and the chunk payload is base64 coded so that arbitrary
// bytes survive the transport's 7-bit data constraint.
const (
	sysexStart     byte = 0xF0
	sysexEnd       byte = 0xF7
	manufacturerID byte = 0x7D

	// envelopeSize is everything around the payload: start, marker tag,
	// origin, type, three 14-bit fields, terminator.
	envelopeSize = 6 + 1 + 1 + 2 + 2 + 2 + 1

	// maxWireValue bounds the 14-bit header fields.
	maxWireValue = 1<<14 - 1
)

var frameMarker = []byte{sysexStart, manufacturerID, 'M', 'r', 'p', 'c'}

var payloadCoding = base64.RawStdEncoding

// Frame is one chunk dressed for the wire.
type Frame struct {
	Origin Origin
	Type   FrameType
	Chunk  chunk.Chunk
}

// MaxChunkPayload derives the largest chunk payload size that still fits a
// datagram of maxDatagram bytes once the envelope and base64 expansion are
// accounted for.
func MaxChunkPayload(maxDatagram int) int {
	room := maxDatagram - envelopeSize
	if room <= 0 {
		return 0
	}
	return room / 4 * 3
}

// EncodeFrame renders a frame as one SysEx datagram.
func EncodeFrame(f Frame) []byte {
	c := f.Chunk
	bs := make([]byte, 0, envelopeSize+payloadCoding.EncodedLen(len(c.Payload)))
	bs = append(bs, frameMarker...)
	bs = append(bs, byte(f.Origin), byte(f.Type))
	bs = appendWireValue(bs, c.MessageID&maxWireValue)
	bs = appendWireValue(bs, uint32(c.Seq))
	bs = appendWireValue(bs, uint32(c.Total))
	coded := make([]byte, payloadCoding.EncodedLen(len(c.Payload)))
	payloadCoding.Encode(coded, c.Payload)
	bs = append(bs, coded...)
	return append(bs, sysexEnd)
}

// DecodeFrame parses one received datagram. Anything that is not a
// well-formed midirpc frame fails with errs.ErrMalformedFrame; the caller
// drops the datagram and keeps serving.
func DecodeFrame(datagram []byte) (Frame, error) {
	if len(datagram) < envelopeSize {
		return Frame{}, fmt.Errorf("%w: %d bytes is shorter than the envelope", errs.ErrMalformedFrame, len(datagram))
	}
	if !bytes.Equal(datagram[:len(frameMarker)], frameMarker) {
		return Frame{}, fmt.Errorf("%w: marker mismatch", errs.ErrMalformedFrame)
	}
	if datagram[len(datagram)-1] != sysexEnd {
		return Frame{}, fmt.Errorf("%w: missing terminator", errs.ErrMalformedFrame)
	}
	header := datagram[len(frameMarker) : envelopeSize-1]
	for _, b := range header {
		if b&0x80 != 0 {
			return Frame{}, fmt.Errorf("%w: header byte 0x%02x has the status bit set", errs.ErrMalformedFrame, b)
		}
	}
	coded := datagram[envelopeSize-1 : len(datagram)-1]
	payload := make([]byte, payloadCoding.DecodedLen(len(coded)))
	n, err := payloadCoding.Decode(payload, coded)
	if err != nil {
		return Frame{}, fmt.Errorf("%w: payload coding: %v", errs.ErrMalformedFrame, err)
	}
	return Frame{
		Origin: Origin(header[0]),
		Type:   FrameType(header[1]),
		Chunk: chunk.Chunk{
			MessageID: wireValue(header[2], header[3]),
			Seq:       uint16(wireValue(header[4], header[5])),
			Total:     uint16(wireValue(header[6], header[7])),
			Payload:   payload[:n],
		},
	}, nil
}

func appendWireValue(bs []byte, v uint32) []byte {
	return append(bs, byte(v>>7)&0x7F, byte(v)&0x7F)
}

func wireValue(hi, lo byte) uint32 {
	return uint32(hi)<<7 | uint32(lo)
}

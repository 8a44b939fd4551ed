package errs

import "errors"

var (
	ErrMalformedFrame    = errors.New("midirpc: datagram is not a valid frame")
	ErrMalformedMessage  = errors.New("midirpc: malformed or truncated message")
	ErrUnsupportedValue  = errors.New("midirpc: value cannot be serialized")
	ErrUnknownCompressor = errors.New("midirpc: unknown compressor code")
	ErrInvalidTarget     = errors.New("midirpc: invalid target name")
	ErrInvalidMeta       = errors.New("midirpc: invalid meta entry")
	ErrInvalidService    = errors.New("midirpc: service must be a pointer to a struct")
)

var (
	ErrTransportClosed  = errors.New("midirpc: transport is closed")
	ErrOversizeDatagram = errors.New("midirpc: datagram exceeds the transport size limit")
	ErrTooManyChunks    = errors.New("midirpc: payload needs more chunks than the wire format can number")
)

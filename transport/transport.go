// Package transport moves whole SysEx datagrams between the client and the
// host application. A transport binds one direction pair: datagrams it sends
// travel on one logical channel and datagrams it receives arrive from the
// other. Delivery is ordered within a channel but not guaranteed; all
// reliability above this layer comes from the caller's timeout policy.
package transport

// DefaultMaxDatagram is a conservative per-datagram limit that fits the
// SysEx buffers of common host applications.
const DefaultMaxDatagram = 1024

// Origin tags which side of the link produced a datagram.
type Origin byte

const (
	OriginClient Origin = 0x00
	OriginServer Origin = 0x01
)

// FrameType distinguishes the kinds of datagram riding the link.
type FrameType byte

const (
	// TypeCallFragment carries one chunk of an encoded request.
	TypeCallFragment FrameType = 0x00
	// TypeReplyFragment carries one chunk of an encoded response.
	TypeReplyFragment FrameType = 0x01

	// Reserved for a future handshake; frames with these types are dropped
	// by both sides today.
	TypeHello    FrameType = 0x02
	TypeGoodbye  FrameType = 0x03
	TypeRegister FrameType = 0x04
)

// Transport sends and receives discrete datagrams. Send fails with
// errs.ErrOversizeDatagram when the datagram exceeds MaxDatagramSize
// (a bug in the chunking layer, never a transport condition) and with
// errs.ErrTransportClosed after Close. The Inbound channel is never
// closed; readers stop via their own cancellation.
type Transport interface {
	Send(datagram []byte) error
	Inbound() <-chan []byte
	MaxDatagramSize() int
	Close() error
}

package transport

import (
	"fmt"
	"sync"

	"midirpc/internal/errs"
)

const pipeBuffer = 256

// PipeEnd is one side of an in-memory transport pair. It preserves send
// order and never drops datagrams unless a drop hook says so, which makes
// it the loopback and test double for the MIDI link.
type PipeEnd struct {
	maxSize int
	inbound chan []byte
	peer    *PipeEnd

	mu     sync.Mutex
	closed bool
	drop   func(datagram []byte) bool
}

var _ Transport = (*PipeEnd)(nil)

// Pipe returns two connected in-memory transports: whatever one end sends
// arrives on the other end's Inbound channel.
func Pipe(maxDatagram int) (*PipeEnd, *PipeEnd) {
	if maxDatagram <= 0 {
		maxDatagram = DefaultMaxDatagram
	}
	a := &PipeEnd{maxSize: maxDatagram, inbound: make(chan []byte, pipeBuffer)}
	b := &PipeEnd{maxSize: maxDatagram, inbound: make(chan []byte, pipeBuffer)}
	a.peer, b.peer = b, a
	return a, b
}

// SetDrop installs a hook consulted before each delivery; returning true
// silently discards the datagram. Used to inject loss in tests.
func (p *PipeEnd) SetDrop(drop func(datagram []byte) bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.drop = drop
}

func (p *PipeEnd) Send(datagram []byte) error {
	if len(datagram) > p.maxSize {
		return fmt.Errorf("%w: %d > %d bytes", errs.ErrOversizeDatagram, len(datagram), p.maxSize)
	}
	p.mu.Lock()
	closed, drop := p.closed, p.drop
	p.mu.Unlock()
	if closed {
		return errs.ErrTransportClosed
	}
	if drop != nil && drop(datagram) {
		return nil
	}
	select {
	case p.peer.inbound <- append([]byte(nil), datagram...):
		return nil
	default:
		// A reader that stopped draining would otherwise wedge the sender.
		return fmt.Errorf("%w: peer inbound queue is full", errs.ErrTransportClosed)
	}
}

func (p *PipeEnd) Inbound() <-chan []byte {
	return p.inbound
}

func (p *PipeEnd) MaxDatagramSize() int {
	return p.maxSize
}

func (p *PipeEnd) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

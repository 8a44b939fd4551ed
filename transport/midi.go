package transport

import (
	"fmt"
	"sync"

	"gitlab.com/gomidi/midi/v2"
	"gitlab.com/gomidi/midi/v2/drivers"

	"midirpc/internal/errs"
)

// Default port names. The client sends on the request port and listens on
// the response port; the server is wired the other way around.
const (
	DefaultRequestPort  = "midirpc Request"
	DefaultResponsePort = "midirpc Response"
)

// MIDI is a Transport over a pair of real MIDI ports via gomidi. Callers
// pick a driver by blank-importing it (e.g. rtmididrv), per gomidi
// convention.
type MIDI struct {
	in      drivers.In
	out     drivers.Out
	send    func(midi.Message) error
	stop    func()
	inbound chan []byte
	maxSize int

	mu     sync.Mutex
	closed bool
}

var _ Transport = (*MIDI)(nil)

// OpenMIDI resolves the named ports and wires a transport to them.
func OpenMIDI(inPort, outPort string, maxDatagram int) (*MIDI, error) {
	in, err := midi.FindInPort(inPort)
	if err != nil {
		return nil, fmt.Errorf("midirpc: find input port %q: %w", inPort, err)
	}
	out, err := midi.FindOutPort(outPort)
	if err != nil {
		return nil, fmt.Errorf("midirpc: find output port %q: %w", outPort, err)
	}
	return NewMIDI(in, out, maxDatagram)
}

// NewMIDI wires a transport to already-resolved ports and starts listening.
func NewMIDI(in drivers.In, out drivers.Out, maxDatagram int) (*MIDI, error) {
	if maxDatagram <= 0 {
		maxDatagram = DefaultMaxDatagram
	}
	send, err := midi.SendTo(out)
	if err != nil {
		return nil, fmt.Errorf("midirpc: open output port: %w", err)
	}
	m := &MIDI{
		in:      in,
		out:     out,
		send:    send,
		inbound: make(chan []byte, pipeBuffer),
		maxSize: maxDatagram,
	}
	stop, err := midi.ListenTo(in, m.onMessage, midi.UseSysEx())
	if err != nil {
		return nil, fmt.Errorf("midirpc: listen on input port: %w", err)
	}
	m.stop = stop
	return m, nil
}

func (m *MIDI) onMessage(msg midi.Message, _ int32) {
	var data []byte
	if !msg.GetSysEx(&data) {
		return
	}
	// GetSysEx strips the F0/F7 framing; restore it so the datagram matches
	// what DecodeFrame and the identity helpers expect.
	datagram := make([]byte, 0, len(data)+2)
	datagram = append(datagram, sysexStart)
	datagram = append(datagram, data...)
	datagram = append(datagram, sysexEnd)
	select {
	case m.inbound <- datagram:
	default:
		// Receiver stopped draining; dropping is the documented behavior
		// for an unreliable datagram link.
	}
}

func (m *MIDI) Send(datagram []byte) error {
	if len(datagram) > m.maxSize {
		return fmt.Errorf("%w: %d > %d bytes", errs.ErrOversizeDatagram, len(datagram), m.maxSize)
	}
	if len(datagram) < 2 || datagram[0] != sysexStart || datagram[len(datagram)-1] != sysexEnd {
		return fmt.Errorf("%w: datagram is not a SysEx message", errs.ErrMalformedFrame)
	}
	m.mu.Lock()
	closed := m.closed
	m.mu.Unlock()
	if closed {
		return errs.ErrTransportClosed
	}
	// midi.SysEx re-adds the F0/F7 framing.
	if err := m.send(midi.SysEx(datagram[1 : len(datagram)-1])); err != nil {
		return fmt.Errorf("%w: %v", errs.ErrTransportClosed, err)
	}
	return nil
}

func (m *MIDI) Inbound() <-chan []byte {
	return m.inbound
}

func (m *MIDI) MaxDatagramSize() int {
	return m.maxSize
}

func (m *MIDI) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.mu.Unlock()
	m.stop()
	if err := m.in.Close(); err != nil {
		_ = m.out.Close()
		return err
	}
	return m.out.Close()
}

package chunk

import (
	"fmt"
	"sync"
	"time"

	"midirpc/internal/errs"
)

const (
	// DefaultMaxBuffers bounds how many partial messages may be held at once.
	DefaultMaxBuffers = 64
	// DefaultStaleAfter is how long a partial message may wait for its
	// missing chunks before being evicted.
	DefaultStaleAfter = 30 * time.Second
)

// Assembler rebuilds message payloads from chunks delivered in any order.
// It is shared between a receive path and a timeout-sweep path, so every
// method takes the table lock.
type Assembler struct {
	mu         sync.Mutex
	buffers    map[uint32]*buffer
	maxBuffers int
	staleAfter time.Duration
}

// buffer accumulates the chunks of one message. It exists from the first
// chunk until completion or eviction; a later chunk for an evicted message
// id starts a fresh buffer.
type buffer struct {
	parts        [][]byte
	seen         []bool
	received     int
	total        int
	firstArrival time.Time
}

func NewAssembler(maxBuffers int, staleAfter time.Duration) *Assembler {
	if maxBuffers <= 0 {
		maxBuffers = DefaultMaxBuffers
	}
	if staleAfter <= 0 {
		staleAfter = DefaultStaleAfter
	}
	return &Assembler{
		buffers:    make(map[uint32]*buffer),
		maxBuffers: maxBuffers,
		staleAfter: staleAfter,
	}
}

// Add feeds one received chunk. When the chunk completes its message, the
// reconstructed payload is returned with done == true and the buffer is
// discarded. Duplicate chunks are idempotent no-ops. A chunk that disagrees
// with its buffer's geometry is dropped with an error; the buffer is left
// intact.
func (a *Assembler) Add(c Chunk) (payload []byte, done bool, err error) {
	now := time.Now()
	a.mu.Lock()
	defer a.mu.Unlock()

	if c.Total == 0 || c.Seq >= c.Total {
		return nil, false, fmt.Errorf("%w: chunk %d/%d of message %d",
			errs.ErrMalformedFrame, c.Seq, c.Total, c.MessageID)
	}
	buf, ok := a.buffers[c.MessageID]
	if ok && now.Sub(buf.firstArrival) >= a.staleAfter {
		// An expired buffer never completes; this chunk starts over.
		delete(a.buffers, c.MessageID)
		ok = false
	}
	if !ok {
		a.makeRoomLocked(now)
		buf = &buffer{
			parts:        make([][]byte, c.Total),
			seen:         make([]bool, c.Total),
			total:        int(c.Total),
			firstArrival: now,
		}
		a.buffers[c.MessageID] = buf
	}
	if int(c.Total) != buf.total {
		return nil, false, fmt.Errorf("%w: message %d total changed from %d to %d",
			errs.ErrMalformedFrame, c.MessageID, buf.total, c.Total)
	}
	if buf.seen[c.Seq] {
		return nil, false, nil
	}
	buf.seen[c.Seq] = true
	buf.parts[c.Seq] = append([]byte(nil), c.Payload...)
	buf.received++
	if buf.received < buf.total {
		return nil, false, nil
	}

	delete(a.buffers, c.MessageID)
	size := 0
	for _, p := range buf.parts {
		size += len(p)
	}
	payload = make([]byte, 0, size)
	for _, p := range buf.parts {
		payload = append(payload, p...)
	}
	return payload, true, nil
}

// Sweep evicts every partial message older than the staleness window and
// returns how many were dropped.
func (a *Assembler) Sweep(now time.Time) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	evicted := 0
	for id, buf := range a.buffers {
		if now.Sub(buf.firstArrival) >= a.staleAfter {
			delete(a.buffers, id)
			evicted++
		}
	}
	return evicted
}

// Pending reports how many partial messages are currently buffered.
func (a *Assembler) Pending() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.buffers)
}

// makeRoomLocked keeps the buffer table under its cap before a new buffer is
// admitted: stale buffers go first, then the oldest survivor.
func (a *Assembler) makeRoomLocked(now time.Time) {
	for id, buf := range a.buffers {
		if now.Sub(buf.firstArrival) >= a.staleAfter {
			delete(a.buffers, id)
		}
	}
	if len(a.buffers) < a.maxBuffers {
		return
	}
	var oldestID uint32
	var oldest time.Time
	first := true
	for id, buf := range a.buffers {
		if first || buf.firstArrival.Before(oldest) {
			oldestID, oldest, first = id, buf.firstArrival, false
		}
	}
	delete(a.buffers, oldestID)
}

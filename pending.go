package midirpc

import (
	"sync"

	"midirpc/message"
)

// idMask bounds correlation identifiers to the wire format's 14-bit field.
const idMask = 1<<14 - 1

// pendingCalls is the correlation table: it maps each in-flight call's
// identifier to the channel its caller is waiting on. Identifiers are only
// unique among calls simultaneously in flight; a resolved or abandoned id
// may be handed out again later.
type pendingCalls struct {
	mu     sync.Mutex
	calls  map[uint32]chan *message.Response
	lastID uint32
}

func newPendingCalls() *pendingCalls {
	return &pendingCalls{calls: make(map[uint32]chan *message.Response)}
}

// register allocates a fresh identifier not held by any pending call and
// installs its waiter slot. Registration happens before the request is
// sent, so a fast response can never race past its own entry.
func (p *pendingCalls) register() (uint32, <-chan *message.Response, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.calls) > idMask {
		return 0, nil, false
	}
	id := p.lastID
	for {
		id = (id + 1) & idMask
		if _, busy := p.calls[id]; !busy {
			break
		}
	}
	p.lastID = id
	ch := make(chan *message.Response, 1)
	p.calls[id] = ch
	return id, ch, true
}

// resolve delivers resp to the caller waiting on id and removes the entry.
// It reports false when no matching call is pending; the response is stale
// or foreign and the caller must discard it.
func (p *pendingCalls) resolve(id uint32, resp *message.Response) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	ch, ok := p.calls[id]
	if !ok {
		return false
	}
	delete(p.calls, id)
	// The channel is buffered, so this never blocks the receive loop.
	ch <- resp
	return true
}

// remove abandons a pending call, typically on timeout. A response that
// arrives afterwards finds no entry and is dropped by resolve.
func (p *pendingCalls) remove(id uint32) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.calls, id)
}

func (p *pendingCalls) size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.calls)
}

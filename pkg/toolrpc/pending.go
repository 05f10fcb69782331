package toolrpc

import (
	"sync"

	"github.com/halcyonhq/halcyon/pkg/wire"
)

// pendingTable correlates in-flight requests with responses arriving on the
// receive loop. Channels are buffered so a completion never blocks the loop,
// even if the waiter has already timed out and left.
type pendingTable struct {
	mu      sync.Mutex
	waiters map[string]chan *wire.Message
}

func newPendingTable() *pendingTable {
	return &pendingTable{waiters: make(map[string]chan *wire.Message)}
}

// add registers a waiter for the given request id.
func (p *pendingTable) add(id wire.ID) chan *wire.Message {
	ch := make(chan *wire.Message, 1)
	p.mu.Lock()
	p.waiters[id.String()] = ch
	p.mu.Unlock()
	return ch
}

// remove drops the waiter for id. Safe to call after complete.
func (p *pendingTable) remove(id wire.ID) {
	p.mu.Lock()
	delete(p.waiters, id.String())
	p.mu.Unlock()
}

// complete delivers a response to its waiter. Returns false when no waiter
// is registered for the id, which means the call already timed out or the
// server sent an unsolicited response.
func (p *pendingTable) complete(m *wire.Message) bool {
	if m.ID == nil {
		return false
	}
	p.mu.Lock()
	ch, ok := p.waiters[m.ID.String()]
	if ok {
		delete(p.waiters, m.ID.String())
	}
	p.mu.Unlock()
	if !ok {
		return false
	}
	ch <- m
	return true
}

// failAll resolves every outstanding waiter with the given error. Used when
// the connection drops so callers fail fast instead of waiting out their
// timeouts.
func (p *pendingTable) failAll(rpcErr *wire.Error) {
	p.mu.Lock()
	waiters := p.waiters
	p.waiters = make(map[string]chan *wire.Message)
	p.mu.Unlock()

	for idStr, ch := range waiters {
		id := wire.StringID(idStr)
		ch <- wire.NewErrorResponse(id, rpcErr)
	}
}

// len reports the number of outstanding requests.
func (p *pendingTable) len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.waiters)
}

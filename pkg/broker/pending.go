package broker

import (
	"sync"

	"github.com/mthangit/Multi-Agents-sub000/pkg/a2a"
)

// pendingTable tracks in-flight requests awaiting a correlated response.
// Each entry holds a buffered channel so completion never blocks the
// receive path.
type pendingTable struct {
	mu      sync.Mutex
	waiters map[string]chan *a2a.Response
}

func newPendingTable() *pendingTable {
	return &pendingTable{waiters: make(map[string]chan *a2a.Response)}
}

// add registers a waiter for correlationID and returns its channel.
func (p *pendingTable) add(correlationID string) chan *a2a.Response {
	ch := make(chan *a2a.Response, 1)
	p.mu.Lock()
	p.waiters[correlationID] = ch
	p.mu.Unlock()
	return ch
}

// remove drops the waiter for correlationID, if any.
func (p *pendingTable) remove(correlationID string) {
	p.mu.Lock()
	delete(p.waiters, correlationID)
	p.mu.Unlock()
}

// complete delivers resp to the waiter for its correlation ID. It
// reports whether a waiter was found; a late or unsolicited response
// returns false and the caller drops it.
func (p *pendingTable) complete(resp *a2a.Response) bool {
	p.mu.Lock()
	ch, ok := p.waiters[resp.CorrelationID]
	if ok {
		delete(p.waiters, resp.CorrelationID)
	}
	p.mu.Unlock()
	if !ok {
		return false
	}
	ch <- resp
	return true
}

// size returns the number of outstanding requests.
func (p *pendingTable) size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.waiters)
}

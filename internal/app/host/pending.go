package host

import "sync"

// pendingTable maps outstanding correlation tokens to their one-shot waiters.
// A response is matched to at most one waiter; completing a token removes it,
// so a late or duplicate response finds nothing to complete.
type pendingTable struct {
	mu      sync.Mutex
	waiters map[string]chan int64
}

func newPendingTable() *pendingTable {
	return &pendingTable{
		waiters: make(map[string]chan int64),
	}
}

// add registers a waiter for the given token and returns its result channel.
func (t *pendingTable) add(token string) chan int64 {
	t.mu.Lock()
	defer t.mu.Unlock()

	ch := make(chan int64, 1)
	t.waiters[token] = ch
	return ch
}

// complete delivers a result to the waiter registered for token, removing it.
// It reports whether a waiter was found.
func (t *pendingTable) complete(token string, value int64) bool {
	t.mu.Lock()
	ch, ok := t.waiters[token]
	if ok {
		delete(t.waiters, token)
	}
	t.mu.Unlock()

	if ok {
		ch <- value
	}
	return ok
}

// drop removes the waiter for token without completing it. Used when the caller
// gives up on a round-trip (timeout or session close).
func (t *pendingTable) drop(token string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	delete(t.waiters, token)
}

// size returns the number of outstanding waiters.
func (t *pendingTable) size() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	return len(t.waiters)
}

package dispatcher

import (
	"context"
	"sync"
)

// turnRegistry serialises turns per conversation: starting a turn for a key
// cancels the previous in-flight turn for that key. A cancelled turn's
// generation is discarded before it appends anything, which is what keeps
// "user sent a new message while the AI was typing" consistent.
type turnRegistry struct {
	mu     sync.Mutex
	active map[string]*turnHandle
}

type turnHandle struct {
	cancel context.CancelFunc
}

func newTurnRegistry() *turnRegistry {
	return &turnRegistry{active: make(map[string]*turnHandle)}
}

// begin registers a new turn for key, cancelling any prior one. The
// returned end func releases the registration and must be called when the
// turn finishes; it is a no-op for the cancellation side if a newer turn
// already took over.
func (r *turnRegistry) begin(parent context.Context, key string) (context.Context, context.CancelFunc) {
	r.mu.Lock()
	if prior, ok := r.active[key]; ok {
		prior.cancel()
	}
	ctx, cancel := context.WithCancel(parent)
	handle := &turnHandle{cancel: cancel}
	r.active[key] = handle
	r.mu.Unlock()

	end := func() {
		r.mu.Lock()
		if r.active[key] == handle {
			delete(r.active, key)
		}
		r.mu.Unlock()
		cancel()
	}
	return ctx, end
}

// inFlight reports how many turns are currently registered.
func (r *turnRegistry) inFlight() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.active)
}

package store

import (
	"context"
	"sync"
)

// presenceHub fans session presence changes out to subscribers.
// Each subscriber holds at most one undelivered value: the latest.
type presenceHub struct {
	mu   sync.Mutex
	subs map[chan bool]bool // channel -> last value delivered to it
}

func newPresenceHub() *presenceHub {
	return &presenceHub{subs: make(map[chan bool]bool)}
}

func (h *presenceHub) subscribe(ctx context.Context, current bool) <-chan bool {
	ch := make(chan bool, 1)
	ch <- current

	h.mu.Lock()
	h.subs[ch] = current
	h.mu.Unlock()

	go func() {
		<-ctx.Done()
		h.mu.Lock()
		delete(h.subs, ch)
		close(ch)
		h.mu.Unlock()
	}()
	return ch
}

func (h *presenceHub) publish(present bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for ch, last := range h.subs {
		if last == present {
			continue
		}
		// Replace any value the subscriber has not consumed yet
		select {
		case <-ch:
		default:
		}
		ch <- present
		h.subs[ch] = present
	}
}

package daemon

import (
	"sync"

	"subsync/internal/pipeline"
)

// eventHub fans pipeline snapshots out to websocket subscribers. Slow
// subscribers drop intermediate snapshots rather than block the pipeline.
type eventHub struct {
	mu     sync.Mutex
	subs   map[chan pipeline.Snapshot]struct{}
	closed bool
}

func newEventHub() *eventHub {
	return &eventHub{subs: make(map[chan pipeline.Snapshot]struct{})}
}

func (h *eventHub) subscribe() chan pipeline.Snapshot {
	h.mu.Lock()
	defer h.mu.Unlock()
	ch := make(chan pipeline.Snapshot, 8)
	if h.closed {
		close(ch)
		return ch
	}
	h.subs[ch] = struct{}{}
	return ch
}

func (h *eventHub) unsubscribe(ch chan pipeline.Snapshot) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.subs[ch]; ok {
		delete(h.subs, ch)
		close(ch)
	}
}

func (h *eventHub) broadcast(snap pipeline.Snapshot) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.subs {
		select {
		case ch <- snap:
		default:
		}
	}
}

func (h *eventHub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for ch := range h.subs {
		delete(h.subs, ch)
		close(ch)
	}
}

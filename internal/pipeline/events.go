package pipeline

import "sync"

const subscriberBuffer = 16

// hub fans wake events out to subscribers without blocking the publisher.
type hub struct {
	mu     sync.Mutex
	subs   map[int]chan WakeEvent
	next   int
	closed bool
}

func newHub() *hub {
	return &hub{subs: make(map[int]chan WakeEvent)}
}

func (h *hub) subscribe() (<-chan WakeEvent, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()
	ch := make(chan WakeEvent, subscriberBuffer)
	if h.closed {
		close(ch)
		return ch, func() {}
	}
	id := h.next
	h.next++
	h.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			if c, ok := h.subs[id]; ok {
				delete(h.subs, id)
				close(c)
			}
		})
	}
}

// publish delivers ev to every subscriber with buffer space.
func (h *hub) publish(ev WakeEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, ch := range h.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

func (h *hub) close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for id, ch := range h.subs {
		delete(h.subs, id)
		close(ch)
	}
}

package events

import (
	"encoding/json"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"
)

// subscriberBuffer is the per-subscriber queue length. A full run publishes
// one progress event per step, so it must cover bursts between reads.
const subscriberBuffer = 64

// EventHub fans events out to SSE subscribers. Publish never blocks; slow
// subscribers miss events.
type EventHub struct {
	mu     sync.RWMutex
	subs   map[chan Event]subscription
	closed bool

	dropped atomic.Uint64
}

type subscription struct {
	// names is nil when every event is wanted.
	names map[string]struct{}
}

func (s subscription) wants(name string) bool {
	if s.names == nil {
		return true
	}
	if _, ok := s.names[name]; ok {
		return true
	}
	// "calibration" matches every calibration.* event.
	if i := strings.IndexByte(name, '.'); i > 0 {
		_, ok := s.names[name[:i]]
		return ok
	}
	return false
}

func NewEventHub() *EventHub { return &EventHub{subs: make(map[chan Event]subscription)} }

// Subscribe returns a channel receiving the named events, or all events when
// no names are given. A name without a dot selects a whole family, e.g.
// "calibration". The channel is closed by Unsubscribe or Close.
func (h *EventHub) Subscribe(names ...string) chan Event {
	ch := make(chan Event, subscriberBuffer)
	var sub subscription
	for _, n := range names {
		if n = strings.TrimSpace(n); n == "" {
			continue
		}
		if sub.names == nil {
			sub.names = make(map[string]struct{})
		}
		sub.names[n] = struct{}{}
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		close(ch)
		return ch
	}
	h.subs[ch] = sub
	return ch
}

func (h *EventHub) Unsubscribe(ch chan Event) {
	h.mu.Lock()
	if _, ok := h.subs[ch]; ok {
		delete(h.subs, ch)
		close(ch)
	}
	h.mu.Unlock()
}

// Close ends every subscription. Later subscriptions are closed right away
// and Publish becomes a no-op.
func (h *EventHub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for ch := range h.subs {
		close(ch)
	}
	h.subs = make(map[chan Event]subscription)
}

// Subscribers returns the number of live subscriptions.
func (h *EventHub) Subscribers() int {
	if h == nil {
		return 0
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Dropped returns how many deliveries were dropped for full subscribers.
func (h *EventHub) Dropped() uint64 {
	if h == nil {
		return 0
	}
	return h.dropped.Load()
}

func (h *EventHub) Publish(name string, payload any) {
	if h == nil {
		return
	}
	b, err := json.Marshal(payload)
	if err != nil {
		logrus.WithError(err).WithField("event", name).Warn("failed to marshal event")
		return
	}
	msg := Event{Name: name, Data: b}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for ch, sub := range h.subs {
		if !sub.wants(name) {
			continue
		}
		select {
		case ch <- msg:
		default:
			if n := h.dropped.Add(1); n&(n-1) == 0 {
				// Powers of two only, a stuck subscriber would flood the log.
				logrus.WithFields(logrus.Fields{"event": name, "dropped": n}).Debug("subscriber too slow, event dropped")
			}
		}
	}
}

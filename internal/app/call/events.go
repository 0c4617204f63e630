package call

import (
	"sync"

	"github.com/dkeye/tribecall/internal/domain"
)

type EventType string

const (
	EventIncoming    EventType = "incoming"
	EventState       EventType = "state"
	EventError       EventType = "error"
	EventScreenShare EventType = "screen_share"
)

type Event struct {
	Type  EventType       `json:"type"`
	Call  domain.Snapshot `json:"call"`
	Error string          `json:"error,omitempty"`
}

const subscriberBuffer = 32

type broadcaster struct {
	mu   sync.Mutex
	subs map[chan Event]struct{}
}

func (b *broadcaster) subscribe() (<-chan Event, func()) {
	ch := make(chan Event, subscriberBuffer)
	b.mu.Lock()
	if b.subs == nil {
		b.subs = make(map[chan Event]struct{})
	}
	b.subs[ch] = struct{}{}
	b.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, ch)
			b.mu.Unlock()
			close(ch)
		})
	}
}

// publish never blocks; a subscriber that falls behind misses events.
func (b *broadcaster) publish(ev Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for ch := range b.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

// Subscribe streams machine events until cancel is called.
func (m *Machine) Subscribe() (<-chan Event, func()) {
	return m.events.subscribe()
}

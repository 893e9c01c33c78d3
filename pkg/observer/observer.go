// Package observer carries connection lifecycle and message notifications to
// interested listeners. Listeners subscribe to named event kinds on a Hub; the hub
// delivers synchronously, in emission order, on the goroutine that emits.
package observer

import (
	"sync"
	"time"

	"github.com/go-go-golems/poechat/pkg/types"
)

// Kind names an event channel.
type Kind string

const (
	KindConnect Kind = "connect"
	KindClose   Kind = "close"
	KindError   Kind = "error"
	KindMessage Kind = "message"
)

// Kinds lists every event channel.
var Kinds = []Kind{KindConnect, KindClose, KindError, KindMessage}

// Event is one notification. Err is set for KindError, Update for KindMessage.
type Event struct {
	Kind   Kind
	Time   time.Time
	URL    string
	Err    error
	Update *types.RawUpdate
}

// Observer receives events.
type Observer interface {
	Observe(Event)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(Event)

func (f ObserverFunc) Observe(e Event) { f(e) }

// Emitter is the producer side used by the connection manager and demultiplexer.
type Emitter interface {
	Emit(Event)
}

// Nop discards events.
type Nop struct{}

func (Nop) Emit(Event) {}

type subscription struct {
	id  uint64
	obs Observer
}

// Hub fans events out to observers subscribed per kind.
type Hub struct {
	mu     sync.RWMutex
	nextID uint64
	subs   map[Kind][]subscription
}

var _ Emitter = &Hub{}

func NewHub() *Hub {
	return &Hub{subs: map[Kind][]subscription{}}
}

// Subscribe registers obs for the given kinds (all kinds when none are given) and
// returns a function that removes the subscription.
func (h *Hub) Subscribe(obs Observer, kinds ...Kind) func() {
	if h == nil || obs == nil {
		return func() {}
	}
	if len(kinds) == 0 {
		kinds = Kinds
	}
	h.mu.Lock()
	h.nextID++
	id := h.nextID
	for _, k := range kinds {
		h.subs[k] = append(h.subs[k], subscription{id: id, obs: obs})
	}
	h.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { h.unsubscribe(id) })
	}
}

func (h *Hub) unsubscribe(id uint64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for k, subs := range h.subs {
		kept := subs[:0]
		for _, s := range subs {
			if s.id != id {
				kept = append(kept, s)
			}
		}
		if len(kept) == 0 {
			delete(h.subs, k)
			continue
		}
		h.subs[k] = kept
	}
}

// Emit delivers e to every observer subscribed to e.Kind.
func (h *Hub) Emit(e Event) {
	if h == nil {
		return
	}
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	h.mu.RLock()
	subs := append([]subscription(nil), h.subs[e.Kind]...)
	h.mu.RUnlock()
	for _, s := range subs {
		s.obs.Observe(e)
	}
}

// Count returns the number of subscriptions for kind.
func (h *Hub) Count(kind Kind) int {
	if h == nil {
		return 0
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[kind])
}

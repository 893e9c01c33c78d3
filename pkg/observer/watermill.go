package observer

import (
	"encoding/json"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/poechat/pkg/types"
)

const DefaultTopicPrefix = "poechat"

// WireEvent is the JSON form of an Event published on a Watermill topic.
type WireEvent struct {
	Kind   Kind             `json:"kind"`
	TimeMs int64            `json:"time_ms"`
	URL    string           `json:"url,omitempty"`
	Error  string           `json:"error,omitempty"`
	Update *types.RawUpdate `json:"update,omitempty"`
}

// TopicFor returns the topic events of kind are published on.
func TopicFor(prefix string, kind Kind) string {
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		prefix = DefaultTopicPrefix
	}
	return prefix + "." + string(kind)
}

// DefaultSinkBuffer is the number of events a WatermillSink holds while its
// publisher catches up.
const DefaultSinkBuffer = 256

// WatermillSink publishes observed events to a Watermill publisher, one topic
// per kind. Observe only enqueues; a background goroutine publishes, so a slow
// broker never stalls the push read loop. Events arriving while the queue is
// full are dropped with a warning.
type WatermillSink struct {
	pub    message.Publisher
	prefix string

	mu      sync.RWMutex
	closed  bool
	queue   chan *message.Message
	done    chan struct{}
	dropped atomic.Int64
}

var _ Observer = &WatermillSink{}

type SinkOption func(*WatermillSink)

// WithSinkBuffer sets the size of the publish queue.
func WithSinkBuffer(n int) SinkOption {
	return func(s *WatermillSink) {
		if n > 0 {
			s.queue = make(chan *message.Message, n)
		}
	}
}

func NewWatermillSink(pub message.Publisher, topicPrefix string, opts ...SinkOption) (*WatermillSink, error) {
	if pub == nil {
		return nil, errors.New("watermill sink: publisher is nil")
	}
	s := &WatermillSink{
		pub:    pub,
		prefix: topicPrefix,
		queue:  make(chan *message.Message, DefaultSinkBuffer),
		done:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	go s.publishLoop()
	return s, nil
}

func (s *WatermillSink) Observe(e Event) {
	if s == nil || s.pub == nil {
		return
	}
	payload, err := EncodeEvent(e)
	if err != nil {
		log.Warn().Err(err).Str("component", "observer").Str("kind", string(e.Kind)).Msg("watermill sink: encode failed")
		return
	}
	msg := message.NewMessage(watermill.NewUUID(), payload)
	msg.Metadata.Set("kind", string(e.Kind))

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return
	}
	select {
	case s.queue <- msg:
	default:
		n := s.dropped.Add(1)
		log.Warn().Str("component", "observer").Str("kind", string(e.Kind)).Int64("dropped", n).Msg("watermill sink: queue full, dropping event")
	}
}

// Dropped returns how many events were discarded because the queue was full.
func (s *WatermillSink) Dropped() int64 {
	if s == nil {
		return 0
	}
	return s.dropped.Load()
}

func (s *WatermillSink) publishLoop() {
	defer close(s.done)
	for msg := range s.queue {
		kind := msg.Metadata.Get("kind")
		if err := s.pub.Publish(TopicFor(s.prefix, Kind(kind)), msg); err != nil {
			log.Warn().Err(err).Str("component", "observer").Str("kind", kind).Msg("watermill sink: publish failed")
		}
	}
}

// Close stops accepting events, publishes what is already queued and then
// closes the underlying publisher.
func (s *WatermillSink) Close() error {
	if s == nil || s.pub == nil {
		return nil
	}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	close(s.queue)
	s.mu.Unlock()

	<-s.done
	return s.pub.Close()
}

func EncodeEvent(e Event) ([]byte, error) {
	ts := e.Time
	if ts.IsZero() {
		ts = time.Now()
	}
	w := WireEvent{
		Kind:   e.Kind,
		TimeMs: ts.UnixMilli(),
		URL:    e.URL,
		Update: e.Update,
	}
	if e.Err != nil {
		w.Error = e.Err.Error()
	}
	b, err := json.Marshal(w)
	if err != nil {
		return nil, errors.Wrap(err, "encode event")
	}
	return b, nil
}

func DecodeEvent(payload []byte) (WireEvent, error) {
	var w WireEvent
	if err := json.Unmarshal(payload, &w); err != nil {
		return WireEvent{}, errors.Wrap(err, "decode event")
	}
	return w, nil
}

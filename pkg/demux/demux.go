// Package demux turns raw push frames into per-conversation reply updates.
package demux

import (
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/poechat/pkg/observer"
	"github.com/go-go-golems/poechat/pkg/types"
)

// Router receives updates keyed by conversation id.
type Router interface {
	Deliver(conversationID int64, u types.RawUpdate) types.Delivery
}

// Result summarizes one frame.
type Result struct {
	Envelopes int
	Routed    int
	Ignored   int
	Buffered  int
	Dropped   int
	Failed    int
}

type Option func(*Demultiplexer)

// WithSkipAuthors ignores updates whose author is one of authors, such as the
// service's echo of the caller's own message.
func WithSkipAuthors(authors ...string) Option {
	return func(d *Demultiplexer) {
		for _, a := range authors {
			d.skipAuthors[a] = struct{}{}
		}
	}
}

func WithLogger(logger zerolog.Logger) Option {
	return func(d *Demultiplexer) {
		d.logger = logger
	}
}

// Demultiplexer routes subscription updates to the tracker.
type Demultiplexer struct {
	router      Router
	emitter     observer.Emitter
	skipAuthors map[string]struct{}
	logger      zerolog.Logger
}

func New(router Router, emitter observer.Emitter, opts ...Option) *Demultiplexer {
	if emitter == nil {
		emitter = observer.Nop{}
	}
	d := &Demultiplexer{
		router:      router,
		emitter:     emitter,
		skipAuthors: map[string]struct{}{},
		logger:      log.With().Str("component", "demux").Logger(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// HandleFrame processes every envelope in raw. A failure on one envelope is
// reported as an error event and does not stop the remaining envelopes.
func (d *Demultiplexer) HandleFrame(raw []byte) Result {
	var res Result
	frame, err := DecodeFrame(raw)
	if err != nil {
		res.Failed++
		d.reportError(err, -1)
		return res
	}
	res.Envelopes = len(frame.Messages)
	for i, msg := range frame.Messages {
		env, err := DecodeEnvelope(msg)
		if err != nil {
			res.Failed++
			d.reportError(err, i)
			continue
		}
		if env.MessageType != SubscriptionUpdate {
			res.Ignored++
			continue
		}
		convID, u, err := env.Update()
		if err != nil {
			res.Failed++
			d.reportError(err, i)
			continue
		}
		if _, skip := d.skipAuthors[u.Author]; skip && u.Author != "" {
			res.Ignored++
			continue
		}
		delivery := types.DeliveryDropped
		if d.router != nil {
			delivery = d.router.Deliver(convID, u)
		}
		switch delivery {
		case types.DeliveryQueued:
			res.Routed++
			d.emitMessage(u)
		case types.DeliveryBuffered:
			// the message event follows once the update is replayed into a queue
			res.Buffered++
			d.logger.Debug().Int64("conversation_id", convID).Msg("buffered update until its request is bound")
		default:
			res.Dropped++
			d.logger.Debug().Int64("conversation_id", convID).Msg("no pending request for update, dropping")
		}
	}
	return res
}

// Replayed reports an update that reached a request queue after being buffered.
func (d *Demultiplexer) Replayed(u types.RawUpdate) {
	d.emitMessage(u)
}

func (d *Demultiplexer) emitMessage(u types.RawUpdate) {
	d.emitter.Emit(observer.Event{Kind: observer.KindMessage, Update: &u})
}

func (d *Demultiplexer) reportError(err error, index int) {
	if !errors.Is(err, types.ErrMalformedFrame) {
		err = errors.Wrapf(types.ErrMalformedFrame, "%v", err)
	}
	d.logger.Warn().Err(err).Int("envelope", index).Msg("failed to decode push envelope")
	d.emitter.Emit(observer.Event{Kind: observer.KindError, Err: err})
}

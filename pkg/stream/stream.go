// Package stream exposes one pending request as a pull-based sequence of chunks.
package stream

import (
	"context"
	"io"
	"iter"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/poechat/pkg/tracker"
	"github.com/go-go-golems/poechat/pkg/types"
)

const (
	DefaultPollInterval = 100 * time.Millisecond
	DefaultIdleTimeout  = 2 * time.Minute
)

// Config tunes the poll loop. A zero IdleTimeout disables stale detection by time.
type Config struct {
	PollInterval time.Duration
	IdleTimeout  time.Duration
}

// Releaser removes a finished request from its registry.
type Releaser interface {
	Release(requestID int64)
}

type Option func(*Stream)

// WithOnTerminal registers a callback invoked once with the terminal chunk.
func WithOnTerminal(fn func(types.Chunk)) Option {
	return func(s *Stream) {
		s.onTerminal = fn
	}
}

func WithLogger(logger zerolog.Logger) Option {
	return func(s *Stream) {
		s.logger = logger
	}
}

// Stream is a single-pass, forward-only sequence of chunks for one request.
// Next returns io.EOF after the terminal chunk; every later call returns the same
// result. A stream that ends for any other reason releases its tracker entry too.
type Stream struct {
	entry    *tracker.Entry
	releaser Releaser
	cfg      Config

	onTerminal func(types.Chunk)
	logger     zerolog.Logger

	cancelCh   chan struct{}
	cancelOnce sync.Once

	mu           sync.Mutex
	finished     bool
	err          error
	lastActivity time.Time
}

func New(entry *tracker.Entry, releaser Releaser, cfg Config, opts ...Option) *Stream {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.IdleTimeout < 0 {
		cfg.IdleTimeout = 0
	}
	s := &Stream{
		entry:        entry,
		releaser:     releaser,
		cfg:          cfg,
		cancelCh:     make(chan struct{}),
		lastActivity: time.Now(),
	}
	s.logger = log.With().Str("component", "stream").Int64("request_id", entry.RequestID).Logger()
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// RequestID returns the id of the request this stream belongs to.
func (s *Stream) RequestID() int64 {
	return s.entry.RequestID
}

// Next blocks until the next chunk is available, the stream ends, ctx is done or
// Cancel is called. Cancelling ctx ends the stream.
func (s *Stream) Next(ctx context.Context) (types.Chunk, error) {
	if err := s.finishedErr(); err != nil {
		return types.Chunk{}, err
	}

	var ticker *time.Ticker
	defer func() {
		if ticker != nil {
			ticker.Stop()
		}
	}()

	for {
		if chunk, ok := s.entry.Next(); ok {
			s.touch()
			if chunk.Terminal() {
				s.finish(io.EOF)
				if s.onTerminal != nil {
					s.onTerminal(chunk)
				}
			}
			return chunk, nil
		}
		if err := s.entry.Err(); err != nil {
			return types.Chunk{}, s.finish(err)
		}
		if s.entry.Released() {
			return types.Chunk{}, s.finish(types.ErrStreamCanceled)
		}
		if s.idleExpired() {
			return types.Chunk{}, s.finish(errors.Wrapf(types.ErrStaleStream, "no update within %s", s.cfg.IdleTimeout))
		}

		if ticker == nil {
			ticker = time.NewTicker(s.cfg.PollInterval)
		}
		select {
		case <-ctx.Done():
			return types.Chunk{}, s.finish(ctx.Err())
		case <-s.cancelCh:
			return types.Chunk{}, s.finish(types.ErrStreamCanceled)
		case <-ticker.C:
		}
	}
}

// Cancel stops the stream and releases its tracker entry. Safe to call repeatedly
// and concurrently with Next.
func (s *Stream) Cancel() {
	s.cancelOnce.Do(func() {
		close(s.cancelCh)
	})
	s.finish(types.ErrStreamCanceled)
}

// Err returns the reason the stream ended: nil while open or after a terminal chunk.
func (s *Stream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err == io.EOF {
		return nil
	}
	return s.err
}

// Done reports whether the stream has ended.
func (s *Stream) Done() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.finished
}

// All adapts the stream to a range-over-func sequence. Breaking out of the loop
// cancels the stream. A non-EOF error is yielded once as the final element.
func (s *Stream) All(ctx context.Context) iter.Seq2[types.Chunk, error] {
	return func(yield func(types.Chunk, error) bool) {
		for {
			chunk, err := s.Next(ctx)
			if err == io.EOF {
				return
			}
			if err != nil {
				yield(types.Chunk{}, err)
				return
			}
			if !yield(chunk, nil) {
				s.Cancel()
				return
			}
		}
	}
}

// Collect drains the stream and returns every chunk received.
func (s *Stream) Collect(ctx context.Context) ([]types.Chunk, error) {
	var out []types.Chunk
	for chunk, err := range s.All(ctx) {
		if err != nil {
			return out, err
		}
		out = append(out, chunk)
	}
	return out, nil
}

func (s *Stream) finishedErr() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.finished {
		return nil
	}
	return s.err
}

func (s *Stream) touch() {
	s.mu.Lock()
	s.lastActivity = time.Now()
	s.mu.Unlock()
}

func (s *Stream) idleExpired() bool {
	if s.cfg.IdleTimeout <= 0 {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return time.Since(s.lastActivity) >= s.cfg.IdleTimeout
}

// finish ends the stream with err and releases the entry. The first reason wins.
func (s *Stream) finish(err error) error {
	s.mu.Lock()
	if s.finished {
		err = s.err
		s.mu.Unlock()
		return err
	}
	s.finished = true
	s.err = err
	s.mu.Unlock()

	if s.releaser != nil {
		s.releaser.Release(s.entry.RequestID)
	}
	if err == io.EOF {
		s.logger.Debug().Msg("stream complete")
	} else {
		s.logger.Debug().Err(err).Msg("stream ended")
	}
	return err
}

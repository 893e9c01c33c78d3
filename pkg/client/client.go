// Package client ties the push channel, demultiplexer, request tracker and chunk
// streams together behind SendMessage.
package client

import (
	"context"
	"math"
	"math/rand/v2"
	"strings"
	"sync"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/poechat/pkg/channel"
	"github.com/go-go-golems/poechat/pkg/config"
	"github.com/go-go-golems/poechat/pkg/demux"
	"github.com/go-go-golems/poechat/pkg/gql"
	"github.com/go-go-golems/poechat/pkg/observer"
	"github.com/go-go-golems/poechat/pkg/persistence/chatstore"
	"github.com/go-go-golems/poechat/pkg/stream"
	"github.com/go-go-golems/poechat/pkg/tracker"
	"github.com/go-go-golems/poechat/pkg/types"
)

// HumanAuthor is the author the service stamps on the caller's own message.
const HumanAuthor = "human"

// SendOptions targets an existing conversation and adds optional features.
type SendOptions struct {
	ChatID         int64
	ChatCode       string
	SuggestReplies bool
	Attachments    []string
}

// Client is a streaming chat client. One Client owns one push connection shared
// by every concurrent SendMessage call.
type Client struct {
	cfg         config.Config
	gql         *gql.Client
	hub         *observer.Hub
	tracker     *tracker.Tracker
	demux       *demux.Demultiplexer
	channel     *channel.Manager
	sink        *observer.WatermillSink
	transcripts chatstore.TranscriptStore
	base        zerolog.Logger
	logger      zerolog.Logger

	unsubscribe []func()

	mu     sync.Mutex
	closed bool
}

func New(cfg config.Config, opts ...Option) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}
	base := log.Logger
	if o.logger != nil {
		base = *o.logger
	}
	logger := base.With().Str("component", "client").Logger()

	gqlOpts := []gql.Option{gql.WithLogger(base.With().Str("component", "gql").Logger())}
	if o.httpClient != nil {
		gqlOpts = append(gqlOpts, gql.WithHTTPClient(o.httpClient))
	}
	gc, err := gql.New(cfg.GQLConfig(), gqlOpts...)
	if err != nil {
		return nil, err
	}

	c := &Client{
		cfg:         cfg,
		gql:         gc,
		hub:         observer.NewHub(),
		transcripts: o.transcripts,
		base:        base,
		logger:      logger,
	}

	// updates buffered before their conversation id was known are reported
	// when they reach a queue
	c.tracker = tracker.New(cfg.Stream.OrphanBufferSize, tracker.WithOnReplay(func(u types.RawUpdate) {
		c.demux.Replayed(u)
	}))

	demuxOpts := []demux.Option{demux.WithLogger(base.With().Str("component", "demux").Logger())}
	if cfg.Stream.SkipHumanEcho {
		demuxOpts = append(demuxOpts, demux.WithSkipAuthors(HumanAuthor))
	}
	c.demux = demux.New(c.tracker, c.hub, demuxOpts...)

	fetcher := o.fetcher
	if fetcher == nil {
		fetcher = gc
	}
	dialer := o.dialer
	if dialer == nil {
		dialer = channel.NewWebsocketDialer(cfg.Channel.HandshakeTimeout)
	}
	c.channel, err = channel.NewManager(
		fetcher,
		dialer,
		func(data []byte) { c.demux.HandleFrame(data) },
		channel.Config{
			URL:            cfg.Channel.URLOptions(),
			Header:         gc.HandshakeHeader(),
			ConnectTimeout: cfg.Channel.ConnectTimeout,
		},
		channel.WithEmitter(c.hub),
		channel.WithLogger(base.With().Str("component", "channel").Logger()),
	)
	if err != nil {
		return nil, err
	}

	// Streams waiting on a dropped connection would otherwise poll forever.
	c.unsubscribe = append(c.unsubscribe, c.hub.Subscribe(observer.ObserverFunc(c.onChannelClosed), observer.KindClose))
	for _, obs := range o.observers {
		c.unsubscribe = append(c.unsubscribe, c.hub.Subscribe(obs))
	}
	if o.publisher != nil {
		c.sink, err = observer.NewWatermillSink(o.publisher, cfg.Redis.Prefix)
		if err != nil {
			return nil, err
		}
		c.unsubscribe = append(c.unsubscribe, c.hub.Subscribe(c.sink))
	}
	return c, nil
}

func (c *Client) onChannelClosed(e observer.Event) {
	n := c.tracker.FailAll(errors.Wrapf(types.ErrStaleStream, "push channel %s closed", e.URL))
	if n > 0 {
		c.logger.Warn().Int("streams", n).Str("url", e.URL).Msg("push channel closed with open streams")
	}
}

// Subscribe registers obs for the given event kinds (all kinds when none are
// given) and returns a function that removes it.
func (c *Client) Subscribe(obs observer.Observer, kinds ...observer.Kind) func() {
	return c.hub.Subscribe(obs, kinds...)
}

// State reports the push connection state.
func (c *Client) State() channel.State {
	return c.channel.State()
}

// ChannelSettings fetches the push channel routing metadata.
func (c *Client) ChannelSettings(ctx context.Context) (channel.Settings, error) {
	return c.gql.ChannelSettings(ctx)
}

// ChannelURLOptions returns how the push URL is built from settings.
func (c *Client) ChannelURLOptions() channel.URLOptions {
	return c.cfg.Channel.URLOptions()
}

// InFlight returns the number of registered requests.
func (c *Client) InFlight() int {
	return c.tracker.Len()
}

// SendMessage sends text to bot and returns the stream of its reply. The caller
// must drain the stream or Cancel it.
func (c *Client) SendMessage(ctx context.Context, bot, text string, opts SendOptions) (*stream.Stream, error) {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return nil, types.ErrClientClosed
	}
	bot = strings.TrimSpace(bot)
	if bot == "" {
		return nil, errors.New("send message: bot is empty")
	}

	if err := c.channel.EnsureConnected(ctx); err != nil {
		if errors.Is(err, types.ErrConnectionFailed) || errors.Is(err, types.ErrClientClosed) {
			return nil, err
		}
		return nil, errors.Wrapf(types.ErrConnectionFailed, "%v", err)
	}

	requestID := newRequestID()
	entry, err := c.tracker.Register(requestID, opts.ChatID)
	if err != nil {
		return nil, err
	}
	// A close reported before Register could not fail this entry. The manager
	// leaves Connected before it emits close, so any later close reaches it.
	if st := c.channel.State(); st != channel.Connected {
		c.tracker.Release(requestID)
		return nil, errors.Wrapf(types.ErrConnectionFailed, "push channel %s before the request was registered", st)
	}
	logger := c.logger.With().Int64("request_id", requestID).Str("bot", bot).Logger()

	res, err := c.gql.SendMessage(ctx, gql.SendRequest{
		Bot:            bot,
		Message:        text,
		ChatID:         opts.ChatID,
		ChatCode:       opts.ChatCode,
		SuggestReplies: opts.SuggestReplies,
		Attachments:    opts.Attachments,
	})
	if err != nil {
		c.tracker.Release(requestID)
		logger.Warn().Err(err).Msg("send rejected")
		return nil, err
	}

	if opts.ChatID == 0 {
		if res.ChatID == 0 {
			c.tracker.Release(requestID)
			return nil, errors.Wrap(types.ErrSendRejected, "send response carried no conversation id")
		}
		if err := c.tracker.Bind(requestID, res.ChatID); err != nil {
			c.tracker.Release(requestID)
			return nil, err
		}
	} else if res.ChatID != 0 && res.ChatID != opts.ChatID {
		logger.Warn().
			Int64("conversation_id", opts.ChatID).
			Int64("reported_conversation_id", res.ChatID).
			Msg("service reported a different conversation")
	}

	convID := entry.ConversationID()
	chatCode := res.ChatCode
	if chatCode == "" {
		chatCode = opts.ChatCode
	}
	logger = logger.With().Int64("conversation_id", convID).Logger()
	logger.Debug().Msg("send accepted, streaming reply")

	c.record(ctx, chatstore.TranscriptEntry{
		ConversationID: convID,
		ChatCode:       chatCode,
		Bot:            bot,
		Role:           chatstore.RoleUser,
		Text:           text,
	})

	streamLogger := c.base.With().
		Str("component", "stream").
		Int64("request_id", requestID).
		Int64("conversation_id", convID).
		Logger()
	streamOpts := []stream.Option{stream.WithLogger(streamLogger)}
	if c.transcripts != nil {
		streamOpts = append(streamOpts, stream.WithOnTerminal(func(ch types.Chunk) {
			code := ch.ChatCode
			if code == "" {
				code = chatCode
			}
			c.record(context.WithoutCancel(ctx), chatstore.TranscriptEntry{
				ConversationID: convID,
				ChatCode:       code,
				Bot:            bot,
				Role:           chatstore.RoleBot,
				Text:           ch.FullText,
				State:          string(ch.State),
				ReplyID:        ch.ReplyID,
			})
		}))
	}
	return stream.New(entry, c.tracker, c.cfg.Stream.StreamConfig(), streamOpts...), nil
}

func (c *Client) record(ctx context.Context, e chatstore.TranscriptEntry) {
	if c.transcripts == nil {
		return
	}
	if err := c.transcripts.Append(ctx, e); err != nil {
		c.logger.Warn().Err(err).Int64("conversation_id", e.ConversationID).Msg("transcript append failed")
	}
}

// Close fails every open stream with ErrClientClosed and closes the push channel.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	c.tracker.FailAll(types.ErrClientClosed)
	err := c.channel.Close()
	for _, unsub := range c.unsubscribe {
		unsub()
	}
	if c.sink != nil {
		if cerr := c.sink.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}
	return err
}

func newRequestID() int64 {
	return rand.Int64N(math.MaxInt64-1) + 1
}

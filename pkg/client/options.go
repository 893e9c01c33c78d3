package client

import (
	"net/http"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/rs/zerolog"

	"github.com/go-go-golems/poechat/pkg/channel"
	"github.com/go-go-golems/poechat/pkg/observer"
	"github.com/go-go-golems/poechat/pkg/persistence/chatstore"
)

type Option func(*options)

type options struct {
	httpClient  *http.Client
	dialer      channel.Dialer
	fetcher     channel.SettingsFetcher
	observers   []observer.Observer
	publisher   message.Publisher
	transcripts chatstore.TranscriptStore
	logger      *zerolog.Logger
}

// WithHTTPClient sets the client used for the settings fetch and the send mutation.
func WithHTTPClient(hc *http.Client) Option {
	return func(o *options) {
		o.httpClient = hc
	}
}

// WithDialer replaces the websocket dialer used for the push channel.
func WithDialer(d channel.Dialer) Option {
	return func(o *options) {
		o.dialer = d
	}
}

// WithSettingsFetcher replaces the HTTP settings fetch, for fixed routing.
func WithSettingsFetcher(f channel.SettingsFetcher) Option {
	return func(o *options) {
		o.fetcher = f
	}
}

// WithObserver subscribes obs to every event kind for the client's lifetime.
func WithObserver(obs observer.Observer) Option {
	return func(o *options) {
		if obs != nil {
			o.observers = append(o.observers, obs)
		}
	}
}

// WithEventPublisher mirrors every event to pub under the configured topic prefix.
// The client closes pub on Close.
func WithEventPublisher(pub message.Publisher) Option {
	return func(o *options) {
		o.publisher = pub
	}
}

// WithTranscriptStore records sent messages and final replies.
func WithTranscriptStore(s chatstore.TranscriptStore) Option {
	return func(o *options) {
		o.transcripts = s
	}
}

func WithLogger(logger zerolog.Logger) Option {
	return func(o *options) {
		o.logger = &logger
	}
}

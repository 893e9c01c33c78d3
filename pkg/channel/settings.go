package channel

import (
	"context"
	"fmt"
	"math/rand/v2"
	"net/url"
	"strings"

	"github.com/pkg/errors"
)

// Settings is the routing metadata needed to open the push channel.
type Settings struct {
	BaseHost    string `json:"baseHost" yaml:"base_host"`
	BoxName     string `json:"boxName" yaml:"box_name"`
	MinSeq      string `json:"minSeq" yaml:"min_seq"`
	Channel     string `json:"channel" yaml:"channel"`
	ChannelHash string `json:"channelHash" yaml:"channel_hash"`
}

// SettingsFetcher retrieves channel routing metadata from the service.
type SettingsFetcher interface {
	ChannelSettings(ctx context.Context) (Settings, error)
}

// SettingsFetcherFunc adapts a function to SettingsFetcher.
type SettingsFetcherFunc func(ctx context.Context) (Settings, error)

func (f SettingsFetcherFunc) ChannelSettings(ctx context.Context) (Settings, error) {
	return f(ctx)
}

// URLOptions controls how the push URL is built from Settings.
type URLOptions struct {
	Scheme string `yaml:"scheme"`
	// RandomSubdomain prefixes the host with a random tchNNNNNN.tch. shard, as the
	// web client does. Disable it to connect to BaseHost directly.
	RandomSubdomain bool `yaml:"random_subdomain"`
}

func (s Settings) Validate() error {
	if strings.TrimSpace(s.BaseHost) == "" {
		return errors.New("channel settings: base host is empty")
	}
	if strings.TrimSpace(s.BoxName) == "" {
		return errors.New("channel settings: box name is empty")
	}
	if strings.TrimSpace(s.Channel) == "" {
		return errors.New("channel settings: channel is empty")
	}
	return nil
}

// URL builds the push channel URL.
func (s Settings) URL(opts URLOptions) (string, error) {
	if err := s.Validate(); err != nil {
		return "", err
	}
	scheme := strings.TrimSpace(opts.Scheme)
	if scheme == "" {
		scheme = "wss"
	}
	host := s.BaseHost
	if opts.RandomSubdomain {
		host = fmt.Sprintf("tch%d.tch.%s", rand.IntN(1_000_000), s.BaseHost)
	}
	q := url.Values{}
	q.Set("min_seq", s.MinSeq)
	q.Set("channel", s.Channel)
	q.Set("hash", s.ChannelHash)
	u := url.URL{
		Scheme:   scheme,
		Host:     host,
		Path:     "/up/" + s.BoxName + "/updates",
		RawQuery: q.Encode(),
	}
	return u.String(), nil
}

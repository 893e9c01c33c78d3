// Package config loads poechat's YAML configuration.
package config

import (
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/go-go-golems/poechat/pkg/channel"
	"github.com/go-go-golems/poechat/pkg/gql"
	"github.com/go-go-golems/poechat/pkg/redisstream"
	"github.com/go-go-golems/poechat/pkg/stream"
	"github.com/go-go-golems/poechat/pkg/tracker"
)

type ChannelConfig struct {
	Scheme           string        `yaml:"scheme"`
	RandomSubdomain  bool          `yaml:"random_subdomain"`
	ConnectTimeout   time.Duration `yaml:"connect_timeout"`
	HandshakeTimeout time.Duration `yaml:"handshake_timeout"`
}

func (c ChannelConfig) URLOptions() channel.URLOptions {
	return channel.URLOptions{Scheme: c.Scheme, RandomSubdomain: c.RandomSubdomain}
}

type StreamConfig struct {
	PollInterval time.Duration `yaml:"poll_interval"`
	// IdleTimeout ends a stream that has seen no update for this long. Zero disables it.
	IdleTimeout      time.Duration `yaml:"idle_timeout"`
	SkipHumanEcho    bool          `yaml:"skip_human_echo"`
	OrphanBufferSize int           `yaml:"orphan_buffer_size"`
}

func (c StreamConfig) StreamConfig() stream.Config {
	return stream.Config{PollInterval: c.PollInterval, IdleTimeout: c.IdleTimeout}
}

type TranscriptConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

type Config struct {
	Tokens     gql.Tokens           `yaml:"tokens"`
	Service    gql.Config           `yaml:"service"`
	Channel    ChannelConfig        `yaml:"channel"`
	Stream     StreamConfig         `yaml:"stream"`
	Redis      redisstream.Settings `yaml:"redis"`
	Transcript TranscriptConfig     `yaml:"transcript"`
}

func Default() Config {
	return Config{
		Service: gql.Config{
			BaseURL:      gql.DefaultBaseURL,
			SettingsPath: gql.DefaultSettingsPath,
			GQLPath:      gql.DefaultGQLPath,
			UserAgent:    gql.DefaultUserAgent,
			Timeout:      gql.DefaultTimeout,
		},
		Channel: ChannelConfig{
			Scheme:           "wss",
			RandomSubdomain:  true,
			ConnectTimeout:   channel.DefaultConnectTimeout,
			HandshakeTimeout: 10 * time.Second,
		},
		Stream: StreamConfig{
			PollInterval:     stream.DefaultPollInterval,
			IdleTimeout:      stream.DefaultIdleTimeout,
			SkipHumanEcho:    true,
			OrphanBufferSize: tracker.DefaultOrphanLimit,
		},
		Redis: redisstream.DefaultSettings(),
		Transcript: TranscriptConfig{
			Path: defaultTranscriptPath(),
		},
	}
}

// DefaultPath is <user config dir>/poechat/config.yaml.
func DefaultPath() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", errors.Wrap(err, "config: resolve user config dir")
	}
	return filepath.Join(dir, "poechat", "config.yaml"), nil
}

func defaultTranscriptPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "poechat-transcripts.db"
	}
	return filepath.Join(dir, "poechat", "transcripts.db")
}

// Load reads path over the defaults. A missing file is not an error when
// allowMissing is set; the defaults plus environment overrides are returned.
func Load(path string, allowMissing bool) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, errors.Wrapf(err, "config: parse %s", path)
		}
	case os.IsNotExist(err) && allowMissing:
	default:
		return Config{}, errors.Wrapf(err, "config: read %s", path)
	}
	cfg.ApplyEnv(os.LookupEnv)
	return cfg, nil
}

// Parse decodes YAML over the defaults.
func Parse(data []byte) (Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, errors.Wrap(err, "config: parse")
	}
	return cfg, nil
}

// ApplyEnv overrides tokens from POECHAT_* variables.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) {
	set := func(dst *string, key string) {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}
	set(&c.Tokens.PB, "POECHAT_P_B")
	set(&c.Tokens.PLat, "POECHAT_P_LAT")
	set(&c.Tokens.Formkey, "POECHAT_FORMKEY")
	set(&c.Tokens.CFBm, "POECHAT_CF_BM")
	set(&c.Tokens.CFClearance, "POECHAT_CF_CLEARANCE")
	set(&c.Service.BaseURL, "POECHAT_BASE_URL")
}

func (c Config) Validate() error {
	if err := c.Tokens.Validate(); err != nil {
		return errors.Wrap(err, "config")
	}
	u, err := url.Parse(c.Service.BaseURL)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return errors.Errorf("config: service.base_url %q is not an http(s) URL", c.Service.BaseURL)
	}
	switch c.Channel.Scheme {
	case "", "ws", "wss":
	default:
		return errors.Errorf("config: channel.scheme %q must be ws or wss", c.Channel.Scheme)
	}
	if c.Stream.PollInterval <= 0 {
		return errors.New("config: stream.poll_interval must be positive")
	}
	if c.Stream.IdleTimeout < 0 {
		return errors.New("config: stream.idle_timeout must not be negative")
	}
	if c.Stream.OrphanBufferSize < 0 {
		return errors.New("config: stream.orphan_buffer_size must not be negative")
	}
	if err := c.Redis.Validate(); err != nil {
		return errors.Wrap(err, "config")
	}
	if c.Transcript.Enabled && strings.TrimSpace(c.Transcript.Path) == "" {
		return errors.New("config: transcript.path is required when enabled")
	}
	return nil
}

// GQLConfig returns the HTTP collaborator config with tokens attached.
func (c Config) GQLConfig() gql.Config {
	out := c.Service
	out.Tokens = c.Tokens
	return out
}

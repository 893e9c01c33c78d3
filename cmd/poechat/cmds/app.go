package cmds

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/go-go-golems/poechat/pkg/client"
	"github.com/go-go-golems/poechat/pkg/config"
	"github.com/go-go-golems/poechat/pkg/persistence/chatstore"
	"github.com/go-go-golems/poechat/pkg/redisstream"
)

// App carries the persistent flags shared by every command.
type App struct {
	ConfigPath string
	LogLevel   string
	LogFormat  string
	BaseURL    string
}

func (a *App) AddPersistentFlags(cmd *cobra.Command) {
	cmd.PersistentFlags().StringVar(&a.ConfigPath, "config", "", "Config file (default <user config dir>/poechat/config.yaml)")
	cmd.PersistentFlags().StringVar(&a.LogLevel, "log-level", "info", "Log level (trace, debug, info, warn, error)")
	cmd.PersistentFlags().StringVar(&a.LogFormat, "log-format", "console", "Log format (console, json)")
	cmd.PersistentFlags().StringVar(&a.BaseURL, "base-url", "", "Override service.base_url")
}

// Config loads the config file with flag overrides applied. The default path may
// be missing; an explicit --config may not.
func (a *App) Config() (config.Config, error) {
	path := a.ConfigPath
	allowMissing := false
	if path == "" {
		p, err := config.DefaultPath()
		if err != nil {
			return config.Config{}, err
		}
		path, allowMissing = p, true
	}
	cfg, err := config.Load(path, allowMissing)
	if err != nil {
		return config.Config{}, err
	}
	if u := strings.TrimSpace(a.BaseURL); u != "" {
		cfg.Service.BaseURL = u
	}
	log.Debug().Str("path", path).Msg("loaded config")
	return cfg, nil
}

// NewClient builds a client from cfg with the transcript store and event mirror
// the config enables. The returned cleanup closes everything NewClient opened.
func (a *App) NewClient(cfg config.Config, opts ...client.Option) (*client.Client, func(), error) {
	var closers []func() error
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			if err := closers[i](); err != nil {
				log.Warn().Err(err).Msg("cleanup failed")
			}
		}
	}

	if cfg.Transcript.Enabled {
		store, err := openTranscriptStore(cfg.Transcript.Path)
		if err != nil {
			return nil, func() {}, err
		}
		closers = append(closers, store.Close)
		opts = append(opts, client.WithTranscriptStore(store))
	}
	if cfg.Redis.Enabled {
		pub, err := redisstream.BuildPublisher(cfg.Redis)
		if err != nil {
			cleanup()
			return nil, func() {}, err
		}
		// Owned by the client once New succeeds.
		closers = append(closers, pub.Close)
		opts = append(opts, client.WithEventPublisher(pub))
	}

	c, err := client.New(cfg, opts...)
	if err != nil {
		cleanup()
		return nil, func() {}, err
	}
	if cfg.Redis.Enabled {
		closers = closers[:len(closers)-1]
	}
	closers = append(closers, c.Close)
	return c, cleanup, nil
}

func openTranscriptStore(path string) (*chatstore.SQLiteTranscriptStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, errors.Wrap(err, "create transcript directory")
	}
	dsn, err := chatstore.SQLiteTranscriptDSNForFile(path)
	if err != nil {
		return nil, err
	}
	return chatstore.NewSQLiteTranscriptStore(dsn)
}

package cmds

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/go-go-golems/poechat/pkg/observer"
	"github.com/go-go-golems/poechat/pkg/redisstream"
)

func NewEventsCommand(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "events",
		Short: "Inspect client events mirrored to Redis Streams",
	}
	cmd.AddCommand(newEventsTailCommand(app))
	return cmd
}

func newEventsTailCommand(app *App) *cobra.Command {
	var (
		kinds    []string
		raw      bool
		consumer string
	)
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Follow connect/close/error/message events as clients publish them",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := app.Config()
			if err != nil {
				return err
			}
			rs := cfg.Redis
			if !rs.Enabled {
				return errors.New("redis is disabled; set redis.enabled in the config")
			}
			if consumer != "" {
				rs.Consumer = consumer
			}
			selected, err := parseKinds(kinds)
			if err != nil {
				return err
			}

			sub, err := redisstream.BuildGroupSubscriber(rs.Addr, rs.Group, rs.Consumer)
			if err != nil {
				return err
			}
			defer func() { _ = sub.Close() }()

			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()
			eg, ctx := errgroup.WithContext(ctx)

			eg.Go(func() error {
				sigChan := make(chan os.Signal, 1)
				signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
				defer signal.Stop(sigChan)
				select {
				case <-sigChan:
					log.Info().Msg("received interrupt signal, stopping tail")
					cancel()
				case <-ctx.Done():
				}
				return nil
			})

			out := &lockedWriter{w: cmd.OutOrStdout()}
			for _, kind := range selected {
				topic := observer.TopicFor(rs.Prefix, kind)
				if err := redisstream.EnsureGroupAtTail(ctx, rs.Addr, topic, rs.Group); err != nil {
					return err
				}
				msgs, err := sub.Subscribe(ctx, topic)
				if err != nil {
					return errors.Wrapf(err, "subscribe %s", topic)
				}
				eg.Go(func() error {
					return printEvents(ctx, msgs, out, raw)
				})
			}
			return eg.Wait()
		},
	}
	cmd.Flags().StringSliceVar(&kinds, "kind", nil, "Event kinds to follow (connect, close, error, message); all by default")
	cmd.Flags().BoolVar(&raw, "raw", false, "Print raw JSON payloads")
	cmd.Flags().StringVar(&consumer, "consumer", "", "Override redis.consumer")
	return cmd
}

func parseKinds(names []string) ([]observer.Kind, error) {
	if len(names) == 0 {
		return observer.Kinds, nil
	}
	known := map[observer.Kind]bool{}
	for _, k := range observer.Kinds {
		known[k] = true
	}
	out := make([]observer.Kind, 0, len(names))
	for _, n := range names {
		k := observer.Kind(n)
		if !known[k] {
			return nil, errors.Errorf("unknown event kind %q", n)
		}
		out = append(out, k)
	}
	return out, nil
}

func printEvents(ctx context.Context, msgs <-chan *message.Message, w io.Writer, raw bool) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-msgs:
			if !ok {
				return nil
			}
			if raw {
				_, _ = fmt.Fprintln(w, string(msg.Payload))
				msg.Ack()
				continue
			}
			ev, err := observer.DecodeEvent(msg.Payload)
			if err != nil {
				log.Warn().Err(err).Str("uuid", msg.UUID).Msg("undecodable event")
				msg.Ack()
				continue
			}
			_, _ = fmt.Fprintln(w, formatEvent(ev))
			msg.Ack()
		}
	}
}

func formatEvent(ev observer.WireEvent) string {
	ts := time.UnixMilli(ev.TimeMs).Format(time.TimeOnly)
	switch ev.Kind {
	case observer.KindMessage:
		if ev.Update == nil {
			return fmt.Sprintf("%s message", ts)
		}
		return fmt.Sprintf("%s message conversation=%d state=%s chars=%d", ts, ev.Update.ConversationID, ev.Update.State, len(ev.Update.Text))
	case observer.KindError:
		return fmt.Sprintf("%s error %s: %s", ts, ev.URL, ev.Error)
	default:
		return fmt.Sprintf("%s %s %s", ts, ev.Kind, ev.URL)
	}
}

type lockedWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (l *lockedWriter) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.w.Write(p)
}

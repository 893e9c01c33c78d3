// basic-send sends one message and prints the reply as it streams in. Tokens come
// from POECHAT_P_B and POECHAT_P_LAT.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/poechat/pkg/client"
	"github.com/go-go-golems/poechat/pkg/config"
	"github.com/go-go-golems/poechat/pkg/observer"
)

func main() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	bot, text := "gpt3_5", "Hello!"
	if len(os.Args) >= 3 {
		bot, text = os.Args[1], os.Args[2]
	}

	cfg := config.Default()
	cfg.ApplyEnv(os.LookupEnv)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	c, err := client.New(cfg, client.WithObserver(observer.ObserverFunc(func(e observer.Event) {
		if e.Kind == observer.KindConnect || e.Kind == observer.KindClose {
			log.Info().Str("kind", string(e.Kind)).Str("url", e.URL).Msg("push channel")
		}
	})))
	if err != nil {
		log.Fatal().Err(err).Msg("could not create client")
	}
	defer func() { _ = c.Close() }()

	s, err := c.SendMessage(ctx, bot, text, client.SendOptions{})
	if err != nil {
		log.Fatal().Err(err).Msg("send failed")
	}
	for chunk, err := range s.All(ctx) {
		if err != nil {
			log.Error().Err(err).Msg("stream ended early")
			return
		}
		fmt.Print(chunk.DeltaText)
	}
	fmt.Println()
}

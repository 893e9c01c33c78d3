package redisstream

import (
	"context"
	"strings"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	rstream "github.com/ThreeDotsLabs/watermill-redisstream/pkg/redisstream"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

func newClient(addr string) redis.UniversalClient {
	return redis.NewClient(&redis.Options{Addr: addr})
}

func defaultLogger() watermill.LoggerAdapter {
	return NewWatermillLogger(log.Logger)
}

// BuildPublisher returns a Redis Streams publisher. Each topic maps to one stream.
func BuildPublisher(s Settings) (message.Publisher, error) {
	if !s.Enabled {
		return nil, errors.New("redis: transport is disabled")
	}
	pub, err := rstream.NewPublisher(rstream.PublisherConfig{
		Client:     newClient(s.Addr),
		Marshaller: rstream.DefaultMarshallerUnmarshaller{},
	}, defaultLogger())
	if err != nil {
		return nil, errors.Wrap(err, "redis: build publisher")
	}
	return pub, nil
}

// BuildGroupSubscriber returns a Redis Streams subscriber bound to the given consumer group/name.
func BuildGroupSubscriber(addr, group, consumer string) (message.Subscriber, error) {
	sub, err := rstream.NewSubscriber(rstream.SubscriberConfig{
		Client:        newClient(addr),
		Unmarshaller:  rstream.DefaultMarshallerUnmarshaller{},
		ConsumerGroup: group,
		Consumer:      consumer,
	}, defaultLogger())
	if err != nil {
		return nil, errors.Wrap(err, "redis: build subscriber")
	}
	return sub, nil
}

// EnsureGroupAtTail creates the consumer group for a given stream at the tail ($) if it doesn't exist.
// This prevents full historical replay on first subscribe.
func EnsureGroupAtTail(ctx context.Context, addr, stream, group string) error {
	client := newClient(addr)
	defer func() { _ = client.Close() }()
	return ensureGroupAtTail(ctx, client, stream, group)
}

func ensureGroupAtTail(ctx context.Context, client redis.UniversalClient, stream, group string) error {
	err := client.XGroupCreateMkStream(ctx, stream, group, "$").Err()
	if err != nil {
		if isBusyGroup(err) {
			return nil
		}
		return errors.Wrapf(err, "redis: create group %s on %s", group, stream)
	}
	log.Info().Str("stream", stream).Str("group", group).Msg("created redis consumer group at $ (tail)")
	return nil
}

// isBusyGroup reports the "group already exists" reply.
func isBusyGroup(err error) bool {
	return err != nil && strings.Contains(err.Error(), "BUSYGROUP")
}

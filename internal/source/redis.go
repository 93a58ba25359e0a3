package source

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/subhroacharjee/replaycast/internal/broadcaster"
	"github.com/subhroacharjee/replaycast/internal/logger"
)

var ErrRedisNotReady = errors.New("source: redis did not answer ping")

// ConnectRedis parses url, opens a client and pings it.
func ConnectRedis(ctx context.Context, url string, timeout time.Duration) (*redis.Client, error) {
	if url == "" {
		return nil, ErrEmptyDSN
	}
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)

	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, errors.Join(ErrRedisNotReady, err)
	}
	return client, nil
}

// Redis emits the messages published on Redis Pub/Sub channels.
// Message.From is the channel name.
type Redis struct {
	client   redis.UniversalClient
	channels []string
	logger   *slog.Logger
}

func NewRedis(client redis.UniversalClient, channels []string, opts ...Option) (*Redis, error) {
	if client == nil {
		return nil, ErrNilConnection
	}
	if len(channels) == 0 {
		return nil, ErrEmptySubject
	}
	for _, ch := range channels {
		if ch == "" {
			return nil, ErrEmptySubject
		}
	}
	s := newSettings("redis", opts)
	return &Redis{
		client:   client,
		channels: append([]string(nil), channels...),
		logger:   s.logger.With(slog.Any("channels", channels)),
	}, nil
}

// Subscribe implements broadcaster.Source. The subscription is confirmed
// asynchronously; a failure to subscribe terminates the stream.
func (r *Redis) Subscribe(sub broadcaster.Subscriber[broadcaster.Message]) {
	e := NewEmitter(context.Background(), sub)

	go func() {
		ctx := e.Context()
		ps := r.client.Subscribe(ctx, r.channels...)
		defer func() {
			_ = ps.Close()
		}()

		if _, err := ps.Receive(ctx); err != nil {
			if ctx.Err() != nil {
				return
			}
			r.logger.Error("redis subscribe failed", logger.Err(err))
			e.Complete(broadcaster.Failure(fmt.Errorf("redis subscribe: %w", err)))
			return
		}
		r.logger.Debug("redis subscribed")

		for {
			msg, err := ps.ReceiveMessage(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				r.logger.Warn("redis subscription ended", logger.Err(err))
				e.Complete(broadcaster.Failure(fmt.Errorf("redis receive: %w", err)))
				return
			}
			if !e.Emit(broadcaster.Message{From: msg.Channel, Payload: []byte(msg.Payload)}) {
				return
			}
		}
	}()
}

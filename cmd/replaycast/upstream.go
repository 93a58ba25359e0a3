package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/subhroacharjee/replaycast/internal/broadcaster"
	"github.com/subhroacharjee/replaycast/internal/config"
	"github.com/subhroacharjee/replaycast/internal/logger"
	"github.com/subhroacharjee/replaycast/internal/p2p"
	"github.com/subhroacharjee/replaycast/internal/source"
)

const connectTimeout = 5 * time.Second

// upstream is the configured message source plus its lifecycle hooks.
// start runs after the broadcaster has subscribed; stop releases the
// underlying connection.
type upstream struct {
	source broadcaster.Source[broadcaster.Message]
	start  func(context.Context) error
	stop   func() error
}

func buildUpstream(ctx context.Context, cfg *config.Config, log *slog.Logger) (*upstream, error) {
	nop := func() error { return nil }

	switch cfg.Source {
	case config.TCP:
		opts, err := cfg.GetTransportOpts(log)
		if err != nil {
			return nil, err
		}
		tr := p2p.NewTCPTransport(*opts)
		return &upstream{
			source: tr,
			start: func(ctx context.Context) error {
				if err := tr.ListenAndAccept(ctx); err != nil {
					return err
				}
				for _, addr := range cfg.PeerAddrs {
					if err := tr.Dial(ctx, addr); err != nil {
						// Unreachable peers may dial us later.
						log.Warn("peer unreachable", slog.String("addr", addr), logger.Err(err))
					}
				}
				return nil
			},
			stop: tr.Shutdown,
		}, nil

	case config.NATS:
		nc, err := nats.Connect(cfg.NATSURL, nats.Name(cfg.Name), nats.Timeout(connectTimeout))
		if err != nil {
			return nil, fmt.Errorf("connect nats: %w", err)
		}
		src, err := source.NewNATS(nc, cfg.NATSSubject,
			source.WithLogger(log),
			source.WithQueueGroup(cfg.NATSQueue),
		)
		if err != nil {
			nc.Close()
			return nil, err
		}
		return &upstream{source: src, stop: func() error {
			nc.Close()
			return nil
		}}, nil

	case config.REDIS:
		client, err := source.ConnectRedis(ctx, cfg.RedisURL, connectTimeout)
		if err != nil {
			return nil, err
		}
		src, err := source.NewRedis(client, cfg.RedisChannels, source.WithLogger(log))
		if err != nil {
			return nil, errors.Join(err, client.Close())
		}
		return &upstream{source: src, stop: client.Close}, nil

	case config.POSTGRES:
		src, err := source.NewPostgres(cfg.PostgresDSN, cfg.PostgresChannel, source.WithLogger(log))
		if err != nil {
			return nil, err
		}
		return &upstream{source: src, stop: nop}, nil

	default:
		return nil, fmt.Errorf("%w: %q", config.ErrUnknownSource, cfg.Source)
	}
}

package source

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/jackc/pgx/v5"

	"github.com/subhroacharjee/replaycast/internal/broadcaster"
	"github.com/subhroacharjee/replaycast/internal/logger"
)

// Postgres emits NOTIFY payloads sent on a channel. Each subscriber gets its
// own dedicated LISTEN connection. Message.From is the notifying backend pid.
type Postgres struct {
	dsn     string
	channel string
	logger  *slog.Logger
}

func NewPostgres(dsn, channel string, opts ...Option) (*Postgres, error) {
	if dsn == "" {
		return nil, ErrEmptyDSN
	}
	if channel == "" {
		return nil, ErrEmptySubject
	}
	s := newSettings("postgres", opts)
	return &Postgres{
		dsn:     dsn,
		channel: channel,
		logger:  s.logger.With(slog.String("channel", channel)),
	}, nil
}

// Subscribe implements broadcaster.Source.
func (p *Postgres) Subscribe(sub broadcaster.Subscriber[broadcaster.Message]) {
	e := NewEmitter(context.Background(), sub)

	go func() {
		ctx := e.Context()
		conn, err := p.listen(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			p.logger.Error("postgres listen failed", logger.Err(err))
			e.Complete(broadcaster.Failure(err))
			return
		}
		defer func() {
			_ = conn.Close(context.Background())
		}()
		p.logger.Debug("postgres listening")

		for {
			n, err := conn.WaitForNotification(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				p.logger.Warn("postgres listen ended", logger.Err(err))
				e.Complete(broadcaster.Failure(fmt.Errorf("postgres wait for notification: %w", err)))
				return
			}
			msg := broadcaster.Message{
				From:    strconv.FormatUint(uint64(n.PID), 10),
				Payload: []byte(n.Payload),
			}
			if !e.Emit(msg) {
				return
			}
		}
	}()
}

func (p *Postgres) listen(ctx context.Context) (*pgx.Conn, error) {
	conn, err := pgx.Connect(ctx, p.dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres connect: %w", err)
	}
	if _, err := conn.Exec(ctx, "LISTEN "+pgx.Identifier{p.channel}.Sanitize()); err != nil {
		_ = conn.Close(context.Background())
		return nil, fmt.Errorf("LISTEN %s failed: %w", p.channel, err)
	}
	return conn, nil
}

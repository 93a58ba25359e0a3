package source

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/nats-io/nats.go"

	"github.com/subhroacharjee/replaycast/internal/broadcaster"
	"github.com/subhroacharjee/replaycast/internal/logger"
)

// NATS emits the messages published on a core NATS subject. Message.From is
// the concrete subject the message was published on. A closed connection
// terminates the stream with a failure.
type NATS struct {
	conn    *nats.Conn
	subject string
	queue   string
	logger  *slog.Logger
}

func NewNATS(conn *nats.Conn, subject string, opts ...Option) (*NATS, error) {
	if conn == nil {
		return nil, ErrNilConnection
	}
	if subject == "" {
		return nil, ErrEmptySubject
	}
	s := newSettings("nats", opts)
	return &NATS{
		conn:    conn,
		subject: subject,
		queue:   s.queueGroup,
		logger:  s.logger.With(slog.String("subject", subject)),
	}, nil
}

// Subscribe implements broadcaster.Source. The NATS subscription is created
// before Subscribe returns, so messages published afterwards are not missed.
func (n *NATS) Subscribe(sub broadcaster.Subscriber[broadcaster.Message]) {
	e := NewEmitter(context.Background(), sub)

	var (
		s   *nats.Subscription
		err error
	)
	if n.queue != "" {
		s, err = n.conn.QueueSubscribeSync(n.subject, n.queue)
	} else {
		s, err = n.conn.SubscribeSync(n.subject)
	}
	if err != nil {
		n.logger.Error("nats subscribe failed", logger.Err(err))
		e.Complete(broadcaster.Failure(fmt.Errorf("nats subscribe %q: %w", n.subject, err)))
		return
	}
	n.logger.Debug("nats subscribed")

	go func() {
		defer func() {
			_ = s.Unsubscribe()
		}()
		for {
			msg, err := s.NextMsgWithContext(e.Context())
			if err != nil {
				if e.Context().Err() != nil {
					return
				}
				n.logger.Warn("nats subscription ended", logger.Err(err))
				e.Complete(broadcaster.Failure(fmt.Errorf("nats receive %q: %w", n.subject, err)))
				return
			}
			if !e.Emit(broadcaster.Message{From: msg.Subject, Payload: msg.Data}) {
				return
			}
		}
	}()
}

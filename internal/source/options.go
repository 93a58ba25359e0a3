package source

import (
	"errors"
	"log/slog"

	"github.com/subhroacharjee/replaycast/internal/logger"
)

var (
	ErrNilConnection = errors.New("source: connection is nil")
	ErrEmptySubject  = errors.New("source: subject or channel name is empty")
	ErrEmptyDSN      = errors.New("source: empty connection string")
)

type settings struct {
	logger     *slog.Logger
	queueGroup string
}

type Option func(*settings)

// WithLogger configures structured logging. Defaults to a discard logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *settings) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithQueueGroup makes the NATS subscription join a queue group so several
// processes share the subject's load. Ignored by other sources.
func WithQueueGroup(group string) Option {
	return func(s *settings) {
		s.queueGroup = group
	}
}

func newSettings(kind string, opts []Option) settings {
	s := settings{logger: logger.Discard()}
	for _, opt := range opts {
		opt(&s)
	}
	s.logger = s.logger.With(logger.Source(kind))
	return s
}

package broadcaster

import (
	"errors"
	"log/slog"

	"github.com/subhroacharjee/replaycast/internal/logger"
)

// ErrClosed is the failure delivered to consumers when a broadcaster is
// torn down with Close before its upstream terminated.
var ErrClosed = errors.New("broadcaster closed")

// Capacity is the number of past items replayed to late consumers.
type Capacity int

// Unbounded keeps every item until the stream terminates.
const Unbounded Capacity = -1

type options struct {
	name             string
	logger           *slog.Logger
	metrics          MetricsCollector
	disconnectOnIdle bool
}

type Option func(*options)

// WithName labels log records of this broadcaster.
func WithName(name string) Option {
	return func(o *options) {
		o.name = name
	}
}

// WithLogger configures structured logging. Defaults to a discard logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

func WithMetrics(m MetricsCollector) Option {
	return func(o *options) {
		if m != nil {
			o.metrics = m
		}
	}
}

// WithDisconnectOnIdle cancels the upstream subscription when the last
// consumer detaches. The next Attach subscribes again. The replay buffer is
// kept across the gap. Without this option the upstream stays attached so
// the buffer keeps collecting for future consumers.
func WithDisconnectOnIdle() Option {
	return func(o *options) {
		o.disconnectOnIdle = true
	}
}

func defaultOptions() options {
	return options{
		logger:  logger.Discard(),
		metrics: nopMetrics{},
	}
}

// MetricsCollector observes a broadcaster. Implementations must be safe for
// concurrent use. SetConsumers and SetReplayDepth must not call back into
// the broadcaster.
type MetricsCollector interface {
	IncRelayed()
	IncDelivered()
	// AddEvicted counts items pushed out of the shared replay buffer.
	AddEvicted(n int)
	// AddDropped counts items lost from a consumer's private buffer, either by
	// overflow or by cancellation.
	AddDropped(n int)
	SetConsumers(n int)
	SetReplayDepth(n int)
	IncTerminated(failed bool)
}

type nopMetrics struct{}

func (nopMetrics) IncRelayed() {}
func (nopMetrics) IncDelivered() {}
func (nopMetrics) AddEvicted(int) {}
func (nopMetrics) AddDropped(int) {}
func (nopMetrics) SetConsumers(int) {}
func (nopMetrics) SetReplayDepth(int) {}
func (nopMetrics) IncTerminated(bool) {}

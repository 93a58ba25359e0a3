// Package metrics exposes broadcaster counters and gauges in Prometheus
// text format using VictoriaMetrics/metrics.
//
//	collector := metrics.New(metrics.WithPrefix("replaycast"), metrics.WithName("orders"))
//	b := broadcaster.New(src, 64, broadcaster.WithMetrics(collector))
//	http.HandleFunc("/metrics", collector.Handler)
package metrics

import (
	"fmt"
	"io"
	"net/http"
	"sync/atomic"

	vm "github.com/VictoriaMetrics/metrics"

	"github.com/subhroacharjee/replaycast/internal/broadcaster"
)

type Option func(*Collector)

// WithPrefix sets the metric name prefix. Default: "replaycast".
func WithPrefix(prefix string) Option {
	return func(c *Collector) {
		if prefix != "" {
			c.prefix = prefix
		}
	}
}

// WithName sets the broadcaster label value. Default: "default".
func WithName(name string) Option {
	return func(c *Collector) {
		if name != "" {
			c.name = name
		}
	}
}

// WithMetricsSet registers the metrics with set instead of a new globally
// registered one. The caller is then responsible for exposing set.
func WithMetricsSet(set *vm.Set) Option {
	return func(c *Collector) {
		c.set = set
	}
}

// Collector implements broadcaster.MetricsCollector. All metrics are
// created up front; it is safe for concurrent use.
type Collector struct {
	set    *vm.Set
	prefix string
	name   string

	relayed    *vm.Counter
	delivered  *vm.Counter
	evicted    *vm.Counter
	dropped    *vm.Counter
	finished   *vm.Counter
	failed     *vm.Counter
	consumers  atomic.Int64
	replaySize atomic.Int64
}

var _ broadcaster.MetricsCollector = (*Collector)(nil)

func New(opts ...Option) *Collector {
	c := &Collector{
		prefix: "replaycast",
		name:   "default",
	}
	for _, opt := range opts {
		opt(c)
	}

	if c.set == nil {
		c.set = vm.NewSet()
		vm.RegisterSet(c.set)
	}
	c.initMetrics()
	return c
}

func (c *Collector) initMetrics() {
	name := func(metric string) string {
		return fmt.Sprintf(`%s_%s{broadcaster=%q}`, c.prefix, metric, c.name)
	}
	termination := func(outcome string) string {
		return fmt.Sprintf(`%s_terminations_total{broadcaster=%q,outcome=%q}`, c.prefix, c.name, outcome)
	}

	c.relayed = c.set.NewCounter(name("relayed_total"))
	c.delivered = c.set.NewCounter(name("delivered_total"))
	c.evicted = c.set.NewCounter(name("replay_evicted_total"))
	c.dropped = c.set.NewCounter(name("dropped_total"))
	c.finished = c.set.NewCounter(termination("finished"))
	c.failed = c.set.NewCounter(termination("failed"))

	c.set.NewGauge(name("consumers"), func() float64 {
		return float64(c.consumers.Load())
	})
	c.set.NewGauge(name("replay_depth"), func() float64 {
		return float64(c.replaySize.Load())
	})
}

func (c *Collector) Set() *vm.Set {
	return c.set
}

// Handler serves the collector's metrics in Prometheus format.
func (c *Collector) Handler(w http.ResponseWriter, _ *http.Request) {
	c.set.WritePrometheus(w)
}

func (c *Collector) WritePrometheus(w io.Writer) {
	c.set.WritePrometheus(w)
}

// Unregister removes the collector's set from the global registry.
func (c *Collector) Unregister() {
	vm.UnregisterSet(c.set, true)
}

func (c *Collector) IncRelayed() {
	c.relayed.Inc()
}

func (c *Collector) IncDelivered() {
	c.delivered.Inc()
}

func (c *Collector) AddEvicted(n int) {
	if n > 0 {
		c.evicted.Add(n)
	}
}

func (c *Collector) AddDropped(n int) {
	if n > 0 {
		c.dropped.Add(n)
	}
}

func (c *Collector) SetConsumers(n int) {
	c.consumers.Store(int64(n))
}

func (c *Collector) SetReplayDepth(n int) {
	c.replaySize.Store(int64(n))
}

func (c *Collector) IncTerminated(failed bool) {
	if failed {
		c.failed.Inc()
		return
	}
	c.finished.Inc()
}

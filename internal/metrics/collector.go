// Package metrics exposes counters and latency histograms in Prometheus
// text exposition format without pulling in prometheus/client_golang.
package metrics

import (
	"fmt"
	"math"
	"net/http"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Collector is the process-wide metrics registry.
var Collector = NewRegistry()

// Registry aggregates counters, gauges, and histograms.
type Registry struct {
	counters   sync.Map // name{labels} -> *Counter
	gauges     sync.Map // name{labels} -> *Gauge
	histograms sync.Map // name{labels} -> *Histogram
	started    time.Time
}

func NewRegistry() *Registry {
	return &Registry{started: time.Now()}
}

// Counter only goes up.
type Counter struct {
	name, help, labels string
	value              atomic.Int64
}

func (c *Counter) Inc()         { c.value.Add(1) }
func (c *Counter) Add(n int64)  { c.value.Add(n) }
func (c *Counter) Value() int64 { return c.value.Load() }

// Gauge goes both ways.
type Gauge struct {
	name, help, labels string
	value              atomic.Int64
}

func (g *Gauge) Set(v int64)  { g.value.Store(v) }
func (g *Gauge) Inc()         { g.value.Add(1) }
func (g *Gauge) Dec()         { g.value.Add(-1) }
func (g *Gauge) Value() int64 { return g.value.Load() }

// Histogram tracks a value distribution over fixed buckets.
type Histogram struct {
	name, help, labels string

	mu      sync.Mutex
	count   int64
	sum     float64
	bounds  []float64
	bucketN []int64
}

func (h *Histogram) Observe(v float64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.count++
	h.sum += v
	for i, le := range h.bounds {
		if v <= le {
			h.bucketN[i]++
		}
	}
}

// ObserveSince records the elapsed seconds since start.
func (h *Histogram) ObserveSince(start time.Time) {
	h.Observe(time.Since(start).Seconds())
}

// Count returns the number of observations.
func (h *Histogram) Count() int64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.count
}

func (r *Registry) Counter(name, help, labels string) *Counter {
	key := name + "{" + labels + "}"
	if v, ok := r.counters.Load(key); ok {
		return v.(*Counter)
	}
	actual, _ := r.counters.LoadOrStore(key, &Counter{name: name, help: help, labels: labels})
	return actual.(*Counter)
}

func (r *Registry) Gauge(name, help, labels string) *Gauge {
	key := name + "{" + labels + "}"
	if v, ok := r.gauges.Load(key); ok {
		return v.(*Gauge)
	}
	actual, _ := r.gauges.LoadOrStore(key, &Gauge{name: name, help: help, labels: labels})
	return actual.(*Gauge)
}

func (r *Registry) Histogram(name, help, labels string, bounds []float64) *Histogram {
	key := name + "{" + labels + "}"
	if v, ok := r.histograms.Load(key); ok {
		return v.(*Histogram)
	}
	sort.Float64s(bounds)
	h := &Histogram{name: name, help: help, labels: labels,
		bounds: bounds, bucketN: make([]int64, len(bounds))}
	actual, _ := r.histograms.LoadOrStore(key, h)
	return actual.(*Histogram)
}

// Handler renders the registry in Prometheus text format.
func (r *Registry) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")

		var sb strings.Builder
		fmt.Fprintf(&sb, "# HELP standin_uptime_seconds Time since start in seconds\n")
		fmt.Fprintf(&sb, "# TYPE standin_uptime_seconds gauge\n")
		fmt.Fprintf(&sb, "standin_uptime_seconds %d\n\n", int64(time.Since(r.started).Seconds()))

		helpWritten := make(map[string]bool)
		r.counters.Range(func(_, value any) bool {
			c := value.(*Counter)
			if !helpWritten[c.name] {
				fmt.Fprintf(&sb, "# HELP %s %s\n# TYPE %s counter\n", c.name, c.help, c.name)
				helpWritten[c.name] = true
			}
			writeSample(&sb, c.name, c.labels, c.Value())
			return true
		})

		helpWritten = make(map[string]bool)
		r.gauges.Range(func(_, value any) bool {
			g := value.(*Gauge)
			if !helpWritten[g.name] {
				fmt.Fprintf(&sb, "# HELP %s %s\n# TYPE %s gauge\n", g.name, g.help, g.name)
				helpWritten[g.name] = true
			}
			writeSample(&sb, g.name, g.labels, g.Value())
			return true
		})

		r.histograms.Range(func(_, value any) bool {
			h := value.(*Histogram)
			h.mu.Lock()
			defer h.mu.Unlock()

			fmt.Fprintf(&sb, "# HELP %s %s\n# TYPE %s histogram\n", h.name, h.help, h.name)
			for i, le := range h.bounds {
				bound := fmt.Sprintf("%g", le)
				if math.IsInf(le, 1) {
					bound = "+Inf"
				}
				if h.labels != "" {
					fmt.Fprintf(&sb, "%s_bucket{%s,le=%q} %d\n", h.name, h.labels, bound, h.bucketN[i])
				} else {
					fmt.Fprintf(&sb, "%s_bucket{le=%q} %d\n", h.name, bound, h.bucketN[i])
				}
			}
			if h.labels != "" {
				fmt.Fprintf(&sb, "%s_count{%s} %d\n", h.name, h.labels, h.count)
				fmt.Fprintf(&sb, "%s_sum{%s} %f\n", h.name, h.labels, h.sum)
			} else {
				fmt.Fprintf(&sb, "%s_count %d\n%s_sum %f\n", h.name, h.count, h.name, h.sum)
			}
			return true
		})

		fmt.Fprint(w, sb.String())
	}
}

func writeSample(sb *strings.Builder, name, labels string, v int64) {
	if labels != "" {
		fmt.Fprintf(sb, "%s{%s} %d\n", name, labels, v)
	} else {
		fmt.Fprintf(sb, "%s %d\n", name, v)
	}
}

// Metrics shared across the daemon.
var (
	MessagesTotal    = Collector.Counter("standin_messages_total", "Inbound messages processed", "")
	RepliesTotal     = Collector.Counter("standin_replies_total", "Replies sent", "")
	EmergenciesTotal = Collector.Counter("standin_emergencies_total", "Emergency flags raised", "")
	FailedSendsTotal = Collector.Counter("standin_failed_sends_total", "Sends rejected by the transport", "")

	ClassifyLatency = Collector.Histogram("standin_classify_latency_seconds", "Classification latency in seconds", "",
		[]float64{0.1, 0.5, 1, 2, 5, 10, 30})
	SendLatency = Collector.Histogram("standin_send_latency_seconds", "Send latency in seconds", "",
		[]float64{0.1, 0.5, 1, 2, 5, 10, 30})
)

// SkipCounter maps a skip reason to its counter.
func SkipCounter(reason string) *Counter {
	return Collector.Counter("standin_skips_total", "Messages skipped by reason",
		fmt.Sprintf("reason=%q", reason))
}

package prometheus

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"

	"github.com/goliatone/go-marketplace/core"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// DefaultLabels is the fixed label set every collector carries. Tags outside
// the set are dropped and missing tags are exported as empty values.
var DefaultLabels = []string{
	"operation",
	"status",
	"integration_id",
	"event_type",
	"auth_method",
	"outcome",
	"job_id",
	"attempt",
}

type Config struct {
	Namespace string
	Labels    []string
	Buckets   []float64
	// Registry defaults to a private registry so tests and embedded
	// services do not collide on the global one.
	Registry *prometheus.Registry
}

// Recorder implements core.MetricsRecorder on top of client_golang. Metric
// names such as "marketplace.call.total" become "marketplace_call_total".
type Recorder struct {
	namespace  string
	labels     []string
	buckets    []float64
	registry   *prometheus.Registry
	mu         sync.Mutex
	counters   map[string]*prometheus.CounterVec
	histograms map[string]*prometheus.HistogramVec
}

func NewRecorder(cfg Config) *Recorder {
	labels := cfg.Labels
	if len(labels) == 0 {
		labels = DefaultLabels
	}
	buckets := cfg.Buckets
	if len(buckets) == 0 {
		buckets = prometheus.ExponentialBuckets(1, 2, 14) // 1ms to ~8s
	}
	registry := cfg.Registry
	if registry == nil {
		registry = prometheus.NewRegistry()
	}
	return &Recorder{
		namespace:  sanitize(cfg.Namespace),
		labels:     append([]string(nil), labels...),
		buckets:    buckets,
		registry:   registry,
		counters:   map[string]*prometheus.CounterVec{},
		histograms: map[string]*prometheus.HistogramVec{},
	}
}

func (r *Recorder) Registry() *prometheus.Registry {
	if r == nil {
		return nil
	}
	return r.registry
}

// Handler exposes the recorder's registry in the text exposition format.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

func (r *Recorder) IncCounter(_ context.Context, name string, value int64, tags map[string]string) {
	if r == nil || value < 0 {
		return
	}
	vec := r.counter(name)
	if vec == nil {
		return
	}
	vec.WithLabelValues(r.labelValues(tags)...).Add(float64(value))
}

func (r *Recorder) ObserveHistogram(_ context.Context, name string, value float64, tags map[string]string) {
	if r == nil {
		return
	}
	vec := r.histogram(name)
	if vec == nil {
		return
	}
	vec.WithLabelValues(r.labelValues(tags)...).Observe(value)
}

func (r *Recorder) counter(name string) *prometheus.CounterVec {
	metric := sanitize(name)
	if metric == "" {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if vec, ok := r.counters[metric]; ok {
		return vec
	}
	vec := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: r.namespace,
		Name:      metric,
		Help:      "Marketplace counter " + name + ".",
	}, r.labels)
	if err := r.registry.Register(vec); err != nil {
		var existing prometheus.AlreadyRegisteredError
		if !errors.As(err, &existing) {
			return nil
		}
		shared, ok := existing.ExistingCollector.(*prometheus.CounterVec)
		if !ok {
			return nil
		}
		vec = shared
	}
	r.counters[metric] = vec
	return vec
}

func (r *Recorder) histogram(name string) *prometheus.HistogramVec {
	metric := sanitize(name)
	if metric == "" {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if vec, ok := r.histograms[metric]; ok {
		return vec
	}
	vec := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: r.namespace,
		Name:      metric,
		Help:      "Marketplace histogram " + name + ".",
		Buckets:   r.buckets,
	}, r.labels)
	if err := r.registry.Register(vec); err != nil {
		var existing prometheus.AlreadyRegisteredError
		if !errors.As(err, &existing) {
			return nil
		}
		shared, ok := existing.ExistingCollector.(*prometheus.HistogramVec)
		if !ok {
			return nil
		}
		vec = shared
	}
	r.histograms[metric] = vec
	return vec
}

func (r *Recorder) labelValues(tags map[string]string) []string {
	values := make([]string, len(r.labels))
	for i, label := range r.labels {
		values[i] = strings.TrimSpace(tags[label])
	}
	return values
}

// sanitize maps a dotted metric name onto the prometheus name charset. A
// leading digit gets an underscore prefix after trimming.
func sanitize(name string) string {
	name = strings.TrimSpace(strings.ToLower(name))
	var b strings.Builder
	b.Grow(len(name) + 1)
	for _, ch := range name {
		switch {
		case ch >= 'a' && ch <= 'z', ch >= '0' && ch <= '9', ch == '_':
			b.WriteRune(ch)
		default:
			b.WriteByte('_')
		}
	}
	out := strings.Trim(b.String(), "_")
	if out != "" && out[0] >= '0' && out[0] <= '9' {
		out = "_" + out
	}
	return out
}

var _ core.MetricsRecorder = (*Recorder)(nil)

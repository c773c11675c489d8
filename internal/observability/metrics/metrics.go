package metrics

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

const namespace = "invokechain"

// Registry owns the collectors of one process.
type Registry struct {
	reg         *prometheus.Registry
	httpCount   *prometheus.CounterVec
	httpErrors  *prometheus.CounterVec
	httpLatency *prometheus.HistogramVec
}

// NewRegistry creates a registry with the Go runtime, process and HTTP
// collectors registered.
func NewRegistry() *Registry {
	reg := prometheus.NewRegistry()
	r := &Registry{
		reg: reg,
		httpCount: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests processed.",
		}, []string{"handler", "method", "code"}),
		httpErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_request_errors_total",
			Help:      "Total number of HTTP requests that resulted in a server error.",
		}, []string{"handler", "method"}),
		httpLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"handler", "method"}),
	}
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		r.httpCount,
		r.httpErrors,
		r.httpLatency,
	)
	return r
}

// Registerer returns the registerer plugins add their collectors to.
func (r *Registry) Registerer() prometheus.Registerer { return r.reg }

// Gatherer returns the gatherer backing Handler.
func (r *Registry) Gatherer() prometheus.Gatherer { return r.reg }

// InvocationMetrics counts and times function invocations.
type InvocationMetrics struct {
	Calls    *prometheus.CounterVec
	Duration *prometheus.HistogramVec
}

// NewInvocationMetrics registers the invocation collectors on reg. Registering
// twice on the same registerer returns the collectors already present.
func NewInvocationMetrics(reg prometheus.Registerer) (*InvocationMetrics, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	calls := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "invocations_total",
		Help:      "Total number of function invocations by outcome.",
	}, []string{"function", "outcome"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "invocation_duration_seconds",
		Help:      "Function invocation duration in seconds.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"function"})

	var err error
	if calls, err = register(reg, calls); err != nil {
		return nil, err
	}
	if duration, err = register(reg, duration); err != nil {
		return nil, err
	}
	return &InvocationMetrics{Calls: calls, Duration: duration}, nil
}

func register[C prometheus.Collector](reg prometheus.Registerer, c C) (C, error) {
	if err := reg.Register(c); err != nil {
		var already prometheus.AlreadyRegisteredError
		if errors.As(err, &already) {
			if existing, ok := already.ExistingCollector.(C); ok {
				return existing, nil
			}
		}
		return c, err
	}
	return c, nil
}

package decorators

import (
	"context"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	xerrors "Invoke-Chain/internal/errors"
	"Invoke-Chain/internal/observability/metrics"
	"Invoke-Chain/pkg/invoke"
	"Invoke-Chain/pkg/plugin"
)

// Metrics counts invocations by outcome and observes their duration.
type Metrics struct {
	base
	reg       prometheus.Registerer
	collector *metrics.InvocationMetrics
}

// NewMetrics returns a metrics decorator registering on reg. A nil reg is
// taken from the metrics.registerer resource on Init, falling back to the
// default registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	return &Metrics{reg: reg}
}

func (d *Metrics) Info() plugin.Info {
	return info("metrics", "Exports Prometheus metrics per function.")
}

func (d *Metrics) Configure(cfg map[string]any) error {
	return plugin.DecodeConfig(cfg, &d.filter)
}

func (d *Metrics) Init(ctx *plugin.ExecutionContext) error {
	reg := d.reg
	if reg == nil {
		reg, _ = plugin.Resource[prometheus.Registerer](ctx, plugin.ResourceMetrics)
	}
	collector, err := metrics.NewInvocationMetrics(reg)
	if err != nil {
		return err
	}
	d.collector = collector
	return nil
}

func (d *Metrics) Supports(md *invoke.Metadata) bool {
	return d.collector != nil && d.filter.Supports(md)
}

func (d *Metrics) Decorate(next invoke.Action, md *invoke.Metadata) invoke.Action {
	return func(ctx context.Context, args []any) (any, error) {
		start := time.Now()
		out, err := next(ctx, args)
		outcome := "success"
		if err != nil {
			outcome = strings.ToLower(string(xerrors.FromInvocation(err).Code()))
		}
		d.collector.Calls.WithLabelValues(md.FunctionName(), outcome).Inc()
		d.collector.Duration.WithLabelValues(md.FunctionName()).Observe(time.Since(start).Seconds())
		return out, err
	}
}

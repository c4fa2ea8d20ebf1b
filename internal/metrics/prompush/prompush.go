// Package prompush pushes pipeline metrics to a Prometheus Pushgateway. The
// job label is the Pushgateway grouping key; the remaining labels become
// collector labels.
package prompush

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"

	"otapetl/internal/metrics"
)

// Backend is a Prometheus Pushgateway metrics backend.
type Backend struct {
	gatewayURL string
	jobName    string
	reg        *prometheus.Registry

	stepCounter    *prometheus.CounterVec // step, status
	stepDuration   *prometheus.SummaryVec // step, status
	rowCounter     *prometheus.CounterVec // kind
	routeErrors    *prometheus.CounterVec // sink, kind
	containerCount prometheus.Counter
}

// NewBackend registers the collectors on a private registry. jobName
// defaults to "otapetl".
func NewBackend(jobName, gatewayURL string) (*Backend, error) {
	if gatewayURL == "" {
		return nil, fmt.Errorf("prompush: gateway URL is required")
	}
	if jobName == "" {
		jobName = "otapetl"
	}

	b := &Backend{
		gatewayURL: gatewayURL,
		jobName:    jobName,
		reg:        prometheus.NewRegistry(),
		stepCounter: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: metrics.StepTotal,
			Help: "Pipeline stage executions by step and status.",
		}, []string{"step", "status"}),
		stepDuration: prometheus.NewSummaryVec(prometheus.SummaryOpts{
			Name:       metrics.StepDuration,
			Help:       "Pipeline stage duration in seconds by step and status.",
			Objectives: map[float64]float64{0.5: 0.05, 0.9: 0.01, 0.99: 0.001},
		}, []string{"step", "status"}),
		rowCounter: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: metrics.RowsTotal,
			Help: "Run counters by kind (payloads, payloads_skipped, fragments, rows, tables_routed).",
		}, []string{"kind"}),
		routeErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: metrics.RouteErrors,
			Help: "Failed table writes by sink and error kind.",
		}, []string{"sink", "kind"}),
		containerCount: prometheus.NewCounter(prometheus.CounterOpts{
			Name: metrics.ContainersTotal,
			Help: "Decoded OTAP containers.",
		}),
	}
	for name, c := range map[string]prometheus.Collector{
		"step counter":      b.stepCounter,
		"step summary":      b.stepDuration,
		"row counter":       b.rowCounter,
		"route errors":      b.routeErrors,
		"container counter": b.containerCount,
	} {
		if err := b.reg.Register(c); err != nil {
			return nil, fmt.Errorf("prompush: register %s: %w", name, err)
		}
	}
	return b, nil
}

func (b *Backend) IncCounter(name string, delta float64, labels metrics.Labels) {
	switch name {
	case metrics.StepTotal:
		if b.stepCounter != nil {
			b.stepCounter.WithLabelValues(labels["step"], labels["status"]).Add(delta)
		}
	case metrics.RowsTotal:
		if b.rowCounter != nil {
			b.rowCounter.WithLabelValues(labels["kind"]).Add(delta)
		}
	case metrics.RouteErrors:
		if b.routeErrors != nil {
			b.routeErrors.WithLabelValues(labels["sink"], labels["kind"]).Add(delta)
		}
	case metrics.ContainersTotal:
		if b.containerCount != nil {
			b.containerCount.Add(delta)
		}
	}
}

func (b *Backend) ObserveHistogram(name string, value float64, labels metrics.Labels) {
	if name != metrics.StepDuration || b.stepDuration == nil {
		return
	}
	b.stepDuration.WithLabelValues(labels["step"], labels["status"]).Observe(value)
}

// Flush pushes the registry to the Pushgateway, replacing the job's group.
func (b *Backend) Flush() error {
	return push.New(b.gatewayURL, b.jobName).
		Gatherer(b.reg).
		Push()
}

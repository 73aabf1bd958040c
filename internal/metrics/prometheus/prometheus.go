package prometheus

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/yanboyang713/Sandboxing-for-AI-Coding-Agents/internal/metrics"
	"github.com/yanboyang713/Sandboxing-for-AI-Coding-Agents/internal/model"
)

const prefix = "aisbx"

// Config is the configuration of the prometheus recorder.
type Config struct {
	// Registry is where the metrics are registered, a new one is created by default.
	Registry *prometheus.Registry
}

func (c *Config) defaults() error {
	if c.Registry == nil {
		c.Registry = prometheus.NewRegistry()
	}
	return nil
}

// Recorder is the prometheus implementation of metrics.Recorder.
type Recorder struct {
	registry *prometheus.Registry

	runs              *prometheus.CounterVec
	runDuration       *prometheus.HistogramVec
	policyDecisions   *prometheus.CounterVec
	limitFallbacks    *prometheus.CounterVec
	snapshotDuration  *prometheus.HistogramVec
	restoreDivergence prometheus.Counter
	divergedPaths     prometheus.Counter
}

var _ metrics.Recorder = &Recorder{}

// NewRecorder returns a new prometheus recorder with its metrics registered.
func NewRecorder(cfg Config) (*Recorder, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	r := &Recorder{
		registry: cfg.Registry,
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: prefix,
			Subsystem: "executor",
			Name:      "runs_total",
			Help:      "The total number of closed runs.",
		}, []string{"outcome", "closure"}),
		runDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: prefix,
			Subsystem: "executor",
			Name:      "run_duration_seconds",
			Help:      "The duration of the sandboxed process executions.",
			Buckets:   []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60, 300},
		}, []string{"outcome"}),
		policyDecisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: prefix,
			Subsystem: "policy",
			Name:      "decisions_total",
			Help:      "The total number of policy decisions.",
		}, []string{"verdict"}),
		limitFallbacks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: prefix,
			Subsystem: "limits",
			Name:      "fallbacks_total",
			Help:      "The total number of limits degraded to advisory at runtime.",
		}, []string{"kind"}),
		snapshotDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: prefix,
			Subsystem: "snapshot",
			Name:      "operation_duration_seconds",
			Help:      "The duration of the workspace snapshot operations.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"op", "success"}),
		restoreDivergence: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: prefix,
			Subsystem: "snapshot",
			Name:      "restore_divergences_total",
			Help:      "The total number of rollbacks that couldn't restore the workspace completely.",
		}),
		divergedPaths: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: prefix,
			Subsystem: "snapshot",
			Name:      "restore_diverged_paths_total",
			Help:      "The total number of paths that couldn't be restored.",
		}),
	}

	err := registerAll(cfg.Registry,
		r.runs,
		r.runDuration,
		r.policyDecisions,
		r.limitFallbacks,
		r.snapshotDuration,
		r.restoreDivergence,
		r.divergedPaths,
	)
	if err != nil {
		return nil, err
	}

	return r, nil
}

func registerAll(reg prometheus.Registerer, cs ...prometheus.Collector) error {
	for _, c := range cs {
		if err := reg.Register(c); err != nil {
			return fmt.Errorf("could not register metric: %w", err)
		}
	}
	return nil
}

// Gatherer returns the gatherer of the recorder metrics.
func (r *Recorder) Gatherer() prometheus.Gatherer { return r.registry }

// WriteTextfile writes the current metrics in the node exporter textfile format.
func (r *Recorder) WriteTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, r.registry); err != nil {
		return fmt.Errorf("could not write metrics textfile: %w", err)
	}
	return nil
}

func (r *Recorder) MeasureRun(ctx context.Context, outcome, closure model.RunState, duration time.Duration) {
	r.runs.WithLabelValues(string(outcome), string(closure)).Inc()
	if outcome != model.RunStatePolicyRejected {
		r.runDuration.WithLabelValues(string(outcome)).Observe(duration.Seconds())
	}
}

func (r *Recorder) MeasurePolicyDecision(ctx context.Context, verdict model.PolicyVerdict) {
	r.policyDecisions.WithLabelValues(string(verdict)).Inc()
}

func (r *Recorder) MeasureLimitFallback(ctx context.Context, kind model.LimitKind) {
	if kind == "" {
		kind = "unknown"
	}
	r.limitFallbacks.WithLabelValues(string(kind)).Inc()
}

func (r *Recorder) MeasureSnapshot(ctx context.Context, op string, success bool, duration time.Duration) {
	r.snapshotDuration.WithLabelValues(op, strconv.FormatBool(success)).Observe(duration.Seconds())
}

func (r *Recorder) MeasureRestoreDivergence(ctx context.Context, failedPaths int) {
	r.restoreDivergence.Inc()
	r.divergedPaths.Add(float64(failedPaths))
}

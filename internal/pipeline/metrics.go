package pipeline

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus collectors of the orchestrator. A nil
// *Metrics records nothing.
type Metrics struct {
	stageDuration *prometheus.HistogramVec
	stageFailures *prometheus.CounterVec
	stageRetries  *prometheus.CounterVec
	runs          *prometheus.CounterVec
	runsActive    prometheus.Gauge
}

// NewMetrics registers the orchestrator collectors with reg. Collectors that
// are already registered are reused, so two orchestrators may share one
// registry.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	stageDuration, err := register(reg, prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "gradeflow",
			Subsystem: "pipeline",
			Name:      "stage_duration_seconds",
			Help:      "Time spent in each pipeline stage.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 2.5, 5, 10, 30, 60},
		},
		[]string{"stage", "status"},
	))
	if err != nil {
		return nil, err
	}
	stageFailures, err := register(reg, prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "gradeflow",
			Subsystem: "pipeline",
			Name:      "stage_failures_total",
			Help:      "Stage executions that moved a script to FAILED.",
		},
		[]string{"stage", "kind"},
	))
	if err != nil {
		return nil, err
	}
	stageRetries, err := register(reg, prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "gradeflow",
			Subsystem: "pipeline",
			Name:      "stage_retries_total",
			Help:      "Stage attempts repeated after a transient failure.",
		},
		[]string{"stage"},
	))
	if err != nil {
		return nil, err
	}
	runs, err := register(reg, prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "gradeflow",
			Subsystem: "pipeline",
			Name:      "runs_total",
			Help:      "Finished pipeline runs by final state.",
		},
		[]string{"state"},
	))
	if err != nil {
		return nil, err
	}
	runsActive, err := register(reg, prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "gradeflow",
			Subsystem: "pipeline",
			Name:      "runs_active",
			Help:      "Pipeline runs currently executing.",
		},
	))
	if err != nil {
		return nil, err
	}

	return &Metrics{
		stageDuration: stageDuration,
		stageFailures: stageFailures,
		stageRetries:  stageRetries,
		runs:          runs,
		runsActive:    runsActive,
	}, nil
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

func (m *Metrics) observeStage(stage State, status string, d time.Duration) {
	if m == nil {
		return
	}
	m.stageDuration.WithLabelValues(string(stage), status).Observe(d.Seconds())
}

func (m *Metrics) incFailure(stage State, kind FailureKind) {
	if m == nil {
		return
	}
	m.stageFailures.WithLabelValues(string(stage), string(kind)).Inc()
}

func (m *Metrics) incRetry(stage State) {
	if m == nil {
		return
	}
	m.stageRetries.WithLabelValues(string(stage)).Inc()
}

func (m *Metrics) runStarted() {
	if m == nil {
		return
	}
	m.runsActive.Inc()
}

func (m *Metrics) runFinished(final State) {
	if m == nil {
		return
	}
	m.runsActive.Dec()
	m.runs.WithLabelValues(string(final)).Inc()
}

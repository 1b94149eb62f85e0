package expansion

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics exposes run progress to Prometheus.
type Metrics struct {
	YearsCompleted prometheus.Counter
	YearsSkipped   prometheus.Counter
	Objective      *prometheus.GaugeVec
	SolveSeconds   prometheus.Histogram
	Running        prometheus.Gauge
	Failures       prometheus.Counter
}

// NewMetrics registers the planner collectors on reg. A nil reg creates
// unregistered collectors.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		YearsCompleted: f.NewCounter(prometheus.CounterOpts{
			Name: "planner_years_completed_total",
			Help: "Simulated years solved and exported",
		}),
		YearsSkipped: f.NewCounter(prometheus.CounterOpts{
			Name: "planner_years_skipped_total",
			Help: "Simulated years skipped for lack of snapshots",
		}),
		Objective: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "planner_objective",
			Help: "Objective value of the last solve per year",
		}, []string{"year"}),
		SolveSeconds: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "planner_solve_seconds",
			Help:    "Wall time of one year's optimization",
			Buckets: prometheus.ExponentialBuckets(0.01, 4, 10),
		}),
		Running: f.NewGauge(prometheus.GaugeOpts{
			Name: "planner_run_in_progress",
			Help: "1 while a run is processing",
		}),
		Failures: f.NewCounter(prometheus.CounterOpts{
			Name: "planner_runs_failed_total",
			Help: "Runs that ended in the Failed state",
		}),
	}
}

func (m *Metrics) observeYear(year int, objective, seconds float64) {
	if m == nil {
		return
	}
	m.YearsCompleted.Inc()
	m.Objective.WithLabelValues(strconv.Itoa(year)).Set(objective)
	m.SolveSeconds.Observe(seconds)
}

func (m *Metrics) setRunning(on bool) {
	if m == nil {
		return
	}
	if on {
		m.Running.Set(1)
	} else {
		m.Running.Set(0)
	}
}

func (m *Metrics) yearSkipped() {
	if m != nil {
		m.YearsSkipped.Inc()
	}
}

func (m *Metrics) runFailed() {
	if m != nil {
		m.Failures.Inc()
	}
}

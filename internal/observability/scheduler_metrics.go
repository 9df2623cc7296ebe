package observability

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// SchedulerCollector exposes discrete-event scheduler metrics.
type SchedulerCollector struct {
	gatherer prometheus.Gatherer

	EventsExecuted prometheus.Counter
	EventsPending  prometheus.Gauge
	RunDuration    prometheus.Histogram
	SpeedRatio     prometheus.Gauge
}

// NewSchedulerCollector registers scheduler metrics against the provided registerer.
func NewSchedulerCollector(reg prometheus.Registerer) (*SchedulerCollector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	executed := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "scheduler_events_executed_total",
		Help: "Callbacks run by the event scheduler.",
	})
	executed, err := registerCounter(reg, executed, "scheduler_events_executed_total")
	if err != nil {
		return nil, err
	}

	pending := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "scheduler_events_pending",
		Help: "Events still queued when the last run returned.",
	})
	pending, err = registerGauge(reg, pending, "scheduler_events_pending")
	if err != nil {
		return nil, err
	}

	runHistogram := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "scheduler_run_duration_seconds",
		Help:    "Wall-clock duration of scheduler runs.",
		Buckets: []float64{0.001, 0.01, 0.1, 0.5, 1, 5, 10, 30, 60, 300},
	})
	runHistogram, err = registerHistogram(reg, runHistogram, "scheduler_run_duration_seconds")
	if err != nil {
		return nil, err
	}

	ratio := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "scheduler_speed_ratio",
		Help: "Simulated seconds advanced per wall-clock second in the last run.",
	})
	ratio, err = registerGauge(reg, ratio, "scheduler_speed_ratio")
	if err != nil {
		return nil, err
	}

	return &SchedulerCollector{
		gatherer:       gatherer,
		EventsExecuted: executed,
		EventsPending:  pending,
		RunDuration:    runHistogram,
		SpeedRatio:     ratio,
	}, nil
}

// Gatherer returns the Prometheus gatherer associated with the collector.
func (c *SchedulerCollector) Gatherer() prometheus.Gatherer {
	if c == nil {
		return nil
	}
	return c.gatherer
}

// ObserveRun records one completed run: how many events ran, how many are
// left, and how much simulated and wall time passed.
func (c *SchedulerCollector) ObserveRun(executed uint64, pending int, simulated, wall time.Duration) {
	if c == nil {
		return
	}
	c.EventsExecuted.Add(float64(executed))
	c.EventsPending.Set(float64(pending))
	c.RunDuration.Observe(wall.Seconds())
	if wall > 0 {
		c.SpeedRatio.Set(simulated.Seconds() / wall.Seconds())
	}
}

func registerHistogram(reg prometheus.Registerer, hist prometheus.Histogram, name string) (prometheus.Histogram, error) {
	if err := reg.Register(hist); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Histogram); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return hist, nil
}

func registerCounter(reg prometheus.Registerer, counter prometheus.Counter, name string) (prometheus.Counter, error) {
	if err := reg.Register(counter); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Counter); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return counter, nil
}

package observability

import (
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/signalsfoundry/isl-simulator/isl"
	"github.com/signalsfoundry/isl-simulator/linkbudget"
)

// LinkCollector bundles Prometheus metrics for ISL devices and link surveys.
// It satisfies isl.Recorder.
type LinkCollector struct {
	gatherer prometheus.Gatherer

	Transmissions    prometheus.Counter
	TransmittedBytes prometheus.Counter
	ReceivedFrames   prometheus.Counter
	Retries          *prometheus.CounterVec
	Drops            *prometheus.CounterVec
	QueueDepthGauge  *prometheus.GaugeVec
	LinkRate         prometheus.Histogram
	TxDuration       prometheus.Histogram

	SurveyLinks       *prometheus.GaugeVec
	ScenarioPlatforms prometheus.Gauge
	ScenarioDevices   prometheus.Gauge
}

var _ isl.Recorder = (*LinkCollector)(nil)

// NewLinkCollector registers ISL metrics against the provided registerer,
// defaulting to the global Prometheus registry when nil.
func NewLinkCollector(reg prometheus.Registerer) (*LinkCollector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	tx, err := registerCounter(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "isl_transmissions_total",
		Help: "Frames put on the air by ISL devices.",
	}), "isl_transmissions_total")
	if err != nil {
		return nil, err
	}
	txBytes, err := registerCounter(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "isl_transmitted_bytes_total",
		Help: "Bytes put on the air by ISL devices.",
	}), "isl_transmitted_bytes_total")
	if err != nil {
		return nil, err
	}
	rx, err := registerCounter(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "isl_received_packets_total",
		Help: "Frames received intact by ISL devices.",
	}), "isl_received_packets_total")
	if err != nil {
		return nil, err
	}
	retries, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "isl_retries_total",
		Help: "Deferred transmission attempts, labeled by reason.",
	}, []string{"reason"}), "isl_retries_total")
	if err != nil {
		return nil, err
	}
	drops, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "isl_drops_total",
		Help: "Packets discarded by ISL devices, labeled by reason.",
	}, []string{"reason"}), "isl_drops_total")
	if err != nil {
		return nil, err
	}
	queue, err := registerGaugeVec(reg, prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "isl_queue_depth",
		Help: "Packets waiting in each device's transmit queue.",
	}, []string{"device"}), "isl_queue_depth")
	if err != nil {
		return nil, err
	}
	rate, err := registerHistogram(reg, prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "isl_link_rate_bps",
		Help:    "Estimated rate of committed transmissions in bits per second.",
		Buckets: prometheus.ExponentialBuckets(1e4, 10, 7),
	}), "isl_link_rate_bps")
	if err != nil {
		return nil, err
	}
	dur, err := registerHistogram(reg, prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "isl_tx_duration_seconds",
		Help:    "Time to clock a frame onto the link, in simulated seconds.",
		Buckets: prometheus.ExponentialBuckets(1e-6, 10, 7),
	}), "isl_tx_duration_seconds")
	if err != nil {
		return nil, err
	}
	survey, err := registerGaugeVec(reg, prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "isl_survey_links",
		Help: "Device pairs in the latest link survey, labeled by quality.",
	}, []string{"quality"}), "isl_survey_links")
	if err != nil {
		return nil, err
	}
	platforms, err := registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "scenario_platforms",
		Help: "Satellites in the running scenario.",
	}), "scenario_platforms")
	if err != nil {
		return nil, err
	}
	devices, err := registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "scenario_devices",
		Help: "ISL devices attached to the channel.",
	}), "scenario_devices")
	if err != nil {
		return nil, err
	}

	return &LinkCollector{
		gatherer:          gatherer,
		Transmissions:     tx,
		TransmittedBytes:  txBytes,
		ReceivedFrames:    rx,
		Retries:           retries,
		Drops:             drops,
		QueueDepthGauge:   queue,
		LinkRate:          rate,
		TxDuration:        dur,
		SurveyLinks:       survey,
		ScenarioPlatforms: platforms,
		ScenarioDevices:   devices,
	}, nil
}

// Handler exposes a ready-to-use /metrics handler.
func (c *LinkCollector) Handler() http.Handler {
	gatherer := c.gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

func (c *LinkCollector) Transmitted(_ isl.Address, bytes int, rate linkbudget.DataRate, txTime time.Duration) {
	if c == nil {
		return
	}
	c.Transmissions.Inc()
	c.TransmittedBytes.Add(float64(bytes))
	c.LinkRate.Observe(float64(rate))
	c.TxDuration.Observe(txTime.Seconds())
}

func (c *LinkCollector) Retried(_ isl.Address, reason string) {
	if c == nil {
		return
	}
	c.Retries.WithLabelValues(reason).Inc()
}

func (c *LinkCollector) Dropped(_ isl.Address, reason string) {
	if c == nil {
		return
	}
	c.Drops.WithLabelValues(reason).Inc()
}

func (c *LinkCollector) Received(isl.Address, int) {
	if c == nil {
		return
	}
	c.ReceivedFrames.Inc()
}

func (c *LinkCollector) QueueDepth(dev isl.Address, n int) {
	if c == nil {
		return
	}
	c.QueueDepthGauge.WithLabelValues(dev.String()).Set(float64(n))
}

// SetSurveyCounts replaces the per-quality link counts of the last survey.
func (c *LinkCollector) SetSurveyCounts(counts map[string]int) {
	if c == nil {
		return
	}
	c.SurveyLinks.Reset()
	for quality, n := range counts {
		c.SurveyLinks.WithLabelValues(quality).Set(float64(n))
	}
}

// SetScenarioCounts records the size of the running scenario.
func (c *LinkCollector) SetScenarioCounts(platforms, devices int) {
	if c == nil {
		return
	}
	c.ScenarioPlatforms.Set(float64(platforms))
	c.ScenarioDevices.Set(float64(devices))
}

func registerCounterVec(reg prometheus.Registerer, vec *prometheus.CounterVec, name string) (*prometheus.CounterVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.CounterVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}

func registerGaugeVec(reg prometheus.Registerer, vec *prometheus.GaugeVec, name string) (*prometheus.GaugeVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.GaugeVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}

func registerGauge(reg prometheus.Registerer, gauge prometheus.Gauge, name string) (prometheus.Gauge, error) {
	if err := reg.Register(gauge); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Gauge); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return gauge, nil
}

// Package metrics exports whisper processor activity to Prometheus.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/kabili207/whisper-go/device/whisper"
)

const (
	namespace = "whisper"
	subsystem = "root"
)

const (
	labelKind   = "kind"
	labelReason = "reason"
	labelResult = "result"

	resultOK     = "ok"
	resultFailed = "failed"
)

// Compile-time interface check.
var _ whisper.MetricsReporter = (*Collector)(nil)

// Collector holds the Prometheus metrics of one whisper root.
type Collector struct {
	// Commands counts decoded write commands by kind
	// (spoof_dio, reserve_cell, noop).
	Commands *prometheus.CounterVec

	// Rejected counts refused requests by reason.
	Rejected *prometheus.CounterVec

	// Injections counts forged DIOs handed to the routing layer.
	Injections *prometheus.CounterVec

	// CellRequests counts 6P ADD requests handed to the link layer.
	CellRequests *prometheus.CounterVec

	// AcksMatched counts acknowledgments that satisfied an armed watch.
	AcksMatched prometheus.Counter

	// SnifferArmed is 1 while the ACK sniffer is armed.
	SnifferArmed prometheus.Gauge
}

// NewCollector creates a Collector with all metrics registered against reg.
// If reg is nil, prometheus.DefaultRegisterer is used.
func NewCollector(reg prometheus.Registerer) *Collector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	c := newMetrics()

	reg.MustRegister(
		c.Commands,
		c.Rejected,
		c.Injections,
		c.CellRequests,
		c.AcksMatched,
		c.SnifferArmed,
	)

	return c
}

func newMetrics() *Collector {
	return &Collector{
		Commands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "commands_total",
			Help:      "Total write commands decoded, by kind.",
		}, []string{labelKind}),

		Rejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "requests_rejected_total",
			Help:      "Total controller requests refused, by reason.",
		}, []string{labelReason}),

		Injections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "dio_injections_total",
			Help:      "Total forged DIOs handed to the routing layer, by result.",
		}, []string{labelResult}),

		CellRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "cell_requests_total",
			Help:      "Total 6P ADD requests handed to the link layer, by result.",
		}, []string{labelResult}),

		AcksMatched: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "acks_matched_total",
			Help:      "Total acknowledgments that matched the armed sniffer.",
		}),

		SnifferArmed: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "sniffer_armed",
			Help:      "1 while the ACK sniffer is waiting for the target's acknowledgment.",
		}),
	}
}

func result(ok bool) string {
	if ok {
		return resultOK
	}
	return resultFailed
}

// IncCommand increments the command counter for kind.
func (c *Collector) IncCommand(kind string) {
	c.Commands.WithLabelValues(kind).Inc()
}

// IncRejected increments the rejected-request counter for reason.
func (c *Collector) IncRejected(reason string) {
	c.Rejected.WithLabelValues(reason).Inc()
}

// IncInjection records the outcome of a forged DIO.
func (c *Collector) IncInjection(ok bool) {
	c.Injections.WithLabelValues(result(ok)).Inc()
}

// IncCellRequest records the outcome of a 6P request.
func (c *Collector) IncCellRequest(ok bool) {
	c.CellRequests.WithLabelValues(result(ok)).Inc()
}

// IncAckMatched increments the matched-ACK counter.
func (c *Collector) IncAckMatched() {
	c.AcksMatched.Inc()
}

// SetSnifferArmed sets the sniffer gauge.
func (c *Collector) SetSnifferArmed(armed bool) {
	if armed {
		c.SnifferArmed.Set(1)
		return
	}
	c.SnifferArmed.Set(0)
}

package main

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"

	"i4.energy/across/espmqtt/modem"
)

var errRateLimited = errors.New("publish rate exceeded")

// Metrics holds the daemon's Prometheus metrics. A nil *Metrics records
// nothing.
type Metrics struct {
	publishTotal *prometheus.CounterVec
}

// NewMetrics registers the publish counters and a collector reading stats
// on every scrape.
func NewMetrics(reg prometheus.Registerer, stats func() modem.Stats) (*Metrics, error) {
	m := &Metrics{
		publishTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "espmqtt",
			Name:      "publish_total",
			Help:      "Publish requests by source and outcome",
		}, []string{"source", "outcome"}),
	}
	if err := reg.Register(m.publishTotal); err != nil {
		return nil, err
	}
	if err := reg.Register(&statsCollector{stats: stats}); err != nil {
		return nil, err
	}
	return m, nil
}

// ObservePublish counts one publish attempt from source.
func (m *Metrics) ObservePublish(source string, err error) {
	if m == nil {
		return
	}
	m.publishTotal.WithLabelValues(source, outcome(err)).Inc()
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, errRateLimited):
		return "rate_limited"
	case errors.Is(err, modem.ErrRejected):
		return "rejected"
	case errors.Is(err, modem.ErrTimeout):
		return "timeout"
	default:
		return "error"
	}
}

var (
	droppedDesc = prometheus.NewDesc(
		"espmqtt_rx_dropped_bytes_total",
		"Received bytes lost to receive buffer overflow",
		nil, nil,
	)
	exchangesDesc = prometheus.NewDesc(
		"espmqtt_exchanges_total",
		"Command exchanges by verdict",
		[]string{"verdict"}, nil,
	)
)

// statsCollector exports modem.Stats at scrape time.
type statsCollector struct {
	stats func() modem.Stats
}

func (c *statsCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- droppedDesc
	ch <- exchangesDesc
}

func (c *statsCollector) Collect(ch chan<- prometheus.Metric) {
	s := c.stats()
	ch <- prometheus.MustNewConstMetric(droppedDesc, prometheus.CounterValue, float64(s.Dropped))
	ch <- prometheus.MustNewConstMetric(exchangesDesc, prometheus.CounterValue, float64(s.Success), modem.Success.String())
	ch <- prometheus.MustNewConstMetric(exchangesDesc, prometheus.CounterValue, float64(s.Failure), modem.Failure.String())
	ch <- prometheus.MustNewConstMetric(exchangesDesc, prometheus.CounterValue, float64(s.Timeout), modem.Timeout.String())
}

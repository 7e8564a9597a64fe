// Package metric provides Prometheus metrics for relaymesh.
package metric

import "github.com/prometheus/client_golang/prometheus"

// StatsSource reports the connection counts of a worker.
type StatsSource interface {
	Stats() (sockets, sessions int)
}

// StatsCollector samples a StatsSource once per scrape, so both gauges come
// from the same snapshot.
type StatsCollector struct {
	source   StatsSource
	sockets  *prometheus.Desc
	sessions *prometheus.Desc
}

// NewStatsCollector creates a collector over source.
func NewStatsCollector(source StatsSource) *StatsCollector {
	return &StatsCollector{
		source: source,
		sockets: prometheus.NewDesc(
			prometheus.BuildFQName(Namespace, "notify", "sockets"),
			"Live sockets on this worker.", nil, nil),
		sessions: prometheus.NewDesc(
			prometheus.BuildFQName(Namespace, "notify", "sessions"),
			"Authorized sessions on this worker.", nil, nil),
	}
}

// Describe implements prometheus.Collector.
func (c *StatsCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.sockets
	ch <- c.sessions
}

// Collect implements prometheus.Collector.
func (c *StatsCollector) Collect(ch chan<- prometheus.Metric) {
	sockets, sessions := c.source.Stats()
	ch <- prometheus.MustNewConstMetric(c.sockets, prometheus.GaugeValue, float64(sockets))
	ch <- prometheus.MustNewConstMetric(c.sessions, prometheus.GaugeValue, float64(sessions))
}

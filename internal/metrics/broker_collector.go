package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// BrokerStats is the snapshot of live broker state the collector reads.
type BrokerStats struct {
	LiveHandles  int
	Capacity     int
	PendingOpens int
}

// BrokerCollector exports gauge views of broker state without the broker
// having to push updates.
type BrokerCollector struct {
	stats func() BrokerStats

	liveHandles  *prometheus.Desc
	capacity     *prometheus.Desc
	pendingOpens *prometheus.Desc
}

// NewBrokerCollector creates a collector reading state through stats.
func NewBrokerCollector(stats func() BrokerStats) *BrokerCollector {
	return &BrokerCollector{
		stats: stats,

		liveHandles: prometheus.NewDesc(
			"indexd_broker_live_handles",
			"Number of currently open index handles",
			nil, nil,
		),
		capacity: prometheus.NewDesc(
			"indexd_broker_capacity",
			"Configured maximum number of open index handles",
			nil, nil,
		),
		pendingOpens: prometheus.NewDesc(
			"indexd_broker_pending_opens",
			"Number of paths with an open currently in flight",
			nil, nil,
		),
	}
}

func (bc *BrokerCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- bc.liveHandles
	ch <- bc.capacity
	ch <- bc.pendingOpens
}

func (bc *BrokerCollector) Collect(ch chan<- prometheus.Metric) {
	s := bc.stats()

	ch <- prometheus.MustNewConstMetric(
		bc.liveHandles,
		prometheus.GaugeValue,
		float64(s.LiveHandles),
	)
	ch <- prometheus.MustNewConstMetric(
		bc.capacity,
		prometheus.GaugeValue,
		float64(s.Capacity),
	)
	ch <- prometheus.MustNewConstMetric(
		bc.pendingOpens,
		prometheus.GaugeValue,
		float64(s.PendingOpens),
	)
}

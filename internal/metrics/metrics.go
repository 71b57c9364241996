// Package metrics instruments the counters spec §3 and §4.4 already define
// (packets/bytes sent/received/dropped, retries, limiter state) with
// Prometheus gauges and counters. Observability dashboards are a non-goal
// (spec §1); this package only exposes the raw series, it builds no
// dashboard.
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	Connections = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "zone_connections",
		Help: "Number of connection records currently live.",
	})

	PacketsSent = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "zone_packets_sent_total",
		Help: "Packets handed to a UDP socket, by priority class.",
	}, []string{"priority"})

	PacketsDropped = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "zone_packets_dropped_total",
		Help: "Packets dropped before send, by reason.",
	}, []string{"reason"})

	RetriesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "zone_retries_total",
		Help: "Reliable packet retransmission attempts across all connections.",
	})

	BandwidthLimitBytes = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "zone_bandwidth_limit_bytes",
		Help: "Current aggregate token-bucket limit in bytes/sec, summed across connections.",
	})

	DuplicateReliable = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "zone_duplicate_reliable_total",
		Help: "Reliable packets received with a sequence below the expected window.",
	})

	MalformedDatagrams = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "zone_malformed_datagrams_total",
		Help: "Datagrams dropped for protocol-level malformation, by cause.",
	}, []string{"cause"})
)

func init() {
	prometheus.MustRegister(
		Connections, PacketsSent, PacketsDropped, RetriesTotal,
		BandwidthLimitBytes, DuplicateReliable, MalformedDatagrams,
	)
}

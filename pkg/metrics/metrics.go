// Package metrics exposes Prometheus counters and gauges for the
// publisher, recovery server and recovery log, adapted from
// amirimatin-go-cluster's pkg/observability/metrics.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var once sync.Once

var (
	PacketsSent = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "moldudp64",
		Name:      "packets_sent_total",
		Help:      "Total downstream packets sent, by kind (data, heartbeat, eos).",
	}, []string{"stream", "kind"})

	MessagesSent = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "moldudp64",
		Name:      "messages_sent_total",
		Help:      "Total application messages transmitted.",
	}, []string{"stream"})

	NextSeq = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "moldudp64",
		Name:      "next_seq",
		Help:      "Next sequence number a stream's publisher will assign.",
	}, []string{"stream"})

	LogBytes = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "moldudp64",
		Subsystem: "reclog",
		Name:      "bytes",
		Help:      "Approximate size of a stream's recovery log file in bytes.",
	}, []string{"stream"})

	BufferOccupancy = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "moldudp64",
		Subsystem: "recvbuf",
		Name:      "occupancy",
		Help:      "Number of messages currently held in a stream's recovery buffer.",
	}, []string{"stream"})

	RecoveryRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "moldudp64",
		Subsystem: "recovery",
		Name:      "requests_total",
		Help:      "Total recovery requests handled, by outcome.",
	}, []string{"stream", "outcome"})

	RecoveryMessagesServed = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "moldudp64",
		Subsystem: "recovery",
		Name:      "messages_served_total",
		Help:      "Total messages returned in recovery replies, by source (buffer, log).",
	}, []string{"stream", "source"})

	SendErrorsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "moldudp64",
		Name:      "send_errors_total",
		Help:      "Total transient send failures, by socket kind (multicast, unicast).",
	}, []string{"stream", "socket"})
)

// Register registers all metrics into the default Prometheus registry.
// Idempotent: safe to call once per process regardless of stream count.
func Register() {
	once.Do(func() {
		prometheus.MustRegister(
			PacketsSent,
			MessagesSent,
			NextSeq,
			LogBytes,
			BufferOccupancy,
			RecoveryRequestsTotal,
			RecoveryMessagesServed,
			SendErrorsTotal,
		)
	})
}

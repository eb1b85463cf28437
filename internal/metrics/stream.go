package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	chunksAppended = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "workflow_stream_chunks_appended_total",
			Help: "Total stream chunks appended",
		},
	)

	chunksDelivered = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "workflow_stream_chunks_delivered_total",
			Help: "Total stream chunks delivered to readers",
		},
	)
)

// RecordChunkAppended increments the appended-chunk counter.
func RecordChunkAppended() {
	chunksAppended.Inc()
}

// RecordChunkDelivered increments the delivered-chunk counter.
func RecordChunkDelivered() {
	chunksDelivered.Inc()
}

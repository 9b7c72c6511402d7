package sink

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	bufferEntries = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "sinkforge_buffer_entries",
		Help: "Current number of entries in the request buffer",
	})

	bufferBytes = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "sinkforge_buffer_bytes",
		Help: "Current total byte size of entries in the request buffer",
	})

	inFlightRequests = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "sinkforge_in_flight_requests",
		Help: "Current number of outstanding submission calls",
	})

	aimdTargetEntries = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "sinkforge_batch_target_entries",
		Help: "Current AIMD target batch size in entries",
	})

	sendTimeSeconds = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "sinkforge_send_time_seconds",
		Help: "Wall time of the most recently completed submission call",
	})

	recordsOutTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "sinkforge_records_out_total",
		Help: "Total entries handed to the destination; retried entries are counted once per attempt",
	})

	bytesOutTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "sinkforge_bytes_out_total",
		Help: "Total entry bytes handed to the destination; retried entries are counted once per attempt",
	})

	recordsRequeuedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "sinkforge_records_requeued_total",
		Help: "Total entries reported failed by the destination and requeued for retry",
	})

	recordsRejectedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "sinkforge_records_rejected_total",
		Help: "Total entries rejected at ingestion for exceeding the max record size",
	})

	flushesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sinkforge_flushes_total",
		Help: "Total flush attempts by trigger",
	}, []string{"trigger"})

	aimdAdjustmentsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sinkforge_aimd_adjustments_total",
		Help: "Total AIMD target batch size adjustments by direction",
	}, []string{"direction"})
)

func init() {
	prometheus.MustRegister(bufferEntries)
	prometheus.MustRegister(bufferBytes)
	prometheus.MustRegister(inFlightRequests)
	prometheus.MustRegister(aimdTargetEntries)
	prometheus.MustRegister(sendTimeSeconds)
	prometheus.MustRegister(recordsOutTotal)
	prometheus.MustRegister(bytesOutTotal)
	prometheus.MustRegister(recordsRequeuedTotal)
	prometheus.MustRegister(recordsRejectedTotal)
	prometheus.MustRegister(flushesTotal)
	prometheus.MustRegister(aimdAdjustmentsTotal)

	bufferEntries.Set(0)
	bufferBytes.Set(0)
	inFlightRequests.Set(0)
	aimdTargetEntries.Set(0)
	sendTimeSeconds.Set(0)
	recordsOutTotal.Add(0)
	bytesOutTotal.Add(0)
	recordsRequeuedTotal.Add(0)
	recordsRejectedTotal.Add(0)
	flushesTotal.WithLabelValues("size").Add(0)
	flushesTotal.WithLabelValues("time").Add(0)
	flushesTotal.WithLabelValues("explicit").Add(0)
	flushesTotal.WithLabelValues("completion").Add(0)
	aimdAdjustmentsTotal.WithLabelValues("up").Add(0)
	aimdAdjustmentsTotal.WithLabelValues("down").Add(0)
}

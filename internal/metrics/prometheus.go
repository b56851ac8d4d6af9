package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/gateway-fm/stps/pkg/types"
)

// PrometheusMetrics holds the benchmark's Prometheus metrics.
type PrometheusMetrics struct {
	// Per-block throughput of the last measured block
	BlockTPS     prometheus.Gauge
	BlockTxCount prometheus.Gauge
	BlockTimeMs  prometheus.Gauge
	LastBlock    prometheus.Gauge

	// Submission
	TxSubmitted     prometheus.Counter
	ChunksCompleted prometheus.Counter
	ChunkAckLatency prometheus.Histogram
	SubmitProgress  prometheus.Gauge
	SubmitTPS       prometheus.Gauge

	RunStatus *prometheus.GaugeVec
}

// NewPrometheusMetrics creates and registers all metrics on reg.
func NewPrometheusMetrics(reg prometheus.Registerer) *PrometheusMetrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	factory := promauto.With(reg)

	return &PrometheusMetrics{
		BlockTPS: factory.NewGauge(prometheus.GaugeOpts{
			Name: "stps_tps",
			Help: "Transfers per second in the last measured block",
		}),
		BlockTxCount: factory.NewGauge(prometheus.GaugeOpts{
			Name: "stps_tx_count",
			Help: "Number of transfers in the last measured block",
		}),
		BlockTimeMs: factory.NewGauge(prometheus.GaugeOpts{
			Name: "stps_block_time",
			Help: "Block time delta in milliseconds of the last measured block",
		}),
		LastBlock: factory.NewGauge(prometheus.GaugeOpts{
			Name: "stps_block_number",
			Help: "Number of the last measured block",
		}),

		TxSubmitted: factory.NewCounter(prometheus.CounterOpts{
			Name: "stps_transactions_submitted_total",
			Help: "Transfers acknowledged by the node",
		}),
		ChunksCompleted: factory.NewCounter(prometheus.CounterOpts{
			Name: "stps_chunks_completed_total",
			Help: "Submission chunks fully acknowledged",
		}),
		ChunkAckLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "stps_chunk_ack_seconds",
			Help:    "Time from dispatching a chunk until its last acknowledgement",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		}),
		SubmitProgress: factory.NewGauge(prometheus.GaugeOpts{
			Name: "stps_submit_progress_percent",
			Help: "Share of the batch acknowledged so far",
		}),
		SubmitTPS: factory.NewGauge(prometheus.GaugeOpts{
			Name: "stps_submit_tps",
			Help: "Acknowledged submissions per second over the last sample interval",
		}),

		RunStatus: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "stps_run_status",
			Help: "Current run status (1 if active, 0 otherwise)",
		}, []string{"status"}),
	}
}

// ObserveBlock exports a throughput sample. Samples without a rate leave the
// tps gauge at zero.
func (m *PrometheusMetrics) ObserveBlock(s types.TPSSample) {
	m.LastBlock.Set(float64(s.Block))
	m.BlockTxCount.Set(float64(s.Transfers))
	m.BlockTimeMs.Set(float64(s.DurationMs))
	if s.HasTPS() {
		m.BlockTPS.Set(s.TPS)
	} else {
		m.BlockTPS.Set(0)
	}
}

// RecordChunk records a fully acknowledged chunk.
func (m *PrometheusMetrics) RecordChunk(size int, ackSeconds float64) {
	m.TxSubmitted.Add(float64(size))
	m.ChunksCompleted.Inc()
	m.ChunkAckLatency.Observe(ackSeconds)
}

// RecordProgress exports a progress sample.
func (m *PrometheusMetrics) RecordProgress(p types.ProgressSample) {
	m.SubmitProgress.Set(p.Percent)
	m.SubmitTPS.Set(p.TPS)
}

// SetRunStatus marks status as the only active run status.
func (m *PrometheusMetrics) SetRunStatus(status types.RunStatus) {
	for _, s := range types.RunStatuses {
		if s == status {
			m.RunStatus.WithLabelValues(string(s)).Set(1)
		} else {
			m.RunStatus.WithLabelValues(string(s)).Set(0)
		}
	}
}

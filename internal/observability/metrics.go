package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the simulator.
type Metrics struct {
	// --- Core Processing ---
	CoreEventsApplied  *prometheus.CounterVec
	CoreEventsRejected *prometheus.CounterVec
	CoreEventDuration  *prometheus.HistogramVec
	CoreJournals       *prometheus.CounterVec
	CoreSequence       prometheus.Gauge

	// --- Market ---
	SwapVolume      *prometheus.CounterVec
	SwapFees        *prometheus.CounterVec
	SwapPriceImpact *prometheus.HistogramVec
	PoolReserve     *prometheus.GaugeVec
	NPCTrades       *prometheus.CounterVec
	AuctionBlocks   prometheus.Counter
	AuctionClearing prometheus.Gauge

	// --- Channel & Backpressure ---
	ChannelSize         *prometheus.GaugeVec
	ChannelCapacity     *prometheus.GaugeVec
	ChannelUtilization  *prometheus.GaugeVec
	PublishDrops        prometheus.Counter
	PersistBackpressure prometheus.Counter

	// --- Idempotency ---
	IdempotencyDuplicates *prometheus.CounterVec
	DedupLRUSize          prometheus.Gauge

	// --- Persistence ---
	PersistEventsWritten   prometheus.Counter
	PersistJournalsWritten prometheus.Counter
	PersistBatchSize       prometheus.Histogram
	PersistBatchDur        prometheus.Histogram
	PersistErrors          *prometheus.CounterVec
	PersistRetry           prometheus.Counter
	PersistLastSequence    prometheus.Gauge

	// --- Snapshot ---
	SnapshotTaken     prometheus.Counter
	SnapshotSizeBytes prometheus.Gauge
	SnapshotLastSeq   prometheus.Gauge

	// --- Messaging ---
	IntentsReceived *prometheus.CounterVec
	EventsPublished *prometheus.CounterVec

	// --- Query API ---
	QueryRequests *prometheus.CounterVec
	QueryDuration *prometheus.HistogramVec
}

// NewMetrics creates all metrics and registers them with reg.
// A nil reg uses the default Prometheus registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	latencyBuckets := []float64{
		0.000001, 0.000005, 0.00001, 0.000025, 0.00005,
		0.0001, 0.00025, 0.0005, 0.001, 0.002, 0.005, 0.01,
	}

	return &Metrics{
		// Core Processing
		CoreEventsApplied: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "ammsim_core_events_applied_total",
			Help: "Intents successfully applied by core",
		}, []string{"event_type"}),

		CoreEventsRejected: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "ammsim_core_events_rejected_total",
			Help: "Intents rejected (dedup, validation)",
		}, []string{"event_type", "reason"}),

		CoreEventDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "ammsim_core_event_apply_duration_seconds",
			Help:    "Time to apply a single intent in core",
			Buckets: latencyBuckets,
		}, []string{"event_type"}),

		CoreJournals: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "ammsim_core_journals_generated_total",
			Help: "Journal entries generated",
		}, []string{"journal_type"}),

		CoreSequence: factory.NewGauge(prometheus.GaugeOpts{
			Name: "ammsim_core_sequence",
			Help: "Current global sequence number",
		}),

		// Market
		SwapVolume: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "ammsim_swap_volume_total",
			Help: "Input volume swapped, by pool and token",
		}, []string{"pool_id", "token"}),

		SwapFees: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "ammsim_swap_fees_total",
			Help: "Fees retained by pools, by pool and token",
		}, []string{"pool_id", "token"}),

		SwapPriceImpact: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "ammsim_swap_price_impact_percent",
			Help:    "Share of the output reserve consumed per swap",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 25, 50},
		}, []string{"pool_id"}),

		PoolReserve: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "ammsim_pool_reserve",
			Help: "Current pool reserves",
		}, []string{"pool_id", "token"}),

		NPCTrades: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "ammsim_npc_trades_total",
			Help: "Background NPC swaps executed",
		}, []string{"pool_id"}),

		AuctionBlocks: factory.NewCounter(prometheus.CounterOpts{
			Name: "ammsim_auction_blocks_executed_total",
			Help: "Auction blocks executed",
		}),

		AuctionClearing: factory.NewGauge(prometheus.GaugeOpts{
			Name: "ammsim_auction_last_clearing_price",
			Help: "Clearing price of the last executed auction block",
		}),

		// Channel & Backpressure
		ChannelSize: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "ammsim_channel_size",
			Help: "Current items in channel",
		}, []string{"name"}),

		ChannelCapacity: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "ammsim_channel_capacity",
			Help: "Channel capacity (constant)",
		}, []string{"name"}),

		ChannelUtilization: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "ammsim_channel_utilization",
			Help: "Channel size / capacity (0.0-1.0)",
		}, []string{"name"}),

		PublishDrops: factory.NewCounter(prometheus.CounterOpts{
			Name: "ammsim_publish_drops_total",
			Help: "Outputs dropped due to full publish channel",
		}),

		PersistBackpressure: factory.NewCounter(prometheus.CounterOpts{
			Name: "ammsim_persist_backpressure_total",
			Help: "Times core blocked on persist channel",
		}),

		// Idempotency
		IdempotencyDuplicates: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "ammsim_idempotency_duplicates_total",
			Help: "Duplicates caught (lru/postgres)",
		}, []string{"event_type", "tier"}),

		DedupLRUSize: factory.NewGauge(prometheus.GaugeOpts{
			Name: "ammsim_dedup_lru_size",
			Help: "Current LRU occupancy",
		}),

		// Persistence
		PersistEventsWritten: factory.NewCounter(prometheus.CounterOpts{
			Name: "ammsim_persist_events_written_total",
			Help: "Events written to Postgres",
		}),

		PersistJournalsWritten: factory.NewCounter(prometheus.CounterOpts{
			Name: "ammsim_persist_journals_written_total",
			Help: "Journal entries written to Postgres",
		}),

		PersistBatchSize: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "ammsim_persist_batch_size",
			Help:    "Events per batch",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500},
		}),

		PersistBatchDur: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "ammsim_persist_batch_duration_seconds",
			Help:    "Postgres batch write duration",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25},
		}),

		PersistErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "ammsim_persist_errors_total",
			Help: "Persistence errors",
		}, []string{"error_type"}),

		PersistRetry: factory.NewCounter(prometheus.CounterOpts{
			Name: "ammsim_persist_retry_total",
			Help: "Persistence retries",
		}),

		PersistLastSequence: factory.NewGauge(prometheus.GaugeOpts{
			Name: "ammsim_persist_last_sequence",
			Help: "Last persisted sequence",
		}),

		// Snapshot
		SnapshotTaken: factory.NewCounter(prometheus.CounterOpts{
			Name: "ammsim_snapshot_taken_total",
			Help: "Snapshots created",
		}),

		SnapshotSizeBytes: factory.NewGauge(prometheus.GaugeOpts{
			Name: "ammsim_snapshot_size_bytes",
			Help: "Last snapshot size",
		}),

		SnapshotLastSeq: factory.NewGauge(prometheus.GaugeOpts{
			Name: "ammsim_snapshot_last_sequence",
			Help: "Sequence of last snapshot",
		}),

		// Messaging
		IntentsReceived: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "ammsim_intents_received_total",
			Help: "Intents received, by source and outcome",
		}, []string{"source", "outcome"}),

		EventsPublished: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "ammsim_events_published_total",
			Help: "Engine events published to NATS",
		}, []string{"event_type"}),

		// Query API
		QueryRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "ammsim_query_requests_total",
			Help: "API requests",
		}, []string{"endpoint", "status"}),

		QueryDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "ammsim_query_duration_seconds",
			Help:    "API latency",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
		}, []string{"endpoint"}),
	}
}

// SetChannelMetrics updates channel utilization metrics.
func (m *Metrics) SetChannelMetrics(name string, size, capacity int) {
	m.ChannelSize.WithLabelValues(name).Set(float64(size))
	m.ChannelCapacity.WithLabelValues(name).Set(float64(capacity))
	if capacity > 0 {
		m.ChannelUtilization.WithLabelValues(name).Set(float64(size) / float64(capacity))
	}
}

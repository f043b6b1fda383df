package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for PredictLedger.
type Metrics struct {
	// --- Executor ---
	CommandsApplied  *prometheus.CounterVec
	CommandsRejected *prometheus.CounterVec
	CommandDuration  *prometheus.HistogramVec
	ReceiptSequence  prometheus.Gauge
	ClockAdjustments prometheus.Counter

	// --- Channel & Backpressure ---
	ChannelSize        *prometheus.GaugeVec
	ChannelCapacity    *prometheus.GaugeVec
	ChannelUtilization *prometheus.GaugeVec

	// --- Idempotency ---
	IdempotencyDuplicates *prometheus.CounterVec
	DedupLRUSize          prometheus.Gauge
	DedupTier2Errors      prometheus.Counter

	// --- Rounds ---
	RoundsStarted prometheus.Counter
	RoundsLocked  prometheus.Counter
	RoundsEnded   *prometheus.CounterVec
	CurrentEpoch  prometheus.Gauge
	OracleErrors  prometheus.Counter

	// --- Betting & Settlement ---
	BetsPlaced      *prometheus.CounterVec
	BetVolume       *prometheus.CounterVec
	RewardsPaid     prometheus.Counter
	RefundsPaid     prometheus.Counter
	TreasuryBalance prometheus.Gauge
	TreasuryClaimed prometheus.Counter

	// --- Outbound ---
	PublishedMessages *prometheus.CounterVec
	PublishErrors     *prometheus.CounterVec
	OutboxBacklog     prometheus.Gauge

	// --- Persistence ---
	PersistReceiptsWritten prometheus.Counter
	PersistBatchSize       prometheus.Histogram
	PersistBatchDur        prometheus.Histogram
	PersistErrors          *prometheus.CounterVec
	PersistRetry           prometheus.Counter
	PersistLastSequence    prometheus.Gauge

	// --- Scheduler ---
	SchedulerTicks *prometheus.CounterVec

	// --- Query API ---
	QueryRequests *prometheus.CounterVec
	QueryDuration *prometheus.HistogramVec
	QueryErrors   *prometheus.CounterVec
}

// NewMetrics creates and registers all Prometheus metrics on the default
// registry. It must be called once per process.
func NewMetrics() *Metrics {
	return NewMetricsWith(prometheus.DefaultRegisterer)
}

// NewMetricsWith registers on reg; tests pass a fresh prometheus.NewRegistry().
func NewMetricsWith(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)

	latencyBuckets := []float64{
		0.00001, 0.000025, 0.00005, 0.0001, 0.00025,
		0.0005, 0.001, 0.002, 0.005, 0.01, 0.05, 0.1,
	}

	return &Metrics{
		// Executor
		CommandsApplied: f.NewCounterVec(prometheus.CounterOpts{
			Name: "predict_commands_applied_total",
			Help: "Commands applied by the executor",
		}, []string{"kind"}),

		CommandsRejected: f.NewCounterVec(prometheus.CounterOpts{
			Name: "predict_commands_rejected_total",
			Help: "Commands rejected, by error class",
		}, []string{"kind", "class"}),

		CommandDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "predict_command_apply_duration_seconds",
			Help:    "Time to apply a single command, including the store commit",
			Buckets: latencyBuckets,
		}, []string{"kind"}),

		ReceiptSequence: f.NewGauge(prometheus.GaugeOpts{
			Name: "predict_receipt_sequence",
			Help: "Current receipt sequence number",
		}),

		ClockAdjustments: f.NewCounter(prometheus.CounterOpts{
			Name: "predict_clock_adjustments_total",
			Help: "Invocations whose clock reading was raised to stay monotonic",
		}),

		// Channel & Backpressure
		ChannelSize: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "predict_channel_size",
			Help: "Current items in channel",
		}, []string{"name"}),

		ChannelCapacity: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "predict_channel_capacity",
			Help: "Channel capacity (constant)",
		}, []string{"name"}),

		ChannelUtilization: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "predict_channel_utilization",
			Help: "Channel size / capacity (0.0-1.0)",
		}, []string{"name"}),

		// Idempotency
		IdempotencyDuplicates: f.NewCounterVec(prometheus.CounterOpts{
			Name: "predict_idempotency_duplicates_total",
			Help: "Duplicate commands caught (lru/postgres/ledger)",
		}, []string{"tier"}),

		DedupLRUSize: f.NewGauge(prometheus.GaugeOpts{
			Name: "predict_dedup_lru_size",
			Help: "Current LRU occupancy",
		}),

		DedupTier2Errors: f.NewCounter(prometheus.CounterOpts{
			Name: "predict_dedup_tier2_errors_total",
			Help: "Postgres dedup lookup failures",
		}),

		// Rounds
		RoundsStarted: f.NewCounter(prometheus.CounterOpts{
			Name: "predict_rounds_started_total",
			Help: "Rounds opened",
		}),

		RoundsLocked: f.NewCounter(prometheus.CounterOpts{
			Name: "predict_rounds_locked_total",
			Help: "Rounds locked",
		}),

		RoundsEnded: f.NewCounterVec(prometheus.CounterOpts{
			Name: "predict_rounds_ended_total",
			Help: "Rounds resolved, by outcome",
		}, []string{"outcome"}),

		CurrentEpoch: f.NewGauge(prometheus.GaugeOpts{
			Name: "predict_current_epoch",
			Help: "Current epoch",
		}),

		OracleErrors: f.NewCounter(prometheus.CounterOpts{
			Name: "predict_oracle_errors_total",
			Help: "Oracle reads that aborted an invocation",
		}),

		// Betting & Settlement
		BetsPlaced: f.NewCounterVec(prometheus.CounterOpts{
			Name: "predict_bets_placed_total",
			Help: "Bets accepted",
		}, []string{"side"}),

		BetVolume: f.NewCounterVec(prometheus.CounterOpts{
			Name: "predict_bet_volume_total",
			Help: "Staked amount in token base units",
		}, []string{"side"}),

		RewardsPaid: f.NewCounter(prometheus.CounterOpts{
			Name: "predict_rewards_paid_total",
			Help: "Reward amount emitted in claim transfers",
		}),

		RefundsPaid: f.NewCounter(prometheus.CounterOpts{
			Name: "predict_refunds_paid_total",
			Help: "Refund amount emitted in refund transfers",
		}),

		TreasuryBalance: f.NewGauge(prometheus.GaugeOpts{
			Name: "predict_treasury_balance",
			Help: "Accrued, unwithdrawn treasury fees",
		}),

		TreasuryClaimed: f.NewCounter(prometheus.CounterOpts{
			Name: "predict_treasury_claimed_total",
			Help: "Treasury amount withdrawn",
		}),

		// Outbound
		PublishedMessages: f.NewCounterVec(prometheus.CounterOpts{
			Name: "predict_published_messages_total",
			Help: "Messages published to the outbound stream",
		}, []string{"kind"}),

		PublishErrors: f.NewCounterVec(prometheus.CounterOpts{
			Name: "predict_publish_errors_total",
			Help: "Outbound publish failures",
		}, []string{"kind"}),

		OutboxBacklog: f.NewGauge(prometheus.GaugeOpts{
			Name: "predict_outbox_backlog",
			Help: "Messages seen in the outbox at the start of the last drain",
		}),

		// Persistence
		PersistReceiptsWritten: f.NewCounter(prometheus.CounterOpts{
			Name: "predict_persist_receipts_written_total",
			Help: "Receipts written to Postgres",
		}),

		PersistBatchSize: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "predict_persist_batch_size",
			Help:    "Receipts per batch",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500},
		}),

		PersistBatchDur: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "predict_persist_batch_duration_seconds",
			Help:    "Postgres batch write duration",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25},
		}),

		PersistErrors: f.NewCounterVec(prometheus.CounterOpts{
			Name: "predict_persist_errors_total",
			Help: "Persistence errors",
		}, []string{"error_type"}),

		PersistRetry: f.NewCounter(prometheus.CounterOpts{
			Name: "predict_persist_retry_total",
			Help: "Persistence retries",
		}),

		PersistLastSequence: f.NewGauge(prometheus.GaugeOpts{
			Name: "predict_persist_last_sequence",
			Help: "Last persisted receipt sequence",
		}),

		// Scheduler
		SchedulerTicks: f.NewCounterVec(prometheus.CounterOpts{
			Name: "predict_scheduler_ticks_total",
			Help: "Scheduled ticks, by result",
		}, []string{"result"}),

		// Query API
		QueryRequests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "predict_query_requests_total",
			Help: "Query requests",
		}, []string{"endpoint", "status"}),

		QueryDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "predict_query_duration_seconds",
			Help:    "Query latency",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
		}, []string{"endpoint"}),

		QueryErrors: f.NewCounterVec(prometheus.CounterOpts{
			Name: "predict_query_errors_total",
			Help: "Query errors",
		}, []string{"endpoint", "code"}),
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

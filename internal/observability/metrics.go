package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains all Prometheus metrics for the citation harvest service.
// Metrics are organized by subsystem: targets, pages, source, reconciliation,
// and planner. All counters and histograms are registered via promauto for
// automatic registration with the default Prometheus registry.
type Metrics struct {
	// TargetsScheduled counts harvest targets scheduled.
	TargetsScheduled prometheus.Counter

	// TargetsCompleted counts harvest targets that reached complete.
	TargetsCompleted prometheus.Counter

	// TargetsStalled counts stall transitions, labeled by gap_reason.
	TargetsStalled *prometheus.CounterVec

	// TargetsReset counts operator resets of stalled targets.
	TargetsReset prometheus.Counter

	// TargetDuration observes end-to-end harvest duration per target in seconds.
	TargetDuration prometheus.Histogram

	// EditionsFlagged counts editions flagged for manual review.
	EditionsFlagged prometheus.Counter

	// PagesFetched counts page fetches, labeled by outcome (success, transient, blocked, parse_error, terminal).
	PagesFetched *prometheus.CounterVec

	// PageFetchDuration observes page fetch duration in seconds.
	PageFetchDuration prometheus.Histogram

	// RecordsHarvested counts records committed after dedup.
	RecordsHarvested prometheus.Counter

	// BackoffSeconds counts total seconds spent in backoff sleeps.
	BackoffSeconds prometheus.Counter

	// BlockCooldowns counts process-wide block cooldowns opened.
	BlockCooldowns prometheus.Counter

	// SourceRateLimited counts rate-limited responses from the source.
	SourceRateLimited prometheus.Counter

	// DedupEncounters counts duplicate records folded into existing citations.
	DedupEncounters prometheus.Counter

	// DedupAmbiguous counts ambiguous matches flagged for review.
	DedupAmbiguous prometheus.Counter

	// RepairsRun counts reconciliation repair passes, labeled by kind (merge, orphan).
	RepairsRun *prometheus.CounterVec

	// CitationsRepointed counts citations re-pointed during repair.
	CitationsRepointed prometheus.Counter

	// PartitionsPlanned counts partition plans produced.
	PartitionsPlanned prometheus.Counter

	// ResidualGap tracks the most recently reported residual gap per edition.
	ResidualGap *prometheus.GaugeVec

	// AuthorshipVerdicts counts authorship-filter outcomes, labeled by verdict.
	AuthorshipVerdicts *prometheus.CounterVec
}

// NewMetrics creates a new Metrics instance with all metrics initialized.
// The namespace is used as a prefix for all metric names.
func NewMetrics(namespace string) *Metrics {
	return &Metrics{
		TargetsScheduled: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "targets_scheduled_total",
			Help:      "Total number of harvest targets scheduled",
		}),
		TargetsCompleted: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "targets_completed_total",
			Help:      "Total number of harvest targets completed",
		}),
		TargetsStalled: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "targets_stalled_total",
			Help:      "Total number of harvest targets stalled, by gap reason",
		}, []string{"gap_reason"}),
		TargetsReset: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "targets_reset_total",
			Help:      "Total number of stalled targets reset by an operator",
		}),
		TargetDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "target_duration_seconds",
			Help:      "End-to-end harvest duration per target in seconds",
			Buckets:   []float64{1, 5, 15, 60, 300, 900, 1800, 3600, 7200},
		}),
		EditionsFlagged: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "editions_flagged_total",
			Help:      "Total number of editions flagged for manual review",
		}),
		PagesFetched: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pages_fetched_total",
			Help:      "Total page fetches, by outcome",
		}, []string{"outcome"}),
		PageFetchDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "page_fetch_duration_seconds",
			Help:      "Page fetch duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}),
		RecordsHarvested: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_harvested_total",
			Help:      "Total records committed after deduplication",
		}),
		BackoffSeconds: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "backoff_seconds_total",
			Help:      "Total seconds spent sleeping in backoff",
		}),
		BlockCooldowns: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "block_cooldowns_total",
			Help:      "Total process-wide block cooldowns opened",
		}),
		SourceRateLimited: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "source_rate_limited_total",
			Help:      "Total rate-limited responses from the source",
		}),
		DedupEncounters: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dedup_encounters_total",
			Help:      "Total duplicate records folded into existing citations",
		}),
		DedupAmbiguous: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dedup_ambiguous_total",
			Help:      "Total ambiguous duplicate matches flagged for review",
		}),
		RepairsRun: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "repairs_run_total",
			Help:      "Total reconciliation repair passes, by kind",
		}, []string{"kind"}),
		CitationsRepointed: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "citations_repointed_total",
			Help:      "Total citations re-pointed during repair",
		}),
		PartitionsPlanned: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "partitions_planned_total",
			Help:      "Total partition plans produced",
		}),
		ResidualGap: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "residual_gap",
			Help:      "Most recently reported residual gap, by edition",
		}, []string{"edition_id"}),
		AuthorshipVerdicts: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "authorship_verdicts_total",
			Help:      "Total authorship-filter outcomes, by verdict",
		}, []string{"verdict"}),
	}
}

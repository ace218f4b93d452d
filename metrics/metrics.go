package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"dealerscan/models"
)

var (
	cyclesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dealerscan_cycles_total",
		Help: "Scan cycles by outcome",
	}, []string{"outcome"})

	cycleDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "dealerscan_cycle_duration_seconds",
		Help:    "Duration of completed scan cycles",
		Buckets: prometheus.ExponentialBuckets(1, 2, 10),
	})

	reconcileOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dealerscan_reconcile_listings_total",
		Help: "Reconciled listings by bucket",
	}, []string{"bucket"})

	malformedRecords = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dealerscan_malformed_records_total",
		Help: "Raw records rejected by the normalizer",
	})

	publishAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dealerscan_publish_attempts_total",
		Help: "Marketplace publish attempts by result",
	}, []string{"result"})

	sheetSyncs = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dealerscan_sheet_syncs_total",
		Help: "Spreadsheet syncs by result",
	}, []string{"result"})

	mediaMirrored = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dealerscan_media_mirrored_total",
		Help: "Listing images mirrored to object storage by result",
	}, []string{"result"})

	listingsGauge = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "dealerscan_listings",
		Help: "Stored listings by status",
	}, []string{"status"})
)

const (
	OutcomeCompleted = "completed"
	OutcomeFailed    = "failed"
	OutcomeRejected  = "rejected"
)

func ObserveCycle(outcome string, d time.Duration) {
	cyclesTotal.WithLabelValues(outcome).Inc()
	if outcome == OutcomeCompleted {
		cycleDuration.Observe(d.Seconds())
	}
}

// ObserveResult records the reconcile and publish counts of one tally.
func ObserveResult(res *models.ScrapeResult) {
	if res == nil {
		return
	}
	reconcileOutcomes.WithLabelValues("new").Add(float64(res.New))
	reconcileOutcomes.WithLabelValues("updated").Add(float64(res.Updated))
	reconcileOutcomes.WithLabelValues("sold").Add(float64(res.Sold))
	reconcileOutcomes.WithLabelValues("unchanged").Add(float64(res.Unchanged))
	publishAttempts.WithLabelValues("published").Add(float64(res.Published))
	publishAttempts.WithLabelValues("failed").Add(float64(res.PublishFailed))
}

func AddMalformed(n int) {
	malformedRecords.Add(float64(n))
}

func ObservePublish(err error) {
	if err != nil {
		publishAttempts.WithLabelValues("failed").Inc()
		return
	}
	publishAttempts.WithLabelValues("published").Inc()
}

func ObserveSheetSync(err error) {
	if err != nil {
		sheetSyncs.WithLabelValues("failed").Inc()
		return
	}
	sheetSyncs.WithLabelValues("ok").Inc()
}

func ObserveMedia(err error) {
	if err != nil {
		mediaMirrored.WithLabelValues("failed").Inc()
		return
	}
	mediaMirrored.WithLabelValues("uploaded").Inc()
}

// SetListingCounts replaces the per-status listing gauge.
func SetListingCounts(counts map[models.ListingStatus]int) {
	for _, s := range []models.ListingStatus{models.StatusNew, models.StatusActive, models.StatusSold} {
		listingsGauge.WithLabelValues(string(s)).Set(float64(counts[s]))
	}
}

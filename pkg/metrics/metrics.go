package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "promohive"

var (
	// Registry holds the application collectors exposed on /metrics.
	Registry = prometheus.NewRegistry()

	ledgerEntries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "entries_total",
			Help:      "Ledger entries written, by kind and status.",
		},
		[]string{"kind", "status"},
	)

	ledgerAmount = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "settled_cents_total",
			Help:      "Cents moved by completed ledger entries, by kind.",
		},
		[]string{"kind"},
	)

	ledgerRejections = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "rejections_total",
			Help:      "Balance mutations refused, by reason.",
		},
		[]string{"reason"},
	)

	referralPayouts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "referral",
			Name:      "payouts_total",
			Help:      "Referral cascade outcomes.",
		},
		[]string{"outcome"},
	)

	reviewOutcomes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "assignment",
			Name:      "reviews_total",
			Help:      "Proof review outcomes.",
		},
		[]string{"outcome"},
	)

	withdrawalOutcomes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "withdrawal",
			Name:      "decisions_total",
			Help:      "Withdrawal workflow transitions.",
		},
		[]string{"outcome"},
	)

	offerwallCompletions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "offerwall",
			Name:      "completions_total",
			Help:      "Offerwall postbacks, by outcome.",
		},
		[]string{"outcome"},
	)

	notificationsSent = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "notification",
			Name:      "delivered_total",
			Help:      "Settlement notifications, by channel and outcome.",
		},
		[]string{"channel", "outcome"},
	)

	rateLimited = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "rate_limited_total",
			Help:      "Requests rejected by the rate limiter.",
		},
	)

	reconcileMismatches = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "reconcile",
			Name:      "mismatches_total",
			Help:      "Accounts whose balance disagrees with their completed ledger entries.",
		},
	)

	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10),
		},
		[]string{"method", "route", "status"},
	)
)

func init() {
	Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		ledgerEntries,
		ledgerAmount,
		ledgerRejections,
		referralPayouts,
		reviewOutcomes,
		withdrawalOutcomes,
		offerwallCompletions,
		notificationsSent,
		rateLimited,
		reconcileMismatches,
		httpDuration,
	)
}

func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// Middleware records request latency keyed by the matched gin route.
func Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		httpDuration.WithLabelValues(c.Request.Method, route, strconv.Itoa(c.Writer.Status())).
			Observe(time.Since(start).Seconds())
	}
}

func RecordEntry(kind, status string, cents int64) {
	ledgerEntries.WithLabelValues(kind, status).Inc()
	if status == "completed" && cents > 0 {
		ledgerAmount.WithLabelValues(kind).Add(float64(cents))
	}
}

func RecordRejection(reason string) {
	ledgerRejections.WithLabelValues(reason).Inc()
}

func RecordReferral(outcome string) {
	referralPayouts.WithLabelValues(outcome).Inc()
}

func RecordReview(outcome string) {
	reviewOutcomes.WithLabelValues(outcome).Inc()
}

func RecordWithdrawal(outcome string) {
	withdrawalOutcomes.WithLabelValues(outcome).Inc()
}

func RecordOfferwall(outcome string) {
	offerwallCompletions.WithLabelValues(outcome).Inc()
}

func RecordNotification(channel, outcome string) {
	notificationsSent.WithLabelValues(channel, outcome).Inc()
}

func RecordRateLimited() {
	rateLimited.Inc()
}

func RecordReconcileMismatch() {
	reconcileMismatches.Inc()
}

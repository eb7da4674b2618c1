// Package metrics exposes Prometheus instruments for the gamification engine.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ─── Checks ─────────────────────────────────────────────────────────────────

// Checks counts check and uncheck operations by outcome.
var Checks = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "mandaact",
	Name:      "checks_total",
	Help:      "Check and uncheck operations by operation and outcome.",
}, []string{"op", "outcome"})

// CheckLatency tracks the duration of the check transaction in seconds.
var CheckLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Namespace: "mandaact",
	Name:      "check_latency_seconds",
	Help:      "Check and uncheck transaction duration in seconds.",
	Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
}, []string{"op"})

// ─── XP ─────────────────────────────────────────────────────────────────────

// XPAwarded counts XP granted by source (check, badge, perfect_day).
var XPAwarded = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "mandaact",
	Name:      "xp_awarded_total",
	Help:      "Total XP awarded by source.",
}, []string{"source"})

// XPRefunded counts XP deducted by uncheck.
var XPRefunded = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "mandaact",
	Name:      "xp_refunded_total",
	Help:      "Total XP refunded by uncheck.",
})

// LevelUps counts ledger writes that raised a user's level.
var LevelUps = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "mandaact",
	Name:      "level_ups_total",
	Help:      "Total level increases.",
})

// ─── Bonuses & Badges ───────────────────────────────────────────────────────

// BonusActivations counts stored multiplier grants by bonus type.
var BonusActivations = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "mandaact",
	Name:      "bonus_activations_total",
	Help:      "Total bonus multiplier activations by type.",
}, []string{"type"})

// BadgeUnlocks counts achievement unlocks by achievement key.
var BadgeUnlocks = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "mandaact",
	Name:      "badge_unlocks_total",
	Help:      "Total achievement unlocks by key.",
}, []string{"achievement"})

// BadgeFailures counts achievements skipped during evaluation.
var BadgeFailures = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "mandaact",
	Name:      "badge_unlock_failures_total",
	Help:      "Achievements skipped because unlock or award failed.",
})

// BadgeEvaluationLatency tracks a full checkAndUnlock pass in seconds.
var BadgeEvaluationLatency = promauto.NewHistogram(prometheus.HistogramOpts{
	Namespace: "mandaact",
	Name:      "badge_evaluation_seconds",
	Help:      "Achievement evaluation duration in seconds.",
	Buckets:   prometheus.DefBuckets,
})

// ─── HTTP ───────────────────────────────────────────────────────────────────

// HTTPRequests counts requests by method, route template and status.
var HTTPRequests = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "mandaact",
	Name:      "http_requests_total",
	Help:      "HTTP requests by method, route and status.",
}, []string{"method", "route", "status"})

// Package metrics defines and registers the Prometheus metrics of the chat
// client. It is the single source of truth for metric names, labels, and
// help strings.
//
// Metrics register with the default registry through promauto on import.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "chat"

// ── Change feed metrics ───────────────────────────────────────────────────────

// FeedEventsTotal counts change events received by open views.
// Labels:
//   - relation: "profiles", "chat_rooms" or "messages"
//   - type: "INSERT", "UPDATE" or "DELETE"
var FeedEventsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "feed_events_total",
		Help:      "Total number of change-feed events received, by relation and type.",
	},
	[]string{"relation", "type"},
)

// MergeDuplicatesTotal counts merges that found the record already present.
var MergeDuplicatesTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "merge_duplicates_total",
		Help:      "Total number of change events whose record was already in the view.",
	},
	[]string{"relation"},
)

// ReconcileDroppedTotal counts events discarded during reconciliation.
// Label:
//   - reason: e.g. "stale", "refetch_failed", "foreign_room"
var ReconcileDroppedTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "reconcile_dropped_total",
		Help:      "Total number of change events dropped during reconciliation.",
	},
	[]string{"relation", "reason"},
)

// SubscriptionsActive tracks open change-feed subscriptions.
var SubscriptionsActive = promauto.NewGaugeVec(
	prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "subscriptions_active",
		Help:      "Current number of open change-feed subscriptions.",
	},
	[]string{"relation"},
)

// ReconcileQueueDepth tracks tasks waiting in each dispatcher worker channel.
// Label:
//   - worker_id: numeric worker index (e.g. "0", "1", …)
var ReconcileQueueDepth = promauto.NewGaugeVec(
	prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "reconcile_queue_depth",
		Help:      "Current number of reconcile tasks pending in each dispatcher worker channel.",
	},
	[]string{"worker_id"},
)

// RefetchDuration measures how long a record refetch takes.
var RefetchDuration = promauto.NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "refetch_duration_seconds",
		Help:      "Duration of record refetches triggered by change events.",
		Buckets:   prometheus.DefBuckets,
	},
	[]string{"relation"},
)

// ── Recorder ──────────────────────────────────────────────────────────────────

// Recorder reports sync observations to the vectors above. It satisfies
// ports.SyncMetrics.
type Recorder struct{}

func (Recorder) EventReceived(relation, eventType string) {
	FeedEventsTotal.WithLabelValues(relation, eventType).Inc()
}

func (Recorder) DuplicateDiscarded(relation string) {
	MergeDuplicatesTotal.WithLabelValues(relation).Inc()
}

func (Recorder) ReconcileDropped(relation, reason string) {
	ReconcileDroppedTotal.WithLabelValues(relation, reason).Inc()
}

func (Recorder) SubscriptionOpened(relation string) {
	SubscriptionsActive.WithLabelValues(relation).Inc()
}

func (Recorder) SubscriptionClosed(relation string) {
	SubscriptionsActive.WithLabelValues(relation).Dec()
}

func (Recorder) RefetchObserved(relation string, d time.Duration) {
	RefetchDuration.WithLabelValues(relation).Observe(d.Seconds())
}

// QueueDepth returns the depth gauge of one dispatcher worker.
func QueueDepth(worker int) prometheus.Gauge {
	return ReconcileQueueDepth.WithLabelValues(strconv.Itoa(worker))
}

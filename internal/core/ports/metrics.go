package ports

import "time"

// SyncMetrics observes change-feed reconciliation.
type SyncMetrics interface {
	EventReceived(relation, eventType string)
	DuplicateDiscarded(relation string)
	ReconcileDropped(relation, reason string)
	SubscriptionOpened(relation string)
	SubscriptionClosed(relation string)
	RefetchObserved(relation string, d time.Duration)
}

// NopMetrics discards every observation.
type NopMetrics struct{}

func (NopMetrics) EventReceived(string, string)          {}
func (NopMetrics) DuplicateDiscarded(string)             {}
func (NopMetrics) ReconcileDropped(string, string)       {}
func (NopMetrics) SubscriptionOpened(string)             {}
func (NopMetrics) SubscriptionClosed(string)             {}
func (NopMetrics) RefetchObserved(string, time.Duration) {}

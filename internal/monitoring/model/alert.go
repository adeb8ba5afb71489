package model

import "time"

// Severity is the ordinal urgency of an alert: low < medium < high < critical.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// NeedsNotification reports whether an alert of this severity triggers
// channel fanout to the owning subscriber.
func (s Severity) NeedsNotification() bool {
	return s == SeverityHigh || s == SeverityCritical
}

// Alert types raised by the core itself. Callers may use any category string.
const (
	AlertHealthCheckFailed = "health_check_failed"
	AlertLowUptime         = "low_uptime"
	AlertSlowResponse      = "slow_response"
)

// Alert is one alerting event for a node. Alerts are never deduplicated:
// every triggering condition produces a new row, and repeated failures of
// the same check produce repeated alerts. Suppression, if wanted, belongs
// upstream.
type Alert struct {
	ID           string     `json:"id"`
	NodeID       string     `json:"nodeId"`
	SubscriberID string     `json:"subscriberId"`
	Type         string     `json:"type"`
	Severity     Severity   `json:"severity"`
	Message      string     `json:"message"`
	CreatedAt    time.Time  `json:"createdAt"`
	Resolved     bool       `json:"resolved"`
	ResolvedAt   *time.Time `json:"resolvedAt,omitempty"`
	ResolvedBy   string     `json:"resolvedBy,omitempty"`
}

// AlertDraft is the caller-supplied part of a new alert; node ownership,
// id and timestamps are filled in by the lifecycle manager and store.
type AlertDraft struct {
	Type     string   `json:"type"`
	Severity Severity `json:"severity"`
	Message  string   `json:"message"`
}

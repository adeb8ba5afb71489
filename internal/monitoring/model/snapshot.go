package model

import "time"

// SystemStatus is the overall classification of the fleet.
type SystemStatus string

const (
	SystemHealthy  SystemStatus = "healthy"
	SystemWarning  SystemStatus = "warning"
	SystemCritical SystemStatus = "critical"
)

// SystemHealthSnapshot is a point-in-time computed view of the whole fleet.
// It is always replaced wholesale, never partially updated.
type SystemHealthSnapshot struct {
	TotalNodes       int          `json:"totalNodes"`
	ActiveNodes      int          `json:"activeNodes"`
	ErrorNodes       int          `json:"errorNodes"`
	AvgUptime        float64      `json:"avgUptime"`
	UnresolvedAlerts int          `json:"unresolvedAlerts"`
	Status           SystemStatus `json:"status"`
	ComputedAt       time.Time    `json:"computedAt"`
}

package health

import (
	"time"

	"github.com/chainops/watchtower/internal/monitoring/model"
)

// Classification thresholds for the fleet-wide status. Evaluated in order;
// first match wins.
const (
	criticalUnresolvedAlerts = 10
	warningUnresolvedAlerts  = 5
	warningAvgUptime         = 95.0
)

// ComputeSystemHealth derives the fleet status from store-level counts.
// Pure and deterministic; nodes without samples are expected to have been
// averaged in as uptime 0 by the caller, not excluded.
func ComputeSystemHealth(total, active, errored int, avgUptime float64, unresolvedAlerts int) model.SystemHealthSnapshot {
	snap := model.SystemHealthSnapshot{
		TotalNodes:       total,
		ActiveNodes:      active,
		ErrorNodes:       errored,
		AvgUptime:        avgUptime,
		UnresolvedAlerts: unresolvedAlerts,
		ComputedAt:       time.Now().UTC(),
	}
	switch {
	case errored > 0 || unresolvedAlerts > criticalUnresolvedAlerts:
		snap.Status = model.SystemCritical
	case avgUptime < warningAvgUptime || unresolvedAlerts > warningUnresolvedAlerts:
		snap.Status = model.SystemWarning
	default:
		snap.Status = model.SystemHealthy
	}
	return snap
}

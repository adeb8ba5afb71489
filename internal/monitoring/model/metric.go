package model

import "time"

// MetricSample is one point of the per-node time series, appended once per
// completed check cycle and pruned by the retention sweep.
type MetricSample struct {
	NodeID           string    `json:"nodeId"`
	Uptime           float64   `json:"uptime"`
	ResponseTimeMs   float64   `json:"responseTimeMs"`
	CPUUsage         float64   `json:"cpuUsage"`
	MemoryUsage      float64   `json:"memoryUsage"`
	DiskUsage        float64   `json:"diskUsage"`
	NetworkLatencyMs float64   `json:"networkLatencyMs"`
	PeerCount        int       `json:"peerCount"`
	BlockHeight      int64     `json:"blockHeight"`
	Synced           bool      `json:"synced"`
	RecordedAt       time.Time `json:"recordedAt"`
}

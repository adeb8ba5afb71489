package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/chainops/watchtower/internal/monitoring/model"
)

// MetricRepo is the append-only metric time series store.
type MetricRepo struct {
	DB *Database
}

func NewMetricRepo(db *Database) *MetricRepo { return &MetricRepo{DB: db} }

func (r *MetricRepo) InsertSample(ctx context.Context, m *model.MetricSample) error {
	const q = `INSERT INTO metric_samples
(node_id, uptime, response_time_ms, cpu_usage, memory_usage, disk_usage, network_latency_ms, peer_count, block_height, synced, recorded_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`
	_, err := r.DB.ExecContext(ctx, q, m.NodeID, m.Uptime, m.ResponseTimeMs, m.CPUUsage, m.MemoryUsage,
		m.DiskUsage, m.NetworkLatencyMs, m.PeerCount, m.BlockHeight, m.Synced, m.RecordedAt)
	if err != nil {
		return fmt.Errorf("insert metric sample: %w", err)
	}
	return nil
}

// LatestSample returns the most recent sample for a node, or nil when the
// node has never completed a check.
func (r *MetricRepo) LatestSample(ctx context.Context, nodeID string) (*model.MetricSample, error) {
	const q = `SELECT node_id, uptime, response_time_ms, cpu_usage, memory_usage, disk_usage, network_latency_ms, peer_count, block_height, synced, recorded_at
FROM metric_samples WHERE node_id = $1 ORDER BY recorded_at DESC LIMIT 1`
	var m model.MetricSample
	err := r.DB.QueryRowContext(ctx, q, nodeID).Scan(&m.NodeID, &m.Uptime, &m.ResponseTimeMs, &m.CPUUsage,
		&m.MemoryUsage, &m.DiskUsage, &m.NetworkLatencyMs, &m.PeerCount, &m.BlockHeight, &m.Synced, &m.RecordedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("latest metric sample: %w", err)
	}
	return &m, nil
}

// QuerySamples returns samples recorded since the given time, oldest first.
func (r *MetricRepo) QuerySamples(ctx context.Context, nodeID string, since time.Time) ([]model.MetricSample, error) {
	const q = `SELECT node_id, uptime, response_time_ms, cpu_usage, memory_usage, disk_usage, network_latency_ms, peer_count, block_height, synced, recorded_at
FROM metric_samples WHERE node_id = $1 AND recorded_at >= $2 ORDER BY recorded_at ASC`
	rows, err := r.DB.QueryContext(ctx, q, nodeID, since)
	if err != nil {
		return nil, fmt.Errorf("query metric samples: %w", err)
	}
	defer rows.Close()
	var out []model.MetricSample
	for rows.Next() {
		var m model.MetricSample
		if err := rows.Scan(&m.NodeID, &m.Uptime, &m.ResponseTimeMs, &m.CPUUsage, &m.MemoryUsage,
			&m.DiskUsage, &m.NetworkLatencyMs, &m.PeerCount, &m.BlockHeight, &m.Synced, &m.RecordedAt); err != nil {
			return nil, fmt.Errorf("scan metric sample: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// AvgUptime averages the latest sample per node across the fleet. Nodes
// without any sample contribute 0 rather than being excluded.
func (r *MetricRepo) AvgUptime(ctx context.Context) (float64, error) {
	const q = `SELECT COALESCE(AVG(COALESCE(latest.uptime, 0)), 0)
FROM nodes n
LEFT JOIN LATERAL (
	SELECT uptime FROM metric_samples
	WHERE node_id = n.id ORDER BY recorded_at DESC LIMIT 1
) latest ON TRUE`
	var avg float64
	if err := r.DB.QueryRowContext(ctx, q).Scan(&avg); err != nil {
		return 0, fmt.Errorf("avg uptime: %w", err)
	}
	return avg, nil
}

// DeleteOlderThan prunes samples past the retention horizon.
func (r *MetricRepo) DeleteOlderThan(ctx context.Context, days int) (int64, error) {
	const q = `DELETE FROM metric_samples WHERE recorded_at < NOW() - ($1 || ' days')::interval`
	res, err := r.DB.ExecContext(ctx, q, days)
	if err != nil {
		return 0, fmt.Errorf("delete metric samples: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

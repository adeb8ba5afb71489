package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/chainops/watchtower/internal/monitoring/model"
)

// NodeRepo reads and updates monitored nodes. Node CRUD beyond status and
// last-checked stamps belongs to the management layer.
type NodeRepo struct {
	DB *Database
}

func NewNodeRepo(db *Database) *NodeRepo { return &NodeRepo{DB: db} }

func (r *NodeRepo) GetNode(ctx context.Context, id string) (*model.Node, error) {
	const q = `SELECT id, subscriber_id, name, endpoint, status, last_checked_at
FROM nodes WHERE id = $1`
	var n model.Node
	var checked sql.NullTime
	err := r.DB.QueryRowContext(ctx, q, id).Scan(&n.ID, &n.SubscriberID, &n.Name, &n.Endpoint, &n.Status, &checked)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, model.NotFoundf("node %s", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get node: %w", err)
	}
	if checked.Valid {
		n.LastCheckedAt = &checked.Time
	}
	return &n, nil
}

// ListActiveNodes returns every node currently in active status. The
// scheduler uses this to discover per-node check jobs at engine start.
func (r *NodeRepo) ListActiveNodes(ctx context.Context) ([]model.Node, error) {
	const q = `SELECT id, subscriber_id, name, endpoint, status, last_checked_at
FROM nodes WHERE status = $1 ORDER BY id`
	rows, err := r.DB.QueryContext(ctx, q, model.NodeActive)
	if err != nil {
		return nil, fmt.Errorf("list active nodes: %w", err)
	}
	defer rows.Close()
	var out []model.Node
	for rows.Next() {
		var n model.Node
		var checked sql.NullTime
		if err := rows.Scan(&n.ID, &n.SubscriberID, &n.Name, &n.Endpoint, &n.Status, &checked); err != nil {
			return nil, fmt.Errorf("scan node: %w", err)
		}
		if checked.Valid {
			n.LastCheckedAt = &checked.Time
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

func (r *NodeRepo) UpdateLastChecked(ctx context.Context, id string, at time.Time) error {
	const q = `UPDATE nodes SET last_checked_at = $2 WHERE id = $1`
	if _, err := r.DB.ExecContext(ctx, q, id, at); err != nil {
		return fmt.Errorf("update last checked: %w", err)
	}
	return nil
}

func (r *NodeRepo) UpdateStatus(ctx context.Context, id string, status model.NodeStatus) error {
	const q = `UPDATE nodes SET status = $2 WHERE id = $1`
	if _, err := r.DB.ExecContext(ctx, q, id, status); err != nil {
		return fmt.Errorf("update node status: %w", err)
	}
	return nil
}

// CountByStatus returns total node count plus per-status counts needed by
// the system snapshot.
func (r *NodeRepo) CountByStatus(ctx context.Context) (total, active, errored int, err error) {
	const q = `SELECT
	COUNT(*),
	COUNT(*) FILTER (WHERE status = 'active'),
	COUNT(*) FILTER (WHERE status = 'error')
FROM nodes`
	if err = r.DB.QueryRowContext(ctx, q).Scan(&total, &active, &errored); err != nil {
		return 0, 0, 0, fmt.Errorf("count nodes: %w", err)
	}
	return total, active, errored, nil
}

package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/chainops/watchtower/internal/monitoring/model"
	"github.com/google/uuid"
)

// AlertRepo is the Postgres-backed alert store. Ids are assigned here on
// insert; rows only leave through the retention sweep.
type AlertRepo struct {
	DB *Database
}

func NewAlertRepo(db *Database) *AlertRepo { return &AlertRepo{DB: db} }

// InsertAlert persists a new unresolved alert and returns its assigned id.
func (r *AlertRepo) InsertAlert(ctx context.Context, a *model.Alert) (string, error) {
	const q = `INSERT INTO alerts (id, node_id, subscriber_id, type, severity, message, created_at, resolved)
VALUES ($1, $2, $3, $4, $5, $6, $7, FALSE)`
	id := uuid.NewString()
	if _, err := r.DB.ExecContext(ctx, q, id, a.NodeID, a.SubscriberID, a.Type, a.Severity, a.Message, a.CreatedAt); err != nil {
		return "", fmt.Errorf("insert alert: %w", err)
	}
	return id, nil
}

func (r *AlertRepo) GetAlert(ctx context.Context, id string) (*model.Alert, error) {
	const q = `SELECT id, node_id, subscriber_id, type, severity, message, created_at, resolved, resolved_at, resolved_by
FROM alerts WHERE id = $1`
	return scanAlert(r.DB.QueryRowContext(ctx, q, id), id)
}

// MarkResolved sets the resolution fields only if the alert is still open,
// so a second resolution never overwrites the first resolver. Returns
// ErrNotFound for unknown ids.
func (r *AlertRepo) MarkResolved(ctx context.Context, id, resolvedBy string, at time.Time) error {
	const q = `UPDATE alerts SET resolved = TRUE, resolved_at = $2, resolved_by = $3
WHERE id = $1 AND resolved = FALSE`
	res, err := r.DB.ExecContext(ctx, q, id, at, resolvedBy)
	if err != nil {
		return fmt.Errorf("resolve alert: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		// Either already resolved (fine, idempotent) or unknown.
		if _, gerr := r.GetAlert(ctx, id); gerr != nil {
			return gerr
		}
	}
	return nil
}

// QueryAlerts filters by node and, when resolved is non-nil, by resolution
// state, newest first.
func (r *AlertRepo) QueryAlerts(ctx context.Context, nodeID string, resolved *bool) ([]model.Alert, error) {
	q := `SELECT id, node_id, subscriber_id, type, severity, message, created_at, resolved, resolved_at, resolved_by
FROM alerts WHERE node_id = $1`
	args := []any{nodeID}
	if resolved != nil {
		q += ` AND resolved = $2`
		args = append(args, *resolved)
	}
	q += ` ORDER BY created_at DESC`
	rows, err := r.DB.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query alerts: %w", err)
	}
	defer rows.Close()
	var out []model.Alert
	for rows.Next() {
		a, err := scanAlertRows(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *a)
	}
	return out, rows.Err()
}

func (r *AlertRepo) CountUnresolved(ctx context.Context) (int, error) {
	var n int
	if err := r.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM alerts WHERE resolved = FALSE`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count unresolved alerts: %w", err)
	}
	return n, nil
}

// DeleteResolvedOlderThan removes resolved alerts past the retention
// horizon and returns how many rows were dropped.
func (r *AlertRepo) DeleteResolvedOlderThan(ctx context.Context, days int) (int64, error) {
	const q = `DELETE FROM alerts WHERE resolved = TRUE AND resolved_at < NOW() - ($1 || ' days')::interval`
	res, err := r.DB.ExecContext(ctx, q, days)
	if err != nil {
		return 0, fmt.Errorf("delete resolved alerts: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAlert(row *sql.Row, id string) (*model.Alert, error) {
	a, err := scanAlertFrom(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, model.NotFoundf("alert %s", id)
	}
	return a, err
}

func scanAlertRows(rows *sql.Rows) (*model.Alert, error) {
	return scanAlertFrom(rows)
}

func scanAlertFrom(s rowScanner) (*model.Alert, error) {
	var a model.Alert
	var resolvedAt sql.NullTime
	var resolvedBy sql.NullString
	if err := s.Scan(&a.ID, &a.NodeID, &a.SubscriberID, &a.Type, &a.Severity, &a.Message, &a.CreatedAt, &a.Resolved, &resolvedAt, &resolvedBy); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan alert: %w", err)
	}
	if resolvedAt.Valid {
		a.ResolvedAt = &resolvedAt.Time
	}
	if resolvedBy.Valid {
		a.ResolvedBy = resolvedBy.String
	}
	return &a, nil
}

package cache

import (
	"context"
	"encoding/json"
	"time"

	"github.com/chainops/watchtower/internal/monitoring/model"
)

// TTLs for the two cached object kinds. Misses always fall back to the
// store and are never treated as errors.
const (
	AlertTTL    = time.Hour
	SnapshotTTL = 300 * time.Second
)

// Cache is the narrow key-value contract the monitoring core consumes.
type Cache interface {
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Delete(ctx context.Context, key string) error
}

const (
	alertKeyPrefix = "alert:"
	snapshotKey    = "system:health"
)

// PutAlert caches an alert by id for quick lookup.
func PutAlert(ctx context.Context, c Cache, a *model.Alert) error {
	data, err := json.Marshal(a)
	if err != nil {
		return err
	}
	return c.Set(ctx, alertKeyPrefix+a.ID, data, AlertTTL)
}

// GetAlert returns the cached alert or nil on a miss.
func GetAlert(ctx context.Context, c Cache, id string) (*model.Alert, error) {
	data, ok, err := c.Get(ctx, alertKeyPrefix+id)
	if err != nil || !ok {
		return nil, err
	}
	var a model.Alert
	if err := json.Unmarshal(data, &a); err != nil {
		return nil, err
	}
	return &a, nil
}

// PutSnapshot caches the current system health snapshot.
func PutSnapshot(ctx context.Context, c Cache, s *model.SystemHealthSnapshot) error {
	data, err := json.Marshal(s)
	if err != nil {
		return err
	}
	return c.Set(ctx, snapshotKey, data, SnapshotTTL)
}

// GetSnapshot returns the cached snapshot or nil on a miss.
func GetSnapshot(ctx context.Context, c Cache) (*model.SystemHealthSnapshot, error) {
	data, ok, err := c.Get(ctx, snapshotKey)
	if err != nil || !ok {
		return nil, err
	}
	var s model.SystemHealthSnapshot
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

package cache

import (
	"context"
	"time"
)

// ResetSignal advertises an in-flight reset so read-side consumers (dashboard
// polls, reporting jobs) can back off while live collections are being
// drained. It is advisory only; the store lease is the real mutual exclusion.
type ResetSignal interface {
	SetInProgress(ctx context.Context, tenantID string, locationID string, ttl time.Duration) error
	ClearInProgress(ctx context.Context, tenantID string, locationID string) error
	InProgress(ctx context.Context, tenantID string, locationID string) (bool, error)
}

type NoopResetSignal struct{}

func (NoopResetSignal) SetInProgress(_ context.Context, _ string, _ string, _ time.Duration) error {
	return nil
}

func (NoopResetSignal) ClearInProgress(_ context.Context, _ string, _ string) error {
	return nil
}

func (NoopResetSignal) InProgress(_ context.Context, _ string, _ string) (bool, error) {
	return false, nil
}

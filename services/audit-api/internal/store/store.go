// Package store persists audit findings and the per-user identity record.
package store

import (
	"context"
	"errors"

	"auraaudit/shared/types"
)

var (
	ErrNotFound = errors.New("store: not found")
	ErrConflict = errors.New("store: duplicate finding id")
)

// Owner identifies whose records a write touches.
type Owner struct {
	UserID      string
	DisplayName string
}

// Store is the query and write path for findings. InsertFinding recomputes and stores
// the owner's reputation score atomically with the insert.
type Store interface {
	InsertFinding(ctx context.Context, owner Owner, f types.AuditFinding) (types.Identity, error)
	ListFindings(ctx context.Context, userID string) ([]types.AuditFinding, error)
	GetIdentity(ctx context.Context, userID string) (types.Identity, error)
	UpdateStatus(ctx context.Context, userID, findingID string, status types.Status) (types.AuditFinding, error)
	Ping(ctx context.Context) error
	Close() error
}

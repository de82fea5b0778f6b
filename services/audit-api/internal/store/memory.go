package store

import (
	"context"
	"sync"
	"time"

	"auraaudit/pkg/scoring"
	"auraaudit/shared/types"
)

// Memory is an in-process Store for development and tests.
type Memory struct {
	mu    sync.RWMutex
	users map[string]*userRecords
	ids   map[string]struct{}
	now   func() time.Time
}

type userRecords struct {
	identity types.Identity
	findings []types.AuditFinding
	index    map[string]int
}

func NewMemory() *Memory {
	return &Memory{users: make(map[string]*userRecords), ids: make(map[string]struct{}), now: time.Now}
}

func (m *Memory) InsertFinding(_ context.Context, owner Owner, f types.AuditFinding) (types.Identity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, dup := m.ids[f.ID]; dup {
		return types.Identity{}, ErrConflict
	}
	u, ok := m.users[owner.UserID]
	if !ok {
		u = &userRecords{
			identity: types.Identity{UserID: owner.UserID, ReputationScore: scoring.MaxScore},
			index:    make(map[string]int),
		}
		m.users[owner.UserID] = u
	}
	m.ids[f.ID] = struct{}{}
	u.index[f.ID] = len(u.findings)
	u.findings = append(u.findings, f)
	if owner.DisplayName != "" {
		u.identity.DisplayName = owner.DisplayName
	}
	u.identity.ReputationScore = scoring.FromFindings(u.findings).Value
	u.identity.UpdatedAt = m.now().UTC()
	return u.identity, nil
}

func (m *Memory) ListFindings(_ context.Context, userID string) ([]types.AuditFinding, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.users[userID]
	if !ok {
		return []types.AuditFinding{}, nil
	}
	return append([]types.AuditFinding{}, u.findings...), nil
}

func (m *Memory) GetIdentity(_ context.Context, userID string) (types.Identity, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.users[userID]
	if !ok {
		return types.Identity{}, ErrNotFound
	}
	return u.identity, nil
}

func (m *Memory) UpdateStatus(_ context.Context, userID, findingID string, status types.Status) (types.AuditFinding, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[userID]
	if !ok {
		return types.AuditFinding{}, ErrNotFound
	}
	i, ok := u.index[findingID]
	if !ok {
		return types.AuditFinding{}, ErrNotFound
	}
	u.findings[i].Status = status
	return u.findings[i], nil
}

func (m *Memory) Ping(context.Context) error { return nil }

func (m *Memory) Close() error { return nil }

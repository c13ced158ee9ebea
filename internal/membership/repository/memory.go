package repository

import (
	"context"
	"sync"

	"session-control-plane/internal/membership/domain"
)

type MemoryRepository struct {
	mu      sync.RWMutex
	entries map[string]map[string]*domain.OrgMembership // userID -> orgID -> membership
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{entries: make(map[string]map[string]*domain.OrgMembership)}
}

func (m *MemoryRepository) Upsert(_ context.Context, om *domain.OrgMembership) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	orgs, ok := m.entries[om.UserID]
	if !ok {
		orgs = make(map[string]*domain.OrgMembership)
		m.entries[om.UserID] = orgs
	}
	cp := copyMembership(om)
	orgs[om.OrgID] = cp
	return nil
}

func (m *MemoryRepository) Get(_ context.Context, userID, orgID string) (*domain.OrgMembership, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	om, ok := m.entries[userID][orgID]
	if !ok {
		return nil, nil
	}
	return copyMembership(om), nil
}

func (m *MemoryRepository) ListByUser(_ context.Context, userID string) ([]*domain.OrgMembership, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*domain.OrgMembership
	for _, om := range m.entries[userID] {
		out = append(out, copyMembership(om))
	}
	return out, nil
}

func (m *MemoryRepository) DefaultForUser(_ context.Context, userID string) (*domain.OrgMembership, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, om := range m.entries[userID] {
		if om.Default {
			return copyMembership(om), nil
		}
	}
	return nil, nil
}

func copyMembership(om *domain.OrgMembership) *domain.OrgMembership {
	cp := *om
	cp.Scopes = append([]string(nil), om.Scopes...)
	cp.TopicGrants = append([]string(nil), om.TopicGrants...)
	return &cp
}

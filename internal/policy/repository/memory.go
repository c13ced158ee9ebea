package repository

import (
	"context"
	"sync"

	"session-control-plane/internal/policy/domain"
)

type MemoryRepository struct {
	mu       sync.RWMutex
	policies map[string][]*domain.Policy // orgID -> policies
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{policies: make(map[string][]*domain.Policy)}
}

func (m *MemoryRepository) GetEnabledPoliciesByOrg(_ context.Context, orgID string) ([]*domain.Policy, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*domain.Policy
	for _, p := range m.policies[orgID] {
		if p.Enabled {
			cp := *p
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *MemoryRepository) Upsert(_ context.Context, p *domain.Policy) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *p
	for i, existing := range m.policies[p.OrgID] {
		if existing.ID == p.ID {
			m.policies[p.OrgID][i] = &cp
			return nil
		}
	}
	m.policies[p.OrgID] = append(m.policies[p.OrgID], &cp)
	return nil
}

package repository

import (
	"context"
	"sync"
	"time"

	"session-control-plane/internal/pat/domain"
)

type MemoryRepository struct {
	mu     sync.RWMutex
	tokens map[string]*domain.PersonalAccessToken
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{tokens: make(map[string]*domain.PersonalAccessToken)}
}

func (m *MemoryRepository) Create(_ context.Context, t *domain.PersonalAccessToken) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tokens[t.ID] = copyToken(t)
	return nil
}

func (m *MemoryRepository) GetByID(_ context.Context, id string) (*domain.PersonalAccessToken, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.tokens[id]
	if !ok {
		return nil, nil
	}
	return copyToken(t), nil
}

func (m *MemoryRepository) ListByUser(_ context.Context, userID string) ([]*domain.PersonalAccessToken, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*domain.PersonalAccessToken
	for _, t := range m.tokens {
		if t.UserID == userID {
			out = append(out, copyToken(t))
		}
	}
	return out, nil
}

func (m *MemoryRepository) Revoke(_ context.Context, id string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t, ok := m.tokens[id]; ok && t.RevokedAt == nil {
		t.RevokedAt = &at
	}
	return nil
}

func (m *MemoryRepository) TouchLastUsed(_ context.Context, id string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t, ok := m.tokens[id]; ok {
		t.LastUsedAt = &at
	}
	return nil
}

func copyToken(t *domain.PersonalAccessToken) *domain.PersonalAccessToken {
	cp := *t
	cp.Scopes = append([]string(nil), t.Scopes...)
	return &cp
}

package store

import (
	"context"
	"sync"

	"github.com/otbreview/otbrecon/internal/domain"
)

// memrepo is a development-only in-memory repository used when no DB is
// configured.
type memrepo struct {
	mu sync.RWMutex

	nextID int64
	byID   map[int64]*domain.ReconRun
	byUUID map[string]*domain.ReconRun
	order  []*domain.ReconRun
}

func NewMemoryRepository() Repository {
	return &memrepo{
		byID:   make(map[int64]*domain.ReconRun),
		byUUID: make(map[string]*domain.ReconRun),
	}
}

func (m *memrepo) InsertRun(ctx context.Context, run *domain.ReconRun) (int64, error) {
	if run == nil {
		return 0, ErrDuplicateRun
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.byUUID[run.RunUUID]; exists {
		return 0, ErrDuplicateRun
	}

	m.nextID++
	cp := *run
	cp.ID = m.nextID
	m.byID[cp.ID] = &cp
	m.byUUID[cp.RunUUID] = &cp
	m.order = append(m.order, &cp)
	return cp.ID, nil
}

func (m *memrepo) GetRun(ctx context.Context, runUUID string) (*domain.ReconRun, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	run, ok := m.byUUID[runUUID]
	if !ok {
		return nil, nil
	}
	cp := *run
	return &cp, nil
}

func (m *memrepo) GetRecentRuns(ctx context.Context, limit int) ([]*domain.ReconRun, error) {
	if limit <= 0 {
		limit = 10
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*domain.ReconRun, 0, limit)
	for i := len(m.order) - 1; i >= 0 && len(out) < limit; i-- {
		cp := *m.order[i]
		out = append(out, &cp)
	}
	return out, nil
}

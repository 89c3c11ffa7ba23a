package trainer

import (
	"context"
	"sort"
	"strings"
	"sync"
)

// memrepo is a development-only in-memory repository implementation used when no DB is configured.
type memrepo struct {
	mu sync.RWMutex

	nextID int64

	byID      map[int64]*Attempt
	bySession map[string]*Attempt
	order     []*Attempt // append order, latest last
}

func NewMemoryRepository() Repository {
	return &memrepo{
		byID:      make(map[int64]*Attempt),
		bySession: make(map[string]*Attempt),
	}
}

func (m *memrepo) InsertAttempt(ctx context.Context, att *Attempt) (int64, error) {
	if att == nil {
		return 0, ErrDuplicateAttempt
	}
	key := strings.TrimSpace(att.SessionUUID)

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.bySession[key]; exists {
		return 0, ErrDuplicateAttempt
	}

	m.nextID++
	cp := *att
	cp.ID = m.nextID

	m.byID[cp.ID] = &cp
	m.bySession[key] = &cp
	m.order = append(m.order, &cp)
	return cp.ID, nil
}

func (m *memrepo) GetRecentAttempts(ctx context.Context, limit int) ([]*Attempt, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if len(m.order) == 0 {
		return []*Attempt{}, nil
	}
	items := append([]*Attempt(nil), m.order...)
	sort.Slice(items, func(i, j int) bool {
		if !items[i].EndedAt.Equal(items[j].EndedAt) {
			return items[i].EndedAt.After(items[j].EndedAt)
		}
		return items[i].ID > items[j].ID
	})
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}
	return items, nil
}

func (m *memrepo) GetAttemptBySession(ctx context.Context, sessionUUID string) (*Attempt, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if att, ok := m.bySession[strings.TrimSpace(sessionUUID)]; ok && att != nil {
		cp := *att
		return &cp, nil
	}
	return nil, nil
}

package store

import (
	"context"
	"sort"
	"sync"

	"github.com/charmbracelet/log"

	"proxypool/internal/domain"
)

// MemoryStore is a process-local Store. A single lock serializes mutations, so
// reads always see whole score changes.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]int
	index   map[domain.Identity]string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entries: make(map[string]int),
		index:   make(map[domain.Identity]string),
	}
}

func (m *MemoryStore) Add(_ context.Context, record domain.ProxyRecord) (bool, error) {
	member, err := domain.EncodeRecord(record)
	if err != nil {
		return false, err
	}
	id := record.Identity()

	m.mu.Lock()
	defer m.mu.Unlock()

	if current, ok := m.index[id]; ok {
		if _, stored := m.entries[current]; stored {
			return false, nil
		}
	}
	if _, stored := m.entries[member]; !stored {
		m.entries[member] = InitialScore
	}
	m.index[id] = member
	return true, nil
}

func (m *MemoryStore) IncreaseScore(_ context.Context, id domain.Identity) (Adjustment, error) {
	return m.adjust(id, 1), nil
}

func (m *MemoryStore) DecreaseScore(_ context.Context, id domain.Identity) (Adjustment, error) {
	return m.adjust(id, -1), nil
}

func (m *MemoryStore) adjust(id domain.Identity, delta int) Adjustment {
	m.mu.Lock()
	defer m.mu.Unlock()

	member, ok := m.index[id]
	if !ok {
		return Adjustment{}
	}
	score, ok := m.entries[member]
	if !ok {
		delete(m.index, id)
		return Adjustment{}
	}

	next, remove := nextScore(score, delta)
	if remove {
		delete(m.entries, member)
		delete(m.index, id)
		log.Info("Removed proxy due to low score", "proxy", id.String())
		return Adjustment{Found: true, Removed: true, Score: next}
	}

	m.entries[member] = next
	log.Debug("Adjusted proxy score", "proxy", id.String(), "score", next)
	return Adjustment{Found: true, Score: next}
}

func (m *MemoryStore) AllValid(_ context.Context) ([]domain.ProxyRecord, error) {
	snapshot := m.snapshot()

	valid := make([]entry, 0, len(snapshot))
	for i := len(snapshot) - 1; i >= 0; i-- {
		if snapshot[i].score > MinScore {
			valid = append(valid, snapshot[i])
		}
	}
	return decodeEntries(valid), nil
}

func (m *MemoryStore) All(_ context.Context) ([]domain.ProxyRecord, error) {
	return decodeEntries(m.snapshot()), nil
}

func (m *MemoryStore) Score(_ context.Context, id domain.Identity) (int, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	member, ok := m.index[id]
	if !ok {
		return 0, false, nil
	}
	score, ok := m.entries[member]
	return score, ok, nil
}

func (m *MemoryStore) RemoveDuplicates(_ context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	plan := planDuplicates(m.sortedLocked())
	plan.logUndecoded()
	for _, member := range plan.removed {
		delete(m.entries, member)
	}
	for id, member := range m.index {
		if _, ok := m.entries[member]; !ok {
			delete(m.index, id)
		}
	}
	for id, member := range plan.survivors {
		m.index[id] = member
	}
	return len(plan.removed), nil
}

func (m *MemoryStore) Count(_ context.Context) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return int64(len(m.entries)), nil
}

func (m *MemoryStore) Close() error {
	return nil
}

// insertRaw stores member with score bypassing identity checks. It mirrors
// entries written by older releases or other tools.
func (m *MemoryStore) insertRaw(member string, score int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[member] = score
}

func (m *MemoryStore) snapshot() []entry {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.sortedLocked()
}

// sortedLocked orders entries by ascending score, then member, matching the
// order of a Redis sorted set.
func (m *MemoryStore) sortedLocked() []entry {
	entries := make([]entry, 0, len(m.entries))
	for member, score := range m.entries {
		entries = append(entries, entry{member: member, score: score})
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].score != entries[j].score {
			return entries[i].score < entries[j].score
		}
		return entries[i].member < entries[j].member
	})
	return entries
}

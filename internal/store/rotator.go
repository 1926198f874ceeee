package store

import (
	"context"
	"errors"
	"sync"

	"proxypool/internal/domain"
)

var ErrEmptyPool = errors.New("no proxy available")

// Rotator hands out valid records round robin. The cursor restarts at zero
// whenever the size of the valid set changes between calls.
type Rotator struct {
	store Store

	mu       sync.Mutex
	index    int
	lastSize int
}

func NewRotator(s Store) *Rotator {
	return &Rotator{store: s}
}

// Next returns the selected record, its position and the valid-set size.
func (r *Rotator) Next(ctx context.Context) (domain.ProxyRecord, int, int, error) {
	records, err := r.store.AllValid(ctx)
	if err != nil {
		return domain.ProxyRecord{}, 0, 0, err
	}
	if len(records) == 0 {
		return domain.ProxyRecord{}, 0, 0, ErrEmptyPool
	}

	index := r.advance(len(records))
	return records[index], index, len(records), nil
}

func (r *Rotator) advance(size int) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	if size != r.lastSize {
		r.lastSize = size
		r.index = 0
	}
	current := r.index % size
	r.index = (current + 1) % size
	return current
}

// Package store keeps the scored proxy pool. Every record is owned by a Store;
// callers work on copies and mutate scores only through Store methods.
package store

import (
	"context"
	"errors"

	"proxypool/internal/domain"
)

const (
	MinScore     = 0
	MaxScore     = 100
	InitialScore = 50

	DefaultKey = "proxies"
)

var ErrDecode = errors.New("store: undecodable entry")

// Adjustment reports the effect of IncreaseScore or DecreaseScore.
type Adjustment struct {
	Found   bool
	Removed bool
	Score   int
}

type Store interface {
	// Add inserts record at InitialScore unless its identity is already
	// stored, in which case the existing score is kept.
	Add(ctx context.Context, record domain.ProxyRecord) (bool, error)
	// IncreaseScore adds one point, capped at MaxScore.
	IncreaseScore(ctx context.Context, id domain.Identity) (Adjustment, error)
	// DecreaseScore subtracts one point and deletes the record once the score
	// would reach MinScore.
	DecreaseScore(ctx context.Context, id domain.Identity) (Adjustment, error)
	// AllValid returns records scored above MinScore, highest score first.
	AllValid(ctx context.Context) ([]domain.ProxyRecord, error)
	// All returns every decodable record in ascending score order.
	All(ctx context.Context) ([]domain.ProxyRecord, error)
	Score(ctx context.Context, id domain.Identity) (int, bool, error)
	// RemoveDuplicates keeps the highest-scored entry per identity, deletes
	// undecodable entries and returns how many entries were removed.
	RemoveDuplicates(ctx context.Context) (int, error)
	Count(ctx context.Context) (int64, error)
	Close() error
}

// nextScore applies delta to score and reports whether the record must be
// removed instead.
func nextScore(score, delta int) (int, bool) {
	next := score + delta
	if delta > 0 {
		if score >= MaxScore {
			return score, false
		}
		if next > MaxScore {
			next = MaxScore
		}
		return next, false
	}
	if next <= MinScore {
		return MinScore, true
	}
	return next, false
}

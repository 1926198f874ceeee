package store

import (
	"fmt"

	"github.com/charmbracelet/log"

	"proxypool/internal/domain"
)

// entry is one raw member of the score-ordered collection.
type entry struct {
	member string
	score  int
}

type dedupPlan struct {
	removed   []string
	survivors map[domain.Identity]string
	undecoded int
	// decodeErr is the first decode failure seen, wrapping ErrDecode.
	decodeErr error
}

func decodeMember(member string) (domain.ProxyRecord, error) {
	record, err := domain.DecodeRecord(member)
	if err != nil {
		return domain.ProxyRecord{}, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	return record, nil
}

func (p dedupPlan) logUndecoded() {
	if p.undecoded > 0 {
		log.Warn("Removing undecodable pool entries", "count", p.undecoded, "error", p.decodeErr)
	}
}

// planDuplicates walks entries in scan order. For each identity the entry with
// the strictly highest score survives; on ties the first one seen is kept, so
// repeated runs over the same snapshot agree. Undecodable members are always
// marked for removal.
func planDuplicates(entries []entry) dedupPlan {
	plan := dedupPlan{survivors: make(map[domain.Identity]string)}
	best := make(map[domain.Identity]entry)

	for _, e := range entries {
		record, err := decodeMember(e.member)
		if err != nil {
			plan.removed = append(plan.removed, e.member)
			plan.undecoded++
			if plan.decodeErr == nil {
				plan.decodeErr = err
			}
			continue
		}

		id := record.Identity()
		current, seen := best[id]
		switch {
		case !seen:
			best[id] = e
		case e.score > current.score:
			plan.removed = append(plan.removed, current.member)
			best[id] = e
		default:
			plan.removed = append(plan.removed, e.member)
		}
	}

	for id, e := range best {
		plan.survivors[id] = e.member
	}
	return plan
}

func decodeEntries(entries []entry) []domain.ProxyRecord {
	records := make([]domain.ProxyRecord, 0, len(entries))
	for _, e := range entries {
		record, err := decodeMember(e.member)
		if err != nil {
			log.Debug("Skipping pool entry", "error", err)
			continue
		}
		record.Score = e.score
		records = append(records, record)
	}
	return records
}

package runtime

import (
	"context"
	"sync"
	"time"

	"proxypool/internal/database"
	"proxypool/internal/domain"

	"github.com/charmbracelet/log"
)

const (
	historyFlushInterval  = 15 * time.Second
	historyBatchThreshold = 5000
	historyInsertTimeout  = 30 * time.Second
	historyInsertBatch    = 500
	historyQueueSize      = 100_000
)

// InsertFunc persists one batch of checks.
type InsertFunc func(ctx context.Context, checks []domain.ProxyCheck, batchSize int) error

// CheckHistory buffers verdicts and writes them in batches, either when the
// buffer is full or on every flush interval.
type CheckHistory struct {
	queue         chan domain.ProxyCheck
	insert        InsertFunc
	flushInterval time.Duration
	threshold     int
	flushTracker  sync.WaitGroup
}

func NewCheckHistory() *CheckHistory {
	return newCheckHistory(database.InsertProxyChecks, historyFlushInterval, historyBatchThreshold)
}

func newCheckHistory(insert InsertFunc, flushInterval time.Duration, threshold int) *CheckHistory {
	return &CheckHistory{
		queue:         make(chan domain.ProxyCheck, historyQueueSize),
		insert:        insert,
		flushInterval: flushInterval,
		threshold:     threshold,
	}
}

// Record queues the verdicts of one cycle. Checks are dropped when the queue
// is full rather than blocking the scheduler.
func (h *CheckHistory) Record(cycle string, verdicts []domain.Verdict) {
	dropped := 0
	for _, v := range verdicts {
		select {
		case h.queue <- domain.NewProxyCheck(v, cycle):
		default:
			dropped++
		}
	}
	if dropped > 0 {
		log.Warn("Check history queue full, dropping checks", "dropped", dropped)
	}
}

// Run flushes queued checks until ctx is done, then drains the queue and waits
// for pending inserts.
func (h *CheckHistory) Run(ctx context.Context) {
	var buffer []domain.ProxyCheck
	timer := time.NewTimer(h.flushInterval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			h.drain(&buffer)
			h.flush(&buffer)
			h.flushTracker.Wait()
			return
		case check := <-h.queue:
			buffer = append(buffer, check)
			if len(buffer) >= h.threshold {
				h.flush(&buffer)
				h.resetTimer(timer)
			}
		case <-timer.C:
			h.flush(&buffer)
			timer.Reset(h.flushInterval)
		}
	}
}

func (h *CheckHistory) flush(buffer *[]domain.ProxyCheck) {
	if len(*buffer) == 0 {
		return
	}

	toInsert := *buffer
	*buffer = nil

	h.flushTracker.Add(1)
	go func(checks []domain.ProxyCheck) {
		defer h.flushTracker.Done()

		dbCtx, cancel := context.WithTimeout(context.Background(), historyInsertTimeout)
		defer cancel()

		if err := h.insert(dbCtx, checks, historyInsertBatch); err != nil {
			log.Error("Failed to insert check history", "error", err, "count", len(checks))
		}
	}(toInsert)
}

func (h *CheckHistory) drain(buffer *[]domain.ProxyCheck) {
	for {
		select {
		case check := <-h.queue:
			*buffer = append(*buffer, check)
		default:
			return
		}
	}
}

func (h *CheckHistory) resetTimer(timer *time.Timer) {
	if !timer.Stop() {
		select {
		case <-timer.C:
		default:
		}
	}
	timer.Reset(h.flushInterval)
}

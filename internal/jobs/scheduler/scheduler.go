// Package scheduler interleaves the acquire, validate and cleanup cycles of
// the pool. Each cycle runs in its own goroutine and sleeps a configurable
// interval after every iteration.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"proxypool/internal/config"
	"proxypool/internal/domain"
	"proxypool/internal/metrics"
	"proxypool/internal/store"
)

const (
	CycleAcquire  = "acquire"
	CycleValidate = "validate"
	CycleCleanup  = "cleanup"

	leaderKeyPrefix = "proxypool:leader:"
)

type State string

const (
	StateStandby  State = "standby"
	StateWorking  State = "working"
	StateSleeping State = "sleeping"
	StateStopped  State = "stopped"
)

type Validator interface {
	ValidateBatch(ctx context.Context, records []domain.ProxyRecord) []domain.Verdict
}

type Collector interface {
	Collect(ctx context.Context) []domain.ProxyRecord
}

// HistoryRecorder receives every verdict produced by a cycle.
type HistoryRecorder interface {
	Record(cycle string, verdicts []domain.Verdict)
}

// LeaderFunc runs fn only while this instance holds the lock named key.
type LeaderFunc func(ctx context.Context, key string, fn func(context.Context)) error

// Interval supplies a cycle's sleep duration and optional change notifications.
type Interval struct {
	Get     func() time.Duration
	Updates <-chan time.Duration
}

// Fixed returns an Interval that never changes.
func Fixed(d time.Duration) Interval {
	return Interval{Get: func() time.Duration { return d }}
}

type Options struct {
	Store     store.Store
	Validator Validator
	Collector Collector
	History   HistoryRecorder
	// Leader, when set, gates the acquire and cleanup cycles.
	Leader LeaderFunc

	Acquire  Interval
	Validate Interval
	Cleanup  Interval
}

type cycle struct {
	name       string
	interval   Interval
	leaderOnly bool
	step       func(ctx context.Context) error

	mu    sync.RWMutex
	state State
}

func (c *cycle) setState(state State) {
	c.mu.Lock()
	c.state = state
	c.mu.Unlock()
}

func (c *cycle) getState() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

type Scheduler struct {
	store     store.Store
	validator Validator
	collector Collector
	history   HistoryRecorder
	leader    LeaderFunc

	cycles []*cycle
}

func New(opts Options) (*Scheduler, error) {
	if opts.Store == nil || opts.Validator == nil || opts.Collector == nil {
		return nil, errors.New("scheduler: store, validator and collector are required")
	}

	s := &Scheduler{
		store:     opts.Store,
		validator: opts.Validator,
		collector: opts.Collector,
		history:   opts.History,
		leader:    opts.Leader,
	}
	s.cycles = []*cycle{
		{name: CycleAcquire, interval: withDefault(opts.Acquire, config.GetAcquireInterval), leaderOnly: true, step: s.AcquireOnce},
		{name: CycleValidate, interval: withDefault(opts.Validate, config.GetValidateInterval), step: s.ValidateOnce},
		{name: CycleCleanup, interval: withDefault(opts.Cleanup, config.GetCleanupInterval), leaderOnly: true, step: s.CleanupOnce},
	}
	for _, c := range s.cycles {
		c.state = StateStandby
	}
	return s, nil
}

// ConfigIntervals binds the three cycles to the settings timers so that a
// settings reload takes effect on the next sleep.
func ConfigIntervals(opts *Options) {
	opts.Acquire = Interval{Get: config.GetAcquireInterval, Updates: config.AcquireIntervalUpdates()}
	opts.Validate = Interval{Get: config.GetValidateInterval, Updates: config.ValidateIntervalUpdates()}
	opts.Cleanup = Interval{Get: config.GetCleanupInterval, Updates: config.CleanupIntervalUpdates()}
}

func withDefault(iv Interval, get func() time.Duration) Interval {
	if iv.Get == nil {
		iv.Get = get
	}
	return iv
}

// States reports the current state of every cycle by name.
func (s *Scheduler) States() map[string]State {
	states := make(map[string]State, len(s.cycles))
	for _, c := range s.cycles {
		states[c.name] = c.getState()
	}
	return states
}

// Run blocks until ctx is cancelled and every cycle has finished its current
// iteration.
func (s *Scheduler) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	for _, c := range s.cycles {
		wg.Add(1)
		go func(c *cycle) {
			defer wg.Done()
			defer c.setState(StateStopped)

			if c.leaderOnly && s.leader != nil {
				err := s.leader(ctx, leaderKeyPrefix+c.name, func(leaderCtx context.Context) {
					s.loop(leaderCtx, c)
					c.setState(StateStandby)
				})
				if err != nil && !errors.Is(err, context.Canceled) {
					log.Error("Cycle leadership stopped", "cycle", c.name, "error", err)
				}
				return
			}
			s.loop(ctx, c)
		}(c)
	}
	wg.Wait()
	log.Info("Scheduler stopped")
	return nil
}

func (s *Scheduler) loop(ctx context.Context, c *cycle) {
	for {
		if ctx.Err() != nil {
			return
		}

		c.setState(StateWorking)
		start := time.Now()
		log.Info("Cycle started", "cycle", c.name)

		if err := c.step(ctx); err != nil {
			metrics.CycleErrors.Inc(c.name)
			log.Error("Cycle failed", "cycle", c.name, "error", err)
		}
		metrics.CycleRuns.Inc(c.name)
		log.Info("Cycle finished", "cycle", c.name, "duration", time.Since(start).Round(time.Millisecond))

		c.setState(StateSleeping)
		if !sleep(ctx, c.interval) {
			return
		}
	}
}

// sleep waits for the interval, restarting the wait from the original start
// whenever a new interval arrives. It returns false when ctx is done.
func sleep(ctx context.Context, iv Interval) bool {
	start := time.Now()
	timer := time.NewTimer(iv.Get())
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return false
		case <-timer.C:
			return true
		case d := <-iv.Updates:
			remaining := d - time.Since(start)
			if remaining <= 0 {
				return true
			}
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(remaining)
		}
	}
}

// AcquireOnce collects candidates, adds those that validate and removes
// duplicates. Store writes use a context detached from cancellation so a
// finished batch is never half applied.
func (s *Scheduler) AcquireOnce(ctx context.Context) error {
	candidates := s.collector.Collect(ctx)
	log.Info("Candidates collected", "count", len(candidates))

	verdicts := s.validator.ValidateBatch(ctx, candidates)
	s.record(CycleAcquire, verdicts)

	writeCtx := context.WithoutCancel(ctx)
	var errs []error
	added := 0
	for _, v := range verdicts {
		if v.Status() != domain.StatusValid {
			continue
		}
		ok, err := s.store.Add(writeCtx, v.Record)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if ok {
			added++
		}
	}
	metrics.PoolChanges.Add("added", float64(added))
	log.Info("Valid proxies stored", "added", added)

	if _, err := s.removeDuplicates(writeCtx); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// ValidateOnce re-checks every stored record: valid adds a point, invalid
// removes one, error verdicts leave the score untouched.
func (s *Scheduler) ValidateOnce(ctx context.Context) error {
	records, err := s.store.All(ctx)
	if err != nil {
		return fmt.Errorf("load pool: %w", err)
	}
	if len(records) == 0 {
		log.Info("Pool is empty, nothing to validate")
		return nil
	}

	verdicts := s.validator.ValidateBatch(ctx, records)
	s.record(CycleValidate, verdicts)

	writeCtx := context.WithoutCancel(ctx)
	var errs []error
	increased, decreased, removed := 0, 0, 0
	for _, v := range verdicts {
		id := v.Record.Identity()
		switch v.Status() {
		case domain.StatusValid:
			if _, err := s.store.IncreaseScore(writeCtx, id); err != nil {
				errs = append(errs, err)
				continue
			}
			increased++
		case domain.StatusInvalid:
			adj, err := s.store.DecreaseScore(writeCtx, id)
			if err != nil {
				errs = append(errs, err)
				continue
			}
			decreased++
			if adj.Removed {
				removed++
			}
		}
	}
	metrics.PoolChanges.Add("expired", float64(removed))
	log.Info("Pool scores updated", "increased", increased, "decreased", decreased, "removed", removed)
	return errors.Join(errs...)
}

func (s *Scheduler) CleanupOnce(ctx context.Context) error {
	_, err := s.removeDuplicates(ctx)
	return err
}

func (s *Scheduler) removeDuplicates(ctx context.Context) (int, error) {
	removed, err := s.store.RemoveDuplicates(ctx)
	if err != nil {
		return 0, fmt.Errorf("remove duplicates: %w", err)
	}
	metrics.PoolChanges.Add("duplicate", float64(removed))
	log.Info("Duplicates removed", "count", removed)
	return removed, nil
}

func (s *Scheduler) record(cycle string, verdicts []domain.Verdict) {
	if s.history == nil || len(verdicts) == 0 {
		return
	}
	s.history.Record(cycle, verdicts)
}

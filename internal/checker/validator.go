// Package checker tests proxies against live check URLs and turns each attempt
// into a verdict.
package checker

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"golang.org/x/sync/semaphore"

	"proxypool/internal/config"
	"proxypool/internal/domain"
	"proxypool/internal/metrics"
)

const (
	DefaultTimeout        = 10 * time.Second
	DefaultMaxConcurrency = 50
)

type Options struct {
	CheckURLs      []string
	Timeout        time.Duration
	MaxConcurrency int64
}

type Validator struct {
	checkURLs      []string
	timeout        time.Duration
	maxConcurrency int64
	now            func() time.Time
}

func NewValidator(opts Options) *Validator {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.MaxConcurrency <= 0 {
		opts.MaxConcurrency = DefaultMaxConcurrency
	}
	return &Validator{
		checkURLs:      append([]string(nil), opts.CheckURLs...),
		timeout:        opts.Timeout,
		maxConcurrency: opts.MaxConcurrency,
		now:            time.Now,
	}
}

// NewValidatorFromConfig builds a Validator from the active settings.
func NewValidatorFromConfig() *Validator {
	cfg := config.GetConfig()
	return NewValidator(Options{
		CheckURLs:      cfg.Checker.CheckURLs,
		Timeout:        config.GetCheckerTimeout(),
		MaxConcurrency: int64(cfg.Checker.MaxConcurrency),
	})
}

// ValidateOne tries each check URL in order and stops at the first HTTP 200.
// It never returns an error; failures are reported in the verdict.
func (v *Validator) ValidateOne(ctx context.Context, record domain.ProxyRecord) (verdict domain.Verdict) {
	record.LastCheck = v.now().Unix()
	record.Protocol = domain.ProtocolHTTP
	record.CheckedURL = ""
	record.ErrorMsg = ""
	record.ResponseTime = 0
	record.Anonymity = ""

	defer func() {
		if r := recover(); r != nil {
			record.Status = domain.StatusError
			record.ErrorMsg = fmt.Sprintf("check panicked: %v", r)
			verdict = domain.Verdict{Record: record}
		}
	}()

	transport, err := newTransport(record, v.timeout)
	if err != nil {
		record.Status = domain.StatusError
		record.ErrorMsg = err.Error()
		return domain.Verdict{Record: record}
	}
	defer transport.CloseIdleConnections()

	start := time.Now()
	timeouts := 0
	var lastErr error
	for _, target := range v.checkURLs {
		attemptCtx, cancel := context.WithTimeout(ctx, v.timeout)
		res, err := fetchThrough(attemptCtx, transport, target, v.timeout)
		cancel()

		if err != nil {
			if isTimeout(err) {
				timeouts++
			}
			lastErr = err
			log.Debug("Check attempt failed", "proxy", record.Address(), "url", target, "error", err)
			continue
		}

		record.Status = domain.StatusValid
		record.CheckedURL = target
		record.ResponseTime = math.Round(time.Since(start).Seconds()*1000) / 1000
		record.Anonymity = domain.AnonymityHigh
		if res.viaHeader {
			record.Anonymity = domain.AnonymityLow
		}
		return domain.Verdict{Record: record}
	}

	record.Status = domain.StatusInvalid
	if lastErr != nil {
		record.ErrorMsg = lastErr.Error()
	}
	return domain.Verdict{
		Record:   record,
		TimedOut: len(v.checkURLs) > 0 && timeouts == len(v.checkURLs),
	}
}

// ValidateBatch checks records concurrently, at most MaxConcurrency at a time,
// and returns one verdict per record in input order. Checks already running
// are not interrupted when ctx is cancelled; records that never started get
// an error verdict.
func (v *Validator) ValidateBatch(ctx context.Context, records []domain.ProxyRecord) []domain.Verdict {
	verdicts := make([]domain.Verdict, len(records))
	if len(records) == 0 {
		return verdicts
	}

	sem := semaphore.NewWeighted(v.maxConcurrency)
	checkCtx := context.WithoutCancel(ctx)
	var wg sync.WaitGroup

	for i, record := range records {
		if err := sem.Acquire(ctx, 1); err != nil {
			for j := i; j < len(records); j++ {
				skipped := records[j]
				skipped.Status = domain.StatusError
				skipped.ErrorMsg = "validation cancelled"
				skipped.LastCheck = v.now().Unix()
				verdicts[j] = domain.Verdict{Record: skipped}
			}
			break
		}

		wg.Add(1)
		go func(i int, record domain.ProxyRecord) {
			defer wg.Done()
			defer sem.Release(1)
			verdicts[i] = v.ValidateOne(checkCtx, record)
		}(i, record)
	}

	wg.Wait()

	stats := Summarize(verdicts)
	stats.record()
	log.Info("Validation batch completed",
		"total", stats.Total,
		"valid", stats.Valid,
		"invalid", stats.Invalid,
		"timeout", stats.Timeout,
		"error", stats.Error,
	)
	return verdicts
}

// BatchStats counts verdicts by outcome. Timed-out checks are counted under
// Timeout only.
type BatchStats struct {
	Total   int
	Valid   int
	Invalid int
	Timeout int
	Error   int
}

func Summarize(verdicts []domain.Verdict) BatchStats {
	stats := BatchStats{Total: len(verdicts)}
	for _, v := range verdicts {
		switch {
		case v.Status() == domain.StatusValid:
			stats.Valid++
		case v.Status() == domain.StatusInvalid && v.TimedOut:
			stats.Timeout++
		case v.Status() == domain.StatusInvalid:
			stats.Invalid++
		default:
			stats.Error++
		}
	}
	return stats
}

func (s BatchStats) record() {
	metrics.ValidationResults.Add("valid", float64(s.Valid))
	metrics.ValidationResults.Add("invalid", float64(s.Invalid))
	metrics.ValidationResults.Add("timeout", float64(s.Timeout))
	metrics.ValidationResults.Add("error", float64(s.Error))
}

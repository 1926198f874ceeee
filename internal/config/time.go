package config

import (
	"sync"
	"sync/atomic"
	"time"
)

const (
	defaultAcquireInterval  = time.Hour
	defaultValidateInterval = 5 * time.Minute
	defaultCleanupInterval  = 30 * time.Minute
)

// intervalSetting holds one cycle interval and the channels waiting for changes.
type intervalSetting struct {
	value     atomic.Value
	fallback  time.Duration
	mu        sync.Mutex
	listeners []chan time.Duration
}

func newIntervalSetting(fallback time.Duration) *intervalSetting {
	setting := &intervalSetting{fallback: fallback}
	setting.value.Store(fallback)
	return setting
}

func (s *intervalSetting) get() time.Duration {
	return s.value.Load().(time.Duration)
}

func (s *intervalSetting) set(interval time.Duration) {
	if interval <= 0 {
		interval = s.fallback
	}
	if s.get() == interval {
		return
	}
	s.value.Store(interval)

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ch := range s.listeners {
		select {
		case ch <- interval:
		default:
		}
	}
}

func (s *intervalSetting) updates() <-chan time.Duration {
	ch := make(chan time.Duration, 1)
	s.mu.Lock()
	s.listeners = append(s.listeners, ch)
	s.mu.Unlock()
	return ch
}

var (
	acquireInterval  = newIntervalSetting(defaultAcquireInterval)
	validateInterval = newIntervalSetting(defaultValidateInterval)
	cleanupInterval  = newIntervalSetting(defaultCleanupInterval)
)

func SetBetweenTime() {
	cfg := GetConfig()
	acquireInterval.set(intervalOrDefault(cfg.Scheduler.AcquireTimer, defaultAcquireInterval))
	validateInterval.set(intervalOrDefault(cfg.Scheduler.ValidateTimer, defaultValidateInterval))
	cleanupInterval.set(intervalOrDefault(cfg.Scheduler.CleanupTimer, defaultCleanupInterval))
}

// CalculateBetweenTime converts a timer into a duration of at least one second.
func CalculateBetweenTime(timer Timer) time.Duration {
	intervalMs := CalculateMillisecondsOfCheckingPeriod(timer)

	minInterval := uint64(1000)
	if intervalMs < minInterval {
		intervalMs = minInterval
	}

	return time.Duration(intervalMs) * time.Millisecond
}

func CalculateMillisecondsOfCheckingPeriod(timer Timer) uint64 {
	return uint64(timer.Days)*24*60*60*1000 +
		uint64(timer.Hours)*60*60*1000 +
		uint64(timer.Minutes)*60*1000 +
		uint64(timer.Seconds)*1000
}

func (t Timer) IsZero() bool {
	return t.Days == 0 && t.Hours == 0 && t.Minutes == 0 && t.Seconds == 0
}

func intervalOrDefault(timer Timer, fallback time.Duration) time.Duration {
	if timer.IsZero() {
		return fallback
	}
	return CalculateBetweenTime(timer)
}

func GetAcquireInterval() time.Duration {
	return acquireInterval.get()
}

func AcquireIntervalUpdates() <-chan time.Duration {
	return acquireInterval.updates()
}

func GetValidateInterval() time.Duration {
	return validateInterval.get()
}

func ValidateIntervalUpdates() <-chan time.Duration {
	return validateInterval.updates()
}

func GetCleanupInterval() time.Duration {
	return cleanupInterval.get()
}

func CleanupIntervalUpdates() <-chan time.Duration {
	return cleanupInterval.updates()
}

// Timeouts expressed in milliseconds in the settings file.

func GetCheckerTimeout() time.Duration {
	timeout := GetConfig().Checker.Timeout
	if timeout == 0 {
		return 10 * time.Second
	}
	return time.Duration(timeout) * time.Millisecond
}

func GetSourceTimeout() time.Duration {
	timeout := GetConfig().Sources.Timeout
	if timeout == 0 {
		return 20 * time.Second
	}
	return time.Duration(timeout) * time.Millisecond
}

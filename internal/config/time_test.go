package config

import (
	"testing"
	"time"
)

func TestCalculateMillisecondsOfCheckingPeriod(t *testing.T) {
	timer := Timer{Days: 1, Hours: 2, Minutes: 3, Seconds: 4}
	want := uint64((24*60*60 + 2*60*60 + 3*60 + 4) * 1000)

	if got := CalculateMillisecondsOfCheckingPeriod(timer); got != want {
		t.Fatalf("CalculateMillisecondsOfCheckingPeriod returned %d, want %d", got, want)
	}
}

func TestCalculateBetweenTime(t *testing.T) {
	t.Run("enforces minimum interval", func(t *testing.T) {
		if got := CalculateBetweenTime(Timer{}); got != time.Second {
			t.Fatalf("CalculateBetweenTime returned %s, want 1s", got)
		}
	})

	t.Run("returns configured duration", func(t *testing.T) {
		if got := CalculateBetweenTime(Timer{Minutes: 1, Seconds: 30}); got != 90*time.Second {
			t.Fatalf("CalculateBetweenTime returned %s, want 1m30s", got)
		}
	})
}

func TestSetBetweenTime(t *testing.T) {
	origCfg := GetConfig()
	origAcquire := GetAcquireInterval()
	origValidate := GetValidateInterval()
	origCleanup := GetCleanupInterval()

	t.Cleanup(func() {
		configValue.Store(origCfg)
		acquireInterval.value.Store(origAcquire)
		validateInterval.value.Store(origValidate)
		cleanupInterval.value.Store(origCleanup)
	})

	testCfg := Config{}
	testCfg.Scheduler.AcquireTimer = Timer{Hours: 2}
	testCfg.Scheduler.ValidateTimer = Timer{Seconds: 10}

	updates := ValidateIntervalUpdates()

	configValue.Store(testCfg)
	SetBetweenTime()

	if got := GetAcquireInterval(); got != 2*time.Hour {
		t.Fatalf("GetAcquireInterval returned %s, want 2h", got)
	}
	if got := GetValidateInterval(); got != 10*time.Second {
		t.Fatalf("GetValidateInterval returned %s, want 10s", got)
	}
	if got := GetCleanupInterval(); got != defaultCleanupInterval {
		t.Fatalf("GetCleanupInterval returned %s, want default %s", got, defaultCleanupInterval)
	}

	select {
	case got := <-updates:
		if got != 10*time.Second {
			t.Fatalf("validate listener received %s, want 10s", got)
		}
	default:
		if origValidate != 10*time.Second {
			t.Fatal("validate listener was not notified")
		}
	}
}

func TestGetCheckerTimeoutDefaults(t *testing.T) {
	origCfg := GetConfig()
	t.Cleanup(func() { configValue.Store(origCfg) })

	cfg := Config{}
	configValue.Store(cfg)
	if got := GetCheckerTimeout(); got != 10*time.Second {
		t.Fatalf("GetCheckerTimeout returned %s, want 10s", got)
	}

	cfg.Checker.Timeout = 2500
	configValue.Store(cfg)
	if got := GetCheckerTimeout(); got != 2500*time.Millisecond {
		t.Fatalf("GetCheckerTimeout returned %s, want 2.5s", got)
	}
}

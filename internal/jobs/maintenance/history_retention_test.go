package maintenance

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestPruneOnceUsesRetentionCutoff(t *testing.T) {
	now := time.Date(2024, 5, 10, 12, 0, 0, 0, time.UTC)

	var gotCutoff time.Time
	h := &HistoryRetention{
		prune: func(_ context.Context, cutoff time.Time) (int64, error) {
			gotCutoff = cutoff
			return 3, nil
		},
		retention: 48 * time.Hour,
		interval:  time.Hour,
		now:       func() time.Time { return now },
	}

	h.pruneOnce(context.Background())

	want := now.Add(-48 * time.Hour)
	if !gotCutoff.Equal(want) {
		t.Fatalf("cutoff = %v, want %v", gotCutoff, want)
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	calls := make(chan struct{}, 10)
	h := &HistoryRetention{
		prune: func(context.Context, time.Time) (int64, error) {
			calls <- struct{}{}
			return 0, errors.New("database unavailable")
		},
		retention: time.Hour,
		interval:  10 * time.Millisecond,
		now:       time.Now,
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		h.Run(ctx)
		close(done)
	}()

	for i := 0; i < 2; i++ {
		select {
		case <-calls:
		case <-time.After(2 * time.Second):
			t.Fatalf("prune call %d did not happen", i+1)
		}
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestResolveDuration(t *testing.T) {
	t.Setenv("RETENTION_TEST_VALID", "36h")
	if got := resolveDuration("RETENTION_TEST_VALID", time.Hour); got != 36*time.Hour {
		t.Fatalf("resolveDuration = %v, want 36h", got)
	}

	t.Setenv("RETENTION_TEST_BAD", "-5m")
	if got := resolveDuration("RETENTION_TEST_BAD", time.Hour); got != time.Hour {
		t.Fatalf("resolveDuration with negative value = %v, want fallback", got)
	}

	if got := resolveDuration("RETENTION_TEST_UNSET", 2*time.Hour); got != 2*time.Hour {
		t.Fatalf("resolveDuration unset = %v, want fallback", got)
	}
}

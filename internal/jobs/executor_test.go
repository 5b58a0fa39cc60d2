package jobs

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func TestRunVisitsEveryIndexOnce(t *testing.T) {
	for _, tc := range []struct {
		name string
		cfg  Config
		n    int
	}{
		{name: "serial", cfg: Config{Workers: 1}, n: 100},
		{name: "parallel", cfg: Config{Workers: 4, BatchSize: 8}, n: 1000},
		{name: "tiny", cfg: Config{Workers: 8}, n: 3},
		{name: "batch-of-one", cfg: Config{Workers: 3, BatchSize: 1}, n: 17},
	} {
		t.Run(tc.name, func(t *testing.T) {
			exec := New(tc.cfg)
			visits := make([]int32, tc.n)
			if err := exec.Run(context.Background(), "visit", tc.n, func(i int) {
				atomic.AddInt32(&visits[i], 1)
			}); err != nil {
				t.Fatalf("run failed: %v", err)
			}
			for i, v := range visits {
				if v != 1 {
					t.Fatalf("expected index %d visited once, got %d", i, v)
				}
			}
		})
	}
}

func TestRunIsABarrier(t *testing.T) {
	exec := New(Config{Workers: 4, BatchSize: 2})
	var done atomic.Int32
	if err := exec.Run(context.Background(), "slow", 16, func(i int) {
		time.Sleep(time.Millisecond)
		done.Add(1)
	}); err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if done.Load() != 16 {
		t.Fatalf("expected all work finished on return, got %d", done.Load())
	}
}

func TestRunReportsPanics(t *testing.T) {
	exec := New(Config{Workers: 2, BatchSize: 4})
	err := exec.Run(context.Background(), "explode", 20, func(i int) {
		if i == 13 {
			panic("boom")
		}
	})
	var panicErr *PanicError
	if !errors.As(err, &panicErr) {
		t.Fatalf("expected PanicError, got %v", err)
	}
	if panicErr.Stage != "explode" || panicErr.Index != 13 {
		t.Fatalf("unexpected panic details: %+v", panicErr)
	}
}

func TestRunHonoursCancellation(t *testing.T) {
	exec := New(Config{Workers: 2})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	var calls atomic.Int32
	err := exec.Run(ctx, "cancelled", 100, func(int) { calls.Add(1) })
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if calls.Load() != 0 {
		t.Fatalf("expected no work after cancellation, got %d calls", calls.Load())
	}
}

func TestObserverSeesStages(t *testing.T) {
	exec := New(Config{Workers: 2})
	var seen []string
	exec.Observe(func(stage string, n int, _ time.Duration) {
		seen = append(seen, stage)
	})
	exec.Run(context.Background(), "locate", 5, func(int) {})
	exec.Run(context.Background(), "empty", 0, func(int) {})
	if len(seen) != 1 || seen[0] != "locate" {
		t.Fatalf("expected only the non-empty stage to be observed, got %v", seen)
	}
}

package telemetry

import (
	"sync"
	"testing"
	"time"

	"crowdnav/logging"
)

func TestCountersConcurrentUpdates(t *testing.T) {
	counters := NewCounters()
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				counters.RecordSearch(3, j%10 != 0)
			}
		}()
	}
	wg.Wait()
	counters.RecordTick(1500*time.Microsecond, true)

	snapshot := counters.Snapshot()
	if snapshot.Searches != 800 {
		t.Fatalf("expected 800 searches, got %d", snapshot.Searches)
	}
	if snapshot.SearchFailures != 80 {
		t.Fatalf("expected 80 failures, got %d", snapshot.SearchFailures)
	}
	if snapshot.ExpandedTriangles != 2400 {
		t.Fatalf("expected 2400 expansions, got %d", snapshot.ExpandedTriangles)
	}
	if snapshot.Ticks != 1 || snapshot.BudgetOverruns != 1 || snapshot.TickDurationMicros != 1500 {
		t.Fatalf("unexpected tick stats: %+v", snapshot)
	}
}

func TestNilCountersAreSafe(t *testing.T) {
	var counters *Counters
	counters.RecordFunnel()
	counters.RecordReindex(4)
	if counters.Snapshot() != (Snapshot{}) {
		t.Fatalf("expected empty snapshot from nil counters")
	}
}

func TestWrapMetricsForwardsToRouterStore(t *testing.T) {
	store := logging.NewMetrics()
	metrics := WrapMetrics(store)
	metrics.Add("crowd.searches", 2)
	metrics.Add("crowd.searches", 3)
	metrics.Store("crowd.agents", 7)
	snapshot := store.Snapshot()
	if snapshot["crowd.searches"] != 5 || snapshot["crowd.agents"] != 7 {
		t.Fatalf("unexpected metrics %v", snapshot)
	}
}

func TestLoggerFunc(t *testing.T) {
	var got string
	logger := LoggerFunc(func(format string, args ...any) { got = format })
	logger.Printf("hello %d", 1)
	if got != "hello %d" {
		t.Fatalf("expected format to be forwarded, got %q", got)
	}
}

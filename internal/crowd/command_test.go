package crowd

import "testing"

func TestCommandBufferWraparound(t *testing.T) {
	buffer := NewCommandBuffer(3, nil)
	cmds := []Command{
		{AgentID: "a"},
		{AgentID: "b"},
		{AgentID: "c"},
	}
	for _, cmd := range cmds {
		if !buffer.Push(cmd) {
			t.Fatalf("expected push to succeed for %+v", cmd)
		}
	}
	if buffer.Push(Command{AgentID: "overflow"}) {
		t.Fatalf("expected push to fail when buffer full")
	}
	drained := buffer.Drain()
	if len(drained) != len(cmds) {
		t.Fatalf("expected %d commands, got %d", len(cmds), len(drained))
	}
	for i, cmd := range drained {
		if cmd.AgentID != cmds[i].AgentID {
			t.Fatalf("expected drain order %v, got %v", cmds[i].AgentID, cmd.AgentID)
		}
	}
	for _, cmd := range []Command{{AgentID: "d"}, {AgentID: "e"}} {
		if !buffer.Push(cmd) {
			t.Fatalf("expected push to succeed after drain for %+v", cmd)
		}
	}
	wrapped := buffer.Drain()
	if len(wrapped) != 2 || wrapped[0].AgentID != "d" || wrapped[1].AgentID != "e" {
		t.Fatalf("unexpected order after wraparound: %+v", wrapped)
	}
	if buffer.Drain() != nil {
		t.Fatalf("expected empty drain to return nil")
	}
}

type recordingMetrics struct {
	added  map[string]uint64
	stored map[string]uint64
}

func (m *recordingMetrics) Add(key string, delta uint64) {
	if m.added == nil {
		m.added = make(map[string]uint64)
	}
	m.added[key] += delta
}

func (m *recordingMetrics) Store(key string, value uint64) {
	if m.stored == nil {
		m.stored = make(map[string]uint64)
	}
	m.stored[key] = value
}

func TestCommandBufferMetrics(t *testing.T) {
	metrics := &recordingMetrics{}
	buffer := NewCommandBuffer(1, metrics)
	buffer.Push(Command{AgentID: "one"})
	if metrics.stored[commandBufferOccupancyMetricKey] != 1 {
		t.Fatalf("expected occupancy 1, got %d", metrics.stored[commandBufferOccupancyMetricKey])
	}
	buffer.Push(Command{AgentID: "two"})
	if metrics.added[commandBufferOverflowMetricKey] != 1 {
		t.Fatalf("expected one overflow, got %d", metrics.added[commandBufferOverflowMetricKey])
	}
	buffer.Drain()
	if metrics.stored[commandBufferOccupancyMetricKey] != 0 {
		t.Fatalf("expected occupancy 0 after drain, got %d", metrics.stored[commandBufferOccupancyMetricKey])
	}
}

func TestEnqueueThrottles(t *testing.T) {
	cfg := DefaultConfig()
	cfg.CommandCapacity = 3
	cfg.PerAgentLimit = 2
	w := New(cfg, Deps{})

	for i := 0; i < 2; i++ {
		if ok, reason := w.Enqueue(Command{AgentID: "a", Type: CommandStop}); !ok {
			t.Fatalf("expected command %d accepted, got %s", i, reason)
		}
	}
	if ok, reason := w.Enqueue(Command{AgentID: "a", Type: CommandStop}); ok || reason != CommandRejectQueueLimit {
		t.Fatalf("expected %s, got ok=%v reason=%s", CommandRejectQueueLimit, ok, reason)
	}
	if ok, _ := w.Enqueue(Command{AgentID: "b", Type: CommandStop}); !ok {
		t.Fatalf("expected command for another agent accepted")
	}
	if ok, reason := w.Enqueue(Command{AgentID: "c", Type: CommandStop}); ok || reason != CommandRejectQueueFull {
		t.Fatalf("expected %s, got ok=%v reason=%s", CommandRejectQueueFull, ok, reason)
	}

	if drained := w.drainCommands(); len(drained) != 3 {
		t.Fatalf("expected 3 staged commands, got %d", len(drained))
	}
	if ok, reason := w.Enqueue(Command{AgentID: "a", Type: CommandStop}); !ok {
		t.Fatalf("expected per-agent budget to reset after drain, got %s", reason)
	}
}

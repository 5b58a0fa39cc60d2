package crowd

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"

	"github.com/go-gl/mathgl/mgl64"

	"crowdnav/internal/bake"
	"crowdnav/internal/jobs"
	"crowdnav/internal/navmesh"
	"crowdnav/internal/navmesh/navmeshtest"
	"crowdnav/internal/steer"
	"crowdnav/internal/telemetry"
	"crowdnav/logging"
	"crowdnav/logging/navigation"
)

type eventLog struct {
	mu     sync.Mutex
	events []logging.Event
}

func (l *eventLog) Publish(_ context.Context, event logging.Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, event)
}

func (l *eventLog) count(eventType logging.EventType) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, event := range l.events {
		if event.Type == eventType {
			n++
		}
	}
	return n
}

func (l *eventLog) last(eventType logging.EventType) (logging.Event, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i := len(l.events) - 1; i >= 0; i-- {
		if l.events[i].Type == eventType {
			return l.events[i], true
		}
	}
	return logging.Event{}, false
}

func newTestWorld(t *testing.T, desc bake.Descriptor, cfg Config) (*World, *eventLog) {
	t.Helper()
	events := &eventLog{}
	w := New(cfg, Deps{Publisher: events, Counters: telemetry.NewCounters()})
	if err := w.ReplaceMesh(context.Background(), desc); err != nil {
		t.Fatalf("replace mesh: %v", err)
	}
	return w, events
}

func mustStep(t *testing.T, w *World) StepResult {
	t.Helper()
	result, err := w.Step(context.Background(), 0.1)
	if err != nil {
		t.Fatalf("step failed: %v", err)
	}
	return result
}

func mustAgent(t *testing.T, w *World, id string) AgentView {
	t.Helper()
	view, err := w.Agent(id)
	if err != nil {
		t.Fatalf("agent %s: %v", id, err)
	}
	return view
}

func TestWorldWithoutMesh(t *testing.T) {
	w := New(DefaultConfig(), Deps{})
	if w.Ready() {
		t.Fatalf("expected world without mesh to be unready")
	}
	if _, ok := w.Snapshot(); ok {
		t.Fatalf("expected snapshot to be unavailable")
	}
	if _, err := w.Agent("a"); !errors.Is(err, ErrNoMesh) {
		t.Fatalf("expected ErrNoMesh, got %v", err)
	}
	if _, err := w.Step(context.Background(), 0.1); !errors.Is(err, ErrNoMesh) {
		t.Fatalf("expected ErrNoMesh from step, got %v", err)
	}
	if _, err := w.Path(mgl64.Vec3{}, mgl64.Vec3{1, 0, 1}, steer.Settings{}); !errors.Is(err, ErrNoMesh) {
		t.Fatalf("expected ErrNoMesh from path, got %v", err)
	}
	if _, err := w.Spawn("a", mgl64.Vec3{}, steer.Settings{}); err != nil {
		t.Fatalf("expected spawn to stage before a mesh arrives, got %v", err)
	}
	if w.Pending() != 1 {
		t.Fatalf("expected staged spawn to wait for a mesh, got %d pending", w.Pending())
	}
}

func TestReplaceMeshRejectsInvalidBake(t *testing.T) {
	w := New(DefaultConfig(), Deps{})
	err := w.ReplaceMesh(context.Background(), bake.Descriptor{})
	if !errors.Is(err, bake.ErrInvalidDescriptor) {
		t.Fatalf("expected ErrInvalidDescriptor, got %v", err)
	}
	if w.Ready() {
		t.Fatalf("expected world to stay unready")
	}
}

func TestAgentCrossesSplitSquare(t *testing.T) {
	for _, workers := range []int{1, 4} {
		cfg := DefaultConfig()
		cfg.Jobs = jobs.Config{Workers: workers, BatchSize: 1}
		w, events := newTestWorld(t, navmeshtest.Square(10), cfg)

		start := mgl64.Vec3{8, 0, 2}
		dest := mgl64.Vec3{2, 0, 8}
		id, err := w.Spawn("", start, steer.Settings{})
		if err != nil {
			t.Fatalf("spawn: %v", err)
		}
		if err := w.MoveTo(id, dest); err != nil {
			t.Fatalf("move to: %v", err)
		}
		first := mustStep(t, w)
		if first.Searches != 1 || first.Smoothed != 1 {
			t.Fatalf("expected one search and one smoothing, got %+v", first)
		}
		view := mustAgent(t, w, id)
		if !view.HasPath || view.Waypoint != dest {
			t.Fatalf("expected a straight path to %v, got %+v", dest, view)
		}

		for i := 0; i < 200 && view.HasPath; i++ {
			mustStep(t, w)
			view = mustAgent(t, w, id)
		}
		if view.HasPath {
			t.Fatalf("expected agent to arrive, still walking at %v", view.Position)
		}
		stop := DefaultConfig().Steer.ReachEpsilon + steer.DefaultSettings().StoppingDistance
		if d := view.Position.Sub(dest).Len(); d > stop {
			t.Fatalf("expected to stop within %f of %v, got %v (%f)", stop, dest, view.Position, d)
		}
		if view.Triangle != 1 {
			t.Fatalf("expected agent to end in triangle 1, got %d", view.Triangle)
		}
		if events.count(navigation.EventAgentSpawned) != 1 {
			t.Fatalf("expected one spawn event, got %d", events.count(navigation.EventAgentSpawned))
		}
		if events.count(navigation.EventPathFailed) != 0 {
			t.Fatalf("expected no path failures")
		}
	}
}

func TestUnreachableDestination(t *testing.T) {
	tests := []struct {
		name     string
		cooldown int
		keepGoal bool
	}{
		{name: "retry after cooldown", cooldown: 3, keepGoal: true},
		{name: "no automatic retry", cooldown: 0, keepGoal: false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.RepathCooldownTicks = tc.cooldown
			w, events := newTestWorld(t, navmeshtest.Islands(), cfg)
			w.Spawn("a", mgl64.Vec3{0.2, 0, 0.2}, steer.Settings{Radius: 0.1})
			w.MoveTo("a", mgl64.Vec3{20.2, 0, 20.2})
			mustStep(t, w)

			event, ok := events.last(navigation.EventPathFailed)
			if !ok {
				t.Fatalf("expected a path failure event")
			}
			payload := event.Payload.(navigation.PathFailedPayload)
			if payload.StartTriangle != 0 || payload.GoalTriangle != 1 {
				t.Fatalf("unexpected failure payload %+v", payload)
			}
			if tc.keepGoal && payload.RetryTick != 1+uint64(tc.cooldown) {
				t.Fatalf("expected retry at tick %d, got %d", 1+tc.cooldown, payload.RetryTick)
			}

			searches := 0
			for i := 0; i < 4; i++ {
				searches += mustStep(t, w).Searches
			}
			if tc.keepGoal && searches != 1 {
				t.Fatalf("expected exactly one retry within four ticks, got %d", searches)
			}
			if !tc.keepGoal && searches != 0 {
				t.Fatalf("expected no retries, got %d", searches)
			}
			if view := mustAgent(t, w, "a"); view.HasPath {
				t.Fatalf("expected agent to stay without a path")
			}
		})
	}
}

func TestDespawnRemovesAgent(t *testing.T) {
	w, events := newTestWorld(t, navmeshtest.Square(10), DefaultConfig())
	w.Spawn("a", mgl64.Vec3{1, 0, 1}, steer.Settings{})
	w.Spawn("b", mgl64.Vec3{9, 0, 9}, steer.Settings{})
	mustStep(t, w)
	if views, _ := w.Snapshot(); len(views) != 2 {
		t.Fatalf("expected 2 agents, got %d", len(views))
	}

	w.Despawn("a")
	mustStep(t, w)
	if _, err := w.Agent("a"); !errors.Is(err, ErrUnknownAgent) {
		t.Fatalf("expected ErrUnknownAgent, got %v", err)
	}
	views, _ := w.Snapshot()
	if len(views) != 1 || views[0].ID != "b" {
		t.Fatalf("expected only b to remain, got %+v", views)
	}

	w.Spawn("c", mgl64.Vec3{2, 0, 1}, steer.Settings{})
	mustStep(t, w)
	if view := mustAgent(t, w, "c"); view.Triangle != 0 {
		t.Fatalf("expected reused slot to resolve triangle 0, got %d", view.Triangle)
	}
	if events.count(navigation.EventAgentDespawned) != 1 {
		t.Fatalf("expected one despawn event, got %d", events.count(navigation.EventAgentDespawned))
	}
}

func TestReplaceMeshResetsRoutes(t *testing.T) {
	w, events := newTestWorld(t, navmeshtest.Square(10), DefaultConfig())
	w.Spawn("a", mgl64.Vec3{8, 0, 2}, steer.Settings{})
	w.MoveTo("a", mgl64.Vec3{2, 0, 8})
	mustStep(t, w)
	if !mustAgent(t, w, "a").HasPath {
		t.Fatalf("expected a path before the swap")
	}

	if err := w.ReplaceMesh(context.Background(), navmeshtest.Square(20)); err != nil {
		t.Fatalf("replace mesh: %v", err)
	}
	view := mustAgent(t, w, "a")
	if view.HasPath || view.Triangle != navmesh.Unresolved {
		t.Fatalf("expected route and triangle reset, got %+v", view)
	}

	result := mustStep(t, w)
	if result.Searches != 1 {
		t.Fatalf("expected the agent to repath after the swap, got %d searches", result.Searches)
	}
	if !mustAgent(t, w, "a").HasPath {
		t.Fatalf("expected a fresh path after the swap")
	}
	if events.count(navigation.EventMeshReplaced) != 2 {
		t.Fatalf("expected two mesh replacement events, got %d", events.count(navigation.EventMeshReplaced))
	}
	if snap := w.Counters().Snapshot(); snap.MeshReplacements != 2 {
		t.Fatalf("expected two mesh replacements counted, got %d", snap.MeshReplacements)
	}
}

func TestVertexEditRepathsCrossingAgents(t *testing.T) {
	desc := navmeshtest.Grid(4, 4, 2)
	incident := len(navmeshtest.MustBuild(desc).Incident(6))
	w, _ := newTestWorld(t, desc, DefaultConfig())
	w.Spawn("a", mgl64.Vec3{1.5, 0, 0.5}, steer.Settings{})
	w.MoveTo("a", mgl64.Vec3{7, 0, 7})
	mustStep(t, w)
	if result := mustStep(t, w); result.Searches != 0 {
		t.Fatalf("expected no search on a quiet tick, got %d", result.Searches)
	}

	if err := w.MoveVertex(6, mgl64.Vec3{2.3, 0, 2.2}); err != nil {
		t.Fatalf("move vertex: %v", err)
	}
	result := mustStep(t, w)
	if result.DirtyTriangles != incident {
		t.Fatalf("expected %d dirty triangles, got %d", incident, result.DirtyTriangles)
	}
	if result.ReindexedCells == 0 {
		t.Fatalf("expected reindexed cells")
	}
	if result.Searches != 1 {
		t.Fatalf("expected the crossing agent to repath, got %d searches", result.Searches)
	}
	if next := mustStep(t, w); next.DirtyTriangles != 0 {
		t.Fatalf("expected dirty flags cleared, got %d", next.DirtyTriangles)
	}
}

func TestAreaEditBlocksPath(t *testing.T) {
	w, _ := newTestWorld(t, navmeshtest.Grid(3, 1, 2), DefaultConfig())
	settings := steer.Settings{Radius: 0.4, AreaMask: navmesh.AreaMask(1)}
	start := mgl64.Vec3{1, 0, 1}
	dest := mgl64.Vec3{5, 0, 1}

	waypoints, err := w.Path(start, dest, settings)
	if err != nil {
		t.Fatalf("expected a path before the edit, got %v", err)
	}
	if last := waypoints[len(waypoints)-1]; last != dest {
		t.Fatalf("expected destination last, got %v", last)
	}

	w.SetArea(2, 3)
	w.SetArea(3, 3)
	mustStep(t, w)
	if _, err := w.Path(start, dest, settings); !errors.Is(err, ErrNoPath) {
		t.Fatalf("expected ErrNoPath after the edit, got %v", err)
	}
	if _, err := w.Path(start, dest, steer.Settings{Radius: 0.4}); err != nil {
		t.Fatalf("expected agents allowed on every area to pass, got %v", err)
	}
}

func TestPathRespectsAgentWidth(t *testing.T) {
	w, _ := newTestWorld(t, navmeshtest.Hourglass(2), DefaultConfig())
	tests := []struct {
		name   string
		radius float64
		ok     bool
	}{
		{name: "fits", radius: 0.5, ok: true},
		{name: "too wide", radius: 1.5, ok: false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := w.Path(mgl64.Vec3{2, 0, 5}, mgl64.Vec3{28, 0, 5}, steer.Settings{Radius: tc.radius})
			if tc.ok && err != nil {
				t.Fatalf("expected a path, got %v", err)
			}
			if !tc.ok && !errors.Is(err, ErrNoPath) {
				t.Fatalf("expected ErrNoPath, got %v", err)
			}
		})
	}
}

func TestStepIsIndependentOfWorkerCount(t *testing.T) {
	run := func(workers int) []AgentView {
		cfg := DefaultConfig()
		cfg.Jobs = jobs.Config{Workers: workers, BatchSize: 1}
		w, _ := newTestWorld(t, navmeshtest.Grid(6, 6, 2), cfg)
		for i := 0; i < 6; i++ {
			id := string(rune('a' + i))
			z := 1 + 2*float64(i)
			w.Spawn(id, mgl64.Vec3{0.5, 0, z}, steer.Settings{Radius: 0.3})
			w.MoveTo(id, mgl64.Vec3{11.5, 0, 11 - z + 1})
		}
		for i := 0; i < 40; i++ {
			mustStep(t, w)
		}
		views, _ := w.Snapshot()
		return views
	}
	serial := run(1)
	parallel := run(4)
	if len(serial) != len(parallel) {
		t.Fatalf("expected %d agents, got %d", len(serial), len(parallel))
	}
	for i := range serial {
		if serial[i] != parallel[i] {
			t.Fatalf("expected identical state for %s, got %+v and %+v", serial[i].ID, serial[i], parallel[i])
		}
	}
}

func TestMovementStaysOnMesh(t *testing.T) {
	w, _ := newTestWorld(t, navmeshtest.Hourglass(2), DefaultConfig())
	w.Spawn("a", mgl64.Vec3{2, 0, 9}, steer.Settings{Radius: 0.4})
	w.MoveTo("a", mgl64.Vec3{28, 0, 1})
	for i := 0; i < 150; i++ {
		mustStep(t, w)
		view := mustAgent(t, w, "a")
		if !view.Triangle.Valid() {
			t.Fatalf("tick %d: expected agent on the mesh, got %+v", i, view)
		}
		p := view.Position
		if p[0] < -1e-6 || p[0] > 30+1e-6 || p[2] < -1e-6 || p[2] > 10+1e-6 || math.Abs(p[1]) > 1e-9 {
			t.Fatalf("tick %d: agent left the floor at %v", i, p)
		}
	}
}

func TestReplaceMeshDropsStaleEdits(t *testing.T) {
	w, _ := newTestWorld(t, navmeshtest.Grid(3, 1, 2), DefaultConfig())
	if gen := w.MeshGeneration(); gen != 1 {
		t.Fatalf("expected generation 1 after the first mesh, got %d", gen)
	}

	if err := w.SetArea(5, 7); err != nil {
		t.Fatalf("set area: %v", err)
	}
	if err := w.MoveVertex(2, mgl64.Vec3{4, 0, 0.5}); err != nil {
		t.Fatalf("move vertex: %v", err)
	}
	replacement := navmeshtest.Grid(4, 2, 2)
	if err := w.ReplaceMesh(context.Background(), replacement); err != nil {
		t.Fatalf("replace mesh: %v", err)
	}
	result := mustStep(t, w)

	if area := w.mesh.Triangles[5].Area; area != 0 {
		t.Fatalf("expected stale area edit to be dropped, got area %d", area)
	}
	if pos := w.mesh.Vertices[2].Position; pos != mgl64.Vec3(replacement.Vertices[2]) {
		t.Fatalf("expected stale vertex edit to be dropped, got %v", pos)
	}
	if result.DirtyTriangles != 0 {
		t.Fatalf("expected no dirty triangles, got %d", result.DirtyTriangles)
	}

	if err := w.SetArea(5, 7); err != nil {
		t.Fatalf("set area: %v", err)
	}
	mustStep(t, w)
	if area := w.mesh.Triangles[5].Area; area != 7 {
		t.Fatalf("expected edit issued against the new mesh to apply, got area %d", area)
	}
}

func TestWalkGroupDissolvesAfterDespawn(t *testing.T) {
	w, _ := newTestWorld(t, navmeshtest.Square(20), DefaultConfig())
	starts := map[string]mgl64.Vec3{"a": {2, 0, 5}, "b": {2, 0, 6.5}}
	for id, start := range starts {
		if _, err := w.Spawn(id, start, steer.Settings{}); err != nil {
			t.Fatalf("spawn %s: %v", id, err)
		}
		if err := w.MoveTo(id, mgl64.Vec3{18, 0, start[2]}); err != nil {
			t.Fatalf("move %s: %v", id, err)
		}
	}
	for i := 0; i < 3; i++ {
		mustStep(t, w)
	}
	a, b := mustAgent(t, w, "a"), mustAgent(t, w, "b")
	if a.Group == steer.NoGroup || a.Group != b.Group {
		t.Fatalf("expected a shared walk group, got %d and %d", a.Group, b.Group)
	}

	if err := w.Despawn("b"); err != nil {
		t.Fatalf("despawn: %v", err)
	}
	mustStep(t, w)
	if a = mustAgent(t, w, "a"); a.Group != steer.NoGroup {
		t.Fatalf("expected a lone walker to leave its group, got %d", a.Group)
	}
	if !a.HasPath {
		t.Fatalf("expected a to still be walking")
	}
}

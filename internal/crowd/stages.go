package crowd

import (
	"context"
	"fmt"
	"math"
	"time"

	"crowdnav/internal/funnel"
	"crowdnav/internal/geom"
	"crowdnav/internal/navmesh"
	"crowdnav/internal/pathfind"
	"crowdnav/internal/steer"
	"crowdnav/logging/navigation"
)

// Stage names reported to the executor observer.
const (
	StageDetect   = "detect"
	StageReindex  = "reindex"
	StageLocate   = "locate"
	StagePathfind = "pathfind"
	StageFunnel   = "funnel"
	StageMove     = "move"
	StageClear    = "clear"
)

// StepResult summarises one tick.
type StepResult struct {
	Tick           uint64        `json:"tick"`
	Commands       int           `json:"commands"`
	Agents         int           `json:"agents"`
	DirtyTriangles int           `json:"dirtyTriangles"`
	ReindexedCells int           `json:"reindexedCells"`
	Searches       int           `json:"searches"`
	Smoothed       int           `json:"smoothed"`
	Duration       time.Duration `json:"duration"`
}

// Step advances the world by dt seconds. Stages run in a fixed order with
// a barrier between them; only the publication at the end is visible to
// readers.
func (w *World) Step(ctx context.Context, dt float64) (StepResult, error) {
	w.tickMu.Lock()
	defer w.tickMu.Unlock()
	if w.mesh == nil {
		return StepResult{}, ErrNoMesh
	}
	started := w.deps.Clock.Now()
	w.tick++
	result := StepResult{Tick: w.tick}

	commands := w.drainCommands()
	result.Commands = len(commands)
	w.applyCommands(ctx, commands)

	if err := w.detectChanged(ctx); err != nil {
		return result, fmt.Errorf("tick %d: %w", w.tick, err)
	}
	result.DirtyTriangles = len(w.dirty)

	cells := w.grid.AffectedCells(w.dirty)
	if err := w.exec.Run(ctx, StageReindex, len(cells), func(i int) {
		w.grid.ReindexCell(cells[i], w.dirty, w.isDirty)
	}); err != nil {
		return result, fmt.Errorf("tick %d: %w", w.tick, err)
	}
	result.ReindexedCells = len(cells)
	if len(cells) > 0 {
		w.deps.Counters.RecordReindex(len(cells))
	}

	w.collect(func(a *agent) bool { return true })
	if err := w.exec.Run(ctx, StageLocate, len(w.work), func(i int) {
		w.locateAgent(&w.agents[w.work[i]])
	}); err != nil {
		return result, fmt.Errorf("tick %d: %w", w.tick, err)
	}
	result.Agents = len(w.work)

	w.collect(func(a *agent) bool {
		return a.hasDestination && a.needsPath && a.triangle.Valid() && w.tick >= a.retryTick
	})
	if err := w.exec.Run(ctx, StagePathfind, len(w.work), func(i int) {
		w.routeAgent(&w.agents[w.work[i]])
	}); err != nil {
		return result, fmt.Errorf("tick %d: %w", w.tick, err)
	}
	result.Searches = len(w.work)

	w.collect(func(a *agent) bool { return a.freshCorridor })
	if err := w.exec.Run(ctx, StageFunnel, len(w.work), func(i int) {
		w.smoothAgent(&w.agents[w.work[i]])
	}); err != nil {
		return result, fmt.Errorf("tick %d: %w", w.tick, err)
	}
	result.Smoothed = len(w.work)

	prev := w.published.Load()
	w.collect(func(a *agent) bool { return a.triangle.Valid() })
	if err := w.exec.Run(ctx, StageMove, len(w.work), func(i int) {
		w.moveAgent(w.work[i], prev, dt)
	}); err != nil {
		return result, fmt.Errorf("tick %d: %w", w.tick, err)
	}

	triangles := len(w.dirty)
	if err := w.exec.Run(ctx, StageClear, triangles+len(w.changedVertices), func(i int) {
		if i < triangles {
			id := w.dirty[i]
			w.grid.CommitTriangle(id)
			w.mesh.ClearTriangle(id)
			w.isDirty[id] = false
			return
		}
		w.mesh.ClearVertex(w.changedVertices[i-triangles])
	}); err != nil {
		return result, fmt.Errorf("tick %d: %w", w.tick, err)
	}
	w.dirty = w.dirty[:0]
	w.changedVertices = w.changedVertices[:0]

	w.publishLocked(ctx)
	result.Duration = w.deps.Clock.Now().Sub(started)
	return result, nil
}

// collect fills the work list with live slots matching keep.
func (w *World) collect(keep func(a *agent) bool) {
	w.work = w.work[:0]
	for i := range w.agents {
		if a := &w.agents[i]; a.live && keep(a) {
			w.work = append(w.work, i)
		}
	}
}

func (w *World) applyCommands(ctx context.Context, commands []Command) {
	generation := w.generation.Load()
	for _, cmd := range commands {
		if cmd.editsMesh() && cmd.MeshGeneration != generation {
			w.logf("[crowd] dropping stale %s issued for mesh generation %d (current %d)", cmd.Type, cmd.MeshGeneration, generation)
			continue
		}
		switch cmd.Type {
		case CommandSpawn:
			w.spawn(ctx, cmd)
		case CommandDespawn:
			w.despawn(ctx, cmd)
		case CommandMoveTo:
			a := w.lookup(cmd)
			if a == nil || cmd.MoveTo == nil {
				continue
			}
			a.destination, a.goal = w.locator.Snap(cmd.MoveTo.Destination)
			a.hasDestination = true
			a.needsPath = true
			a.retryTick = 0
			a.clearRoute()
		case CommandStop:
			a := w.lookup(cmd)
			if a == nil {
				continue
			}
			a.hasDestination = false
			a.needsPath = false
			a.clearRoute()
		case CommandMoveVertex:
			if cmd.Vertex == nil {
				continue
			}
			index := cmd.Vertex.Index
			already := index >= 0 && int(index) < len(w.mesh.Vertices) && w.mesh.VertexChanged(index)
			if err := w.mesh.MoveVertex(index, cmd.Vertex.Position); err != nil {
				w.logf("[crowd] move vertex %d: %v", index, err)
				continue
			}
			if !already {
				w.changedVertices = append(w.changedVertices, index)
			}
		case CommandSetArea:
			if cmd.Area == nil {
				continue
			}
			if err := w.mesh.SetArea(navmesh.TriangleID(cmd.Area.Triangle), cmd.Area.Area); err != nil {
				w.logf("[crowd] set area of triangle %d: %v", cmd.Area.Triangle, err)
			}
		default:
			w.logf("[crowd] unknown command type=%s agent=%s", cmd.Type, cmd.AgentID)
		}
	}
}

func (w *World) lookup(cmd Command) *agent {
	slot, ok := w.slots[cmd.AgentID]
	if !ok {
		w.logf("[crowd] %s for unknown agent=%s", cmd.Type, cmd.AgentID)
		return nil
	}
	return &w.agents[slot]
}

func (w *World) spawn(ctx context.Context, cmd Command) {
	if cmd.Spawn == nil || cmd.AgentID == "" {
		w.logf("[crowd] spawn without payload agent=%s", cmd.AgentID)
		return
	}
	if _, exists := w.slots[cmd.AgentID]; exists {
		w.logf("[crowd] duplicate spawn agent=%s", cmd.AgentID)
		return
	}
	var slot int
	if n := len(w.free); n > 0 {
		slot = w.free[n-1]
		w.free = w.free[:n-1]
	} else {
		w.agents = append(w.agents, agent{})
		slot = len(w.agents) - 1
	}
	position, triangle := w.locator.Snap(cmd.Spawn.Position)
	w.agents[slot] = agent{
		id:       cmd.AgentID,
		live:     true,
		settings: cmd.Spawn.Settings.Normalized(),
		state:    steer.State{Position: position, Yaw: cmd.Spawn.Yaw},
		triangle: triangle,
		goal:     navmesh.Unresolved,
	}
	w.slots[cmd.AgentID] = slot
	navigation.AgentSpawned(ctx, w.deps.Publisher, w.tick, navigation.AgentRef(cmd.AgentID), map[string]any{"slot": slot})
}

func (w *World) despawn(ctx context.Context, cmd Command) {
	slot, ok := w.slots[cmd.AgentID]
	if !ok {
		w.logf("[crowd] despawn for unknown agent=%s", cmd.AgentID)
		return
	}
	scratch := w.agents[slot].scratch
	w.agents[slot] = agent{scratch: scratch}
	delete(w.slots, cmd.AgentID)
	w.free = append(w.free, slot)
	navigation.AgentDespawned(ctx, w.deps.Publisher, w.tick, navigation.AgentRef(cmd.AgentID), nil)
}

// detectChanged refreshes the geometry of every dirty triangle and stages
// its new cell list.
func (w *World) detectChanged(ctx context.Context) error {
	if len(w.changedVertices) == 0 && !w.anyTriangleChanged() {
		return nil
	}
	if err := w.exec.Run(ctx, StageDetect, w.mesh.TriangleCount(), func(i int) {
		id := navmesh.TriangleID(i)
		if !w.mesh.TriangleDirty(id) {
			return
		}
		w.mesh.RefreshTriangle(id)
		w.grid.StageTriangle(w.mesh, id)
		w.isDirty[i] = true
	}); err != nil {
		return err
	}
	w.dirty = w.dirty[:0]
	for i, dirty := range w.isDirty {
		if dirty {
			w.dirty = append(w.dirty, navmesh.TriangleID(i))
		}
	}
	return nil
}

func (w *World) anyTriangleChanged() bool {
	for i := range w.mesh.Triangles {
		if w.mesh.Triangles[i].Changed {
			return true
		}
	}
	return false
}

func (w *World) locateAgent(a *agent) {
	a.triangle = w.locator.LocateFrom(a.triangle, geom.XZ(a.state.Position))
	a.unresolved = !a.triangle.Valid()
	if a.unresolved || !a.hasDestination || a.needsPath {
		return
	}
	for _, id := range a.corridor {
		if w.isDirty[id] {
			a.needsPath = true
			a.retryTick = 0
			return
		}
	}
}

func (w *World) routeAgent(a *agent) {
	a.destination, a.goal = w.locator.Snap(a.destination)
	if !a.goal.Valid() {
		w.failRoute(a, 0)
		return
	}
	if a.scratch == nil {
		a.scratch = pathfind.NewScratch(w.mesh.TriangleCount())
	}
	res := pathfind.Find(w.mesh, pathfind.Request{
		Start:    a.triangle,
		Goal:     a.goal,
		Radius:   a.settings.Radius,
		AreaMask: a.settings.AreaMask,
	}, a.scratch)
	w.deps.Counters.RecordSearch(res.Expanded, res.Found())
	if !res.Found() {
		w.failRoute(a, res.Expanded)
		return
	}
	a.corridor = res.Corridor
	a.freshCorridor = true
	a.needsPath = false
	a.retryTick = 0
}

// failRoute leaves the agent standing. With a cooldown the search is
// retried later, otherwise the destination is dropped.
func (w *World) failRoute(a *agent, expanded int) {
	a.clearRoute()
	a.failed = true
	a.failedExpanded = expanded
	if w.cfg.RepathCooldownTicks > 0 {
		a.retryTick = w.tick + uint64(w.cfg.RepathCooldownTicks)
		return
	}
	a.hasDestination = false
	a.needsPath = false
}

func (w *World) smoothAgent(a *agent) {
	a.freshCorridor = false
	waypoints, err := funnel.Smooth(w.mesh, funnel.Request{
		Corridor:    a.corridor,
		Start:       a.state.Position,
		Destination: a.destination,
		Radius:      a.settings.Radius,
	})
	if err != nil {
		w.logf("[crowd] smooth corridor agent=%s: %v", a.id, err)
		a.clearRoute()
		a.needsPath = true
		return
	}
	w.deps.Counters.RecordFunnel()
	a.waypoints = waypoints
	a.index = 0
	a.pathStart = geom.XZ(a.state.Position)
}

func (w *World) moveAgent(slot int, prev *publication, dt float64) {
	a := &w.agents[slot]
	in := steer.Input{
		Settings:  a.settings,
		Waypoints: a.waypoints,
		Index:     a.index,
		PathStart: a.pathStart,
	}
	if len(a.waypoints) > 0 {
		w.gatherSurroundings(slot, prev)
		in.Neighbors = a.neighbors
		in.Walls = a.walls
		in.Group, in.HasGroup = prev.groups.Centroid(slot)
	}
	out := w.director.Step(a.state, in, dt)
	a.index = out.Index
	a.direction = out.Direction

	// Keep the agent on the surface.
	position := out.State.Position
	p := geom.XZ(position)
	if tri := w.locator.LocateFrom(a.triangle, p); tri.Valid() {
		if w.mesh.Contains(tri, p, w.locator.Config().Epsilon) {
			position[1] = w.mesh.HeightAt(tri, p)
		} else {
			position = w.mesh.ClosestPoint(tri, position)
		}
		a.triangle = tri
	}
	out.State.Position = position
	a.state = out.State

	if out.Arrived && len(a.waypoints) > 0 {
		a.hasDestination = false
		a.needsPath = false
		a.clearRoute()
	}
}

// gatherSurroundings collects the previous-tick neighbours and the mesh
// boundary edges within reach of the agent's probes.
func (w *World) gatherSurroundings(slot int, prev *publication) {
	a := &w.agents[slot]
	cfg := w.director.Config()
	pos := geom.XZ(a.state.Position)
	probe := math.Max(a.settings.MoveSpeed*cfg.LookAhead, 2*a.settings.Radius)

	reach := probe + a.settings.AvoidanceRadius + w.cfg.NeighborRadius
	a.nearSlots = w.grid.AgentsNear(a.nearSlots[:0], pos, reach)
	a.neighbors = a.neighbors[:0]
	for _, other := range a.nearSlots {
		if other == slot || other >= len(prev.slots) || !prev.slots[other].live {
			continue
		}
		view := prev.slots[other]
		limit := reach + view.radius
		if geom.DistSq(pos, view.position) > limit*limit {
			continue
		}
		a.neighbors = append(a.neighbors, steer.Obstacle{
			Position: view.position,
			Velocity: view.velocity,
			Radius:   view.radius,
		})
	}

	a.nearTris = w.grid.TrianglesNear(a.nearTris[:0], pos, probe+a.settings.Radius)
	a.edges = a.edges[:0]
	for _, id := range a.nearTris {
		a.edges = w.mesh.BoundaryEdges(a.edges, id)
	}
	a.walls = a.walls[:0]
	for _, edge := range a.edges {
		p, q := w.mesh.EdgePoints(edge.Triangle, edge.Slot)
		a.walls = append(a.walls, steer.Wall{A: p, B: q})
	}
}

// publishLocked builds the immutable view of this tick, rebuilds cell
// residents and walk groups, and emits per-agent events.
func (w *World) publishLocked(ctx context.Context) {
	pub := &publication{
		tick:  w.tick,
		views: make([]AgentView, 0, len(w.slots)),
		byID:  make(map[string]int, len(w.slots)),
		slots: make([]slotView, len(w.agents)),
	}
	walkers := make([]steer.Walker, len(w.agents))
	w.grid.ResetResidents()
	for slot := range w.agents {
		a := &w.agents[slot]
		if !a.live {
			continue
		}
		pos := geom.XZ(a.state.Position)
		w.grid.AddResident(pos, slot)
		pub.slots[slot] = slotView{
			live:     true,
			position: pos,
			velocity: a.state.Velocity,
			radius:   a.settings.Radius,
		}
		walkers[slot] = steer.Walker{
			Position: pos,
			Heading:  geom.FromYaw(a.state.Yaw),
			Moving:   len(a.waypoints) > 0 && a.state.Velocity.Len() > 0,
		}
		w.reportEvents(ctx, a)
	}

	groupDistance := w.director.Config().GroupDistance
	pub.groups = w.director.FormGroups(walkers, func(dst []int, i int) []int {
		return w.grid.AgentsNear(dst, walkers[i].Position, groupDistance)
	})

	for slot := range w.agents {
		a := &w.agents[slot]
		if !a.live {
			continue
		}
		view := AgentView{
			ID:        a.id,
			Position:  a.state.Position,
			Direction: a.direction,
			HasPath:   len(a.waypoints) > 0,
			Triangle:  a.triangle,
			Group:     pub.groups.Of[slot],
		}
		if view.HasPath {
			view.Waypoint = a.waypoints[min(a.index, len(a.waypoints)-1)]
		}
		pub.byID[a.id] = len(pub.views)
		pub.views = append(pub.views, view)
	}
	w.deps.Counters.StoreAgents(len(pub.views))
	w.published.Store(pub)
}

func (w *World) reportEvents(ctx context.Context, a *agent) {
	actor := navigation.AgentRef(a.id)
	if a.failed {
		a.failed = false
		payload := navigation.PathFailedPayload{
			StartTriangle: int32(a.triangle),
			GoalTriangle:  int32(a.goal),
			Radius:        a.settings.Radius,
			Expanded:      a.failedExpanded,
		}
		if a.hasDestination {
			payload.RetryTick = a.retryTick
		}
		navigation.PathFailed(ctx, w.deps.Publisher, w.tick, actor, payload, nil)
	}
	switch {
	case a.unresolved && !a.reportedUnresolved:
		a.reportedUnresolved = true
		w.deps.Counters.RecordUnresolved()
		navigation.AgentUnresolved(ctx, w.deps.Publisher, w.tick, actor, navigation.UnresolvedPayload{
			X: a.state.Position[0],
			Y: a.state.Position[1],
			Z: a.state.Position[2],
		}, nil)
	case !a.unresolved:
		a.reportedUnresolved = false
	}
}

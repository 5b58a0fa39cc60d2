// Package crowd owns the agents of one navigation world and advances them
// in fixed ticks: staged commands, mesh change detection, reindexing,
// locating, pathfinding, smoothing, movement and publication.
package crowd

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/go-gl/mathgl/mgl64"

	"crowdnav/internal/bake"
	"crowdnav/internal/funnel"
	"crowdnav/internal/jobs"
	"crowdnav/internal/locate"
	"crowdnav/internal/navmesh"
	"crowdnav/internal/pathfind"
	"crowdnav/internal/spatial"
	"crowdnav/internal/steer"
	"crowdnav/internal/telemetry"
	"crowdnav/logging"
	"crowdnav/logging/navigation"
)

const (
	// CommandRejectQueueLimit indicates a command was dropped due to
	// per-agent queue throttling.
	CommandRejectQueueLimit = "queue_limit"
	// CommandRejectQueueFull indicates the global command buffer is saturated.
	CommandRejectQueueFull = "queue_full"
)

var (
	// ErrNoMesh is returned by queries made before the first mesh arrived.
	ErrNoMesh = errors.New("no navigation mesh loaded")
	// ErrUnknownAgent is returned for ids that are not in the world.
	ErrUnknownAgent = errors.New("unknown agent")
	// ErrNoPath is returned when no corridor connects two points.
	ErrNoPath = errors.New("no path")
	// ErrCommandRejected wraps the reason a command was not staged.
	ErrCommandRejected = errors.New("command rejected")
)

// Config tunes one world.
type Config struct {
	Jobs   jobs.Config    `json:"jobs" yaml:"jobs"`
	Grid   spatial.Config `json:"grid" yaml:"grid"`
	Locate locate.Config  `json:"locate" yaml:"locate"`
	Steer  steer.Config   `json:"steer" yaml:"steer"`

	CommandCapacity int `json:"commandCapacity" yaml:"commandCapacity"`
	PerAgentLimit   int `json:"perAgentLimit" yaml:"perAgentLimit"`
	WarningStep     int `json:"warningStep" yaml:"warningStep"`
	// RepathCooldownTicks delays the retry after a failed search. Zero
	// disables automatic retries: the agent drops its destination.
	RepathCooldownTicks int `json:"repathCooldownTicks" yaml:"repathCooldownTicks"`
	// NeighborRadius widens the neighbour query beyond the probe length.
	NeighborRadius float64 `json:"neighborRadius" yaml:"neighborRadius"`
}

// DefaultConfig returns the stock world configuration.
func DefaultConfig() Config {
	return Config{
		Jobs:                jobs.DefaultConfig(),
		Grid:                spatial.DefaultConfig(),
		Locate:              locate.DefaultConfig(),
		Steer:               steer.DefaultConfig(),
		CommandCapacity:     1024,
		PerAgentLimit:       8,
		WarningStep:         256,
		RepathCooldownTicks: 8,
		NeighborRadius:      2,
	}
}

func (cfg Config) normalized() Config {
	def := DefaultConfig()
	normalized := cfg
	if normalized.CommandCapacity <= 0 {
		normalized.CommandCapacity = def.CommandCapacity
	}
	if normalized.PerAgentLimit < 0 {
		normalized.PerAgentLimit = 0
	}
	if normalized.WarningStep < 0 {
		normalized.WarningStep = 0
	}
	if normalized.RepathCooldownTicks < 0 {
		normalized.RepathCooldownTicks = 0
	}
	if normalized.NeighborRadius <= 0 {
		normalized.NeighborRadius = def.NeighborRadius
	}
	return normalized
}

// Deps carries shared infrastructure. Every field is optional.
type Deps struct {
	Logger    telemetry.Logger
	Metrics   telemetry.Metrics
	Publisher logging.Publisher
	Counters  *telemetry.Counters
	Clock     logging.Clock
}

// AgentView is the published state of one agent.
type AgentView struct {
	ID        string             `json:"id"`
	Position  mgl64.Vec3         `json:"position"`
	Direction mgl64.Vec2         `json:"direction"`
	Waypoint  mgl64.Vec3         `json:"waypoint"`
	HasPath   bool               `json:"hasPath"`
	Triangle  navmesh.TriangleID `json:"triangle"`
	Group     int                `json:"group"`
}

// agent is one slot of the agent arena. During parallel stages a slot is
// written only by the job owning its index.
type agent struct {
	id       string
	live     bool
	settings steer.Settings
	state    steer.State
	triangle navmesh.TriangleID

	destination    mgl64.Vec3
	goal           navmesh.TriangleID
	hasDestination bool
	needsPath      bool
	retryTick      uint64
	corridor       []navmesh.TriangleID
	freshCorridor  bool
	waypoints      []mgl64.Vec3
	index          int
	pathStart      mgl64.Vec2
	direction      mgl64.Vec2
	scratch        *pathfind.Scratch

	failed             bool
	failedExpanded     int
	unresolved         bool
	reportedUnresolved bool

	nearSlots []int
	nearTris  []navmesh.TriangleID
	edges     []navmesh.BoundaryEdge
	neighbors []steer.Obstacle
	walls     []steer.Wall
}

func (a *agent) clearRoute() {
	a.corridor = nil
	a.freshCorridor = false
	a.waypoints = nil
	a.index = 0
	a.direction = mgl64.Vec2{}
}

// slotView is the previous-tick state other agents steer around.
type slotView struct {
	live     bool
	position mgl64.Vec2
	velocity mgl64.Vec2
	radius   float64
}

// publication is immutable once stored.
type publication struct {
	tick   uint64
	views  []AgentView
	byID   map[string]int
	slots  []slotView
	groups steer.Groups
}

// World owns the mesh, its spatial index and every agent. Commands may be
// enqueued from any goroutine; Step, ReplaceMesh and Path serialise on the
// tick lock.
type World struct {
	cfg      Config
	deps     Deps
	exec     *jobs.Executor
	director *steer.Director
	buffer   *CommandBuffer

	queueMu       sync.Mutex
	perAgentCount map[string]int
	dropCounts    map[string]uint64
	nextID        atomic.Uint64

	// generation counts mesh replacements; mesh edits carry the value
	// they were issued under.
	generation atomic.Uint64

	tickMu          sync.Mutex
	tick            uint64
	mesh            *navmesh.Mesh
	grid            *spatial.Grid
	locator         *locate.Locator
	agents          []agent
	slots           map[string]int
	free            []int
	isDirty         []bool
	dirty           []navmesh.TriangleID
	changedVertices []int32
	work            []int
	queryScratch    *pathfind.Scratch

	ready     atomic.Bool
	published atomic.Pointer[publication]
}

// New constructs an empty world. It is not ready until ReplaceMesh
// succeeds.
func New(cfg Config, deps Deps) *World {
	cfg = cfg.normalized()
	if deps.Publisher == nil {
		deps.Publisher = logging.NopPublisher()
	}
	if deps.Metrics == nil {
		deps.Metrics = telemetry.NopMetrics()
	}
	if deps.Clock == nil {
		deps.Clock = logging.SystemClock{}
	}
	w := &World{
		cfg:           cfg,
		deps:          deps,
		exec:          jobs.New(cfg.Jobs),
		director:      steer.New(cfg.Steer),
		buffer:        NewCommandBuffer(cfg.CommandCapacity, deps.Metrics),
		perAgentCount: make(map[string]int),
		dropCounts:    make(map[string]uint64),
		slots:         make(map[string]int),
	}
	w.published.Store(&publication{byID: map[string]int{}})
	return w
}

// Config returns the effective configuration.
func (w *World) Config() Config { return w.cfg }

// Counters returns the statistics sink, which may be nil.
func (w *World) Counters() *telemetry.Counters { return w.deps.Counters }

// Ready reports whether a mesh has been loaded.
func (w *World) Ready() bool {
	return w != nil && w.ready.Load()
}

// CurrentTick returns the number of the last published tick.
func (w *World) CurrentTick() uint64 {
	return w.published.Load().tick
}

// Snapshot returns the agents published by the last tick in slot order.
func (w *World) Snapshot() ([]AgentView, bool) {
	if !w.Ready() {
		return nil, false
	}
	pub := w.published.Load()
	views := make([]AgentView, len(pub.views))
	copy(views, pub.views)
	return views, true
}

// Agent returns the published state of one agent.
func (w *World) Agent(id string) (AgentView, error) {
	if !w.Ready() {
		return AgentView{}, ErrNoMesh
	}
	pub := w.published.Load()
	idx, ok := pub.byID[id]
	if !ok {
		return AgentView{}, fmt.Errorf("%w: %s", ErrUnknownAgent, id)
	}
	return pub.views[idx], nil
}

// ReplaceMesh builds a mesh from desc and swaps it in between ticks. Every
// agent loses its triangle, corridor and waypoints and repaths toward its
// destination on the next tick.
func (w *World) ReplaceMesh(ctx context.Context, desc bake.Descriptor) error {
	mesh, err := navmesh.Build(desc)
	if err != nil {
		return fmt.Errorf("build mesh: %w", err)
	}
	grid := spatial.Build(mesh, w.cfg.Grid)
	locator := locate.New(mesh, grid, w.cfg.Locate)

	w.tickMu.Lock()
	defer w.tickMu.Unlock()

	w.mesh = mesh
	w.grid = grid
	w.locator = locator
	w.generation.Add(1)
	w.isDirty = make([]bool, mesh.TriangleCount())
	w.dirty = nil
	w.changedVertices = nil
	w.queryScratch = nil
	agents := 0
	for i := range w.agents {
		a := &w.agents[i]
		if !a.live {
			continue
		}
		agents++
		a.triangle = navmesh.Unresolved
		a.goal = navmesh.Unresolved
		a.clearRoute()
		a.scratch = nil
		a.needsPath = a.hasDestination
		a.retryTick = 0
		a.reportedUnresolved = false
	}
	w.publishLocked(ctx)
	w.ready.Store(true)

	w.deps.Counters.RecordMeshReplaced()
	navigation.MeshReplaced(ctx, w.deps.Publisher, w.tick, navigation.MeshReplacedPayload{
		SceneID:   mesh.SceneID,
		Vertices:  len(mesh.Vertices),
		Triangles: mesh.TriangleCount(),
		Cells:     grid.Len(),
		Agents:    agents,
	}, nil)
	if w.deps.Logger != nil {
		w.deps.Logger.Printf("[crowd] mesh replaced scene=%d triangles=%d cells=%d agents=%d", mesh.SceneID, mesh.TriangleCount(), grid.Len(), agents)
	}
	return nil
}

// Path answers a one-shot query between two points for an agent with the
// given settings. It does not touch any agent.
func (w *World) Path(start, destination mgl64.Vec3, settings steer.Settings) ([]mgl64.Vec3, error) {
	w.tickMu.Lock()
	defer w.tickMu.Unlock()
	if w.mesh == nil {
		return nil, ErrNoMesh
	}
	settings = settings.Normalized()
	from, startTri := w.locator.Snap(start)
	to, goalTri := w.locator.Snap(destination)
	if !startTri.Valid() || !goalTri.Valid() {
		return nil, ErrNoPath
	}
	if w.queryScratch == nil {
		w.queryScratch = pathfind.NewScratch(w.mesh.TriangleCount())
	}
	res := pathfind.Find(w.mesh, pathfind.Request{
		Start:    startTri,
		Goal:     goalTri,
		Radius:   settings.Radius,
		AreaMask: settings.AreaMask,
	}, w.queryScratch)
	w.deps.Counters.RecordSearch(res.Expanded, res.Found())
	if !res.Found() {
		return nil, fmt.Errorf("%w: triangle %d to %d", ErrNoPath, startTri, goalTri)
	}
	waypoints, err := funnel.Smooth(w.mesh, funnel.Request{
		Corridor:    res.Corridor,
		Start:       from,
		Destination: to,
		Radius:      settings.Radius,
	})
	if err != nil {
		return nil, fmt.Errorf("smooth corridor: %w", err)
	}
	w.deps.Counters.RecordFunnel()
	return waypoints, nil
}

// MeshGeneration returns the number of meshes loaded so far. Vertex and
// area edits staged under an older generation are dropped.
func (w *World) MeshGeneration() uint64 {
	return w.generation.Load()
}

// Pending reports the number of staged commands.
func (w *World) Pending() int {
	return w.buffer.Len()
}

// Enqueue stages a command for the next tick, enforcing per-agent
// throttling and capacity limits. It reports the reject reason on failure.
func (w *World) Enqueue(cmd Command) (bool, string) {
	if w == nil {
		return false, CommandRejectQueueFull
	}
	if cmd.IssuedAt.IsZero() {
		cmd.IssuedAt = w.deps.Clock.Now()
	}
	cmd.OriginTick = w.CurrentTick()
	if cmd.editsMesh() && cmd.MeshGeneration == 0 {
		cmd.MeshGeneration = w.MeshGeneration()
	}
	reason := ""
	var dropCount uint64
	w.queueMu.Lock()
	if w.cfg.PerAgentLimit > 0 && cmd.AgentID != "" {
		count := w.perAgentCount[cmd.AgentID]
		if count >= w.cfg.PerAgentLimit {
			reason = CommandRejectQueueLimit
			dropCount = w.incrementDropLocked(cmd.AgentID)
		} else {
			w.perAgentCount[cmd.AgentID] = count + 1
		}
	}
	if reason == "" {
		if !w.buffer.Push(cmd) {
			reason = CommandRejectQueueFull
			dropCount = w.incrementDropLocked(cmd.AgentID)
		} else if w.cfg.WarningStep > 0 {
			length := w.buffer.Len()
			if length >= w.cfg.WarningStep && length%w.cfg.WarningStep == 0 && w.deps.Logger != nil {
				w.deps.Logger.Printf("[crowd] command queue length=%d capacity=%d", length, w.cfg.CommandCapacity)
			}
		}
	}
	w.queueMu.Unlock()
	if reason != "" {
		w.reportDrop(reason, cmd, dropCount)
		return false, reason
	}
	return true, ""
}

func (w *World) enqueue(cmd Command) error {
	if ok, reason := w.Enqueue(cmd); !ok {
		return fmt.Errorf("%w: %s", ErrCommandRejected, reason)
	}
	return nil
}

// NextAgentID returns a fresh generated agent id.
func (w *World) NextAgentID() string {
	return "agent-" + strconv.FormatUint(w.nextID.Add(1), 10)
}

// Spawn stages a new agent and returns its id. An empty id is replaced
// with a generated one.
func (w *World) Spawn(id string, position mgl64.Vec3, settings steer.Settings) (string, error) {
	if id == "" {
		id = w.NextAgentID()
	}
	err := w.enqueue(Command{
		AgentID: id,
		Type:    CommandSpawn,
		Spawn:   &SpawnCommand{Position: position, Settings: settings},
	})
	return id, err
}

// Despawn stages the removal of an agent.
func (w *World) Despawn(id string) error {
	return w.enqueue(Command{AgentID: id, Type: CommandDespawn})
}

// MoveTo stages a new destination for an agent.
func (w *World) MoveTo(id string, destination mgl64.Vec3) error {
	return w.enqueue(Command{AgentID: id, Type: CommandMoveTo, MoveTo: &MoveToCommand{Destination: destination}})
}

// Stop stages dropping an agent's destination.
func (w *World) Stop(id string) error {
	return w.enqueue(Command{AgentID: id, Type: CommandStop})
}

// MoveVertex stages a mesh vertex edit.
func (w *World) MoveVertex(index int32, position mgl64.Vec3) error {
	return w.enqueue(Command{Type: CommandMoveVertex, Vertex: &VertexCommand{Index: index, Position: position}})
}

// SetArea stages a triangle area edit.
func (w *World) SetArea(triangle int32, area uint8) error {
	return w.enqueue(Command{Type: CommandSetArea, Area: &AreaCommand{Triangle: triangle, Area: area}})
}

func (w *World) drainCommands() []Command {
	w.queueMu.Lock()
	defer w.queueMu.Unlock()
	commands := w.buffer.Drain()
	if len(w.perAgentCount) > 0 {
		w.perAgentCount = make(map[string]int)
	}
	return commands
}

func (w *World) incrementDropLocked(agentID string) uint64 {
	if agentID == "" {
		return 0
	}
	count := w.dropCounts[agentID] + 1
	w.dropCounts[agentID] = count
	return count
}

func (w *World) reportDrop(reason string, cmd Command, count uint64) {
	w.deps.Metrics.Add("crowd_command_drop_"+reason, 1)
	if reason == CommandRejectQueueLimit && count > 0 && count&(count-1) == 0 && w.deps.Logger != nil {
		w.deps.Logger.Printf(
			"[backpressure] dropping command agent=%s type=%s count=%d limit=%d",
			cmd.AgentID,
			cmd.Type,
			count,
			w.cfg.PerAgentLimit,
		)
	}
}

func (w *World) logf(format string, args ...any) {
	if w.deps.Logger != nil {
		w.deps.Logger.Printf(format, args...)
	}
}

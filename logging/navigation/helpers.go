package navigation

import (
	"context"

	"crowdnav/logging"
)

const (
	// EventPathFailed is emitted when a search exhausts its frontier.
	EventPathFailed logging.EventType = "navigation.path_failed"
	// EventAgentUnresolved is emitted when an agent's position cannot be mapped onto the mesh.
	EventAgentUnresolved logging.EventType = "navigation.agent_unresolved"
	// EventMeshReplaced is emitted after a new bake has been swapped in.
	EventMeshReplaced logging.EventType = "navigation.mesh_replaced"
	// EventTickBudgetOverrun is emitted when a tick runs longer than its budget.
	EventTickBudgetOverrun logging.EventType = "navigation.tick_budget_overrun"
	// EventAgentSpawned is emitted when an agent joins the world.
	EventAgentSpawned logging.EventType = "navigation.agent_spawned"
	// EventAgentDespawned is emitted when an agent leaves the world.
	EventAgentDespawned logging.EventType = "navigation.agent_despawned"
)

// AgentRef names an agent as an event actor.
func AgentRef(id string) logging.EntityRef {
	return logging.EntityRef{ID: id, Kind: logging.EntityKindAgent}
}

// PathFailedPayload describes a failed search.
type PathFailedPayload struct {
	StartTriangle int32   `json:"startTriangle"`
	GoalTriangle  int32   `json:"goalTriangle"`
	Radius        float64 `json:"radius"`
	Expanded      int     `json:"expanded"`
	RetryTick     uint64  `json:"retryTick,omitempty"`
}

// PathFailed publishes a warning when no corridor connects an agent to its destination.
func PathFailed(ctx context.Context, pub logging.Publisher, tick uint64, actor logging.EntityRef, payload PathFailedPayload, extra map[string]any) {
	if pub == nil {
		return
	}
	pub.Publish(ctx, logging.Event{
		Type:     EventPathFailed,
		Tick:     tick,
		Actor:    actor,
		Severity: logging.SeverityWarn,
		Category: logging.CategoryNavigation,
		Payload:  payload,
		Extra:    extra,
	})
}

// UnresolvedPayload carries the position that could not be located.
type UnresolvedPayload struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// AgentUnresolved publishes a warning when the locator gives up on an agent.
func AgentUnresolved(ctx context.Context, pub logging.Publisher, tick uint64, actor logging.EntityRef, payload UnresolvedPayload, extra map[string]any) {
	if pub == nil {
		return
	}
	pub.Publish(ctx, logging.Event{
		Type:     EventAgentUnresolved,
		Tick:     tick,
		Actor:    actor,
		Severity: logging.SeverityWarn,
		Category: logging.CategoryNavigation,
		Payload:  payload,
		Extra:    extra,
	})
}

// MeshReplacedPayload summarises the new bake.
type MeshReplacedPayload struct {
	SceneID   uint32 `json:"sceneId"`
	Vertices  int    `json:"vertices"`
	Triangles int    `json:"triangles"`
	Cells     int    `json:"cells"`
	Agents    int    `json:"agents"`
}

// MeshReplaced publishes an info event once a bake swap completes.
func MeshReplaced(ctx context.Context, pub logging.Publisher, tick uint64, payload MeshReplacedPayload, extra map[string]any) {
	if pub == nil {
		return
	}
	pub.Publish(ctx, logging.Event{
		Type:     EventMeshReplaced,
		Tick:     tick,
		Actor:    logging.EntityRef{Kind: logging.EntityKindMesh},
		Severity: logging.SeverityInfo,
		Category: logging.CategoryNavigation,
		Payload:  payload,
		Extra:    extra,
	})
}

// TickBudgetOverrunPayload captures timing details for a tick budget breach.
type TickBudgetOverrunPayload struct {
	DurationMillis int64   `json:"durationMillis"`
	BudgetMillis   int64   `json:"budgetMillis"`
	Ratio          float64 `json:"ratio"`
	Streak         uint64  `json:"streak"`
}

// TickBudgetOverrun publishes a warning when a tick exceeds the configured budget.
func TickBudgetOverrun(ctx context.Context, pub logging.Publisher, tick uint64, payload TickBudgetOverrunPayload, extra map[string]any) {
	if pub == nil {
		return
	}
	pub.Publish(ctx, logging.Event{
		Type:     EventTickBudgetOverrun,
		Tick:     tick,
		Actor:    logging.EntityRef{Kind: logging.EntityKindWorld},
		Severity: logging.SeverityWarn,
		Category: logging.CategorySystem,
		Payload:  payload,
		Extra:    extra,
	})
}

// AgentSpawned publishes a debug event for a new agent.
func AgentSpawned(ctx context.Context, pub logging.Publisher, tick uint64, actor logging.EntityRef, extra map[string]any) {
	if pub == nil {
		return
	}
	pub.Publish(ctx, logging.Event{
		Type:     EventAgentSpawned,
		Tick:     tick,
		Actor:    actor,
		Severity: logging.SeverityDebug,
		Category: logging.CategoryNavigation,
		Extra:    extra,
	})
}

// AgentDespawned publishes a debug event for a removed agent.
func AgentDespawned(ctx context.Context, pub logging.Publisher, tick uint64, actor logging.EntityRef, extra map[string]any) {
	if pub == nil {
		return
	}
	pub.Publish(ctx, logging.Event{
		Type:     EventAgentDespawned,
		Tick:     tick,
		Actor:    actor,
		Severity: logging.SeverityDebug,
		Category: logging.CategoryNavigation,
		Extra:    extra,
	})
}

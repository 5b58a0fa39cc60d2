// Package steer moves agents along their waypoints: waypoint advancement,
// probe-fan obstacle avoidance, turn-rate limiting and walk groups.
package steer

import (
	"math"

	"github.com/go-gl/mathgl/mgl64"

	"crowdnav/internal/geom"
	"crowdnav/internal/navmesh"
)

// Settings are the per-agent movement parameters.
type Settings struct {
	Radius           float64          `json:"radius" yaml:"radius"`
	Height           float64          `json:"height" yaml:"height"`
	MoveSpeed        float64          `json:"moveSpeed" yaml:"moveSpeed"`
	TurnSpeed        float64          `json:"turnSpeed" yaml:"turnSpeed"`
	StoppingDistance float64          `json:"stoppingDistance" yaml:"stoppingDistance"`
	AvoidanceRadius  float64          `json:"avoidanceRadius" yaml:"avoidanceRadius"`
	AreaMask         navmesh.AreaMask `json:"areaMask" yaml:"areaMask"`
}

// DefaultSettings returns a human-sized agent.
func DefaultSettings() Settings {
	return Settings{
		Radius:           0.5,
		Height:           2,
		MoveSpeed:        3.5,
		TurnSpeed:        2 * math.Pi,
		StoppingDistance: 0.1,
		AvoidanceRadius:  0.5,
		AreaMask:         navmesh.AllAreas,
	}
}

// Normalized fills unset settings from the defaults.
func (s Settings) Normalized() Settings {
	def := DefaultSettings()
	normalized := s
	if normalized.Radius <= 0 {
		normalized.Radius = def.Radius
	}
	if normalized.Height <= 0 {
		normalized.Height = def.Height
	}
	if normalized.MoveSpeed <= 0 {
		normalized.MoveSpeed = def.MoveSpeed
	}
	if normalized.TurnSpeed <= 0 {
		normalized.TurnSpeed = def.TurnSpeed
	}
	if normalized.StoppingDistance < 0 {
		normalized.StoppingDistance = 0
	}
	if normalized.AvoidanceRadius <= 0 {
		normalized.AvoidanceRadius = normalized.Radius
	}
	if normalized.AreaMask == 0 {
		normalized.AreaMask = navmesh.AllAreas
	}
	return normalized
}

// Config tunes steering for every agent of a world.
type Config struct {
	ProbeStep     float64 `json:"probeStep" yaml:"probeStep"`
	MaxDeflection float64 `json:"maxDeflection" yaml:"maxDeflection"`
	LookAhead     float64 `json:"lookAhead" yaml:"lookAhead"`
	ReachEpsilon  float64 `json:"reachEpsilon" yaml:"reachEpsilon"`
	GroupDistance float64 `json:"groupDistance" yaml:"groupDistance"`
	GroupAngle    float64 `json:"groupAngle" yaml:"groupAngle"`
	GroupPull     float64 `json:"groupPull" yaml:"groupPull"`
}

// DefaultConfig returns the stock steering configuration.
func DefaultConfig() Config {
	return Config{
		ProbeStep:     math.Pi / 12,
		MaxDeflection: math.Pi / 2,
		LookAhead:     1,
		ReachEpsilon:  0.05,
		GroupDistance: 2,
		GroupAngle:    math.Pi / 6,
		GroupPull:     0.2,
	}
}

func (cfg Config) normalized() Config {
	def := DefaultConfig()
	normalized := cfg
	if normalized.ProbeStep <= 0 {
		normalized.ProbeStep = def.ProbeStep
	}
	if normalized.MaxDeflection < 0 {
		normalized.MaxDeflection = 0
	}
	if normalized.MaxDeflection > math.Pi {
		normalized.MaxDeflection = math.Pi
	}
	if normalized.LookAhead <= 0 {
		normalized.LookAhead = def.LookAhead
	}
	if normalized.ReachEpsilon <= 0 {
		normalized.ReachEpsilon = def.ReachEpsilon
	}
	if normalized.GroupDistance < 0 {
		normalized.GroupDistance = 0
	}
	if normalized.GroupPull < 0 {
		normalized.GroupPull = 0
	}
	return normalized
}

// State is the kinematic state of one agent.
type State struct {
	Position mgl64.Vec3
	Yaw      float64
	Velocity mgl64.Vec2
}

// Input is everything one agent's step reads. Neighbours and walls come
// from the previous tick's publication.
type Input struct {
	Settings  Settings
	Waypoints []mgl64.Vec3
	Index     int
	// PathStart is where the agent stood when its waypoints were built;
	// it stands in for the waypoint before the first one.
	PathStart mgl64.Vec2
	Neighbors []Obstacle
	Walls     []Wall
	// Group is the centroid of the agent's walk group when it has one.
	Group    mgl64.Vec2
	HasGroup bool
}

// Output is the result of one step.
type Output struct {
	State     State
	Index     int
	Direction mgl64.Vec2
	Arrived   bool
	Blocked   bool
}

// Director steps agents. It is stateless apart from its configuration and
// is safe for concurrent use.
type Director struct {
	cfg Config
}

// New returns a director with normalized configuration.
func New(cfg Config) *Director {
	return &Director{cfg: cfg.normalized()}
}

// Config returns the effective configuration.
func (d *Director) Config() Config { return d.cfg }

// Step advances one agent by dt seconds.
func (d *Director) Step(state State, in Input, dt float64) Output {
	out := Output{State: state, Index: in.Index}
	out.State.Velocity = mgl64.Vec2{}
	if len(in.Waypoints) == 0 || dt <= 0 {
		out.Arrived = len(in.Waypoints) == 0
		return out
	}
	settings := in.Settings.Normalized()
	pos := geom.XZ(state.Position)

	index := Advance(pos, in.Waypoints, in.Index, in.PathStart, d.cfg.ReachEpsilon)
	out.Index = index
	last := geom.XZ(in.Waypoints[len(in.Waypoints)-1])
	if index == len(in.Waypoints)-1 && Arrived(pos, last, settings.StoppingDistance) {
		out.Arrived = true
		return out
	}

	target := geom.XZ(in.Waypoints[index])
	toTarget := target.Sub(pos)
	desired, ok := geom.Normalize(toTarget)
	if !ok {
		return out
	}
	if in.HasGroup && d.cfg.GroupPull > 0 {
		if pulled, ok := geom.Normalize(desired.Add(in.Group.Sub(pos).Mul(d.cfg.GroupPull))); ok && pulled.Dot(desired) > 0 {
			desired = pulled
		}
	}

	probeLength := math.Max(settings.MoveSpeed*d.cfg.LookAhead, 2*settings.Radius)
	probeLength = math.Min(probeLength, toTarget.Len())
	choice := d.Avoid(pos, desired, probeLength, settings, in.Neighbors, reachableWalls(in.Walls, target, settings.Radius))
	out.Direction = choice.Direction
	out.Blocked = choice.Clearance <= 0

	// Turn toward the chosen heading at most TurnSpeed*dt.
	yaw := TurnToward(state.Yaw, geom.Yaw(choice.Direction), settings.TurnSpeed*dt)
	heading := geom.FromYaw(yaw)
	out.State.Yaw = yaw

	step := settings.MoveSpeed * dt
	if index == len(in.Waypoints)-1 {
		step = math.Min(step, math.Max(toTarget.Len()-settings.StoppingDistance, 0))
	} else {
		step = math.Min(step, toTarget.Len())
	}
	if !choice.Clear {
		step = math.Min(step, math.Max(choice.Clearance, 0))
	}
	if step <= 0 {
		return out
	}
	next := pos.Add(heading.Mul(step))
	out.State.Position = geom.Lift(next, state.Position[1])
	out.State.Velocity = heading.Mul(step / dt)
	return out
}

// reachableWalls drops walls that crowd the target itself; the planner
// already accepted that point.
func reachableWalls(walls []Wall, target mgl64.Vec2, radius float64) []Wall {
	kept := walls[:0:0]
	for _, wall := range walls {
		if geom.SegmentDistSq(target, wall.A, wall.B) > radius*radius {
			kept = append(kept, wall)
		}
	}
	return kept
}

// Advance returns the index of the waypoint the agent should head for. A
// waypoint is passed when the agent is within eps of it, or when the agent
// is both closer to the following waypoint and farther from the preceding
// one than the waypoint itself is. The last waypoint is never passed.
func Advance(pos mgl64.Vec2, waypoints []mgl64.Vec3, index int, start mgl64.Vec2, eps float64) int {
	if index < 0 {
		index = 0
	}
	for index < len(waypoints)-1 {
		w := geom.XZ(waypoints[index])
		if geom.DistSq(pos, w) <= eps*eps {
			index++
			continue
		}
		next := geom.XZ(waypoints[index+1])
		prev := start
		if index > 0 {
			prev = geom.XZ(waypoints[index-1])
		}
		closerToNext := geom.DistSq(pos, next) < geom.DistSq(w, next)
		fartherFromPrev := geom.DistSq(pos, prev) > geom.DistSq(w, prev)
		if !(closerToNext && fartherFromPrev) {
			break
		}
		index++
	}
	if index >= len(waypoints) {
		index = len(waypoints) - 1
	}
	return index
}

// Arrived reports whether pos is within stopping distance of the final
// waypoint, give or take geom.Epsilon.
func Arrived(pos, last mgl64.Vec2, stoppingDistance float64) bool {
	reach := math.Max(stoppingDistance, 0) + geom.Epsilon
	return geom.DistSq(pos, last) <= reach*reach
}

// TurnToward rotates yaw toward target by at most maxDelta radians.
func TurnToward(yaw, target, maxDelta float64) float64 {
	delta := geom.WrapAngle(target - yaw)
	if math.Abs(delta) <= maxDelta {
		return geom.WrapAngle(target)
	}
	return geom.WrapAngle(yaw + math.Copysign(maxDelta, delta))
}

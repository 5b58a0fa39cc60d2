package telemetry

import (
	"sync/atomic"
	"time"
)

// Counters accumulates per-world tick and search statistics. All methods are
// safe for concurrent use.
type Counters struct {
	ticks              atomic.Uint64
	tickDurationMicros atomic.Int64
	budgetOverruns     atomic.Uint64
	searches           atomic.Uint64
	searchFailures     atomic.Uint64
	expandedTriangles  atomic.Uint64
	funnels            atomic.Uint64
	unresolvedAgents   atomic.Uint64
	reindexedCells     atomic.Uint64
	meshReplacements   atomic.Uint64
	agents             atomic.Uint64
}

// Snapshot is a point-in-time copy of Counters.
type Snapshot struct {
	Ticks              uint64 `json:"ticks"`
	TickDurationMicros int64  `json:"tickDurationMicros"`
	BudgetOverruns     uint64 `json:"budgetOverruns"`
	Searches           uint64 `json:"searches"`
	SearchFailures     uint64 `json:"searchFailures"`
	ExpandedTriangles  uint64 `json:"expandedTriangles"`
	Funnels            uint64 `json:"funnels"`
	UnresolvedAgents   uint64 `json:"unresolvedAgents"`
	ReindexedCells     uint64 `json:"reindexedCells"`
	MeshReplacements   uint64 `json:"meshReplacements"`
	Agents             uint64 `json:"agents"`
}

func NewCounters() *Counters {
	return &Counters{}
}

func (c *Counters) RecordTick(duration time.Duration, overrun bool) {
	if c == nil {
		return
	}
	c.ticks.Add(1)
	c.tickDurationMicros.Store(max(duration.Microseconds(), 0))
	if overrun {
		c.budgetOverruns.Add(1)
	}
}

func (c *Counters) RecordSearch(expanded int, found bool) {
	if c == nil {
		return
	}
	c.searches.Add(1)
	if expanded > 0 {
		c.expandedTriangles.Add(uint64(expanded))
	}
	if !found {
		c.searchFailures.Add(1)
	}
}

func (c *Counters) RecordFunnel() {
	if c == nil {
		return
	}
	c.funnels.Add(1)
}

func (c *Counters) RecordUnresolved() {
	if c == nil {
		return
	}
	c.unresolvedAgents.Add(1)
}

func (c *Counters) RecordReindex(cells int) {
	if c == nil || cells <= 0 {
		return
	}
	c.reindexedCells.Add(uint64(cells))
}

func (c *Counters) RecordMeshReplaced() {
	if c == nil {
		return
	}
	c.meshReplacements.Add(1)
}

func (c *Counters) StoreAgents(n int) {
	if c == nil {
		return
	}
	c.agents.Store(uint64(max(n, 0)))
}

func (c *Counters) Snapshot() Snapshot {
	if c == nil {
		return Snapshot{}
	}
	return Snapshot{
		Ticks:              c.ticks.Load(),
		TickDurationMicros: c.tickDurationMicros.Load(),
		BudgetOverruns:     c.budgetOverruns.Load(),
		Searches:           c.searches.Load(),
		SearchFailures:     c.searchFailures.Load(),
		ExpandedTriangles:  c.expandedTriangles.Load(),
		Funnels:            c.funnels.Load(),
		UnresolvedAgents:   c.unresolvedAgents.Load(),
		ReindexedCells:     c.reindexedCells.Load(),
		MeshReplacements:   c.meshReplacements.Load(),
		Agents:             c.agents.Load(),
	}
}

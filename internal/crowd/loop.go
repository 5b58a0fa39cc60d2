package crowd

import (
	"context"
	"errors"
	"time"

	"crowdnav/logging/navigation"
)

// LoopConfig tunes the fixed-timestep runner.
type LoopConfig struct {
	TickRate        int `json:"tickRate" yaml:"tickRate"`
	CatchupMaxTicks int `json:"catchupMaxTicks" yaml:"catchupMaxTicks"`
}

// DefaultLoopConfig runs 15 ticks per second and allows two ticks of
// catch-up after a stall.
func DefaultLoopConfig() LoopConfig {
	return LoopConfig{TickRate: 15, CatchupMaxTicks: 2}
}

// TickResult is handed to hooks after every step.
type TickResult struct {
	StepResult
	Now          time.Time     `json:"now"`
	Delta        float64       `json:"delta"`
	Budget       time.Duration `json:"budget"`
	ClampedDelta bool          `json:"clampedDelta"`
	Overrun      bool          `json:"overrun"`
}

// LoopHooks observe the runner. Both are optional.
type LoopHooks struct {
	AfterStep func(TickResult)
	OnError   func(error)
}

// Loop drives a world at a fixed rate.
type Loop struct {
	world  *World
	config LoopConfig
	hooks  LoopHooks
	streak uint64
}

// NewLoop wraps world in a runner.
func NewLoop(world *World, cfg LoopConfig, hooks LoopHooks) *Loop {
	if world == nil {
		return nil
	}
	if cfg.TickRate <= 0 {
		cfg.TickRate = DefaultLoopConfig().TickRate
	}
	return &Loop{world: world, config: cfg, hooks: hooks}
}

// Config returns the effective configuration.
func (l *Loop) Config() LoopConfig { return l.config }

// Run steps the world until ctx is cancelled. Ticks before the first mesh
// are skipped.
func (l *Loop) Run(ctx context.Context) error {
	if l == nil {
		return nil
	}
	tickRate := l.config.TickRate
	ticker := time.NewTicker(time.Second / time.Duration(tickRate))
	defer ticker.Stop()

	clock := l.world.deps.Clock
	last := clock.Now()
	budgetSeconds := 1.0 / float64(tickRate)
	maxDt := budgetSeconds
	if l.config.CatchupMaxTicks > 1 {
		maxDt = budgetSeconds * float64(l.config.CatchupMaxTicks)
	}
	budgetDuration := time.Second / time.Duration(tickRate)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			now := clock.Now()
			dt := now.Sub(last).Seconds()
			clamped := false
			if dt <= 0 {
				dt = budgetSeconds
			} else if dt > maxDt {
				dt = maxDt
				clamped = true
			}
			last = now

			result, err := l.advance(ctx, dt, budgetDuration)
			if err != nil {
				if errors.Is(err, ErrNoMesh) {
					continue
				}
				if ctx.Err() != nil {
					return ctx.Err()
				}
				l.world.logf("[loop] %v", err)
				if l.hooks.OnError != nil {
					l.hooks.OnError(err)
				}
				continue
			}
			result.Now = now
			result.ClampedDelta = clamped
			if l.hooks.AfterStep != nil {
				l.hooks.AfterStep(result)
			}
		}
	}
}

// advance runs one step and accounts for the tick budget.
func (l *Loop) advance(ctx context.Context, dt float64, budget time.Duration) (TickResult, error) {
	step, err := l.world.Step(ctx, dt)
	if err != nil {
		return TickResult{}, err
	}
	result := TickResult{StepResult: step, Delta: dt, Budget: budget}
	result.Overrun = budget > 0 && step.Duration > budget
	l.world.deps.Counters.RecordTick(step.Duration, result.Overrun)
	if !result.Overrun {
		l.streak = 0
		return result, nil
	}
	l.streak++
	navigation.TickBudgetOverrun(ctx, l.world.deps.Publisher, step.Tick, navigation.TickBudgetOverrunPayload{
		DurationMillis: step.Duration.Milliseconds(),
		BudgetMillis:   budget.Milliseconds(),
		Ratio:          float64(step.Duration) / float64(budget),
		Streak:         l.streak,
	}, nil)
	return result, nil
}

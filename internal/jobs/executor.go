// Package jobs runs per-element stage work on a bounded pool of goroutines.
// Every Run is a barrier: it returns only after all of its work finished.
package jobs

import (
	"context"
	"fmt"
	"runtime"
	"time"

	"golang.org/x/sync/errgroup"
)

// Config sizes the pool.
type Config struct {
	Workers   int `json:"workers" yaml:"workers"`
	BatchSize int `json:"batchSize" yaml:"batchSize"`
}

// DefaultConfig uses one worker per CPU.
func DefaultConfig() Config {
	return Config{Workers: runtime.GOMAXPROCS(0), BatchSize: 32}
}

func (cfg Config) normalized() Config {
	normalized := cfg
	if normalized.Workers <= 0 {
		normalized.Workers = runtime.GOMAXPROCS(0)
	}
	if normalized.BatchSize <= 0 {
		normalized.BatchSize = 32
	}
	return normalized
}

// StageObserver is told how long each stage took.
type StageObserver func(stage string, n int, elapsed time.Duration)

// Executor partitions index ranges into batches and runs them in parallel.
type Executor struct {
	cfg      Config
	observer StageObserver
}

// New returns an executor with normalized configuration.
func New(cfg Config) *Executor {
	return &Executor{cfg: cfg.normalized()}
}

// Workers reports the concurrency limit.
func (e *Executor) Workers() int { return e.cfg.Workers }

// Observe installs a stage observer. It must be called before the first Run.
func (e *Executor) Observe(observer StageObserver) {
	e.observer = observer
}

// PanicError reports a panic raised inside a stage function.
type PanicError struct {
	Stage string
	Index int
	Value any
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("stage %s panicked at index %d: %v", e.Stage, e.Index, e.Value)
}

// Run calls fn(i) for every i in [0, n). fn invocations for distinct
// indices may run concurrently and must only write state owned by their
// index. Run returns after every started batch finished; a cancelled
// context stops scheduling further batches and is reported as the error.
func (e *Executor) Run(ctx context.Context, stage string, n int, fn func(i int)) error {
	if n <= 0 {
		return nil
	}
	started := time.Now()
	defer func() {
		if e.observer != nil {
			e.observer(stage, n, time.Since(started))
		}
	}()

	batch := e.batchSize(n)
	if e.cfg.Workers == 1 || n <= batch {
		return runBatch(ctx, stage, 0, n, fn)
	}

	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(e.cfg.Workers)
	for start := 0; start < n; start += batch {
		if groupCtx.Err() != nil {
			break
		}
		lo, hi := start, min(start+batch, n)
		group.Go(func() error {
			return runBatch(groupCtx, stage, lo, hi, fn)
		})
	}
	if err := group.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}

// batchSize keeps at least a few batches per worker so uneven work
// spreads out.
func (e *Executor) batchSize(n int) int {
	perWorker := (n + e.cfg.Workers*4 - 1) / (e.cfg.Workers * 4)
	return max(1, min(e.cfg.BatchSize, perWorker))
}

func runBatch(ctx context.Context, stage string, lo, hi int, fn func(i int)) (err error) {
	current := lo
	defer func() {
		if r := recover(); r != nil {
			err = &PanicError{Stage: stage, Index: current, Value: r}
		}
	}()
	if err := ctx.Err(); err != nil {
		return err
	}
	for ; current < hi; current++ {
		fn(current)
	}
	return nil
}

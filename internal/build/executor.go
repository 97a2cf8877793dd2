package build

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
)

// ErrDependencyFailed marks a unit that was never built because one of
// its dependencies failed. errors.Is matches it on Result.Err.
var ErrDependencyFailed = errors.New("dependency failed")

// Result is the outcome of one unit.
type Result struct {
	ID     UnitID
	Out    *Output // nil when Err != nil
	Err    error
	Took   time.Duration // zero for cache hits and skipped units
	Cached bool          // satisfied from the artifact cache
}

// Stats summarizes one Execute call.
type Stats struct {
	Units       int64
	Succeeded   int64
	Failed      int64
	CacheHits   int64
	MaxParallel int64
}

// Executor runs a plan's actions with bounded parallelism, consulting
// an optional artifact cache before each action.
type Executor struct {
	workers int
	cache   *Cache
}

// NewExecutor returns an executor running at most workers actions at
// once (<=0 selects NumCPU). cache may be nil.
func NewExecutor(workers int, cache *Cache) *Executor {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	return &Executor{workers: workers, cache: cache}
}

// Execute builds every unit in the plan, dependencies before
// dependents, with at most the configured number of actions in flight.
// Unit failures land in the results, not in the returned error: a
// failed unit fails its transitive dependents with ErrDependencyFailed
// while independent subtrees keep building. The returned error reports
// plan problems or context cancellation.
func (e *Executor) Execute(ctx context.Context, p *Plan) ([]Result, Stats, error) {
	if p == nil {
		return nil, Stats{}, errors.New("nil plan")
	}
	if err := p.Validate(); err != nil {
		return nil, Stats{}, err
	}
	units := p.All()

	var (
		mu      sync.Mutex
		results = make(map[UnitID]Result, len(units))
		done    = make(map[UnitID]chan struct{}, len(units))
		stats   = Stats{Units: int64(len(units))}
		running int64
	)
	for _, u := range units {
		done[u.ID] = make(chan struct{})
	}

	record := func(r Result) {
		mu.Lock()
		defer mu.Unlock()
		results[r.ID] = r
		if r.Err != nil {
			stats.Failed++
			return
		}
		stats.Succeeded++
		if r.Cached {
			stats.CacheHits++
		}
	}

	sem := make(chan struct{}, e.workers)
	g, ctx := errgroup.WithContext(ctx)
	for _, u := range units {
		u := u
		g.Go(func() error {
			defer close(done[u.ID])

			for _, d := range u.Deps {
				select {
				case <-done[d]:
				case <-ctx.Done():
					return ctx.Err()
				}
				mu.Lock()
				depErr := results[d].Err
				mu.Unlock()
				if depErr != nil {
					record(Result{ID: u.ID, Err: fmt.Errorf("unit %s: %w", d, ErrDependencyFailed)})
					return nil
				}
			}

			// A cache hit needs no worker slot.
			if e.cache != nil && u.Key != "" {
				if out, ok := e.cache.Get(u.Key); ok {
					record(Result{ID: u.ID, Out: out, Cached: true})
					return nil
				}
			}

			select {
			case sem <- struct{}{}:
			case <-ctx.Done():
				return ctx.Err()
			}
			cur := atomic.AddInt64(&running, 1)
			mu.Lock()
			if cur > stats.MaxParallel {
				stats.MaxParallel = cur
			}
			mu.Unlock()

			start := time.Now()
			out, err := u.Action(ctx)
			took := time.Since(start)

			atomic.AddInt64(&running, -1)
			<-sem

			if err != nil {
				record(Result{ID: u.ID, Err: err, Took: took})
				return nil
			}
			if e.cache != nil && u.Key != "" {
				e.cache.Put(u.Key, out)
			}
			record(Result{ID: u.ID, Out: out, Took: took})
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, stats, err
	}

	out := make([]Result, 0, len(results))
	for _, r := range results {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, stats, nil
}

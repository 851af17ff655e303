package propagation

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/orbitwatch/orbitwatch/internal/transform"
)

// Target pairs a catalog number with its prepared propagator. The tracker
// builds one per element record it wants in a tick.
type Target struct {
	NoradID int
	Prop    *Propagator
}

// State is one satellite's position at a tick, in both the Earth-fixed and
// geodetic frames. Recomputed every tick, never stored across ticks.
type State struct {
	NoradID  int
	Time     time.Time
	ECEF     transform.ECEFState
	Geodetic transform.Geodetic
}

// WorkerPool runs whole-set propagation across a fixed number of goroutines.
type WorkerPool struct {
	workers int
	logger  *slog.Logger
}

// NewWorkerPool creates a pool with the given number of workers.
func NewWorkerPool(workers int, logger *slog.Logger) *WorkerPool {
	if workers < 1 {
		workers = 1
	}
	return &WorkerPool{workers: workers, logger: logger}
}

type batchResult struct {
	state   State
	noradID int
	err     error
}

// Failure records one target that could not be propagated.
type Failure struct {
	NoradID int
	Err     error
}

// PropagateBatch propagates every target to targetTime and returns the
// successful states plus the targets that failed. GMST is computed once
// for the shared timestamp. Failures are logged here; the caller decides
// whether to retire them.
func (wp *WorkerPool) PropagateBatch(ctx context.Context, targets []Target, targetTime time.Time) ([]State, []Failure) {
	if len(targets) == 0 {
		return nil, nil
	}

	gmst := transform.GMST(targetTime)

	jobs := make(chan Target, wp.workers*2)
	results := make(chan batchResult, wp.workers*2)

	var wg sync.WaitGroup
	for i := 0; i < wp.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for tgt := range jobs {
				res := propagateOne(tgt, targetTime, gmst)
				select {
				case results <- res:
				case <-ctx.Done():
					return
				}
			}
		}()
	}

	go func() {
		defer close(jobs)
		for _, tgt := range targets {
			select {
			case jobs <- tgt:
			case <-ctx.Done():
				return
			}
		}
	}()

	go func() {
		wg.Wait()
		close(results)
	}()

	states := make([]State, 0, len(targets))
	var failures []Failure
	for res := range results {
		if res.err != nil {
			failures = append(failures, Failure{NoradID: res.noradID, Err: res.err})
			wp.logger.Warn("propagation failed", "norad_id", res.noradID, "error", res.err)
			continue
		}
		states = append(states, res.state)
	}

	return states, failures
}

func propagateOne(tgt Target, t time.Time, gmst float64) batchResult {
	teme, err := tgt.Prop.At(t)
	if err != nil {
		return batchResult{noradID: tgt.NoradID, err: err}
	}

	ecef := transform.ToECEFAtGMST(teme, gmst)
	return batchResult{
		noradID: tgt.NoradID,
		state: State{
			NoradID:  tgt.NoradID,
			Time:     t,
			ECEF:     ecef,
			Geodetic: transform.ECEFToGeodetic(ecef.X, ecef.Y, ecef.Z),
		},
	}
}

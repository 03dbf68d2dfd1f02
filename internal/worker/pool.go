// Package worker provides the bounded worker pool used to fan out
// optimization trials, walk-forward windows and Monte Carlo batches. Jobs
// share no mutable state; each produces an immutable result value collected
// by index, so aggregation needs no locks.
package worker

import (
	"context"
	"fmt"
	"runtime"
	"sync"
)

// Result holds the outcome of one job. Index refers to the job's position in
// the submitted slice, which keeps aggregation deterministic regardless of
// worker interleaving.
type Result[T any] struct {
	Index int
	Value T
	Err   error
}

// Job computes one immutable result.
type Job[T any] func(ctx context.Context) (T, error)

// Run executes jobs on at most workers goroutines and returns results
// ordered by job index. When ctx is cancelled, queued jobs are abandoned
// (their result carries ctx.Err()) while in-flight jobs run to completion;
// completed results are always retained so partial output stays usable.
//
// A panicking job is recovered and reported as that job's error; the batch
// continues.
func Run[T any](ctx context.Context, workers int, jobs []Job[T]) []Result[T] {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	if workers > len(jobs) {
		workers = len(jobs)
	}

	results := make([]Result[T], len(jobs))
	indices := make(chan int)

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range indices {
				results[i] = runOne(ctx, i, jobs[i])
			}
		}()
	}

	dispatch := func() {
		defer close(indices)
		for i := range jobs {
			select {
			case <-ctx.Done():
				// Mark every job not yet dispatched as cancelled.
				for j := i; j < len(jobs); j++ {
					results[j] = Result[T]{Index: j, Err: ctx.Err()}
				}
				return
			case indices <- i:
			}
		}
	}
	dispatch()
	wg.Wait()

	return results
}

func runOne[T any](ctx context.Context, index int, job Job[T]) (res Result[T]) {
	res.Index = index
	defer func() {
		if r := recover(); r != nil {
			res.Err = fmt.Errorf("job %d panicked: %v", index, r)
		}
	}()
	res.Value, res.Err = job(ctx)
	return res
}

package slicer

import (
	"context"
	"runtime"
	"time"

	"checkedcov/internal/codeobject"
	"checkedcov/internal/trace"

	"golang.org/x/sync/errgroup"
)

// Job is one independent slicing request: a registered set of
// procedures, the trace it executed against, and the criterion to
// slice from. Separate test runs against the same instrumented
// program typically share Registry but carry their own Trace.
type Job struct {
	Registry      *codeobject.Registry
	Trace         *trace.ExecutionTrace
	OriginName    string
	Criterion     SlicingCriterion
	TracePosition int // -1 to derive from Criterion.Occurrence
}

// SliceAll computes a DynamicSlice for every job concurrently, bounded
// to maxParallel in-flight slices (GOMAXPROCS if maxParallel <= 0).
// Each Slice call remains single-threaded; only independent jobs run
// in parallel, since every job's Registry is immutable after
// registration and every Trace is frozen before slicing starts.
//
// The first job to fail cancels the rest via the errgroup's derived
// context, and that error is returned; results for jobs that had
// already completed are discarded along with it.
func SliceAll(ctx context.Context, jobs []Job, maxSlicingTime time.Duration, maxParallel int) ([]*DynamicSlice, error) {
	if maxParallel <= 0 {
		maxParallel = runtime.GOMAXPROCS(-1)
	}

	results := make([]*DynamicSlice, len(jobs))
	g, gctx := errgroup.WithContext(ctx)
	sem := make(chan struct{}, maxParallel)

	for i, job := range jobs {
		i, job := i, job
		g.Go(func() error {
			select {
			case sem <- struct{}{}:
			case <-gctx.Done():
				return gctx.Err()
			}
			defer func() { <-sem }()

			s := New(job.Registry, job.Trace, maxSlicingTime)
			ds, err := s.Slice(job.OriginName, job.Criterion, job.TracePosition)
			if err != nil {
				return err
			}
			results[i] = ds
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

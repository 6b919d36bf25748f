package propagation

import (
	"context"
	"log/slog"
	"sync"

	"github.com/Valerrrrrri/SolarSystemEye/internal/kepler"
)

// chunkSize is the number of consecutive samples one job covers.
const chunkSize = 256

// propagateJob is a unit of work for the worker pool: samples [start, end).
type propagateJob struct {
	start, end int
}

// WorkerPool manages a fixed number of goroutines for parallel propagation.
type WorkerPool struct {
	workers int
	logger  *slog.Logger
}

// NewWorkerPool creates a worker pool with the given number of workers.
func NewWorkerPool(workers int, logger *slog.Logger) *WorkerPool {
	if workers < 1 {
		workers = 1
	}
	return &WorkerPool{
		workers: workers,
		logger:  logger,
	}
}

// PropagateBatch evaluates prop at From + i*Step for i in [0, n).
// Samples are returned in time order. On cancellation the partial result is
// discarded and ctx.Err() returned.
func (wp *WorkerPool) PropagateBatch(ctx context.Context, prop *kepler.Propagator, req Request, n int) ([]Sample, error) {
	if n <= 0 {
		return nil, nil
	}

	samples := make([]Sample, n)
	jobs := make(chan propagateJob, wp.workers*2)

	// Start workers. Each job owns a disjoint slice range, so no locking.
	var wg sync.WaitGroup
	for i := 0; i < wp.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for job := range jobs {
				if ctx.Err() != nil {
					return
				}
				for k := job.start; k < job.end; k++ {
					t := req.From + float64(k)*req.Step
					samples[k] = newSample(t, prop.Step(t))
				}
			}
		}()
	}

	// Feed jobs.
	go func() {
		defer close(jobs)
		for start := 0; start < n; start += chunkSize {
			end := min(start+chunkSize, n)
			select {
			case jobs <- propagateJob{start: start, end: end}:
			case <-ctx.Done():
				return
			}
		}
	}()

	wg.Wait()

	if err := ctx.Err(); err != nil {
		wp.logger.Debug("ephemeris batch cancelled", "samples", n, "error", err)
		return nil, err
	}
	return samples, nil
}

// Package propagation produces ephemerides: the propagated state of a body
// over a window of simulated time, computed on a worker pool.
package propagation

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"time"

	"github.com/Valerrrrrri/SolarSystemEye/internal/kepler"
	"github.com/Valerrrrrri/SolarSystemEye/internal/metrics"
)

// Ephemeris orchestrates batch propagation under a sample budget.
type Ephemeris struct {
	pool   *WorkerPool
	config Config
	logger *slog.Logger
}

// NewEphemeris creates a new ephemeris generator.
func NewEphemeris(config Config, logger *slog.Logger) *Ephemeris {
	if config.Workers < 1 {
		config.Workers = runtime.NumCPU()
	}
	if config.MaxSamples < 1 {
		config.MaxSamples = DefaultMaxSamples
	}
	return &Ephemeris{
		pool:   NewWorkerPool(config.Workers, logger),
		config: config,
		logger: logger,
	}
}

// Config returns the effective configuration.
func (e *Ephemeris) Config() Config {
	return e.config
}

// Generate propagates elements over req.
func (e *Ephemeris) Generate(ctx context.Context, elements kepler.OrbitalElements, req Request) ([]Sample, error) {
	n, err := req.Count()
	if err != nil {
		return nil, err
	}
	if n > e.config.MaxSamples {
		return nil, fmt.Errorf("%w: %d samples requested, limit %d", ErrBudgetExceeded, n, e.config.MaxSamples)
	}

	prop := kepler.NewPropagator(elements)

	e.logger.Debug("propagating ephemeris",
		"samples", n,
		"from", req.From,
		"to", req.To,
		"step", req.Step,
		"workers", e.config.Workers,
	)

	start := time.Now()
	samples, err := e.pool.PropagateBatch(ctx, prop, req, n)
	if err != nil {
		return nil, fmt.Errorf("ephemeris: %w", err)
	}
	duration := time.Since(start)

	metrics.ObserveEphemeris(n, duration)

	e.logger.Debug("ephemeris complete",
		"samples", n,
		"duration_ms", duration.Milliseconds(),
	)
	return samples, nil
}

// Package apsides finds perihelion and aphelion passages of propagated bodies.
package apsides

import (
	"context"
	"errors"
	"fmt"
	"math"
	"runtime"
	"sync"

	"gonum.org/v1/gonum/floats/scalar"

	"github.com/Valerrrrrri/SolarSystemEye/internal/kepler"
)

// Kind distinguishes the two apsides.
type Kind string

const (
	Perihelion Kind = "perihelion"
	Aphelion   Kind = "aphelion"
)

// ErrWindowTooLarge is returned when a window needs more than
// maxCoarseSamples scan steps.
var ErrWindowTooLarge = errors.New("apsis search window too large")

// Event is one apsis passage.
type Event struct {
	Kind             Kind    `json:"kind"`
	SimSeconds       float64 `json:"sim_seconds"`
	RadiusKm         float64 `json:"radius_km"`
	SpeedKmPerSecond float64 `json:"speed_km_s"`
}

// Target is a body to search.
type Target struct {
	Name     string
	Elements kepler.OrbitalElements
}

// BodyEvents holds the events found for one target.
type BodyEvents struct {
	Body   string  `json:"body"`
	Events []Event `json:"events"`
	Error  string  `json:"error,omitempty"`
}

// Request holds the parameters for an apsis search.
type Request struct {
	Targets   []Target
	From, To  float64 // simulated seconds since epoch
	MaxEvents int     // per target; <= 0 means DefaultMaxEvents
}

const (
	DefaultMaxEvents      = 1000
	coarseStepsPerOrbit   = 64
	maxCoarseSamples      = 2_000_000
	refineToleranceSecond = 0.5
	maxRefineIterations   = 200
)

// invPhi is 1/φ for golden-section search.
var invPhi = (math.Sqrt(5) - 1) / 2

// Find searches every target in parallel, bounded by a semaphore.
func Find(ctx context.Context, req Request) []BodyEvents {
	results := make([]BodyEvents, len(req.Targets))
	sem := make(chan struct{}, runtime.NumCPU())
	var wg sync.WaitGroup

	for i, target := range req.Targets {
		wg.Add(1)
		go func(idx int, tg Target) {
			defer wg.Done()

			select {
			case sem <- struct{}{}:
				defer func() { <-sem }()
			case <-ctx.Done():
				results[idx] = BodyEvents{Body: tg.Name, Error: "cancelled"}
				return
			}

			events, err := FindBody(ctx, tg.Elements, req.From, req.To, req.MaxEvents)
			if err != nil {
				results[idx] = BodyEvents{Body: tg.Name, Error: err.Error()}
				return
			}
			results[idx] = BodyEvents{Body: tg.Name, Events: events}
		}(i, target)
	}

	wg.Wait()
	return results
}

// FindBody returns the apsis passages of one orbit in [from, to], in time order.
//
// r(t) is sampled coarseStepsPerOrbit times per period; each local extremum
// is then refined by golden-section search. Circular orbits have constant r
// and yield no events.
func FindBody(ctx context.Context, elements kepler.OrbitalElements, from, to float64, maxEvents int) ([]Event, error) {
	if err := elements.Validate(); err != nil {
		return nil, err
	}
	if math.IsNaN(from) || math.IsNaN(to) || math.IsInf(from, 0) || math.IsInf(to, 0) || to < from {
		return nil, fmt.Errorf("invalid window [%v, %v]", from, to)
	}
	if maxEvents <= 0 {
		maxEvents = DefaultMaxEvents
	}

	prop := kepler.NewPropagator(elements)
	h := elements.PeriodSeconds / coarseStepsPerOrbit
	steps := math.Ceil((to - from) / h)
	if steps > maxCoarseSamples {
		return nil, fmt.Errorf("%w: %.0f steps", ErrWindowTooLarge, steps)
	}
	n := int(steps)

	radius := func(t float64) float64 { return prop.Step(t).RadiusKm }

	// Sample one step either side of the window so extrema on its edges
	// are still bracketed.
	prev, cur := radius(from-h), radius(from)
	var events []Event

	for k := 0; k <= n && len(events) < maxEvents; k++ {
		if k%1024 == 0 && ctx.Err() != nil {
			return events, ctx.Err()
		}

		tk := from + float64(k)*h
		if tk > to {
			break
		}
		next := radius(tk + h)

		// One side is non-strict: an apsis exactly midway between two
		// samples leaves them with equal radii.
		var kind Kind
		switch {
		case prev > cur && cur <= next:
			kind = Perihelion
		case prev < cur && cur >= next:
			kind = Aphelion
		}

		if kind != "" {
			t := refine(radius, tk-h, tk+h, kind == Aphelion)
			// Extrema just outside the window are dropped; those within
			// the refinement tolerance of an edge are pinned to it.
			if t >= from-refineToleranceSecond && t <= to+refineToleranceSecond {
				t = math.Max(from, math.Min(to, t))
				res := prop.Step(t)
				events = append(events, Event{
					Kind:             kind,
					SimSeconds:       t,
					RadiusKm:         res.RadiusKm,
					SpeedKmPerSecond: res.SpeedKmPerSecond,
				})
			}
		}

		prev, cur = cur, next
	}

	return events, nil
}

// refine narrows [lo, hi] around the minimum of f (maximum when max is set).
func refine(f func(float64) float64, lo, hi float64, max bool) float64 {
	g := f
	if max {
		g = func(t float64) float64 { return -f(t) }
	}

	c := hi - invPhi*(hi-lo)
	d := lo + invPhi*(hi-lo)
	gc, gd := g(c), g(d)

	for i := 0; i < maxRefineIterations && !scalar.EqualWithinAbs(lo, hi, refineToleranceSecond); i++ {
		if gc < gd {
			hi, d, gd = d, c, gc
			c = hi - invPhi*(hi-lo)
			gc = g(c)
		} else {
			lo, c, gc = c, d, gd
			d = lo + invPhi*(hi-lo)
			gd = g(d)
		}
	}
	return (lo + hi) / 2
}

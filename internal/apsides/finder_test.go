package apsides

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/Valerrrrrri/SolarSystemEye/internal/kepler"
)

func TestFindBodyMercury(t *testing.T) {
	m := kepler.Mercury
	T := m.PeriodSeconds

	events, err := FindBody(context.Background(), m, -T/8, 3*T+T/8, 0)
	if err != nil {
		t.Fatalf("FindBody: %v", err)
	}

	// Perihelia at 0, T, 2T, 3T; aphelia at T/2, 3T/2, 5T/2.
	if len(events) != 7 {
		t.Fatalf("got %d events, want 7: %+v", len(events), events)
	}
	for i, ev := range events {
		wantT := float64(i) * T / 2
		wantKind := Perihelion
		wantR := m.Periapsis()
		wantV := m.PeriapsisSpeed()
		if i%2 == 1 {
			wantKind = Aphelion
			wantR = m.Apoapsis()
			wantV = m.ApoapsisSpeed()
		}

		if ev.Kind != wantKind {
			t.Errorf("event %d kind = %s, want %s", i, ev.Kind, wantKind)
		}
		if math.Abs(ev.SimSeconds-wantT) > 60 {
			t.Errorf("event %d at %.1f s, want %.1f s", i, ev.SimSeconds, wantT)
		}
		if math.Abs(ev.RadiusKm-wantR) > 1 {
			t.Errorf("event %d radius %.3f km, want %.3f km", i, ev.RadiusKm, wantR)
		}
		if math.Abs(ev.SpeedKmPerSecond-wantV) > 1e-3 {
			t.Errorf("event %d speed %.5f km/s, want %.5f km/s", i, ev.SpeedKmPerSecond, wantV)
		}
		if i > 0 && ev.SimSeconds <= events[i-1].SimSeconds {
			t.Errorf("event %d not after event %d", i, i-1)
		}
	}
}

func TestFindBodyEventOnWindowEdge(t *testing.T) {
	m := kepler.Mercury
	events, err := FindBody(context.Background(), m, 0, m.PeriodSeconds/4, 0)
	if err != nil {
		t.Fatalf("FindBody: %v", err)
	}
	if len(events) != 1 || events[0].Kind != Perihelion {
		t.Fatalf("events = %+v, want one perihelion", events)
	}
	if events[0].SimSeconds < 0 || events[0].SimSeconds > 60 {
		t.Errorf("perihelion at %v s, want within [0, 60]", events[0].SimSeconds)
	}
}

// Starting half a coarse step before perihelion puts the apsis exactly
// between two samples with equal radii.
func TestFindBodyApsisBetweenSamples(t *testing.T) {
	m := kepler.Mercury
	T := m.PeriodSeconds
	h := T / coarseStepsPerOrbit

	for _, from := range []float64{-T / 128, -h / 3, -h / 4} {
		events, err := FindBody(context.Background(), m, from, T/4, 0)
		if err != nil {
			t.Fatalf("from=%v: %v", from, err)
		}
		if len(events) != 1 || events[0].Kind != Perihelion {
			t.Errorf("from=%v: events = %+v, want one perihelion", from, events)
			continue
		}
		if math.Abs(events[0].SimSeconds) > 60 {
			t.Errorf("from=%v: perihelion at %v s, want near 0", from, events[0].SimSeconds)
		}
	}
}

func TestFindBodyDropsEventBeforeWindow(t *testing.T) {
	m := kepler.Mercury
	events, err := FindBody(context.Background(), m, 1000, m.PeriodSeconds*3/4, 0)
	if err != nil {
		t.Fatalf("FindBody: %v", err)
	}
	if len(events) != 1 || events[0].Kind != Aphelion {
		t.Fatalf("events = %+v, want only the aphelion", events)
	}
}

func TestFindBodyCircular(t *testing.T) {
	circ := kepler.Mercury
	circ.Eccentricity = 0
	events, err := FindBody(context.Background(), circ, 0, 5*circ.PeriodSeconds, 0)
	if err != nil {
		t.Fatalf("FindBody: %v", err)
	}
	if len(events) != 0 {
		t.Errorf("circular orbit produced %d events", len(events))
	}
}

func TestFindBodyMaxEvents(t *testing.T) {
	m := kepler.Mercury
	events, err := FindBody(context.Background(), m, -1, 10*m.PeriodSeconds, 3)
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 3 {
		t.Errorf("got %d events, want 3", len(events))
	}
}

func TestFindBodyErrors(t *testing.T) {
	m := kepler.Mercury
	ctx := context.Background()

	if _, err := FindBody(ctx, m, 10, 0, 0); err == nil {
		t.Error("reversed window: expected error")
	}
	if _, err := FindBody(ctx, m, math.NaN(), 0, 0); err == nil {
		t.Error("NaN window: expected error")
	}
	if _, err := FindBody(ctx, m, 0, 1e15, 0); !errors.Is(err, ErrWindowTooLarge) {
		t.Errorf("huge window: err = %v, want ErrWindowTooLarge", err)
	}

	bad := m
	bad.Eccentricity = 1
	if _, err := FindBody(ctx, bad, 0, 1, 0); !errors.Is(err, kepler.ErrInvalidElements) {
		t.Errorf("bad elements: err = %v, want ErrInvalidElements", err)
	}
}

func TestFindParallel(t *testing.T) {
	circ := kepler.Mercury
	circ.Eccentricity = 0
	bad := kepler.Mercury
	bad.PeriodSeconds = -1

	req := Request{
		Targets: []Target{
			{Name: "mercury", Elements: kepler.Mercury},
			{Name: "circle", Elements: circ},
			{Name: "broken", Elements: bad},
		},
		From: -1000,
		To:   kepler.Mercury.PeriodSeconds,
	}

	results := Find(context.Background(), req)
	if len(results) != 3 {
		t.Fatalf("got %d results, want 3", len(results))
	}
	if results[0].Body != "mercury" || results[0].Error != "" || len(results[0].Events) != 3 {
		t.Errorf("mercury = %+v, want 3 events", results[0])
	}
	if results[1].Error != "" || len(results[1].Events) != 0 {
		t.Errorf("circle = %+v, want no events", results[1])
	}
	if results[2].Error == "" {
		t.Error("broken target should report an error")
	}
}

func TestFindCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	results := Find(ctx, Request{
		Targets: []Target{{Name: "mercury", Elements: kepler.Mercury}},
		From:    0,
		To:      100 * kepler.Mercury.PeriodSeconds,
	})
	if results[0].Error == "" {
		t.Error("cancelled search should report an error")
	}
}

func TestRefine(t *testing.T) {
	f := func(x float64) float64 { return (x - 3.3) * (x - 3.3) }
	if got := refine(f, 0, 10, false); math.Abs(got-3.3) > refineToleranceSecond {
		t.Errorf("minimum at %v, want 3.3", got)
	}
	g := func(x float64) float64 { return -f(x) }
	if got := refine(g, 0, 10, true); math.Abs(got-3.3) > refineToleranceSecond {
		t.Errorf("maximum at %v, want 3.3", got)
	}
}

func BenchmarkFindBody(b *testing.B) {
	m := kepler.Mercury
	ctx := context.Background()
	for i := 0; i < b.N; i++ {
		if _, err := FindBody(ctx, m, 0, 10*m.PeriodSeconds, 0); err != nil {
			b.Fatal(err)
		}
	}
}

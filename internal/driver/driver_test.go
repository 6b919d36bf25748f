package driver

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/Valerrrrrri/SolarSystemEye/internal/kepler"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelWarn}))
}

var testEpoch = time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

func newTestDriver(t *testing.T, scale float64) *Driver {
	t.Helper()
	d, err := New(kepler.NewPropagator(kepler.Mercury), Config{TimeScale: scale, Epoch: testEpoch}, testLogger())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return d
}

func TestOnFrameDelegatesToPropagator(t *testing.T) {
	d := newTestDriver(t, DefaultTimeScale)
	p := kepler.NewPropagator(kepler.Mercury)

	for _, sim := range []float64{0, 1e5, 3.3e6, -2e6} {
		got, want := d.OnFrame(sim), p.Step(sim)
		if got != want {
			t.Errorf("OnFrame(%v) = %+v, want %+v", sim, got, want)
		}
	}
}

func TestAdvanceAccumulatesScaledTime(t *testing.T) {
	d := newTestDriver(t, 1000)

	f := d.Advance(testEpoch.Add(10 * time.Second))
	if f.SimSeconds != 10_000 {
		t.Fatalf("sim seconds = %v, want 10000", f.SimSeconds)
	}
	if f.Seq != 1 || f.TimeScale != 1000 {
		t.Errorf("frame = seq %d scale %v, want seq 1 scale 1000", f.Seq, f.TimeScale)
	}
}

// Changing the time scale must change the rate only: the body keeps its
// position at the moment of the change.
func TestTimeScaleChangeKeepsPhase(t *testing.T) {
	d := newTestDriver(t, 1000)

	before := d.Advance(testEpoch.Add(10 * time.Second))
	d.SetTimeScale(4000)
	same := d.Advance(testEpoch.Add(10 * time.Second))
	if same.SimSeconds != before.SimSeconds {
		t.Fatalf("scale change moved the clock: %v -> %v", before.SimSeconds, same.SimSeconds)
	}
	if same.Result.Position != before.Result.Position {
		t.Errorf("scale change moved the body: %v -> %v", before.Result.Position, same.Result.Position)
	}

	after := d.Advance(testEpoch.Add(11 * time.Second))
	if after.SimSeconds != 14_000 {
		t.Errorf("sim seconds after 1s at 4000x = %v, want 14000", after.SimSeconds)
	}
}

func TestZeroTimeScaleFreezes(t *testing.T) {
	d := newTestDriver(t, 2000)
	first := d.Advance(testEpoch.Add(3 * time.Second))

	d.SetTimeScale(0)
	for i := 4; i < 10; i++ {
		f := d.Advance(testEpoch.Add(time.Duration(i) * time.Second))
		if f.SimSeconds != first.SimSeconds {
			t.Fatalf("tick %d: sim seconds %v, want frozen at %v", i, f.SimSeconds, first.SimSeconds)
		}
		if f.Result != first.Result {
			t.Fatalf("tick %d: result changed while frozen", i)
		}
	}
}

func TestFrozenFromEpoch(t *testing.T) {
	d := newTestDriver(t, 0)
	a := d.Advance(testEpoch.Add(time.Second))
	b := d.Advance(testEpoch.Add(time.Hour))
	if a.Result != b.Result || a.SimSeconds != 0 {
		t.Errorf("frozen driver advanced: %v then %v", a.SimSeconds, b.SimSeconds)
	}
}

func TestAdvanceNeverRewinds(t *testing.T) {
	d := newTestDriver(t, 500)
	d.Advance(testEpoch.Add(20 * time.Second))
	f := d.Advance(testEpoch.Add(5 * time.Second))
	if f.SimSeconds != 10_000 {
		t.Errorf("sim seconds after backwards tick = %v, want 10000", f.SimSeconds)
	}
	f = d.Advance(testEpoch.Add(21 * time.Second))
	if f.SimSeconds != 10_500 {
		t.Errorf("sim seconds = %v, want 10500", f.SimSeconds)
	}
}

func TestTrySetTimeScale(t *testing.T) {
	tests := []struct {
		name    string
		value   float64
		wantErr bool
	}{
		{"zero", 0, false},
		{"slider min", MinTimeScale, false},
		{"slider max", MaxTimeScale, false},
		{"beyond slider", 1e6, false},
		{"negative", -1, true},
		{"nan", math.NaN(), true},
		{"inf", math.Inf(1), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := newTestDriver(t, DefaultTimeScale)
			err := d.TrySetTimeScale(tt.value)
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidTimeScale) {
					t.Fatalf("err = %v, want ErrInvalidTimeScale", err)
				}
				if d.TimeScale() != DefaultTimeScale {
					t.Errorf("rejected value changed scale to %v", d.TimeScale())
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if d.TimeScale() != tt.value {
				t.Errorf("TimeScale() = %v, want %v", d.TimeScale(), tt.value)
			}
		})
	}
}

func TestSetTimeScaleIgnoresInvalid(t *testing.T) {
	d := newTestDriver(t, 800)
	d.SetTimeScale(-5)
	if d.TimeScale() != 800 {
		t.Errorf("TimeScale() = %v, want 800", d.TimeScale())
	}
}

func TestNewRejectsInvalidScale(t *testing.T) {
	_, err := New(kepler.NewPropagator(kepler.Mercury), Config{TimeScale: -1}, testLogger())
	if !errors.Is(err, ErrInvalidTimeScale) {
		t.Errorf("err = %v, want ErrInvalidTimeScale", err)
	}
}

func TestClampTimeScale(t *testing.T) {
	tests := []struct {
		in, want float64
	}{
		{2000, 2000},
		{2024, 2000},
		{2026, 2050},
		{0, MinTimeScale},
		{-300, MinTimeScale},
		{199, MinTimeScale},
		{8000, 8000},
		{9000, MaxTimeScale},
		{math.Inf(1), MaxTimeScale},
		{math.NaN(), MinTimeScale},
	}
	for _, tt := range tests {
		if got := ClampTimeScale(tt.in); got != tt.want {
			t.Errorf("ClampTimeScale(%v) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

// Run with -race.
func TestConcurrentTimeScaleWrites(t *testing.T) {
	d := newTestDriver(t, DefaultTimeScale)
	values := []float64{MinTimeScale, MaxTimeScale, 0}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				d.SetTimeScale(values[(i+j)%len(values)])
				d.Advance(testEpoch.Add(time.Duration(j) * time.Millisecond))
			}
		}(i)
	}
	wg.Wait()

	got := d.TimeScale()
	if got != MinTimeScale && got != MaxTimeScale && got != 0 {
		t.Errorf("TimeScale() = %v, not one of the written values", got)
	}
	if f := d.Latest(); f == nil || f.Seq != 8*200 {
		t.Errorf("latest frame = %+v, want seq %d", f, 8*200)
	}
}

func TestLatestBeforeFirstFrame(t *testing.T) {
	d := newTestDriver(t, DefaultTimeScale)
	if d.Latest() != nil {
		t.Error("Latest() before any frame should be nil")
	}
	d.Advance(testEpoch)
	if d.Latest() == nil {
		t.Error("Latest() after Advance should not be nil")
	}
}

func TestRunPublishesAndStops(t *testing.T) {
	d, err := New(kepler.NewPropagator(kepler.Mercury), Config{TimeScale: DefaultTimeScale}, testLogger())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	frames, cancelSub := d.Subscribe(16)
	defer cancelSub()

	// A subscriber that never reads must not stall the loop.
	_, cancelSlow := d.Subscribe(1)
	defer cancelSlow()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		d.Run(ctx, 5*time.Millisecond)
		close(done)
	}()

	var last uint64
	for i := 0; i < 5; i++ {
		select {
		case f := <-frames:
			if f.Seq <= last {
				t.Errorf("frame seq %d not increasing after %d", f.Seq, last)
			}
			last = f.Seq
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for frame")
		}
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestUnsubscribe(t *testing.T) {
	d := newTestDriver(t, DefaultTimeScale)
	ch, cancel := d.Subscribe(4)
	if d.Subscribers() != 1 {
		t.Fatalf("Subscribers() = %d, want 1", d.Subscribers())
	}
	cancel()
	cancel()

	if _, ok := <-ch; ok {
		t.Error("channel should be closed after unsubscribe")
	}
	if d.Subscribers() != 0 {
		t.Errorf("Subscribers() = %d, want 0", d.Subscribers())
	}
	d.publish(d.Advance(testEpoch.Add(time.Second)))
}

func BenchmarkAdvance(b *testing.B) {
	d, _ := New(kepler.NewPropagator(kepler.Mercury), Config{TimeScale: DefaultTimeScale, Epoch: testEpoch}, testLogger())
	for i := 0; i < b.N; i++ {
		d.Advance(testEpoch.Add(time.Duration(i) * time.Millisecond))
	}
}

// Package driver turns wall-clock ticks into propagated frames.
//
// A Driver owns the simulated clock: each tick adds (now - lastTick) * timeScale
// simulated seconds and evaluates the propagator at the new total. The time scale
// lives in an atomic word so UI, HTTP and WebSocket goroutines may change it while
// the frame loop runs.
package driver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Valerrrrrri/SolarSystemEye/internal/kepler"
	"github.com/Valerrrrrri/SolarSystemEye/internal/metrics"
)

// Interactive time-scale range: simulated seconds per wall-clock second.
const (
	MinTimeScale     = 200.0
	MaxTimeScale     = 8000.0
	TimeScaleStep    = 50.0
	DefaultTimeScale = 2000.0

	DefaultFPS = 60
)

// ErrInvalidTimeScale is returned for negative, NaN or infinite time scales.
var ErrInvalidTimeScale = errors.New("invalid time scale")

// Frame is one propagated sample handed to renderers.
type Frame struct {
	Seq        uint64
	WallTime   time.Time
	SimSeconds float64
	TimeScale  float64
	Result     kepler.PropagationResult
}

// Config holds driver settings.
type Config struct {
	TimeScale float64   // initial time scale; zero starts frozen
	Epoch     time.Time // wall time of simulated t=0 (default: time.Now())
}

// Driver adapts a refresh source to a Propagator.
type Driver struct {
	prop   *kepler.Propagator
	logger *slog.Logger

	epochStart time.Time
	timeScale  atomic.Uint64 // math.Float64bits

	mu         sync.Mutex // guards the simulated clock
	lastTick   time.Time
	simSeconds float64
	seq        uint64

	latest atomic.Pointer[Frame]

	subMu   sync.Mutex
	subs    map[uint64]chan Frame
	nextSub uint64
}

// New creates a driver for prop. Simulated time starts at zero at cfg.Epoch.
func New(prop *kepler.Propagator, cfg Config, logger *slog.Logger) (*Driver, error) {
	scale := cfg.TimeScale
	if err := ValidateTimeScale(scale); err != nil {
		return nil, err
	}
	epoch := cfg.Epoch
	if epoch.IsZero() {
		epoch = time.Now()
	}

	d := &Driver{
		prop:       prop,
		logger:     logger,
		epochStart: epoch,
		lastTick:   epoch,
		subs:       make(map[uint64]chan Frame),
	}
	d.timeScale.Store(math.Float64bits(scale))
	metrics.SetTimeScale(scale)
	return d, nil
}

// Elements returns the elements of the driven body.
func (d *Driver) Elements() kepler.OrbitalElements {
	return d.prop.Elements()
}

// EpochStart returns the wall time at which simulated time is zero.
func (d *Driver) EpochStart() time.Time {
	return d.epochStart
}

// OnFrame evaluates the propagator at simulated seconds since epoch.
func (d *Driver) OnFrame(simulatedSecondsSinceEpoch float64) kepler.PropagationResult {
	return d.prop.Step(simulatedSecondsSinceEpoch)
}

// TimeScale returns the current time scale.
func (d *Driver) TimeScale() float64 {
	return math.Float64frombits(d.timeScale.Load())
}

// TrySetTimeScale stores v as the new time scale. Zero freezes the body.
func (d *Driver) TrySetTimeScale(v float64) error {
	if err := ValidateTimeScale(v); err != nil {
		return err
	}
	d.timeScale.Store(math.Float64bits(v))
	metrics.SetTimeScale(v)
	d.logger.Debug("time scale changed", "time_scale", v)
	return nil
}

// SetTimeScale is TrySetTimeScale for callers with no error path.
// Invalid values are logged and ignored.
func (d *Driver) SetTimeScale(v float64) {
	if err := d.TrySetTimeScale(v); err != nil {
		d.logger.Warn("time scale rejected", "time_scale", v, "error", err)
	}
}

// ValidateTimeScale accepts any finite, non-negative value.
func ValidateTimeScale(v float64) error {
	if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
		return fmt.Errorf("%w: %v", ErrInvalidTimeScale, v)
	}
	return nil
}

// ClampTimeScale snaps v to the interactive range, rounded to TimeScaleStep.
func ClampTimeScale(v float64) float64 {
	if math.IsNaN(v) {
		return MinTimeScale
	}
	v = math.Round(v/TimeScaleStep) * TimeScaleStep
	return math.Max(MinTimeScale, math.Min(MaxTimeScale, v))
}

// Advance moves the simulated clock to wall time now and propagates.
// A now earlier than the previous tick adds nothing, so simulated time never
// decreases.
func (d *Driver) Advance(now time.Time) Frame {
	scale := d.TimeScale()

	d.mu.Lock()
	defer d.mu.Unlock()

	if dt := now.Sub(d.lastTick).Seconds(); dt > 0 {
		d.simSeconds += dt * scale
		d.lastTick = now
	}
	d.seq++

	start := time.Now()
	res := d.OnFrame(d.simSeconds)
	metrics.ObserveFrame(time.Since(start), d.simSeconds, res.SpeedKmPerSecond)

	f := Frame{
		Seq:        d.seq,
		WallTime:   now,
		SimSeconds: d.simSeconds,
		TimeScale:  scale,
		Result:     res,
	}
	d.latest.Store(&f)
	return f
}

// Latest returns the most recent frame, or nil before the first one.
func (d *Driver) Latest() *Frame {
	return d.latest.Load()
}

// Subscribe registers a consumer. Frames are dropped for a subscriber whose
// buffer is full. The returned func unsubscribes and closes the channel.
func (d *Driver) Subscribe(buffer int) (<-chan Frame, func()) {
	if buffer < 1 {
		buffer = 1
	}
	ch := make(chan Frame, buffer)

	d.subMu.Lock()
	id := d.nextSub
	d.nextSub++
	d.subs[id] = ch
	d.subMu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			d.subMu.Lock()
			delete(d.subs, id)
			d.subMu.Unlock()
			close(ch)
		})
	}
}

// Subscribers returns the number of registered consumers.
func (d *Driver) Subscribers() int {
	d.subMu.Lock()
	defer d.subMu.Unlock()
	return len(d.subs)
}

func (d *Driver) publish(f Frame) {
	d.subMu.Lock()
	defer d.subMu.Unlock()
	for _, ch := range d.subs {
		select {
		case ch <- f:
		default:
			metrics.IncSubscriberDrops()
		}
	}
}

// Run advances and publishes a frame every interval until ctx is cancelled.
// A non-positive interval means DefaultFPS.
//
// Blocks until ctx is cancelled.
func (d *Driver) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Second / DefaultFPS
	}

	d.logger.Info("frame driver started",
		"interval_ms", interval.Milliseconds(),
		"time_scale", d.TimeScale(),
	)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			d.logger.Info("frame driver stopped", "frames", d.Latest().seqOrZero())
			return
		case now := <-ticker.C:
			d.publish(d.Advance(now))
		}
	}
}

func (f *Frame) seqOrZero() uint64 {
	if f == nil {
		return 0
	}
	return f.Seq
}

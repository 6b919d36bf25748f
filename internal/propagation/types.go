package propagation

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/Valerrrrrri/SolarSystemEye/internal/kepler"
)

// DefaultMaxSamples bounds a single ephemeris request.
const DefaultMaxSamples = 100_000

var (
	// ErrBudgetExceeded is returned when a request would produce more than
	// Config.MaxSamples samples.
	ErrBudgetExceeded = errors.New("ephemeris sample budget exceeded")

	// ErrInvalidRequest is returned for windows that are empty, reversed or
	// not finite.
	ErrInvalidRequest = errors.New("invalid ephemeris request")
)

// Sample is the propagated state at one simulated time.
type Sample struct {
	SimSeconds       float64 `json:"t"`
	Position         r3.Vec  `json:"position"` // display units
	RadiusKm         float64 `json:"radius_km"`
	SpeedKmPerSecond float64 `json:"speed_km_s"`
	TrueAnomaly      float64 `json:"true_anomaly"` // rad
}

func newSample(t float64, res kepler.PropagationResult) Sample {
	return Sample{
		SimSeconds:       t,
		Position:         res.Position,
		RadiusKm:         res.RadiusKm,
		SpeedKmPerSecond: res.SpeedKmPerSecond,
		TrueAnomaly:      res.TrueAnomaly,
	}
}

// Request is a window of simulated seconds since epoch, sampled every Step.
// Both ends are inclusive when To-From is a multiple of Step.
type Request struct {
	From float64
	To   float64
	Step float64
}

// Count returns the number of samples in the window.
func (r Request) Count() (int, error) {
	for _, v := range []float64{r.From, r.To, r.Step} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return 0, fmt.Errorf("%w: non-finite bound", ErrInvalidRequest)
		}
	}
	if r.Step <= 0 {
		return 0, fmt.Errorf("%w: step %v must be positive", ErrInvalidRequest, r.Step)
	}
	if r.To < r.From {
		return 0, fmt.Errorf("%w: to %v before from %v", ErrInvalidRequest, r.To, r.From)
	}
	n := math.Floor((r.To-r.From)/r.Step) + 1
	if n > math.MaxInt32 {
		return math.MaxInt32, nil
	}
	return int(n), nil
}

// Config holds ephemeris settings.
type Config struct {
	Workers    int // Worker pool size (default: runtime.NumCPU())
	MaxSamples int // Per-request budget (default: DefaultMaxSamples)
}

package kepler

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/Valerrrrrri/SolarSystemEye/internal/transform"
)

// PropagationResult is the state of the body at one instant. It is recomputed
// on every step and never retained by the propagator.
type PropagationResult struct {
	Position         r3.Vec  // display units, inclined orbital plane
	SpeedKmPerSecond float64 // vis-viva speed

	MeanAnomaly      float64 // rad, unwrapped
	EccentricAnomaly float64 // rad, unwrapped
	TrueAnomaly      float64 // rad
	RadiusKm         float64
}

// SpeedLabel formats the speed the way the orbit view shows it.
func (r PropagationResult) SpeedLabel() string {
	return fmt.Sprintf("v = %.2f km/s", r.SpeedKmPerSecond)
}

// Propagator advances one body along its ellipse. It holds only immutable
// elements and is safe for concurrent use.
type Propagator struct {
	elements   OrbitalElements
	meanMotion float64

	sqrtOnePlusE  float64
	sqrtOneMinusE float64
}

// NewPropagator creates a propagator for the given elements. The elements are
// not validated here; callers at configuration boundaries use Validate.
func NewPropagator(elements OrbitalElements) *Propagator {
	return &Propagator{
		elements:      elements,
		meanMotion:    elements.MeanMotion(),
		sqrtOnePlusE:  math.Sqrt(1 + elements.Eccentricity),
		sqrtOneMinusE: math.Sqrt(1 - elements.Eccentricity),
	}
}

// Elements returns the elements the propagator was built with.
func (p *Propagator) Elements() OrbitalElements {
	return p.elements
}

// Step returns the body state t simulated seconds after the epoch, where the
// epoch is a perihelion passage.
func (p *Propagator) Step(t float64) PropagationResult {
	e := p.elements.Eccentricity
	a := p.elements.SemiMajorAxisKm

	M := p.meanMotion * t
	E := SolveEccentricAnomaly(M, e)

	r := a * (1 - e*math.Cos(E))
	sinHalf, cosHalf := math.Sincos(E / 2)
	nu := 2 * math.Atan2(p.sqrtOnePlusE*sinHalf, p.sqrtOneMinusE*cosHalf)

	sinNu, cosNu := math.Sincos(nu)
	inPlane := transform.ScaleToDisplay(r3.Vec{X: r * cosNu, Y: 0, Z: r * sinNu}, p.elements.DistanceScale)

	return PropagationResult{
		Position:         transform.RotateAboutApsides(inPlane, p.elements.Inclination),
		SpeedKmPerSecond: visViva(p.elements.Mu, r, a),
		MeanAnomaly:      M,
		EccentricAnomaly: E,
		TrueAnomaly:      nu,
		RadiusKm:         r,
	}
}

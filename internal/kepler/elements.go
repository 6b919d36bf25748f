// Package kepler propagates a single body on a two-body Keplerian ellipse.
//
// The propagator is a pure function of simulated time: it owns no clock, does no
// I/O and never fails. Eccentricity must stay well below 1; the fixed-iteration
// solver degrades silently as e approaches 1.
package kepler

import (
	"errors"
	"fmt"
	"math"

	"github.com/soniakeys/unit"
)

// ErrInvalidElements is returned by Validate when an element violates its range.
var ErrInvalidElements = errors.New("invalid orbital elements")

const secondsPerDay = 86400.0

// OrbitalElements is the static description of one orbit. Immutable once built.
type OrbitalElements struct {
	SemiMajorAxisKm float64    // a, km
	Eccentricity    float64    // e, 0 <= e < 1
	PeriodSeconds   float64    // T, s
	Mu              float64    // gravitational parameter of the central body, m^3/s^2
	Inclination     unit.Angle // tilt applied about the line of apsides
	DistanceScale   float64    // km per display unit
}

// Mercury holds the elements of the one body modeled in orbit mode.
var Mercury = OrbitalElements{
	SemiMajorAxisKm: 57_909_050,
	Eccentricity:    0.205630,
	PeriodSeconds:   87.969 * secondsPerDay,
	Mu:              1.32712440018e20,
	Inclination:     unit.AngleFromDeg(7),
	DistanceScale:   1_000_000,
}

// MeanMotion returns n = 2π/T in rad/s.
func (o OrbitalElements) MeanMotion() float64 {
	return 2 * math.Pi / o.PeriodSeconds
}

// Periapsis returns the closest distance to the focus, in km.
func (o OrbitalElements) Periapsis() float64 {
	return o.SemiMajorAxisKm * (1 - o.Eccentricity)
}

// Apoapsis returns the farthest distance from the focus, in km.
func (o OrbitalElements) Apoapsis() float64 {
	return o.SemiMajorAxisKm * (1 + o.Eccentricity)
}

// SemiMinorAxis returns b = a·sqrt(1-e²), in km.
func (o OrbitalElements) SemiMinorAxis() float64 {
	return o.SemiMajorAxisKm * math.Sqrt(1-o.Eccentricity*o.Eccentricity)
}

// FocalOffset returns the centre-to-focus distance c = a·e, in km.
func (o OrbitalElements) FocalOffset() float64 {
	return o.SemiMajorAxisKm * o.Eccentricity
}

// PeriapsisSpeed returns the vis-viva speed at periapsis, in km/s.
func (o OrbitalElements) PeriapsisSpeed() float64 {
	return visViva(o.Mu, o.Periapsis(), o.SemiMajorAxisKm)
}

// ApoapsisSpeed returns the vis-viva speed at apoapsis, in km/s.
func (o OrbitalElements) ApoapsisSpeed() float64 {
	return visViva(o.Mu, o.Apoapsis(), o.SemiMajorAxisKm)
}

// Validate reports the first element outside its supported range.
func (o OrbitalElements) Validate() error {
	switch {
	case !(o.SemiMajorAxisKm > 0) || math.IsInf(o.SemiMajorAxisKm, 0):
		return fmt.Errorf("%w: semi-major axis %v km must be positive", ErrInvalidElements, o.SemiMajorAxisKm)
	case !(o.Eccentricity >= 0 && o.Eccentricity < 1):
		return fmt.Errorf("%w: eccentricity %v outside [0, 1)", ErrInvalidElements, o.Eccentricity)
	case !(o.PeriodSeconds > 0) || math.IsInf(o.PeriodSeconds, 0):
		return fmt.Errorf("%w: period %v s must be positive", ErrInvalidElements, o.PeriodSeconds)
	case !(o.Mu > 0) || math.IsInf(o.Mu, 0):
		return fmt.Errorf("%w: gravitational parameter %v must be positive", ErrInvalidElements, o.Mu)
	case !(o.DistanceScale > 0) || math.IsInf(o.DistanceScale, 0):
		return fmt.Errorf("%w: distance scale %v must be positive", ErrInvalidElements, o.DistanceScale)
	case math.IsNaN(o.Inclination.Rad()) || math.IsInf(o.Inclination.Rad(), 0):
		return fmt.Errorf("%w: inclination must be finite", ErrInvalidElements)
	}
	return nil
}

// visViva returns sqrt(μ(2/r - 1/a)) in km/s for r and a given in km.
func visViva(mu, rKm, aKm float64) float64 {
	rM := rKm * 1000.0
	aM := aKm * 1000.0
	return math.Sqrt(mu*(2.0/rM-1.0/aM)) / 1000.0
}

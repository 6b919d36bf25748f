// Package transform maps orbit and surface coordinates into the display frame.
//
// Display frame: the orbital reference plane is x-z with +x toward periapsis
// (the line of apsides) and +y out of the plane. Distances are display units,
// obtained by dividing kilometres by a per-body scale.
//
// Inclination is applied as a right-handed rotation about +x, so the line of
// apsides stays in the reference plane and the ascending node sits on it.
package transform

import (
	"math"

	"github.com/soniakeys/unit"
	"gonum.org/v1/gonum/spatial/r3"
)

// ScaleToDisplay converts a kilometre vector to display units.
func ScaleToDisplay(km r3.Vec, kmPerUnit float64) r3.Vec {
	return r3.Scale(1/kmPerUnit, km)
}

// RotateAboutApsides tilts v about the x axis by the inclination:
//
//	y' = y·cos i - z·sin i
//	z' = y·sin i + z·cos i
func RotateAboutApsides(v r3.Vec, inclination unit.Angle) r3.Vec {
	s, c := math.Sincos(inclination.Rad())
	return r3.Vec{
		X: v.X,
		Y: v.Y*c - v.Z*s,
		Z: v.Y*s + v.Z*c,
	}
}

// Finite reports whether every component of v is a finite number.
func Finite(v r3.Vec) bool {
	for _, c := range [3]float64{v.X, v.Y, v.Z} {
		if math.IsNaN(c) || math.IsInf(c, 0) {
			return false
		}
	}
	return true
}

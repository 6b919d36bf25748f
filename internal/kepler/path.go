package kepler

import (
	"math"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/Valerrrrrri/SolarSystemEye/internal/transform"
)

// DefaultPathSamples is the number of points used to draw the orbit ellipse.
const DefaultPathSamples = 360

// OrbitPath samples the closed orbit ellipse in display units. The focus (the
// central body) is at the origin and periapsis lies on +x, matching Step.
// samples below 3 fall back to DefaultPathSamples.
func OrbitPath(elements OrbitalElements, samples int) []r3.Vec {
	if samples < 3 {
		samples = DefaultPathSamples
	}

	A := elements.SemiMajorAxisKm / elements.DistanceScale
	B := elements.SemiMinorAxis() / elements.DistanceScale
	C := elements.FocalOffset() / elements.DistanceScale

	pts := make([]r3.Vec, samples)
	for i := range pts {
		t := float64(i) / float64(samples) * 2 * math.Pi
		sinT, cosT := math.Sincos(t)
		// Parametric angle t is the eccentric anomaly, so x = A cos t - C puts
		// the focus rather than the centre at the origin.
		pts[i] = transform.RotateAboutApsides(r3.Vec{X: A*cosT - C, Z: B * sinT}, elements.Inclination)
	}
	return pts
}

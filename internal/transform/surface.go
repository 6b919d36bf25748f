package transform

import (
	"math"

	"github.com/soniakeys/unit"
	"gonum.org/v1/gonum/spatial/r3"
)

// MarkerRadius places surface markers slightly above a unit sphere so they do
// not intersect the textured surface.
const MarkerRadius = 1.02

// WestToEast converts a west-positive planetographic longitude (the USGS
// convention for Mercury) to an east-positive one in [0°, 360°).
func WestToEast(lonWest unit.Angle) unit.Angle {
	return unit.AngleFromDeg(360 - lonWest.Deg()).Mod1()
}

// SurfacePoint returns the display-frame position of a latitude/east-longitude
// on a sphere of the given radius. +y is the spin axis and longitude increases
// toward -z:
//
//	x =  r·cos φ·cos λ
//	y =  r·sin φ
//	z = -r·cos φ·sin λ
func SurfacePoint(lat, lonEast unit.Angle, radius float64) r3.Vec {
	sinLat, cosLat := math.Sincos(lat.Rad())
	sinLon, cosLon := math.Sincos(lonEast.Rad())
	return r3.Vec{
		X: radius * cosLat * cosLon,
		Y: radius * sinLat,
		Z: -radius * cosLat * sinLon,
	}
}

// SpherePoint is a latitude, east longitude and radius on a sphere.
type SpherePoint struct {
	Lat     unit.Angle
	LonEast unit.Angle // [0, 2π)
	Radius  float64
}

// ToSphere inverts SurfacePoint. The origin maps to the zero SpherePoint.
func ToSphere(v r3.Vec) SpherePoint {
	radius := r3.Norm(v)
	if radius == 0 {
		return SpherePoint{}
	}
	lat := math.Asin(v.Y / radius)
	lon := math.Atan2(-v.Z, v.X)
	if lon < 0 {
		lon += 2 * math.Pi
	}
	return SpherePoint{
		Lat:     unit.Angle(lat),
		LonEast: unit.Angle(lon),
		Radius:  radius,
	}
}

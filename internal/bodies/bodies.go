// Package bodies is the catalog of planets the viewer can open.
package bodies

import (
	"errors"
	"fmt"
	"strings"

	"github.com/soniakeys/unit"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/Valerrrrrri/SolarSystemEye/internal/kepler"
	"github.com/Valerrrrrri/SolarSystemEye/internal/transform"
)

// ErrUnknownBody is returned by Lookup for names outside the catalog.
var ErrUnknownBody = errors.New("unknown body")

// ErrNoOrbit is returned by Orbit for bodies without an orbit mode.
var ErrNoOrbit = errors.New("body has no orbit mode")

// Mode is a way of viewing a body.
type Mode string

const (
	ModeSurface Mode = "surface"
	ModeOrbit   Mode = "orbit"
)

// Marker is a named point on a body's surface, in planetographic coordinates
// with west-positive longitude as published by the USGS gazetteer.
type Marker struct {
	Name          string
	Latitude      unit.Angle
	LongitudeWest unit.Angle
	Description   string
	Image         string
}

// LongitudeEast returns the east-positive longitude in [0, 360°).
func (m Marker) LongitudeEast() unit.Angle {
	return transform.WestToEast(m.LongitudeWest)
}

// Position returns the marker on the unit display sphere, lifted to
// transform.MarkerRadius.
func (m Marker) Position() r3.Vec {
	return transform.SurfacePoint(m.Latitude, m.LongitudeEast(), transform.MarkerRadius)
}

// Body is one catalog entry.
type Body struct {
	Name         string
	DisplayName  string
	Texture      string
	MeanRadiusKm float64
	Modes        []Mode
	Markers      []Marker

	elements *kepler.OrbitalElements
}

// HasMode reports whether m is one of the body's view modes.
func (b Body) HasMode(m Mode) bool {
	for _, have := range b.Modes {
		if have == m {
			return true
		}
	}
	return false
}

// Elements returns the orbital elements for bodies with an orbit mode.
func (b Body) Elements() (kepler.OrbitalElements, bool) {
	if b.elements == nil {
		return kepler.OrbitalElements{}, false
	}
	return *b.elements, true
}

var beethoven = Marker{
	Name:          "Beethoven crater",
	Latitude:      unit.AngleFromDeg(-20.8),
	LongitudeWest: unit.AngleFromDeg(123.6),
	Description:   "Basin 630 km across, flooded by smooth plains.",
	Image:         "beethoven_crater",
}

func planet(name string, radiusKm float64) Body {
	return Body{
		Name:         name,
		DisplayName:  strings.ToUpper(name[:1]) + name[1:],
		Texture:      name + "_8k",
		MeanRadiusKm: radiusKm,
		Modes:        []Mode{ModeSurface},
	}
}

// Catalog is an ordered, read-only set of bodies.
type Catalog struct {
	bodies []Body
	index  map[string]int
}

// NewCatalog builds the default catalog. mercury sets the elements served in
// Mercury's orbit mode.
func NewCatalog(mercury kepler.OrbitalElements) *Catalog {
	m := planet("mercury", 2439.7)
	m.Modes = append(m.Modes, ModeOrbit)
	m.Markers = []Marker{beethoven}
	m.elements = &mercury

	all := []Body{
		m,
		planet("venus", 6051.8),
		planet("earth", 6371.0),
		planet("mars", 3389.5),
		planet("jupiter", 69911),
		planet("saturn", 58232),
		planet("uranus", 25362),
		planet("neptune", 24622),
	}

	c := &Catalog{bodies: all, index: make(map[string]int, len(all))}
	for i, b := range all {
		c.index[b.Name] = i
	}
	return c
}

// All returns every body in display order.
func (c *Catalog) All() []Body {
	out := make([]Body, len(c.bodies))
	copy(out, c.bodies)
	return out
}

// Lookup finds a body by name, case-insensitively.
func (c *Catalog) Lookup(name string) (Body, error) {
	i, ok := c.index[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return Body{}, fmt.Errorf("%w: %q", ErrUnknownBody, name)
	}
	return c.bodies[i], nil
}

// Orbit returns the orbital elements of the named body.
func (c *Catalog) Orbit(name string) (kepler.OrbitalElements, error) {
	b, err := c.Lookup(name)
	if err != nil {
		return kepler.OrbitalElements{}, err
	}
	el, ok := b.Elements()
	if !ok {
		return kepler.OrbitalElements{}, fmt.Errorf("%w: %s", ErrNoOrbit, b.Name)
	}
	return el, nil
}

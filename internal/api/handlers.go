package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"time"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/Valerrrrrri/SolarSystemEye/internal/apsides"
	"github.com/Valerrrrrri/SolarSystemEye/internal/bodies"
	"github.com/Valerrrrrri/SolarSystemEye/internal/driver"
	"github.com/Valerrrrrri/SolarSystemEye/internal/httputil"
	"github.com/Valerrrrrri/SolarSystemEye/internal/kepler"
	"github.com/Valerrrrrri/SolarSystemEye/internal/propagation"
)

const (
	maxPathSamples    = 10_000
	maxTimeScaleBody  = 1 << 10
	defaultEphemSteps = 360
)

type markerResponse struct {
	Name             string     `json:"name"`
	LatitudeDeg      float64    `json:"latitude_deg"`
	LongitudeWestDeg float64    `json:"longitude_west_deg"`
	LongitudeEastDeg float64    `json:"longitude_east_deg"`
	Description      string     `json:"description"`
	Image            string     `json:"image"`
	Position         [3]float64 `json:"position"`
}

type orbitResponse struct {
	SemiMajorAxisKm        float64 `json:"semi_major_axis_km"`
	Eccentricity           float64 `json:"eccentricity"`
	PeriodSeconds          float64 `json:"period_seconds"`
	InclinationDeg         float64 `json:"inclination_deg"`
	DistanceScale          float64 `json:"distance_scale"`
	PeriapsisKm            float64 `json:"periapsis_km"`
	ApoapsisKm             float64 `json:"apoapsis_km"`
	PeriapsisSpeedKmPerSec float64 `json:"periapsis_speed_km_s"`
	ApoapsisSpeedKmPerSec  float64 `json:"apoapsis_speed_km_s"`
}

type bodyResponse struct {
	Name         string           `json:"name"`
	DisplayName  string           `json:"display_name"`
	Texture      string           `json:"texture"`
	MeanRadiusKm float64          `json:"mean_radius_km"`
	Modes        []bodies.Mode    `json:"modes"`
	Markers      []markerResponse `json:"markers,omitempty"`
	Orbit        *orbitResponse   `json:"orbit,omitempty"`
}

func vec(v r3.Vec) [3]float64 {
	return [3]float64{v.X, v.Y, v.Z}
}

func toOrbitResponse(el kepler.OrbitalElements) *orbitResponse {
	return &orbitResponse{
		SemiMajorAxisKm:        el.SemiMajorAxisKm,
		Eccentricity:           el.Eccentricity,
		PeriodSeconds:          el.PeriodSeconds,
		InclinationDeg:         el.Inclination.Deg(),
		DistanceScale:          el.DistanceScale,
		PeriapsisKm:            el.Periapsis(),
		ApoapsisKm:             el.Apoapsis(),
		PeriapsisSpeedKmPerSec: el.PeriapsisSpeed(),
		ApoapsisSpeedKmPerSec:  el.ApoapsisSpeed(),
	}
}

func toBodyResponse(b bodies.Body, detail bool) bodyResponse {
	resp := bodyResponse{
		Name:         b.Name,
		DisplayName:  b.DisplayName,
		Texture:      b.Texture,
		MeanRadiusKm: b.MeanRadiusKm,
		Modes:        b.Modes,
	}
	if !detail {
		return resp
	}
	for _, m := range b.Markers {
		resp.Markers = append(resp.Markers, markerResponse{
			Name:             m.Name,
			LatitudeDeg:      m.Latitude.Deg(),
			LongitudeWestDeg: m.LongitudeWest.Deg(),
			LongitudeEastDeg: m.LongitudeEast().Deg(),
			Description:      m.Description,
			Image:            m.Image,
			Position:         vec(m.Position()),
		})
	}
	if el, ok := b.Elements(); ok {
		resp.Orbit = toOrbitResponse(el)
	}
	return resp
}

// GET /api/v1/bodies
func listBodiesHandler(catalog *bodies.Catalog) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		all := catalog.All()
		out := make([]bodyResponse, len(all))
		for i, b := range all {
			out[i] = toBodyResponse(b, false)
		}
		httputil.WriteJSON(w, http.StatusOK, map[string]any{
			"count":  len(out),
			"bodies": out,
		})
	}
}

// GET /api/v1/bodies/{name}
func getBodyHandler(catalog *bodies.Catalog) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		b, err := catalog.Lookup(r.PathValue("name"))
		if err != nil {
			httputil.WriteError(w, http.StatusNotFound, err.Error())
			return
		}
		httputil.WriteJSON(w, http.StatusOK, toBodyResponse(b, true))
	}
}

// lookupOrbit resolves {name} to orbital elements, writing 404 on failure.
func lookupOrbit(w http.ResponseWriter, r *http.Request, catalog *bodies.Catalog) (string, kepler.OrbitalElements, bool) {
	name := r.PathValue("name")
	el, err := catalog.Orbit(name)
	if err != nil {
		httputil.WriteError(w, http.StatusNotFound, err.Error())
		return "", kepler.OrbitalElements{}, false
	}
	return name, el, true
}

// floatParam reads a finite float query parameter, or def when absent.
func floatParam(r *http.Request, name string, def float64) (float64, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return def, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, fmt.Errorf("invalid %s parameter, must be a finite number", name)
	}
	return f, nil
}

type sampleResponse struct {
	T  float64    `json:"t"`
	P  [3]float64 `json:"p"`
	R  float64    `json:"r"`
	V  float64    `json:"v"`
	Nu float64    `json:"nu"`
}

// GET /api/v1/bodies/{name}/ephemeris?from=0&to=7600000&step=21000
func ephemerisHandler(logger *slog.Logger, catalog *bodies.Catalog, eph *propagation.Ephemeris) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		name, el, ok := lookupOrbit(w, r, catalog)
		if !ok {
			return
		}

		var req propagation.Request
		var err error
		if req.From, err = floatParam(r, "from", 0); err == nil {
			if req.To, err = floatParam(r, "to", req.From+el.PeriodSeconds); err == nil {
				req.Step, err = floatParam(r, "step", el.PeriodSeconds/defaultEphemSteps)
			}
		}
		if err != nil {
			httputil.WriteError(w, http.StatusBadRequest, err.Error())
			return
		}

		samples, err := eph.Generate(r.Context(), el, req)
		switch {
		case errors.Is(err, propagation.ErrBudgetExceeded):
			httputil.WriteJSON(w, http.StatusBadRequest, map[string]any{
				"error":       err.Error(),
				"max_samples": eph.Config().MaxSamples,
			})
			return
		case errors.Is(err, propagation.ErrInvalidRequest):
			httputil.WriteError(w, http.StatusBadRequest, err.Error())
			return
		case err != nil:
			logger.Warn("ephemeris failed", "body", name, "error", err)
			httputil.WriteError(w, http.StatusServiceUnavailable, "ephemeris unavailable")
			return
		}

		out := make([]sampleResponse, len(samples))
		for i, s := range samples {
			out[i] = sampleResponse{
				T:  s.SimSeconds,
				P:  vec(s.Position),
				R:  s.RadiusKm,
				V:  s.SpeedKmPerSecond,
				Nu: s.TrueAnomaly,
			}
		}
		httputil.WriteJSON(w, http.StatusOK, map[string]any{
			"body":    name,
			"from":    req.From,
			"to":      req.To,
			"step":    req.Step,
			"count":   len(out),
			"samples": out,
		})
	}
}

// GET /api/v1/bodies/{name}/apsides?from=0&to=7600000
func apsidesHandler(logger *slog.Logger, catalog *bodies.Catalog) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		name, el, ok := lookupOrbit(w, r, catalog)
		if !ok {
			return
		}

		from, err := floatParam(r, "from", 0)
		var to float64
		if err == nil {
			to, err = floatParam(r, "to", from+el.PeriodSeconds)
		}
		if err != nil {
			httputil.WriteError(w, http.StatusBadRequest, err.Error())
			return
		}
		if to < from {
			httputil.WriteError(w, http.StatusBadRequest, "to must not be before from")
			return
		}

		start := time.Now()
		events, err := apsides.FindBody(r.Context(), el, from, to, apsides.DefaultMaxEvents)
		if err != nil {
			if errors.Is(err, apsides.ErrWindowTooLarge) {
				httputil.WriteError(w, http.StatusBadRequest, err.Error())
				return
			}
			logger.Warn("apsis search failed", "body", name, "error", err)
			httputil.WriteError(w, http.StatusServiceUnavailable, "apsis search unavailable")
			return
		}

		logger.Debug("apsis search complete",
			"body", name,
			"events", len(events),
			"duration_ms", time.Since(start).Milliseconds(),
		)

		if events == nil {
			events = []apsides.Event{}
		}
		httputil.WriteJSON(w, http.StatusOK, map[string]any{
			"body":   name,
			"from":   from,
			"to":     to,
			"events": events,
		})
	}
}

type stateResponse struct {
	Seq              uint64     `json:"seq"`
	WallTime         string     `json:"wall_time"`
	SimSeconds       float64    `json:"sim_seconds"`
	TimeScale        float64    `json:"time_scale"`
	Position         [3]float64 `json:"position"`
	SpeedKmPerSecond float64    `json:"speed_km_s"`
	RadiusKm         float64    `json:"radius_km"`
	MeanAnomaly      float64    `json:"mean_anomaly"`
	EccentricAnomaly float64    `json:"eccentric_anomaly"`
	TrueAnomaly      float64    `json:"true_anomaly"`
	Label            string     `json:"label"`
}

// GET /api/v1/orbit/state
func stateHandler(d *driver.Driver) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		f := d.Latest()
		if f == nil {
			httputil.WriteError(w, http.StatusServiceUnavailable, "no frames yet")
			return
		}
		res := f.Result
		httputil.WriteJSON(w, http.StatusOK, stateResponse{
			Seq:              f.Seq,
			WallTime:         f.WallTime.UTC().Format(time.RFC3339Nano),
			SimSeconds:       f.SimSeconds,
			TimeScale:        f.TimeScale,
			Position:         vec(res.Position),
			SpeedKmPerSecond: res.SpeedKmPerSecond,
			RadiusKm:         res.RadiusKm,
			MeanAnomaly:      res.MeanAnomaly,
			EccentricAnomaly: res.EccentricAnomaly,
			TrueAnomaly:      res.TrueAnomaly,
			Label:            res.SpeedLabel(),
		})
	}
}

func timeScaleBody(v float64) map[string]any {
	return map[string]any{
		"time_scale": v,
		"frozen":     v == 0,
		"min":        driver.MinTimeScale,
		"max":        driver.MaxTimeScale,
		"step":       driver.TimeScaleStep,
	}
}

// GET /api/v1/orbit/timescale
func getTimeScaleHandler(d *driver.Driver) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		httputil.WriteJSON(w, http.StatusOK, timeScaleBody(d.TimeScale()))
	}
}

// PUT /api/v1/orbit/timescale {"time_scale": 3000}
func putTimeScaleHandler(logger *slog.Logger, d *driver.Driver) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			TimeScale *float64 `json:"time_scale"`
		}
		dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxTimeScaleBody))
		if err := dec.Decode(&body); err != nil {
			httputil.WriteError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		if body.TimeScale == nil {
			httputil.WriteError(w, http.StatusBadRequest, "time_scale is required")
			return
		}
		if err := d.TrySetTimeScale(*body.TimeScale); err != nil {
			httputil.WriteError(w, http.StatusBadRequest, err.Error())
			return
		}

		logger.Info("time scale changed", "time_scale", *body.TimeScale, "source", "http")
		httputil.WriteJSON(w, http.StatusOK, timeScaleBody(d.TimeScale()))
	}
}

// GET /api/v1/orbit/path?samples=360
func pathHandler(d *driver.Driver) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		samples := kepler.DefaultPathSamples
		if v := r.URL.Query().Get("samples"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n < 3 || n > maxPathSamples {
				httputil.WriteError(w, http.StatusBadRequest,
					fmt.Sprintf("invalid samples parameter, must be 3-%d", maxPathSamples))
				return
			}
			samples = n
		}

		pts := kepler.OrbitPath(d.Elements(), samples)
		out := make([][3]float64, len(pts))
		for i, p := range pts {
			out[i] = vec(p)
		}
		httputil.WriteJSON(w, http.StatusOK, map[string]any{
			"samples": len(out),
			"points":  out,
		})
	}
}

// Package stream pushes driver frames to browsers over Server-Sent Events
// and WebSocket. Clients connect via GET /api/v1/stream/frames (SSE) or
// GET /api/v1/stream/ws and receive the orbiting body's position and speed.
//
// SSE message format:
//
//	id: 42\n
//	data: {"type":"frame","seq":42,"t":84000,"time_scale":2000,"p":[0.35,-0.04,0.36],"v":47.36,...}\n\n
//
// First message is always metadata:
//
//	data: {"type":"metadata","epoch":"...","epoch_jd":2461330.5,"time_scale":2000,...}\n\n
//
// Keep-alive comments (:\n\n) are sent every KeepaliveInterval to prevent timeout.
// Reconnecting clients receive a fresh metadata message on each connection.
package stream

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"math/rand"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/websocket"
	"github.com/soniakeys/meeus/v3/julian"

	"github.com/Valerrrrrri/SolarSystemEye/internal/auth"
	"github.com/Valerrrrrri/SolarSystemEye/internal/cache"
	"github.com/Valerrrrrri/SolarSystemEye/internal/driver"
	"github.com/Valerrrrrri/SolarSystemEye/internal/httputil"
	"github.com/Valerrrrrri/SolarSystemEye/internal/metrics"
)

// Config holds streaming configuration.
type Config struct {
	MaxConcurrentPerIP int           // Max concurrent streams per IP (default: 10).
	MaxConcurrent      int           // Max concurrent streams in total (default: 1000).
	KeepaliveInterval  time.Duration // Keep-alive ping interval (default: 30s).
	ControlRate        float64       // Time-scale messages per second per socket (default: 10).
	TrailLength        int           // Upper bound for ?trail= (default: 120).
	TrustProxy         bool          // Read client IPs from X-Forwarded-For.
}

const (
	defaultEvery = 4
	maxEvery     = 600
	defaultTrail = 20

	subscriberBuffer = 16
)

// Handler manages streaming connections.
type Handler struct {
	driver   *driver.Driver
	trail    *cache.TrailCache
	auth     auth.Config
	config   Config
	slots    *slots
	logger   *slog.Logger
	upgrader websocket.Upgrader
}

// NewHandler creates a new streaming handler. trail may be nil, in which
// case frames never carry a trail.
func NewHandler(d *driver.Driver, trail *cache.TrailCache, authCfg auth.Config, config Config, logger *slog.Logger) *Handler {
	if config.KeepaliveInterval <= 0 {
		config.KeepaliveInterval = 30 * time.Second
	}
	if config.MaxConcurrent <= 0 {
		config.MaxConcurrent = 1000
	}
	return &Handler{
		driver: d,
		trail:  trail,
		auth:   authCfg,
		config: config,
		slots:  newSlots(config.MaxConcurrentPerIP, config.MaxConcurrent),
		logger: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
		},
	}
}

// streamParams are the query parameters shared by both transports.
type streamParams struct {
	every int // send every n-th driver frame
	trail int // trail frames attached to each message
}

func (h *Handler) parseParams(r *http.Request) (streamParams, error) {
	p := streamParams{every: defaultEvery, trail: min(defaultTrail, h.config.TrailLength)}
	if h.trail == nil {
		p.trail = 0
	}

	if v := r.URL.Query().Get("every"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > maxEvery {
			return p, fmt.Errorf("invalid every parameter, must be 1-%d", maxEvery)
		}
		p.every = n
	}

	if v := r.URL.Query().Get("trail"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 || n > h.config.TrailLength {
			return p, fmt.Errorf("invalid trail parameter, must be 0-%d", h.config.TrailLength)
		}
		if h.trail != nil {
			p.trail = n
		}
	}
	return p, nil
}

// admit takes a stream slot for the client. On refusal it writes the 429
// response and returns false; otherwise the caller must call the returned
// release.
func (h *Handler) admit(w http.ResponseWriter, r *http.Request, transport string) (string, func(), bool) {
	ip := httputil.ClientIP(r, h.config.TrustProxy)
	giveBack, err := h.slots.take(ip)
	if err != nil {
		metrics.IncStreamErrors("rate_limit")
		h.logger.Warn("stream refused",
			"remote_ip", ip,
			"transport", transport,
			"held", h.slots.held(ip),
			"error", err,
		)
		w.Header().Set("Retry-After", "30")
		httputil.WriteError(w, http.StatusTooManyRequests, err.Error())
		return ip, nil, false
	}

	metrics.IncStreamConnections(transport, "connect")
	metrics.IncStreamsActive()
	start := time.Now()

	return ip, func() {
		giveBack()
		metrics.IncStreamConnections(transport, "disconnect")
		metrics.DecStreamsActive()
		h.logger.Info("stream disconnected",
			"remote_ip", ip,
			"transport", transport,
			"duration_seconds", int(time.Since(start).Seconds()),
		)
	}, true
}

// HandleFrames serves the SSE frame stream.
// GET /api/v1/stream/frames?every=4&trail=20
func (h *Handler) HandleFrames(w http.ResponseWriter, r *http.Request) {
	params, err := h.parseParams(r)
	if err != nil {
		httputil.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	ip, release, ok := h.admit(w, r, "sse")
	if !ok {
		return
	}
	defer release()

	h.logger.Info("stream connected",
		"remote_ip", ip,
		"transport", "sse",
		"user_agent", r.Header.Get("User-Agent"),
		"every", params.every,
		"trail", params.trail,
	)

	// Verify flusher support (required for SSE).
	flusher, ok := w.(http.Flusher)
	if !ok {
		httputil.WriteError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	// Subscribe before writing headers so no frame published after the
	// metadata is missed.
	frames, unsubscribe := h.driver.Subscribe(subscriberBuffer)
	defer unsubscribe()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // Disable nginx buffering.
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ev := newEventWriter(w, flusher, h.logger)
	// Clear the server's default WriteTimeout for this connection.
	if err := ev.rc.SetWriteDeadline(time.Time{}); err != nil {
		h.logger.Debug("could not clear write deadline", "error", err)
	}

	// Jittered retry interval (3-7s) spreads reconnects after a restart.
	if err := ev.retry(3*time.Second + time.Duration(rand.Intn(4000))*time.Millisecond); err != nil {
		metrics.IncStreamErrors("send_error")
		return
	}

	if err := ev.eventJSON(h.metadata()); err != nil {
		metrics.IncStreamErrors("send_error")
		h.logger.Warn("stream send error (metadata)", "remote_ip", ip, "error", err)
		return
	}

	keepaliveTicker := time.NewTicker(h.config.KeepaliveInterval)
	defer keepaliveTicker.Stop()

	ctx := r.Context()
	received := 0

	for {
		select {
		case <-ctx.Done():
			h.logger.Debug("sse stream closed", "remote_ip", ip, "events", ev.events, "bytes", ev.bytes)
			return

		case f, ok := <-frames:
			if !ok {
				return
			}
			received++
			if received%params.every != 0 {
				continue
			}

			data, err := json.Marshal(h.frameMessage(f, params.trail))
			if err != nil {
				metrics.IncStreamErrors("marshal_error")
				h.logger.Warn("stream marshal error", "remote_ip", ip, "error", err)
				continue
			}
			if err := ev.event(f.Seq, data); err != nil {
				metrics.IncStreamErrors("send_error")
				h.logger.Warn("stream send error", "remote_ip", ip, "error", err)
				return
			}

			// Data counts as activity.
			keepaliveTicker.Reset(h.config.KeepaliveInterval)

		case <-keepaliveTicker.C:
			if err := ev.keepalive(); err != nil {
				metrics.IncStreamErrors("send_error")
				h.logger.Warn("stream keepalive error", "remote_ip", ip, "error", err)
				return
			}
		}
	}
}

func (h *Handler) metadata() metadataMessage {
	el := h.driver.Elements()
	epoch := h.driver.EpochStart().UTC()
	return metadataMessage{
		Type:          "metadata",
		Epoch:         epoch.Format(time.RFC3339),
		EpochJD:       julian.TimeToJD(epoch),
		TimeScale:     h.driver.TimeScale(),
		SemiMajorKm:   el.SemiMajorAxisKm,
		Eccentricity:  el.Eccentricity,
		PeriodSeconds: el.PeriodSeconds,
		Inclination:   el.Inclination.Deg(),
		DistanceScale: el.DistanceScale,
	}
}

// frameMessage formats a frame into the stream payload. With trail > 0 the
// message carries up to trail past positions, oldest first.
func (h *Handler) frameMessage(f driver.Frame, trail int) frameMessage {
	res := f.Result
	msg := frameMessage{
		Type:      "frame",
		Seq:       f.Seq,
		T:         f.SimSeconds,
		TimeScale: f.TimeScale,
		P:         [3]float64{res.Position.X, res.Position.Y, res.Position.Z},
		V:         res.SpeedKmPerSecond,
		R:         res.RadiusKm,
		Nu:        res.TrueAnomaly,
		Label:     res.SpeedLabel(),
	}
	if trail > 0 && h.trail != nil {
		past := h.trail.Recent(trail)
		msg.Tr = make([][3]float64, len(past))
		for i, p := range past {
			pos := p.Result.Position
			msg.Tr[i] = [3]float64{pos.X, pos.Y, pos.Z}
		}
	}
	return msg
}

// Stream message payload types.

type metadataMessage struct {
	Type          string  `json:"type"`
	Epoch         string  `json:"epoch"`
	EpochJD       float64 `json:"epoch_jd"`
	TimeScale     float64 `json:"time_scale"`
	SemiMajorKm   float64 `json:"semi_major_axis_km"`
	Eccentricity  float64 `json:"eccentricity"`
	PeriodSeconds float64 `json:"period_seconds"`
	Inclination   float64 `json:"inclination_deg"`
	DistanceScale float64 `json:"distance_scale"`
}

type frameMessage struct {
	Type      string       `json:"type"`
	Seq       uint64       `json:"seq"`
	T         float64      `json:"t"`
	TimeScale float64      `json:"time_scale"`
	P         [3]float64   `json:"p"`
	V         float64      `json:"v"`
	R         float64      `json:"r"`
	Nu        float64      `json:"nu"`
	Label     string       `json:"label"`
	Tr        [][3]float64 `json:"tr,omitempty"`
}

package metrics

import (
	"bufio"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "solareye_http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"path", "method", "code"},
	)

	httpDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "solareye_http_duration_seconds",
			Help:    "HTTP request duration in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"path", "method"},
	)

	framesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "solareye_frames_total",
			Help: "Frames produced by the frame driver.",
		},
	)

	frameStepSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "solareye_frame_step_seconds",
			Help:    "Time spent propagating one frame.",
			Buckets: []float64{1e-7, 5e-7, 1e-6, 5e-6, 1e-5, 5e-5, 1e-4, 1e-3},
		},
	)

	timeScaleGauge = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "solareye_time_scale",
			Help: "Current simulated seconds per wall-clock second.",
		},
	)

	speedGauge = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "solareye_orbital_speed_km_per_second",
			Help: "Orbital speed of the driven body in the latest frame.",
		},
	)

	simSecondsGauge = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "solareye_simulated_seconds",
			Help: "Simulated seconds since epoch in the latest frame.",
		},
	)

	subscriberDropsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "solareye_subscriber_drops_total",
			Help: "Frames dropped because a subscriber channel was full.",
		},
	)

	streamConnectionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "solareye_stream_connections_total",
			Help: "Stream connect and disconnect events.",
		},
		[]string{"transport", "event"},
	)

	streamsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "solareye_streams_active",
			Help: "Currently open frame streams.",
		},
	)

	streamMessagesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "solareye_stream_messages_total",
			Help: "Messages written to frame streams.",
		},
	)

	streamBytesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "solareye_stream_bytes_total",
			Help: "Bytes written to frame streams.",
		},
	)

	streamErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "solareye_stream_errors_total",
			Help: "Frame stream errors by reason.",
		},
		[]string{"reason"},
	)

	ephemerisSamplesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "solareye_ephemeris_samples_total",
			Help: "Ephemeris samples propagated.",
		},
	)

	ephemerisDurationSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "solareye_ephemeris_duration_seconds",
			Help:    "Wall time of one ephemeris request.",
			Buckets: prometheus.DefBuckets,
		},
	)

	trailLookupsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "solareye_trail_lookups_total",
			Help: "Trail buffer lookups by result.",
		},
		[]string{"result"},
	)

	trailEvictionsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "solareye_trail_evictions_total",
			Help: "Frames evicted from the trail buffer.",
		},
	)
)

func init() {
	prometheus.MustRegister(
		httpRequestsTotal,
		httpDurationSeconds,
		framesTotal,
		frameStepSeconds,
		timeScaleGauge,
		speedGauge,
		simSecondsGauge,
		subscriberDropsTotal,
		streamConnectionsTotal,
		streamsActive,
		streamMessagesTotal,
		streamBytesTotal,
		streamErrorsTotal,
		ephemerisSamplesTotal,
		ephemerisDurationSeconds,
		trailLookupsTotal,
		trailEvictionsTotal,
	)
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveFrame records one produced frame.
func ObserveFrame(step time.Duration, simSeconds, speedKmPerSecond float64) {
	framesTotal.Inc()
	frameStepSeconds.Observe(step.Seconds())
	simSecondsGauge.Set(simSeconds)
	speedGauge.Set(speedKmPerSecond)
}

func SetTimeScale(v float64) { timeScaleGauge.Set(v) }

func IncSubscriberDrops() { subscriberDropsTotal.Inc() }

// IncStreamConnections counts a stream lifecycle event ("connect" or "disconnect").
func IncStreamConnections(transport, event string) {
	streamConnectionsTotal.WithLabelValues(transport, event).Inc()
}

func IncStreamsActive() { streamsActive.Inc() }
func DecStreamsActive() { streamsActive.Dec() }

func IncStreamMessages() { streamMessagesTotal.Inc() }

func AddStreamBytes(n int64) { streamBytesTotal.Add(float64(n)) }

// IncStreamErrors counts a stream error. reason is a fixed token such as
// "rate_limit", "send_error" or "marshal_error".
func IncStreamErrors(reason string) {
	streamErrorsTotal.WithLabelValues(reason).Inc()
}

// ObserveEphemeris records a completed ephemeris batch.
func ObserveEphemeris(samples int, d time.Duration) {
	ephemerisSamplesTotal.Add(float64(samples))
	ephemerisDurationSeconds.Observe(d.Seconds())
}

func IncTrailHits()      { trailLookupsTotal.WithLabelValues("hit").Inc() }
func IncTrailMisses()    { trailLookupsTotal.WithLabelValues("miss").Inc() }
func IncTrailEvictions() { trailEvictionsTotal.Inc() }

// responseWriter wraps http.ResponseWriter to capture the status code.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Flush keeps SSE working behind the middleware.
func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Hijack lets the WebSocket upgrader take over the connection.
func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	rw.statusCode = http.StatusSwitchingProtocols
	return http.NewResponseController(rw.ResponseWriter).Hijack()
}

// Unwrap lets http.ResponseController reach the underlying writer.
func (rw *responseWriter) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}

// Middleware records request count and duration for each request.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(rw, r)

		duration := time.Since(start).Seconds()
		code := strconv.Itoa(rw.statusCode)
		route := normalizeRoute(r.URL.Path)

		httpRequestsTotal.WithLabelValues(route, r.Method, code).Inc()
		httpDurationSeconds.WithLabelValues(route, r.Method).Observe(duration)
	})
}

var knownRoutes = map[string]bool{
	"/":                       true,
	"/app.js":                 true,
	"/styles.css":             true,
	"/healthz":                true,
	"/readyz":                 true,
	"/metrics":                true,
	"/api/v1/bodies":          true,
	"/api/v1/orbit/state":     true,
	"/api/v1/orbit/timescale": true,
	"/api/v1/orbit/path":      true,
	"/api/v1/stream/frames":   true,
	"/api/v1/stream/ws":       true,
}

// normalizeRoute maps a request path to a bounded set of route labels.
// Body names collapse to {name}; anything unknown becomes "other".
func normalizeRoute(path string) string {
	if knownRoutes[path] {
		return path
	}
	rest, ok := strings.CutPrefix(path, "/api/v1/bodies/")
	if !ok || rest == "" {
		return "other"
	}
	name, sub, _ := strings.Cut(rest, "/")
	if name == "" {
		return "other"
	}
	switch sub {
	case "":
		return "/api/v1/bodies/{name}"
	case "ephemeris":
		return "/api/v1/bodies/{name}/ephemeris"
	case "apsides":
		return "/api/v1/bodies/{name}/apsides"
	}
	return "other"
}

// Package api wires the HTTP surface: probes, metrics, the catalog and orbit
// endpoints, the frame streams and the embedded browser renderer.
package api

import (
	"bufio"
	"io/fs"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/Valerrrrrri/SolarSystemEye/internal/auth"
	"github.com/Valerrrrrri/SolarSystemEye/internal/bodies"
	"github.com/Valerrrrrri/SolarSystemEye/internal/driver"
	"github.com/Valerrrrrri/SolarSystemEye/internal/health"
	"github.com/Valerrrrrri/SolarSystemEye/internal/metrics"
	"github.com/Valerrrrrri/SolarSystemEye/internal/propagation"
	"github.com/Valerrrrrri/SolarSystemEye/internal/stream"
)

// readyMaxAge is how old the latest frame may be before /readyz fails.
const readyMaxAge = 5 * time.Second

// Deps are the components served by the API.
type Deps struct {
	Auth      auth.Config
	Driver    *driver.Driver
	Catalog   *bodies.Catalog
	Ephemeris *propagation.Ephemeris
	Stream    *stream.Handler
	Content   fs.FS // embedded renderer; nil disables GET /
}

// Server holds the HTTP server and its dependencies.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer creates a configured HTTP server.
func NewServer(addr string, logger *slog.Logger, deps Deps) *Server {
	return &Server{
		httpServer: &http.Server{
			Addr:              addr,
			Handler:           NewHandler(logger, deps),
			ReadTimeout:       10 * time.Second,
			ReadHeaderTimeout: 5 * time.Second,
			WriteTimeout:      10 * time.Second,
			IdleTimeout:       120 * time.Second,
		},
		logger: logger,
	}
}

// NewHandler builds the routed handler with the middleware chain applied.
func NewHandler(logger *slog.Logger, deps Deps) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", health.Healthz)
	mux.HandleFunc("GET /readyz", health.Readyz(frameSource(deps.Driver), readyMaxAge))
	mux.Handle("GET /metrics", metrics.Handler())

	mux.HandleFunc("GET /api/v1/bodies", listBodiesHandler(deps.Catalog))
	mux.HandleFunc("GET /api/v1/bodies/{name}", getBodyHandler(deps.Catalog))
	mux.HandleFunc("GET /api/v1/bodies/{name}/ephemeris", ephemerisHandler(logger, deps.Catalog, deps.Ephemeris))
	mux.HandleFunc("GET /api/v1/bodies/{name}/apsides", apsidesHandler(logger, deps.Catalog))

	mux.HandleFunc("GET /api/v1/orbit/state", stateHandler(deps.Driver))
	mux.HandleFunc("GET /api/v1/orbit/timescale", getTimeScaleHandler(deps.Driver))
	mux.HandleFunc("PUT /api/v1/orbit/timescale", putTimeScaleHandler(logger, deps.Driver))
	mux.HandleFunc("GET /api/v1/orbit/path", pathHandler(deps.Driver))

	if deps.Stream != nil {
		mux.HandleFunc("GET /api/v1/stream/frames", deps.Stream.HandleFrames)
		mux.HandleFunc("GET /api/v1/stream/ws", deps.Stream.HandleWS)
	}

	if deps.Content != nil {
		mux.Handle("GET /", http.FileServerFS(deps.Content))
	}

	// Build middleware chain: metrics -> logging -> auth -> mux.
	var handler http.Handler = mux
	handler = auth.Middleware(deps.Auth)(handler)
	handler = loggingMiddleware(logger)(handler)
	handler = metrics.Middleware(handler)
	return handler
}

// HTTPServer returns the underlying *http.Server for external control (e.g. shutdown).
func (s *Server) HTTPServer() *http.Server {
	return s.httpServer
}

// ListenAndServe starts the HTTP server.
func (s *Server) ListenAndServe() error {
	return s.httpServer.ListenAndServe()
}

func frameSource(d *driver.Driver) health.FrameSource {
	return func() (time.Time, bool) {
		f := d.Latest()
		if f == nil {
			return time.Time{}, false
		}
		return f.WallTime, true
	}
}

// probePath returns true for health/readiness probe paths that should not log at INFO.
func probePath(path string) bool {
	return path == "/healthz" || path == "/readyz"
}

type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (sr *statusRecorder) WriteHeader(code int) {
	sr.statusCode = code
	sr.ResponseWriter.WriteHeader(code)
}

func (sr *statusRecorder) Flush() {
	if f, ok := sr.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (sr *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	sr.statusCode = http.StatusSwitchingProtocols
	return http.NewResponseController(sr.ResponseWriter).Hijack()
}

func (sr *statusRecorder) Unwrap() http.ResponseWriter {
	return sr.ResponseWriter
}

func loggingMiddleware(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			sr := &statusRecorder{ResponseWriter: w, statusCode: http.StatusOK}

			next.ServeHTTP(sr, r)

			duration := time.Since(start)
			level := slog.LevelInfo
			if probePath(r.URL.Path) {
				level = slog.LevelDebug
			}

			logger.Log(r.Context(), level, "request",
				"component", "api",
				"method", r.Method,
				"path", r.URL.Path,
				"status", strconv.Itoa(sr.statusCode),
				"duration_ms", duration.Milliseconds(),
				"remote_ip", r.RemoteAddr,
			)
		})
	}
}

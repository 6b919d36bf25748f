// Package config loads service settings from an optional config file and
// SOLAREYE_* environment variables.
//
// Malformed operational settings fall back to their defaults with a warning.
// Malformed orbital elements are a hard error.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/soniakeys/unit"
	"github.com/spf13/viper"

	"github.com/Valerrrrrri/SolarSystemEye/internal/auth"
	"github.com/Valerrrrrri/SolarSystemEye/internal/driver"
	"github.com/Valerrrrrri/SolarSystemEye/internal/kepler"
	"github.com/Valerrrrrri/SolarSystemEye/internal/propagation"
	"github.com/Valerrrrrri/SolarSystemEye/internal/stream"
)

const envPrefix = "SOLAREYE"

const secondsPerDay = 86400.0

// HTTPConfig holds listener settings.
type HTTPConfig struct {
	Addr        string
	TLSDomain   string // autocert host; empty disables TLS
	TLSCacheDir string
	TrustProxy  bool
}

// DriverConfig holds frame loop settings.
type DriverConfig struct {
	FPS       int
	TimeScale float64
}

// Interval returns the tick period for FPS.
func (d DriverConfig) Interval() time.Duration {
	return time.Second / time.Duration(d.FPS)
}

// Config is the fully resolved service configuration.
type Config struct {
	HTTP      HTTPConfig
	LogLevel  slog.Level
	Auth      auth.Config
	Driver    DriverConfig
	Stream    stream.Config
	Ephemeris propagation.Config
	Orbit     kepler.OrbitalElements

	// File is the config file that was read, if any.
	File string
}

// New returns a viper instance with defaults and environment bindings set.
func New() *viper.Viper {
	v := viper.New()
	v.SetConfigName("solareye")
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/solareye")
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	// Short aliases.
	_ = v.BindEnv("driver.time_scale", envPrefix+"_DRIVER_TIME_SCALE", envPrefix+"_TIME_SCALE")
	_ = v.BindEnv("http.addr", envPrefix+"_HTTP_ADDR", envPrefix+"_ADDR")
	return v
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("http.addr", ":8080")
	v.SetDefault("http.tls_domain", "")
	v.SetDefault("http.tls_cache_dir", "/tmp/solareye/autocert")
	v.SetDefault("http.trust_proxy", false)

	v.SetDefault("log.level", "info")

	v.SetDefault("auth.enabled", false)
	v.SetDefault("auth.token", "")

	v.SetDefault("driver.fps", driver.DefaultFPS)
	v.SetDefault("driver.time_scale", driver.DefaultTimeScale)

	v.SetDefault("stream.max_concurrent_per_ip", 10)
	v.SetDefault("stream.max_concurrent", 1000)
	v.SetDefault("stream.keepalive_interval", "30s")
	v.SetDefault("stream.control_rate", 10)
	v.SetDefault("stream.trail", 120)

	v.SetDefault("ephemeris.workers", runtime.NumCPU())
	v.SetDefault("ephemeris.max_samples", propagation.DefaultMaxSamples)

	m := kepler.Mercury
	v.SetDefault("orbit.a_km", m.SemiMajorAxisKm)
	v.SetDefault("orbit.e", m.Eccentricity)
	v.SetDefault("orbit.period_days", m.PeriodSeconds/secondsPerDay)
	v.SetDefault("orbit.mu", m.Mu)
	v.SetDefault("orbit.inclination_deg", m.Inclination.Deg())
	v.SetDefault("orbit.scale_km", m.DistanceScale)
}

// Load reads the config file (path, or the default search paths when empty)
// and resolves every setting. A missing file is only an error when path is
// set explicitly.
func Load(v *viper.Viper, path string, logger *slog.Logger) (Config, error) {
	if path != "" {
		v.SetConfigFile(path)
	}
	var cfg Config
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return cfg, fmt.Errorf("read config: %w", err)
		}
	} else {
		cfg.File = v.ConfigFileUsed()
	}

	r := resolver{v: v, logger: logger}

	cfg.HTTP = HTTPConfig{
		Addr:        r.str("http.addr", ":8080"),
		TLSDomain:   r.str("http.tls_domain", ""),
		TLSCacheDir: r.str("http.tls_cache_dir", "/tmp/solareye/autocert"),
		TrustProxy:  r.boolean("http.trust_proxy", false),
	}

	cfg.LogLevel = r.level("log.level")

	cfg.Auth = auth.Config{
		Enabled: r.boolean("auth.enabled", false),
		Token:   v.GetString("auth.token"),
	}
	if cfg.Auth.Enabled && cfg.Auth.Token == "" {
		return cfg, errors.New("auth.token (SOLAREYE_AUTH_TOKEN) is required when auth is enabled")
	}

	cfg.Driver = DriverConfig{
		FPS:       r.integer("driver.fps", driver.DefaultFPS, 1),
		TimeScale: r.timeScale("driver.time_scale"),
	}

	cfg.Stream = stream.Config{
		MaxConcurrentPerIP: r.integer("stream.max_concurrent_per_ip", 10, 1),
		MaxConcurrent:      r.integer("stream.max_concurrent", 1000, 1),
		KeepaliveInterval:  r.duration("stream.keepalive_interval", 30*time.Second),
		ControlRate:        float64(r.integer("stream.control_rate", 10, 1)),
		TrailLength:        r.integer("stream.trail", 120, 0),
		TrustProxy:         cfg.HTTP.TrustProxy,
	}

	cfg.Ephemeris = propagation.Config{
		Workers:    r.integer("ephemeris.workers", runtime.NumCPU(), 1),
		MaxSamples: r.integer("ephemeris.max_samples", propagation.DefaultMaxSamples, 1),
	}

	orbit, err := loadOrbit(v)
	if err != nil {
		return cfg, err
	}
	cfg.Orbit = orbit

	logger.Info("config loaded",
		"file", cfg.File,
		"addr", cfg.HTTP.Addr,
		"tls_domain", cfg.HTTP.TLSDomain,
		"log_level", cfg.LogLevel.String(),
		"auth_enabled", cfg.Auth.Enabled,
		"fps", cfg.Driver.FPS,
		"time_scale", cfg.Driver.TimeScale,
		"ephemeris_workers", cfg.Ephemeris.Workers,
	)
	return cfg, nil
}

func loadOrbit(v *viper.Viper) (kepler.OrbitalElements, error) {
	var el kepler.OrbitalElements
	fields := []struct {
		key string
		set func(float64)
	}{
		{"orbit.a_km", func(f float64) { el.SemiMajorAxisKm = f }},
		{"orbit.e", func(f float64) { el.Eccentricity = f }},
		{"orbit.period_days", func(f float64) { el.PeriodSeconds = f * secondsPerDay }},
		{"orbit.mu", func(f float64) { el.Mu = f }},
		{"orbit.inclination_deg", func(f float64) { el.Inclination = unit.AngleFromDeg(f) }},
		{"orbit.scale_km", func(f float64) { el.DistanceScale = f }},
	}
	for _, f := range fields {
		s := strings.TrimSpace(v.GetString(f.key))
		n, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return el, fmt.Errorf("%s: %q: %w", f.key, s, kepler.ErrInvalidElements)
		}
		f.set(n)
	}
	if err := el.Validate(); err != nil {
		return el, fmt.Errorf("orbit config: %w", err)
	}
	return el, nil
}

// resolver reads keys and warns on malformed values.
type resolver struct {
	v      *viper.Viper
	logger *slog.Logger
}

func (r resolver) warn(key, value string, def any) {
	r.logger.Warn("invalid config value, using default",
		"key", key,
		"env", envPrefix+"_"+strings.ToUpper(strings.ReplaceAll(key, ".", "_")),
		"value", value,
		"default", def,
	)
}

func (r resolver) str(key, def string) string {
	if s := strings.TrimSpace(r.v.GetString(key)); s != "" {
		return s
	}
	return def
}

func (r resolver) boolean(key string, def bool) bool {
	s := strings.TrimSpace(r.v.GetString(key))
	if s == "" {
		return def
	}
	b, err := strconv.ParseBool(s)
	if err != nil {
		r.warn(key, s, def)
		return def
	}
	return b
}

func (r resolver) integer(key string, def, min int) int {
	s := strings.TrimSpace(r.v.GetString(key))
	n, err := strconv.Atoi(s)
	if err != nil || n < min {
		r.warn(key, s, def)
		return def
	}
	return n
}

// duration accepts Go durations ("45s") or whole seconds ("45").
func (r resolver) duration(key string, def time.Duration) time.Duration {
	s := strings.TrimSpace(r.v.GetString(key))
	if n, err := strconv.Atoi(s); err == nil && n > 0 {
		return time.Duration(n) * time.Second
	}
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		r.warn(key, s, def.String())
		return def
	}
	return d
}

func (r resolver) timeScale(key string) float64 {
	s := strings.TrimSpace(r.v.GetString(key))
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || driver.ValidateTimeScale(f) != nil {
		r.warn(key, s, driver.DefaultTimeScale)
		return driver.DefaultTimeScale
	}
	return f
}

func (r resolver) level(key string) slog.Level {
	s := strings.TrimSpace(r.v.GetString(key))
	var l slog.Level
	if err := l.UnmarshalText([]byte(s)); err != nil {
		r.warn(key, s, "info")
		return slog.LevelInfo
	}
	return l
}

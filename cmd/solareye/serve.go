package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/crypto/acme/autocert"

	"github.com/Valerrrrrri/SolarSystemEye/internal/api"
	"github.com/Valerrrrrri/SolarSystemEye/internal/bodies"
	"github.com/Valerrrrrri/SolarSystemEye/internal/cache"
	"github.com/Valerrrrrri/SolarSystemEye/internal/driver"
	"github.com/Valerrrrrri/SolarSystemEye/internal/kepler"
	"github.com/Valerrrrrri/SolarSystemEye/internal/propagation"
	"github.com/Valerrrrrri/SolarSystemEye/internal/stream"
	"github.com/Valerrrrrri/SolarSystemEye/web"
)

func newServeCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP service and browser renderer",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), a)
		},
	}
}

func runServe(parent context.Context, a *app) error {
	cfg, logger := a.cfg, a.logger

	d, err := driver.New(kepler.NewPropagator(cfg.Orbit), driver.Config{
		TimeScale: cfg.Driver.TimeScale,
	}, logger)
	if err != nil {
		return err
	}

	var trail *cache.TrailCache
	if cfg.Stream.TrailLength > 0 {
		trail = cache.NewTrailCache(cache.Config{
			Length:  cfg.Stream.TrailLength,
			Spacing: cache.SpacingForHalfOrbit(cfg.Orbit.PeriodSeconds, cfg.Stream.TrailLength),
		}, logger)
	}

	srv := api.NewServer(cfg.HTTP.Addr, logger, api.Deps{
		Auth:      cfg.Auth,
		Driver:    d,
		Catalog:   bodies.NewCatalog(cfg.Orbit),
		Ephemeris: propagation.NewEphemeris(cfg.Ephemeris, logger),
		Stream:    stream.NewHandler(d, trail, cfg.Auth, cfg.Stream, logger),
		Content:   web.Content,
	})

	// Graceful shutdown on SIGINT/SIGTERM.
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go d.Run(ctx, cfg.Driver.Interval())
	if trail != nil {
		go trail.Start(ctx, d)
	}

	hs := srv.HTTPServer()
	// Streams end with ctx instead of holding Shutdown open.
	hs.BaseContext = func(net.Listener) context.Context { return ctx }
	listen := hs.ListenAndServe
	if cfg.HTTP.TLSDomain != "" {
		if err := os.MkdirAll(cfg.HTTP.TLSCacheDir, 0o700); err != nil {
			logger.Warn("could not create autocert cache dir", "dir", cfg.HTTP.TLSCacheDir, "error", err)
		}
		manager := &autocert.Manager{
			Cache:      autocert.DirCache(cfg.HTTP.TLSCacheDir),
			Prompt:     autocert.AcceptTOS,
			HostPolicy: autocert.HostWhitelist(cfg.HTTP.TLSDomain),
		}
		hs.TLSConfig = manager.TLSConfig()
		listen = func() error { return hs.ListenAndServeTLS("", "") }

		// ACME http-01 challenges and redirects to HTTPS.
		challenge := &http.Server{
			Addr:              ":80",
			Handler:           manager.HTTPHandler(nil),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			if err := challenge.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("acme challenge listener error", "error", err)
			}
		}()
		defer challenge.Close()
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting server",
			"addr", cfg.HTTP.Addr,
			"tls_domain", cfg.HTTP.TLSDomain,
			"auth_enabled", cfg.Auth.Enabled,
			"time_scale", cfg.Driver.TimeScale,
		)
		if err := listen(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			logger.Error("server listen error", "error", err)
			return err
		}
	case <-ctx.Done():
	}
	logger.Info("shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := hs.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", "error", err)
		return err
	}

	logger.Info("server stopped")
	return nil
}

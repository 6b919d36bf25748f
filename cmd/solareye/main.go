package main

import (
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/Valerrrrrri/SolarSystemEye/internal/config"
)

// app carries what every subcommand needs once the root has loaded config.
type app struct {
	v       *viper.Viper
	cfgPath string
	level   slog.LevelVar
	logOut  io.Writer
	logger  *slog.Logger
	cfg     config.Config
}

// quietLogs marks commands that own the terminal; their logs are discarded.
const quietLogs = "quiet-logs"

func newRootCmd(logOut io.Writer) *cobra.Command {
	a := &app{v: config.New(), logOut: logOut}

	root := &cobra.Command{
		Use:   "solareye",
		Short: "Keplerian orbit propagator and renderer for Mercury",
		Long: `solareye propagates Mercury along its Keplerian ellipse and serves the
result as an HTTP/SSE/WebSocket frame stream, a terminal view, or tables.

Configuration is read from solareye.yaml (./ or /etc/solareye/) and
SOLAREYE_* environment variables, e.g. SOLAREYE_DRIVER_TIME_SCALE=4000.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.load(cmd.Annotations[quietLogs] == "true")
		},
	}

	root.PersistentFlags().StringVar(&a.cfgPath, "config", "", "config file (default: ./solareye.yaml, /etc/solareye/solareye.yaml)")
	root.PersistentFlags().String("log-level", "info", "log level: debug, info, warn, error")
	_ = a.v.BindPFlag("log.level", root.PersistentFlags().Lookup("log-level"))

	root.AddCommand(
		newServeCmd(a),
		newWatchCmd(a),
		newEphemerisCmd(a),
		newApsidesCmd(a),
	)
	return root
}

// load resolves config and builds the logger.
func (a *app) load(quiet bool) error {
	out := a.logOut
	if quiet {
		out = io.Discard
	}
	a.level.Set(slog.LevelInfo)
	a.logger = slog.New(slog.NewJSONHandler(out, &slog.HandlerOptions{
		Level: &a.level,
	}))

	cfg, err := config.Load(a.v, a.cfgPath, a.logger)
	if err != nil {
		return err
	}
	a.level.Set(cfg.LogLevel)
	a.cfg = cfg
	return nil
}

func main() {
	if err := newRootCmd(os.Stdout).Execute(); err != nil {
		os.Exit(1)
	}
}

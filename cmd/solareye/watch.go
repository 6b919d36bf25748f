package main

import (
	"context"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/Valerrrrrri/SolarSystemEye/internal/driver"
	"github.com/Valerrrrrri/SolarSystemEye/internal/kepler"
	"github.com/Valerrrrrri/SolarSystemEye/internal/tui"
)

// watchFPS is the terminal redraw rate.
const watchFPS = 30

func newWatchCmd(a *app) *cobra.Command {
	var scale float64

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Show the orbit in the terminal",
		Long: `Show the orbit in the terminal.

Keys: ←/→ change the time scale by 50 (200–8000), space freezes or
resumes, q quits.`,
		Args:        cobra.NoArgs,
		Annotations: map[string]string{quietLogs: "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			timeScale := a.cfg.Driver.TimeScale
			if cmd.Flags().Changed("time-scale") {
				timeScale = scale
			}

			d, err := driver.New(kepler.NewPropagator(a.cfg.Orbit), driver.Config{TimeScale: timeScale}, a.logger)
			if err != nil {
				return err
			}

			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()

			frames, unsubscribe := d.Subscribe(1)
			defer unsubscribe()
			go d.Run(ctx, time.Second/watchFPS)

			_, err = tea.NewProgram(tui.New(d, frames), tea.WithAltScreen(), tea.WithContext(ctx)).Run()
			return err
		},
	}
	cmd.Flags().Float64Var(&scale, "time-scale", driver.DefaultTimeScale, "initial simulated seconds per second")
	return cmd
}

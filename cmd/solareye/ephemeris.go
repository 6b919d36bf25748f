package main

import (
	"encoding/json"
	"fmt"
	"math"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/spf13/cobra"

	"github.com/Valerrrrrri/SolarSystemEye/internal/bodies"
	"github.com/Valerrrrrri/SolarSystemEye/internal/propagation"
)

const secondsPerDay = 86400.0

var headerStyle = lipgloss.NewStyle().Bold(true).Padding(0, 1)
var cellStyle = lipgloss.NewStyle().Padding(0, 1)

func newTable(headers ...string) *table.Table {
	return table.New().
		Border(lipgloss.NormalBorder()).
		Headers(headers...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			return cellStyle
		})
}

func newEphemerisCmd(a *app) *cobra.Command {
	var (
		body     string
		fromDays float64
		toDays   float64
		stepDays float64
		asJSON   bool
	)

	cmd := &cobra.Command{
		Use:   "ephemeris",
		Short: "Print position and speed over a window of simulated days",
		Example: `  solareye ephemeris --to 88 --step 4
  solareye ephemeris --from 10 --to 12 --step 0.25 --json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			el, err := bodies.NewCatalog(a.cfg.Orbit).Orbit(body)
			if err != nil {
				return err
			}
			if !cmd.Flags().Changed("to") {
				toDays = fromDays + el.PeriodSeconds/secondsPerDay
			}

			eph := propagation.NewEphemeris(a.cfg.Ephemeris, a.logger)
			samples, err := eph.Generate(cmd.Context(), el, propagation.Request{
				From: fromDays * secondsPerDay,
				To:   toDays * secondsPerDay,
				Step: stepDays * secondsPerDay,
			})
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(samples)
			}

			t := newTable("day", "x", "y", "z", "r (km)", "v (km/s)", "ν (°)")
			for _, s := range samples {
				t.Row(
					fmt.Sprintf("%.2f", s.SimSeconds/secondsPerDay),
					fmt.Sprintf("%.4f", s.Position.X),
					fmt.Sprintf("%.4f", s.Position.Y),
					fmt.Sprintf("%.4f", s.Position.Z),
					fmt.Sprintf("%.0f", s.RadiusKm),
					fmt.Sprintf("%.3f", s.SpeedKmPerSecond),
					fmt.Sprintf("%.2f", s.TrueAnomaly*180/math.Pi),
				)
			}
			_, err = fmt.Fprintln(out, t.String())
			return err
		},
	}

	cmd.Flags().StringVar(&body, "body", "mercury", "body with an orbit mode")
	cmd.Flags().Float64Var(&fromDays, "from", 0, "window start, simulated days since epoch")
	cmd.Flags().Float64Var(&toDays, "to", 0, "window end, simulated days since epoch (default: one period after --from)")
	cmd.Flags().Float64Var(&stepDays, "step", 1, "sample spacing, days")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON instead of a table")
	return cmd
}

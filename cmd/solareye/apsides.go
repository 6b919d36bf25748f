package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Valerrrrrri/SolarSystemEye/internal/apsides"
	"github.com/Valerrrrrri/SolarSystemEye/internal/bodies"
)

func newApsidesCmd(a *app) *cobra.Command {
	var (
		fromDays  float64
		toDays    float64
		maxEvents int
		asJSON    bool
	)

	cmd := &cobra.Command{
		Use:   "apsides",
		Short: "List perihelion and aphelion passages of every orbiting body",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var targets []apsides.Target
			for _, b := range bodies.NewCatalog(a.cfg.Orbit).All() {
				if el, ok := b.Elements(); ok {
					targets = append(targets, apsides.Target{Name: b.Name, Elements: el})
				}
			}

			results := apsides.Find(cmd.Context(), apsides.Request{
				Targets:   targets,
				From:      fromDays * secondsPerDay,
				To:        toDays * secondsPerDay,
				MaxEvents: maxEvents,
			})

			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(results)
			}

			t := newTable("body", "event", "day", "r (km)", "v (km/s)")
			var failed error
			for _, res := range results {
				if res.Error != "" {
					a.logger.Warn("apsis search failed", "body", res.Body, "error", res.Error)
					failed = fmt.Errorf("%s: %s", res.Body, res.Error)
					continue
				}
				for _, ev := range res.Events {
					t.Row(
						res.Body,
						string(ev.Kind),
						fmt.Sprintf("%.3f", ev.SimSeconds/secondsPerDay),
						fmt.Sprintf("%.0f", ev.RadiusKm),
						fmt.Sprintf("%.3f", ev.SpeedKmPerSecond),
					)
				}
			}
			if _, err := fmt.Fprintln(out, t.String()); err != nil {
				return err
			}
			return failed
		},
	}

	cmd.Flags().Float64Var(&fromDays, "from", 0, "window start, simulated days since epoch")
	cmd.Flags().Float64Var(&toDays, "to", 365, "window end, simulated days since epoch")
	cmd.Flags().IntVar(&maxEvents, "max", apsides.DefaultMaxEvents, "maximum events per body")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON instead of a table")
	return cmd
}

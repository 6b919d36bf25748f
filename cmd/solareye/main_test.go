package main

import (
	"bytes"
	"encoding/json"
	"io"
	"math"
	"strings"
	"testing"

	"github.com/Valerrrrrri/SolarSystemEye/internal/apsides"
	"github.com/Valerrrrrri/SolarSystemEye/internal/kepler"
	"github.com/Valerrrrrri/SolarSystemEye/internal/propagation"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd(io.Discard)
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(io.Discard)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestEphemerisJSON(t *testing.T) {
	out, err := run(t, "ephemeris", "--from", "0", "--to", "2", "--step", "1", "--json")
	if err != nil {
		t.Fatal(err)
	}
	var samples []propagation.Sample
	if err := json.Unmarshal([]byte(out), &samples); err != nil {
		t.Fatalf("decode: %v\n%s", err, out)
	}
	if len(samples) != 3 {
		t.Fatalf("samples = %d, want 3", len(samples))
	}
	if math.Abs(samples[0].RadiusKm-kepler.Mercury.Periapsis()) > 1 {
		t.Errorf("r(0) = %v, want periapsis", samples[0].RadiusKm)
	}
	if samples[2].SimSeconds != 2*secondsPerDay {
		t.Errorf("last sample at %v s", samples[2].SimSeconds)
	}
}

func TestEphemerisTable(t *testing.T) {
	out, err := run(t, "ephemeris", "--to", "1", "--step", "0.5")
	if err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{"day", "v (km/s)", "0.50", "58.976"} {
		if !strings.Contains(out, want) {
			t.Errorf("table missing %q:\n%s", want, out)
		}
	}
}

func TestEphemerisErrors(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{"unknown body", []string{"ephemeris", "--body", "pluto"}},
		{"no orbit", []string{"ephemeris", "--body", "venus"}},
		{"zero step", []string{"ephemeris", "--step", "0"}},
		{"missing config file", []string{"ephemeris", "--config", "/nonexistent/solareye.yaml"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := run(t, tt.args...); err == nil {
				t.Error("expected an error")
			}
		})
	}
}

func TestApsidesJSON(t *testing.T) {
	out, err := run(t, "apsides", "--from", "1", "--to", "100", "--json")
	if err != nil {
		t.Fatal(err)
	}
	var results []apsides.BodyEvents
	if err := json.Unmarshal([]byte(out), &results); err != nil {
		t.Fatalf("decode: %v\n%s", err, out)
	}
	if len(results) != 1 || results[0].Body != "mercury" {
		t.Fatalf("results = %+v, want mercury only", results)
	}

	// Aphelion near day 44, perihelion near day 88.
	ev := results[0].Events
	if len(ev) != 2 || ev[0].Kind != apsides.Aphelion || ev[1].Kind != apsides.Perihelion {
		t.Fatalf("events = %+v", ev)
	}
	T := kepler.Mercury.PeriodSeconds
	if math.Abs(ev[1].SimSeconds-T) > 60 {
		t.Errorf("perihelion at %v s, want %v", ev[1].SimSeconds, T)
	}
}

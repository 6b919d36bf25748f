// Package tui draws the orbit in a terminal: a top-down view of the ellipse
// with the body coloured by its speed, and keys to change the time scale.
//
//	←/→   time scale −/+ 50 (200–8000)
//	space freeze / resume
//	q     quit
package tui

import (
	"fmt"
	"math"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/lucasb-eyer/go-colorful"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/Valerrrrrri/SolarSystemEye/internal/driver"
	"github.com/Valerrrrrri/SolarSystemEye/internal/kepler"
)

var (
	cyan   = lipgloss.NewStyle().Foreground(lipgloss.Color("86"))
	white  = lipgloss.NewStyle().Foreground(lipgloss.Color("255"))
	dim    = lipgloss.NewStyle().Foreground(lipgloss.Color("242"))
	dimmer = lipgloss.NewStyle().Foreground(lipgloss.Color("238"))
	green  = lipgloss.NewStyle().Foreground(lipgloss.Color("82"))
	yellow = lipgloss.NewStyle().Foreground(lipgloss.Color("220"))
	sun    = lipgloss.NewStyle().Foreground(lipgloss.Color("214")).Bold(true)
)

// Slow (aphelion) to fast (perihelion).
var (
	slowColor, _ = colorful.Hex("#3b82f6")
	fastColor, _ = colorful.Hex("#ef4444")
)

const (
	trailLength = 48
	pathSamples = 180
)

type frameMsg driver.Frame

type closedMsg struct{}

// Model is the bubbletea model for the orbit view.
type Model struct {
	driver *driver.Driver
	frames <-chan driver.Frame

	elements kepler.OrbitalElements
	path     []r3.Vec
	frame    *driver.Frame
	trail    []r3.Vec

	// resume is the scale restored when unfreezing.
	resume float64

	width  int
	height int
}

// New creates a model that renders frames received on frames and adjusts
// d's time scale from key presses.
func New(d *driver.Driver, frames <-chan driver.Frame) Model {
	el := d.Elements()
	resume := d.TimeScale()
	if resume == 0 {
		resume = driver.DefaultTimeScale
	}
	return Model{
		driver:   d,
		frames:   frames,
		elements: el,
		path:     kepler.OrbitPath(el, pathSamples),
		resume:   resume,
		width:    80,
		height:   24,
	}
}

func waitForFrame(ch <-chan driver.Frame) tea.Cmd {
	return func() tea.Msg {
		f, ok := <-ch
		if !ok {
			return closedMsg{}
		}
		return frameMsg(f)
	}
}

func (m Model) Init() tea.Cmd { return waitForFrame(m.frames) }

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKey(msg)
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil
	case frameMsg:
		f := driver.Frame(msg)
		m.frame = &f
		m.trail = append(m.trail, f.Result.Position)
		if len(m.trail) > trailLength {
			m.trail = m.trail[len(m.trail)-trailLength:]
		}
		return m, waitForFrame(m.frames)
	case closedMsg:
		return m, tea.Quit
	}
	return m, nil
}

func (m Model) handleKey(msg tea.KeyMsg) (Model, tea.Cmd) {
	switch msg.String() {
	case "q", "ctrl+c", "esc":
		return m, tea.Quit
	case "left", "h":
		m.adjust(-driver.TimeScaleStep)
	case "right", "l":
		m.adjust(driver.TimeScaleStep)
	case " ":
		if scale := m.driver.TimeScale(); scale > 0 {
			m.resume = scale
			m.driver.SetTimeScale(0)
		} else {
			m.driver.SetTimeScale(m.resume)
		}
	}
	return m, nil
}

// adjust steps the time scale within the interactive range. While frozen
// it steps the scale that space will restore.
func (m *Model) adjust(delta float64) {
	if cur := m.driver.TimeScale(); cur > 0 {
		m.driver.SetTimeScale(driver.ClampTimeScale(cur + delta))
		return
	}
	m.resume = driver.ClampTimeScale(m.resume + delta)
}

// speedColor maps v onto the slow→fast ramp between the apoapsis and
// periapsis speeds.
func speedColor(v, slow, fast float64) colorful.Color {
	t := 0.0
	if fast > slow {
		t = (v - slow) / (fast - slow)
	}
	t = math.Max(0, math.Min(1, t))
	return slowColor.BlendHcl(fastColor, t).Clamped()
}

func (m Model) View() string {
	cw := max(20, m.width-4)
	ch := max(8, m.height-6)

	canvas := make([][]string, ch)
	for i := range canvas {
		canvas[i] = make([]string, cw)
		for j := range canvas[i] {
			canvas[i][j] = " "
		}
	}

	// Top-down view: x to the right, z up the screen.
	extent := m.elements.Apoapsis() / m.elements.DistanceScale * 1.05
	plot := func(p r3.Vec) (int, int, bool) {
		col := int(math.Round(float64(cw)/2 + p.X/extent*float64(cw)/2))
		row := int(math.Round(float64(ch)/2 - p.Z/extent*float64(ch)/2))
		return row, col, row >= 0 && row < ch && col >= 0 && col < cw
	}

	for _, p := range m.path {
		if r, c, ok := plot(p); ok {
			canvas[r][c] = dimmer.Render("·")
		}
	}
	for _, p := range m.trail {
		if r, c, ok := plot(p); ok {
			canvas[r][c] = dim.Render("•")
		}
	}
	if r, c, ok := plot(r3.Vec{}); ok {
		canvas[r][c] = sun.Render("☉")
	}

	var label string
	if m.frame != nil {
		res := m.frame.Result
		color := speedColor(res.SpeedKmPerSecond, m.elements.ApoapsisSpeed(), m.elements.PeriapsisSpeed())
		style := lipgloss.NewStyle().Foreground(lipgloss.Color(color.Hex())).Bold(true)
		if r, c, ok := plot(res.Position); ok {
			canvas[r][c] = style.Render("●")
		}
		label = style.Render(res.SpeedLabel())
	}

	var b strings.Builder
	b.WriteString("\n")

	status := green.Render("● running")
	scale := m.driver.TimeScale()
	if scale == 0 {
		status = yellow.Render("○ frozen")
	}
	b.WriteString(fmt.Sprintf("  %s  %s  %s\n", cyan.Render("mercury"), status, label))

	for _, row := range canvas {
		b.WriteString("  " + strings.Join(row, "") + "\n")
	}

	var simDays float64
	if m.frame != nil {
		simDays = m.frame.SimSeconds / 86400
	}
	b.WriteString(fmt.Sprintf("  %s %s   %s %s\n",
		dim.Render("time scale"), white.Render(fmt.Sprintf("%.0f×", scale)),
		dim.Render("t"), white.Render(fmt.Sprintf("%.2f d", simDays)),
	))
	b.WriteString(dim.Render("  ←→ time scale   space freeze   q quit") + "\n")
	return b.String()
}

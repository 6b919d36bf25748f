package stream

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"math"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Valerrrrrri/SolarSystemEye/internal/auth"
	"github.com/Valerrrrrri/SolarSystemEye/internal/cache"
	"github.com/Valerrrrrri/SolarSystemEye/internal/driver"
	"github.com/Valerrrrrri/SolarSystemEye/internal/kepler"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, &slog.HandlerOptions{
		Level: slog.LevelWarn,
	}))
}

func testConfig() Config {
	return Config{
		MaxConcurrentPerIP: 10,
		KeepaliveInterval:  30 * time.Second,
		ControlRate:        10,
		TrailLength:        120,
	}
}

var testEpoch = time.Date(2000, 1, 1, 12, 0, 0, 0, time.UTC)

func newTestDriver(t *testing.T) *driver.Driver {
	t.Helper()
	d, err := driver.New(kepler.NewPropagator(kepler.Mercury), driver.Config{
		TimeScale: driver.DefaultTimeScale,
		Epoch:     testEpoch,
	}, testLogger())
	if err != nil {
		t.Fatal(err)
	}
	return d
}

// runDriver ticks d every few milliseconds until the test ends.
func runDriver(t *testing.T, d *driver.Driver) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		d.Run(ctx, 5*time.Millisecond)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
}

func TestFrameMessage(t *testing.T) {
	d := newTestDriver(t)
	h := NewHandler(d, nil, auth.Config{}, testConfig(), testLogger())

	f := d.Advance(testEpoch.Add(10 * time.Second))
	msg := h.frameMessage(f, 5)

	if msg.Type != "frame" {
		t.Errorf("type = %q, want frame", msg.Type)
	}
	if msg.Seq != f.Seq {
		t.Errorf("seq = %d, want %d", msg.Seq, f.Seq)
	}
	if msg.T != f.SimSeconds {
		t.Errorf("t = %v, want %v", msg.T, f.SimSeconds)
	}
	pos := f.Result.Position
	if msg.P != [3]float64{pos.X, pos.Y, pos.Z} {
		t.Errorf("p = %v, want %v", msg.P, pos)
	}
	if msg.V != f.Result.SpeedKmPerSecond || msg.R != f.Result.RadiusKm {
		t.Errorf("v, r = %v, %v", msg.V, msg.R)
	}
	if !strings.HasPrefix(msg.Label, "v = ") || !strings.HasSuffix(msg.Label, " km/s") {
		t.Errorf("label = %q", msg.Label)
	}
	if msg.Tr != nil {
		t.Errorf("tr = %v, want none without a trail cache", msg.Tr)
	}
}

func TestFrameMessageTrail(t *testing.T) {
	d := newTestDriver(t)
	trail := cache.NewTrailCache(cache.Config{Length: 10}, testLogger())
	h := NewHandler(d, trail, auth.Config{}, testConfig(), testLogger())

	var last driver.Frame
	for i := 1; i <= 4; i++ {
		last = d.Advance(testEpoch.Add(time.Duration(i) * time.Second))
		trail.Put(last)
	}

	msg := h.frameMessage(last, 3)
	if len(msg.Tr) != 3 {
		t.Fatalf("trail length = %d, want 3", len(msg.Tr))
	}
	pos := last.Result.Position
	if msg.Tr[2] != [3]float64{pos.X, pos.Y, pos.Z} {
		t.Errorf("newest trail point = %v, want %v", msg.Tr[2], pos)
	}

	data, err := json.Marshal(h.frameMessage(last, 0))
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(string(data), `"tr"`) {
		t.Errorf("trail should be omitted when not requested: %s", data)
	}
}

func TestMetadataMessage(t *testing.T) {
	d := newTestDriver(t)
	h := NewHandler(d, nil, auth.Config{}, testConfig(), testLogger())

	meta := h.metadata()
	if meta.Type != "metadata" {
		t.Errorf("type = %q", meta.Type)
	}
	if meta.Epoch != "2000-01-01T12:00:00Z" {
		t.Errorf("epoch = %q", meta.Epoch)
	}
	// J2000.0
	if math.Abs(meta.EpochJD-2451545.0) > 1e-9 {
		t.Errorf("epoch_jd = %v, want 2451545", meta.EpochJD)
	}
	if meta.TimeScale != driver.DefaultTimeScale {
		t.Errorf("time_scale = %v", meta.TimeScale)
	}
	if meta.Eccentricity != kepler.Mercury.Eccentricity {
		t.Errorf("eccentricity = %v", meta.Eccentricity)
	}
	if math.Abs(meta.Inclination-7) > 1e-9 {
		t.Errorf("inclination = %v deg", meta.Inclination)
	}
}

// TestSSEStream verifies the wire format and that frames arrive.
func TestSSEStream(t *testing.T) {
	d := newTestDriver(t)
	runDriver(t, d)
	h := NewHandler(d, nil, auth.Config{}, testConfig(), testLogger())

	srv := httptest.NewServer(http.HandlerFunc(h.HandleFrames))
	defer srv.Close()

	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Get(srv.URL + "?every=1")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	if resp.Header.Get("Content-Type") != "text/event-stream" {
		t.Errorf("Content-Type = %q, want text/event-stream", resp.Header.Get("Content-Type"))
	}
	if resp.Header.Get("Cache-Control") != "no-cache" {
		t.Errorf("Cache-Control = %q, want no-cache", resp.Header.Get("Cache-Control"))
	}

	scanner := bufio.NewScanner(resp.Body)
	var types []string
	var lastSeq, lastID float64
	for scanner.Scan() && len(types) < 4 {
		line := scanner.Text()
		switch {
		case line == "", line == ":", strings.HasPrefix(line, "retry: "):
			continue
		case strings.HasPrefix(line, "id: "):
			id, err := strconv.ParseFloat(strings.TrimPrefix(line, "id: "), 64)
			if err != nil {
				t.Fatalf("bad event id line %q", line)
			}
			lastID = id
			continue
		case strings.HasPrefix(line, "data: "):
		default:
			t.Fatalf("unexpected SSE line: %q", line)
		}

		var msg map[string]any
		if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &msg); err != nil {
			t.Fatalf("invalid JSON in SSE data line: %v", err)
		}
		typ, _ := msg["type"].(string)
		types = append(types, typ)

		if typ == "frame" {
			seq := msg["seq"].(float64)
			if seq <= lastSeq {
				t.Errorf("seq %v after %v", seq, lastSeq)
			}
			if seq != lastID {
				t.Errorf("event id %v, want seq %v", lastID, seq)
			}
			lastSeq = seq
			if _, ok := msg["label"]; !ok {
				t.Error("frame missing label")
			}
		}
	}

	if len(types) < 4 {
		t.Fatalf("received %d messages: %v (%v)", len(types), types, scanner.Err())
	}
	if types[0] != "metadata" {
		t.Errorf("first message = %q, want metadata", types[0])
	}
	for _, typ := range types[1:] {
		if typ != "frame" {
			t.Errorf("message type = %q, want frame", typ)
		}
	}
}

func TestSlots(t *testing.T) {
	s := newSlots(3, 5)

	var backs []func()
	for i := 0; i < 3; i++ {
		back, err := s.take("10.0.0.1")
		if err != nil {
			t.Fatalf("take %d: %v", i+1, err)
		}
		backs = append(backs, back)
	}
	if _, err := s.take("10.0.0.1"); !errors.Is(err, errClientBusy) {
		t.Errorf("take beyond per-IP cap: err = %v, want errClientBusy", err)
	}

	for _, ip := range []string{"10.0.0.2", "10.0.0.3"} {
		if _, err := s.take(ip); err != nil {
			t.Fatalf("take %s: %v", ip, err)
		}
	}
	if _, err := s.take("10.0.0.4"); !errors.Is(err, errServerFull) {
		t.Errorf("take beyond server cap: err = %v, want errServerFull", err)
	}

	// Giving a slot back twice frees it once.
	backs[0]()
	backs[0]()
	if got := s.held("10.0.0.1"); got != 2 {
		t.Errorf("held = %d, want 2", got)
	}
	if got := s.total(); got != 4 {
		t.Errorf("total = %d, want 4", got)
	}
	if _, err := s.take("10.0.0.1"); err != nil {
		t.Errorf("take after give back: %v", err)
	}
}

func TestSlotsConcurrent(t *testing.T) {
	s := newSlots(100, 1000)

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if back, err := s.take("10.0.0.1"); err == nil {
				defer back()
				time.Sleep(10 * time.Millisecond)
			}
		}()
	}
	wg.Wait()

	if got := s.held("10.0.0.1"); got != 0 {
		t.Errorf("held after all released = %d, want 0", got)
	}
	if got := s.total(); got != 0 {
		t.Errorf("total after all released = %d, want 0", got)
	}
}

// TestRateLimitHTTPResponse verifies 429 response when limit exceeded.
func TestRateLimitHTTPResponse(t *testing.T) {
	d := newTestDriver(t)
	cfg := testConfig()
	cfg.MaxConcurrentPerIP = 1
	h := NewHandler(d, nil, auth.Config{}, cfg, testLogger())

	back, err := h.slots.take("10.0.0.1")
	if err != nil {
		t.Fatalf("first slot should be free: %v", err)
	}
	defer back()

	for _, handle := range []http.HandlerFunc{h.HandleFrames, h.HandleWS} {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/stream/frames", nil)
		req.RemoteAddr = "10.0.0.1:54321"
		w := httptest.NewRecorder()
		handle(w, req)

		if w.Code != http.StatusTooManyRequests {
			t.Errorf("status = %d, want %d", w.Code, http.StatusTooManyRequests)
		}
		if w.Header().Get("Retry-After") == "" {
			t.Error("missing Retry-After header")
		}
	}
}

// TestInvalidQueryParams verifies error responses for bad every/trail values.
func TestInvalidQueryParams(t *testing.T) {
	d := newTestDriver(t)
	trail := cache.NewTrailCache(cache.Config{Length: 10}, testLogger())
	h := NewHandler(d, trail, auth.Config{}, testConfig(), testLogger())

	tests := []struct {
		name  string
		query string
	}{
		{"every zero", "?every=0"},
		{"every too large", "?every=601"},
		{"every non-numeric", "?every=abc"},
		{"negative trail", "?trail=-1"},
		{"trail too large", "?trail=121"},
		{"trail non-numeric", "?trail=xyz"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/v1/stream/frames"+tt.query, nil)
			req.RemoteAddr = "127.0.0.1:12345"
			w := httptest.NewRecorder()
			h.HandleFrames(w, req)

			if w.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want %d", w.Code, http.StatusBadRequest)
			}
		})
	}
}

func TestParseParamsDefaults(t *testing.T) {
	d := newTestDriver(t)
	trail := cache.NewTrailCache(cache.Config{Length: 10}, testLogger())

	tests := []struct {
		name      string
		trail     *cache.TrailCache
		query     string
		wantEvery int
		wantTrail int
	}{
		{"defaults", trail, "", defaultEvery, defaultTrail},
		{"explicit", trail, "?every=1&trail=7", 1, 7},
		{"no trail cache", nil, "?trail=7", defaultEvery, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewHandler(d, tt.trail, auth.Config{}, testConfig(), testLogger())
			p, err := h.parseParams(httptest.NewRequest(http.MethodGet, "/"+tt.query, nil))
			if err != nil {
				t.Fatal(err)
			}
			if p.every != tt.wantEvery || p.trail != tt.wantTrail {
				t.Errorf("params = %+v, want every=%d trail=%d", p, tt.wantEvery, tt.wantTrail)
			}
		})
	}
}

func TestControlLimiter(t *testing.T) {
	l := newControlLimiter(2)
	if !l.Allow() || !l.Allow() {
		t.Fatal("burst of 2 should be allowed")
	}
	if l.Allow() {
		t.Error("third message within the same instant should be refused")
	}

	if newControlLimiter(0).Allow() {
		t.Error("zero rate should refuse every message")
	}
}

func TestEventWriterFormat(t *testing.T) {
	rec := httptest.NewRecorder()
	ev := newEventWriter(rec, rec, testLogger())

	if err := ev.retry(4500 * time.Millisecond); err != nil {
		t.Fatal(err)
	}
	if err := ev.event(7, []byte(`{"type":"frame"}`)); err != nil {
		t.Fatal(err)
	}
	if err := ev.eventJSON(map[string]string{"type": "metadata"}); err != nil {
		t.Fatal(err)
	}
	if err := ev.keepalive(); err != nil {
		t.Fatal(err)
	}

	want := "retry: 4500\n\n" +
		"id: 7\ndata: {\"type\":\"frame\"}\n\n" +
		"data: {\"type\":\"metadata\"}\n\n" +
		":\n\n"
	if got := rec.Body.String(); got != want {
		t.Errorf("stream = %q, want %q", got, want)
	}
	if ev.events != 2 {
		t.Errorf("events = %d, want 2", ev.events)
	}
	if ev.bytes != int64(len(want)) {
		t.Errorf("bytes = %d, want %d", ev.bytes, len(want))
	}
}

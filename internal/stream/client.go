package stream

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/Valerrrrrri/SolarSystemEye/internal/metrics"
)

const writeTimeout = 30 * time.Second

// eventWriter frames server-sent events onto one response. Every write
// pushes the deadline forward, flushes, and is counted in the stream
// metrics.
type eventWriter struct {
	w       http.ResponseWriter
	flusher http.Flusher
	rc      *http.ResponseController
	logger  *slog.Logger

	events int64
	bytes  int64
}

func newEventWriter(w http.ResponseWriter, flusher http.Flusher, logger *slog.Logger) *eventWriter {
	return &eventWriter{w: w, flusher: flusher, rc: http.NewResponseController(w), logger: logger}
}

func (e *eventWriter) emit(format string, args ...any) error {
	if err := e.rc.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		e.logger.Debug("could not set write deadline", "error", err)
	}
	n, err := fmt.Fprintf(e.w, format, args...)
	if err != nil {
		return err
	}
	e.flusher.Flush()
	e.bytes += int64(n)
	metrics.AddStreamBytes(int64(n))
	return nil
}

// event writes one data event. A non-zero id is sent as the event id so
// the browser reports the last frame it saw on reconnect.
func (e *eventWriter) event(id uint64, data []byte) error {
	var err error
	if id > 0 {
		err = e.emit("id: %d\ndata: %s\n\n", id, data)
	} else {
		err = e.emit("data: %s\n\n", data)
	}
	if err != nil {
		return fmt.Errorf("event write: %w", err)
	}
	e.events++
	metrics.IncStreamMessages()
	return nil
}

// eventJSON marshals v and writes it as an event without an id.
func (e *eventWriter) eventJSON(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("json marshal: %w", err)
	}
	return e.event(0, data)
}

// retry sets the browser's reconnect delay.
func (e *eventWriter) retry(d time.Duration) error {
	if err := e.emit("retry: %d\n\n", d.Milliseconds()); err != nil {
		return fmt.Errorf("retry write: %w", err)
	}
	return nil
}

// keepalive writes an SSE comment line.
func (e *eventWriter) keepalive() error {
	if err := e.emit(":\n\n"); err != nil {
		return fmt.Errorf("keepalive write: %w", err)
	}
	return nil
}

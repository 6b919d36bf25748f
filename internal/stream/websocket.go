package stream

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/Valerrrrrri/SolarSystemEye/internal/auth"
	"github.com/Valerrrrrri/SolarSystemEye/internal/driver"
	"github.com/Valerrrrrri/SolarSystemEye/internal/httputil"
	"github.com/Valerrrrrri/SolarSystemEye/internal/metrics"
)

const (
	wsPongWait     = 60 * time.Second
	wsPingPeriod   = wsPongWait * 9 / 10
	wsMaxInMessage = 512
)

// controlMessage is the only inbound message type.
type controlMessage struct {
	Type  string   `json:"type"`
	Value *float64 `json:"value"`
}

type ackMessage struct {
	Type      string  `json:"type"`
	TimeScale float64 `json:"time_scale"`
}

type errorMessage struct {
	Type  string `json:"type"`
	Error string `json:"error"`
}

// wsConn serialises writes to one socket.
type wsConn struct {
	conn *websocket.Conn
	mu   sync.Mutex
	ip   string
}

func (c *wsConn) write(messageType int, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		return err
	}
	if err := c.conn.WriteMessage(messageType, data); err != nil {
		return err
	}
	if messageType == websocket.TextMessage {
		metrics.IncStreamMessages()
		metrics.AddStreamBytes(int64(len(data)))
	}
	return nil
}

func (c *wsConn) writeJSON(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return c.write(websocket.TextMessage, data)
}

// HandleWS serves frames over a WebSocket and accepts time-scale updates.
// GET /api/v1/stream/ws?every=4&trail=20
//
// Inbound: {"type":"set_time_scale","value":3000}. Replies are
// {"type":"time_scale","time_scale":3000} or {"type":"error","error":"..."}.
// Updates need the auth token (header, or access_token on the upgrade URL)
// when auth is enabled.
func (h *Handler) HandleWS(w http.ResponseWriter, r *http.Request) {
	params, err := h.parseParams(r)
	if err != nil {
		httputil.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	ip, release, ok := h.admit(w, r, "ws")
	if !ok {
		return
	}
	defer release()

	canWrite := auth.Authorized(h.auth, r)

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the HTTP error.
		metrics.IncStreamErrors("upgrade_error")
		h.logger.Warn("websocket upgrade failed", "remote_ip", ip, "error", err)
		return
	}
	defer conn.Close()

	h.logger.Info("stream connected",
		"remote_ip", ip,
		"transport", "ws",
		"user_agent", r.Header.Get("User-Agent"),
		"every", params.every,
		"trail", params.trail,
		"can_write", canWrite,
	)

	c := &wsConn{conn: conn, ip: ip}

	frames, unsubscribe := h.driver.Subscribe(subscriberBuffer)
	defer unsubscribe()

	if err := c.writeJSON(h.metadata()); err != nil {
		metrics.IncStreamErrors("send_error")
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		defer cancel()
		h.writeFrames(ctx, c, frames, params)
	}()

	h.readControl(c, canWrite, newControlLimiter(h.config.ControlRate))
	cancel()
	<-done
}

// writeFrames forwards every n-th frame and pings the peer until ctx ends
// or a write fails.
func (h *Handler) writeFrames(ctx context.Context, c *wsConn, frames <-chan driver.Frame, params streamParams) {
	ping := time.NewTicker(wsPingPeriod)
	defer ping.Stop()

	received := 0
	for {
		select {
		case <-ctx.Done():
			c.mu.Lock()
			c.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(time.Second))
			c.mu.Unlock()
			return

		case f, ok := <-frames:
			if !ok {
				return
			}
			received++
			if received%params.every != 0 {
				continue
			}
			if err := c.writeJSON(h.frameMessage(f, params.trail)); err != nil {
				metrics.IncStreamErrors("send_error")
				h.logger.Warn("websocket send error", "remote_ip", c.ip, "error", err)
				return
			}

		case <-ping.C:
			if err := c.write(websocket.PingMessage, nil); err != nil {
				metrics.IncStreamErrors("send_error")
				return
			}
		}
	}
}

// readControl handles inbound messages until the peer goes away.
func (h *Handler) readControl(c *wsConn, canWrite bool, limiter *rate.Limiter) {
	c.conn.SetReadLimit(wsMaxInMessage)
	c.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				metrics.IncStreamErrors("read_error")
				h.logger.Debug("websocket read error", "remote_ip", c.ip, "error", err)
			}
			return
		}

		reply := h.handleControl(data, canWrite, limiter)
		if err := c.writeJSON(reply); err != nil {
			return
		}
	}
}

// handleControl applies one control message and returns the reply.
func (h *Handler) handleControl(data []byte, canWrite bool, limiter *rate.Limiter) any {
	var msg controlMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return errorMessage{Type: "error", Error: "invalid message"}
	}
	if msg.Type != "set_time_scale" {
		return errorMessage{Type: "error", Error: "unknown message type"}
	}
	if !canWrite {
		return errorMessage{Type: "error", Error: "unauthorized"}
	}
	if !limiter.Allow() {
		metrics.IncStreamErrors("control_rate_limit")
		return errorMessage{Type: "error", Error: "rate limited"}
	}
	if msg.Value == nil {
		return errorMessage{Type: "error", Error: "missing value"}
	}
	if err := h.driver.TrySetTimeScale(*msg.Value); err != nil {
		if errors.Is(err, driver.ErrInvalidTimeScale) {
			return errorMessage{Type: "error", Error: "invalid time scale"}
		}
		return errorMessage{Type: "error", Error: err.Error()}
	}

	h.logger.Info("time scale changed", "time_scale", *msg.Value, "source", "ws")
	return ackMessage{Type: "time_scale", TimeScale: h.driver.TimeScale()}
}

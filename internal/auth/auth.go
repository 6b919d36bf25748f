// Package auth guards the routes that change simulation state.
//
// Reads are always public. Writes (any method other than GET, HEAD or
// OPTIONS) need a bearer token when auth is enabled. WebSocket clients,
// which cannot set headers from a browser, may pass the token as the
// access_token query parameter on the upgrade request; see Authorized.
package auth

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/gorilla/websocket"

	"github.com/Valerrrrrri/SolarSystemEye/internal/httputil"
)

// Config holds authentication configuration.
type Config struct {
	Enabled bool
	Token   string
}

// isMutating reports whether the request can change server state.
func isMutating(r *http.Request) bool {
	switch r.Method {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return false
	}
	return true
}

// Authorized reports whether r carries the configured token as
// "Authorization: Bearer <token>". WebSocket upgrade requests may instead
// carry it as ?access_token=<token>; other requests ignore the query form.
// Always true when auth is disabled.
func Authorized(cfg Config, r *http.Request) bool {
	if !cfg.Enabled {
		return true
	}

	var token string
	if websocket.IsWebSocketUpgrade(r) {
		token = r.URL.Query().Get("access_token")
	}
	if header := r.Header.Get("Authorization"); header != "" {
		bearer, ok := strings.CutPrefix(header, "Bearer ")
		if !ok {
			return false
		}
		token = bearer
	}
	if token == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(token), []byte(cfg.Token)) == 1
}

// Middleware returns an HTTP middleware that enforces bearer token auth
// on mutating requests when auth is enabled.
func Middleware(cfg Config) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !isMutating(r) || Authorized(cfg, r) {
				next.ServeHTTP(w, r)
				return
			}
			httputil.WriteError(w, http.StatusUnauthorized, "unauthorized")
		})
	}
}

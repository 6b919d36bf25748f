// Package httputil holds small helpers shared by the HTTP handlers.
package httputil

import (
	"net"
	"net/http"
	"net/netip"
	"strings"
)

// proxyHeaders are consulted in order when the proxy is trusted. Each
// extractor returns the client's address as the proxy reported it.
var proxyHeaders = []struct {
	name    string
	extract func(string) string
}{
	{"Forwarded", forwardedFor},
	{"X-Forwarded-For", firstListed},
	{"X-Real-IP", strings.TrimSpace},
}

// ClientIP returns the address used to key per-client stream limits.
// With trustProxy set, the first proxy header that carries a parseable
// address wins; otherwise, or when none does, the connection's peer
// address is used. Only trust the proxy headers behind a reverse proxy
// that overwrites them.
func ClientIP(r *http.Request, trustProxy bool) string {
	if trustProxy {
		for _, h := range proxyHeaders {
			v := r.Header.Get(h.name)
			if v == "" {
				continue
			}
			if addr, ok := canonical(h.extract(v)); ok {
				return addr
			}
		}
	}
	if ap, err := netip.ParseAddrPort(r.RemoteAddr); err == nil {
		return ap.Addr().Unmap().String()
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}

// firstListed returns the left-most entry of a comma-separated list,
// which is the original client for X-Forwarded-For.
func firstListed(v string) string {
	first, _, _ := strings.Cut(v, ",")
	return strings.TrimSpace(first)
}

// forwardedFor extracts the for= node of the first RFC 7239 element.
// Quoted, bracketed and port-suffixed forms are reduced to the bare address.
func forwardedFor(v string) string {
	elem, _, _ := strings.Cut(v, ",")
	for _, pair := range strings.Split(elem, ";") {
		key, val, ok := strings.Cut(strings.TrimSpace(pair), "=")
		if !ok || !strings.EqualFold(key, "for") {
			continue
		}
		val = strings.Trim(val, `"`)
		if ap, err := netip.ParseAddrPort(val); err == nil {
			return ap.Addr().String()
		}
		return strings.TrimSuffix(strings.TrimPrefix(val, "["), "]")
	}
	return ""
}

// canonical parses s and renders it with IPv4-mapped IPv6 unmapped.
func canonical(s string) (string, bool) {
	addr, err := netip.ParseAddr(s)
	if err != nil {
		return "", false
	}
	return addr.Unmap().String(), true
}

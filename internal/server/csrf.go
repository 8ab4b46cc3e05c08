package server

import (
	"net"
	"net/http"
	"net/url"
	"strings"
)

// csrfExempt lists paths that accept mutations from any origin.
var csrfExempt = []string{"/healthz", "/static/"}

// csrfMiddleware rejects state-changing requests whose Origin (or Referer)
// does not match the host the editor is served from.
func csrfMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet, http.MethodHead, http.MethodOptions:
			next.ServeHTTP(w, r)
			return
		}
		for _, prefix := range csrfExempt {
			if r.URL.Path == prefix || (strings.HasSuffix(prefix, "/") && strings.HasPrefix(r.URL.Path, prefix)) {
				next.ServeHTTP(w, r)
				return
			}
		}
		if !sameOrigin(r) {
			http.Error(w, "Forbidden: Invalid origin", http.StatusForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func sameOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		origin = r.Header.Get("Referer")
	}
	if origin == "" {
		return false
	}
	u, err := url.Parse(origin)
	if err != nil || u.Host == "" {
		return false
	}
	host := r.Host
	if host == "" {
		host = r.URL.Host
	}
	return normalizeHost(u.Host) == normalizeHost(host)
}

// normalizeHost drops the port and folds loopback names together.
func normalizeHost(host string) string {
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	host = strings.ToLower(strings.Trim(host, "[]"))
	switch host {
	case "localhost", "127.0.0.1", "::1":
		return "localhost"
	}
	return host
}

package middleware

import (
	"net/http"
	"strings"
)

// Content security policies. JSON endpoints load nothing; the chat page runs
// its inline script, opens the socket and shows remote avatars.
const (
	apiCSP  = "default-src 'none'; frame-ancestors 'none'"
	pageCSP = "default-src 'self'; script-src 'self' 'unsafe-inline'; style-src 'self' 'unsafe-inline'; " +
		"img-src 'self' data: https:; connect-src 'self' ws: wss:; frame-ancestors 'none'"
)

var securityHeaders = [][2]string{
	{"X-Content-Type-Options", "nosniff"},
	{"X-Frame-Options", "DENY"},
	{"Referrer-Policy", "strict-origin-when-cross-origin"},
	{"Strict-Transport-Security", "max-age=31536000; includeSubDomains"},
}

// SecurityHeaders adds security headers to all responses.
func SecurityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		for _, kv := range securityHeaders {
			h.Set(kv[0], kv[1])
		}
		if isAPIPath(r.URL.Path) {
			h.Set("Content-Security-Policy", apiCSP)
		} else {
			h.Set("Content-Security-Policy", pageCSP)
		}
		next.ServeHTTP(w, r)
	})
}

func isAPIPath(path string) bool {
	switch path {
	case "/api", "/health", "/members", "/messages", "/stats", "/metrics":
		return true
	}
	return strings.HasPrefix(path, "/members/")
}

// ReadOnly admits only the requests the relay serves: GET, HEAD and CORS
// preflights, without bodies, on clean paths. Chat traffic itself arrives
// over the WebSocket.
func ReadOnly(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet, http.MethodHead, http.MethodOptions:
		default:
			w.Header().Set("Allow", "GET, HEAD, OPTIONS")
			http.Error(w, `{"error":"method not allowed"}`, http.StatusMethodNotAllowed)
			return
		}
		if r.ContentLength > 0 {
			http.Error(w, `{"error":"request body not accepted"}`, http.StatusRequestEntityTooLarge)
			return
		}
		if strings.Contains(r.URL.Path, "..") || strings.ContainsRune(r.URL.Path, 0) {
			http.Error(w, `{"error":"invalid request"}`, http.StatusBadRequest)
			return
		}
		next.ServeHTTP(w, r)
	})
}

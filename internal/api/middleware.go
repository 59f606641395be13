package api

import (
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strings"
	"sync"

	"golang.org/x/time/rate"
)

var errMissingKey = errors.New("API key is required (api_key or openai_api_key)")

// securityHeaders are set on every API response.
var securityHeaders = map[string]string{
	"X-Content-Type-Options": "nosniff",
	"X-Frame-Options":        "DENY",
	"X-XSS-Protection":       "1; mode=block",
	"Referrer-Policy":        "strict-origin-when-cross-origin",
	"Cache-Control":          "no-store, no-cache, must-revalidate, max-age=0",
	"Pragma":                 "no-cache",
}

func addSecurityHeaders(w http.ResponseWriter) {
	for header, value := range securityHeaders {
		w.Header().Set(header, value)
	}
}

// rateLimiter keeps one token bucket per client key.
type rateLimiter struct {
	mu      sync.Mutex
	clients map[string]*rate.Limiter
	limit   rate.Limit
	burst   int
}

func newRateLimiter(perMinute int) *rateLimiter {
	if perMinute <= 0 {
		perMinute = 60
	}
	return &rateLimiter{
		clients: make(map[string]*rate.Limiter),
		limit:   rate.Limit(float64(perMinute) / 60.0),
		burst:   perMinute,
	}
}

func (l *rateLimiter) allow(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	limiter, ok := l.clients[key]
	if !ok {
		// bound memory under address churn
		if len(l.clients) > 10000 {
			l.clients = make(map[string]*rate.Limiter)
		}
		limiter = rate.NewLimiter(l.limit, l.burst)
		l.clients[key] = limiter
	}
	return limiter.Allow()
}

// clientKey identifies a caller by IP plus a session token prefix.
func clientKey(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	if host == "" {
		host = "unknown"
	}
	if token := r.Header.Get("X-Session-Token"); len(token) >= 8 {
		return host + ":" + token[:8]
	}
	return host
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// Flush keeps SSE streaming working through the recorder.
func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// routeLabel collapses path parameters so metric cardinality stays bounded.
func routeLabel(path string) string {
	if strings.HasPrefix(path, "/api/reports/") {
		if strings.HasSuffix(path, "/pdf") {
			return "/api/reports/:id/pdf"
		}
		return "/api/reports/:id"
	}
	if strings.HasPrefix(path, "/api/rules/") {
		if strings.HasSuffix(path, "/download") {
			return "/api/rules/:id/download"
		}
		return "/api/rules/:id"
	}
	return path
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

package httpserver

import (
	"context"
	"net"
	"net/http"
	"net/netip"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"userauth/auth-service/internal/audit"
	"userauth/auth-service/internal/auth"
	"userauth/auth-service/internal/observability"
)

const apiPrefix = "/api/v1"

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(statusCode int) {
	r.status = statusCode
	r.ResponseWriter.WriteHeader(statusCode)
}

// loggingMiddleware tags each request with an X-Request-Id, then logs and
// counts it. Routes are labelled by the mux pattern that serves them.
func loggingMiddleware(deps Deps, mux *http.ServeMux, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		reqID := strings.TrimSpace(r.Header.Get("X-Request-Id"))
		if reqID == "" {
			reqID = ulid.Make().String()
		}
		w.Header().Set("X-Request-Id", reqID)
		r = r.WithContext(context.WithValue(r.Context(), requestIDKey, reqID))
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		elapsed := time.Since(start)
		deps.Metrics.RecordRequest(r.Method, routeLabel(mux, r), rec.status, elapsed)
		deps.Logger.Info("http request",
			"request_id", reqID,
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration_ms", elapsed.Milliseconds(),
			"remote_ip", clientIP(r, deps.TrustedProxies),
		)
	})
}

func routeLabel(mux *http.ServeMux, r *http.Request) string {
	probe := r.Clone(r.Context())
	probe.URL.Path = normalizePath(r.URL.Path)
	_, pattern := mux.Handler(probe)
	if pattern == "" || pattern == "/" {
		return "unmatched"
	}
	return pattern
}

// trimTrailingSlash makes "/users/" and "/users" reach the same route.
func trimTrailingSlash(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if p := normalizePath(r.URL.Path); p != r.URL.Path {
			r2 := new(http.Request)
			*r2 = *r
			u := *r.URL
			u.Path = p
			u.RawPath = ""
			r2.URL = &u
			r = r2
		}
		next.ServeHTTP(w, r)
	})
}

func normalizePath(p string) string {
	if len(p) > 1 && strings.HasSuffix(p, "/") {
		if trimmed := strings.TrimRight(p, "/"); trimmed != "" {
			return trimmed
		}
		return "/"
	}
	return p
}

// authMiddleware guards the /api/v1 subtree: 401 when the request carries
// no credentials, 403 when they resolve to nobody.
func authMiddleware(deps Deps, next http.Handler) http.Handler {
	if deps.Authenticator == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != apiPrefix && !strings.HasPrefix(r.URL.Path, apiPrefix+"/") {
			next.ServeHTTP(w, r)
			return
		}
		if !auth.RequireAuth(r.URL.Path, deps.ExcludedPaths) {
			next.ServeHTTP(w, r)
			return
		}
		req := AdaptRequest(r)
		if !auth.HasCredentials(req, deps.SessionName) {
			writeError(w, http.StatusUnauthorized, "Unauthorized")
			return
		}
		user, ok := deps.Authenticator.CurrentUser(req)
		if !ok {
			writeError(w, http.StatusForbidden, "Forbidden")
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), currentUserKey, user)))
	})
}

// limitLogin rejects attempts once the caller's address exhausts its
// budget.
func limitLogin(deps Deps, event string, next http.HandlerFunc) http.HandlerFunc {
	if deps.LoginLimiter == nil {
		return next
	}
	return func(w http.ResponseWriter, r *http.Request) {
		if !deps.LoginLimiter.Allow(clientIP(r, deps.TrustedProxies)) {
			deps.Metrics.RecordAuthEvent(event, observability.ResultRateLimited)
			w.Header().Set("Retry-After", deps.LoginLimiter.RetryAfter())
			writeError(w, http.StatusTooManyRequests, "Too many requests")
			return
		}
		next(w, r)
	}
}

// clientIP is the socket peer unless that peer is a trusted proxy, in which
// case the nearest untrusted hop of X-Forwarded-For (or X-Real-IP) wins.
func clientIP(r *http.Request, trusted []netip.Prefix) string {
	peer := r.RemoteAddr
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		peer = host
	}
	if !isTrusted(peer, trusted) {
		return peer
	}
	if fwd := strings.TrimSpace(r.Header.Get("X-Forwarded-For")); fwd != "" {
		hops := strings.Split(fwd, ",")
		for i := len(hops) - 1; i >= 0; i-- {
			hop := strings.TrimSpace(hops[i])
			if hop != "" && !isTrusted(hop, trusted) {
				return hop
			}
		}
	}
	if realIP := strings.TrimSpace(r.Header.Get("X-Real-IP")); realIP != "" {
		return realIP
	}
	return peer
}

func isTrusted(ip string, trusted []netip.Prefix) bool {
	addr, err := netip.ParseAddr(ip)
	if err != nil {
		return false
	}
	addr = addr.Unmap()
	for _, p := range trusted {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}

func auditReq(deps Deps, r *http.Request, e audit.Event, detail ...string) {
	if deps.Audit == nil {
		return
	}
	parts := []string{
		"ip=" + clientIP(r, deps.TrustedProxies),
		"ua=" + strings.TrimSpace(r.UserAgent()),
	}
	for _, d := range detail {
		if d = strings.TrimSpace(d); d != "" {
			parts = append(parts, d)
		}
	}
	e.RequestID = requestIDFromContext(r.Context())
	e.Detail = strings.Join(parts, ";")
	if err := deps.Audit.Record(e); err != nil {
		deps.Logger.Warn("audit write failed", "action", string(e.Action), "error", err)
	}
}

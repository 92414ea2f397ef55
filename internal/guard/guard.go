// Package guard is the abuse-protection edge for the authentication surface.
// It rate-limits per path and IP, caps request bodies, detects rapid-fire
// and credential-stuffing patterns, enforces CSRF origin checks, and attaches
// security headers. Counter failures fail closed.
package guard

import (
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/cadencehq/cadence/internal/audit"
	"github.com/cadencehq/cadence/internal/kv"
	"github.com/cadencehq/cadence/internal/obs"
	"github.com/cadencehq/cadence/internal/problem"
)

// Limit is one fixed-window rate limit.
type Limit struct {
	Window time.Duration
	Max    int64
}

// Config tunes the guard. Zero values fall back to the documented defaults.
type Config struct {
	APIPrefix            string
	Limits               map[string]Limit
	MaxBodyBytes         int64
	RapidFireWindow      time.Duration
	RapidFireThreshold   int64
	RegistrationsPerHour int64
	AuthFailuresPerHour  int64
	SuspiciousTTL        time.Duration
	AllowedOrigins       []string
}

// DefaultLimits returns the per-path rate-limit table.
func DefaultLimits() map[string]Limit {
	return map[string]Limit{
		"/auth/register":            {Window: time.Hour, Max: 50},
		"/auth/login":               {Window: 15 * time.Minute, Max: 100},
		"/auth/resend-verification": {Window: time.Hour, Max: 3},
		"/auth/refresh":             {Window: time.Hour, Max: 100},
		"/auth/verify":              {Window: time.Hour, Max: 100},
		"/auth/logout":              {Window: time.Hour, Max: 60},
	}
}

const defaultMaxBodyBytes = 1 << 20

// Guard wires the stages over the shared counter store.
type Guard struct {
	store *kv.Store
	cfg   Config

	// allowedHosts is the origin allow-list reduced to hostnames.
	allowedHosts []string
}

// New builds a guard. Missing config fields get the documented defaults.
func New(store *kv.Store, cfg Config) (*Guard, error) {
	if store == nil {
		return nil, fmt.Errorf("counter store is required")
	}
	if cfg.Limits == nil {
		cfg.Limits = DefaultLimits()
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = defaultMaxBodyBytes
	}
	if cfg.RapidFireWindow <= 0 {
		cfg.RapidFireWindow = time.Minute
	}
	if cfg.RapidFireThreshold <= 0 {
		cfg.RapidFireThreshold = 50
	}
	if cfg.RegistrationsPerHour <= 0 {
		cfg.RegistrationsPerHour = 10
	}
	if cfg.AuthFailuresPerHour <= 0 {
		cfg.AuthFailuresPerHour = 20
	}
	if cfg.SuspiciousTTL <= 0 {
		cfg.SuspiciousTTL = time.Hour
	}
	g := &Guard{store: store, cfg: cfg}
	for _, origin := range cfg.AllowedOrigins {
		if host := originHost(origin); host != "" {
			g.allowedHosts = append(g.allowedHosts, host)
		}
	}
	return g, nil
}

// Middleware applies every stage around next. Mount it on /auth/* only.
func (g *Guard) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := g.normalizePath(r.URL.Path)
		ip := ClientIP(r)
		ctx := r.Context()

		g.securityHeaders(w, r, path)

		if limit, ok := g.cfg.Limits[path]; ok {
			key := fmt.Sprintf("rate_limit:%s:%s", path, ip)
			n, err := g.store.IncrWindow(ctx, key, limit.Window)
			if err != nil {
				// Fail closed: without the counter the limit cannot be
				// enforced, so the request is not served.
				obs.Error("guard.rate_limit.store_failed", err, map[string]any{"path": path})
				problem.Write(w, problem.KindUnavailable, "Service temporarily unavailable.")
				return
			}
			if n > limit.Max {
				obs.RateLimitedTotal.WithLabelValues(path).Inc()
				w.Header().Set("Retry-After", strconv.Itoa(int(limit.Window.Seconds())))
				problem.Write(w, problem.KindRateLimited, "Too many requests. Try again later.")
				return
			}
		}

		if r.ContentLength > g.cfg.MaxBodyBytes {
			problem.Write(w, problem.KindRequestTooLarge, "Request body exceeds the allowed size.")
			return
		}
		r.Body = http.MaxBytesReader(w, r.Body, g.cfg.MaxBodyBytes)

		g.observeRapidFire(r, ip)
		if path == "/auth/register" {
			g.observeRegistration(r, ip)
		}

		if !g.csrfOK(r) {
			problem.Write(w, problem.KindCSRF, "Cross-origin request rejected.")
			return
		}

		sw := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r)
		g.observeOutcome(r, path, ip, sw.status)
	})
}

// normalizePath strips the API prefix so counter keys stay stable across
// deployments.
func (g *Guard) normalizePath(path string) string {
	if g.cfg.APIPrefix != "" {
		path = strings.TrimPrefix(path, g.cfg.APIPrefix)
	}
	if path == "" {
		path = "/"
	}
	return path
}

// observeRapidFire counts requests per IP per minute and flags the IP when
// the threshold is crossed. Observation only; the request still runs.
func (g *Guard) observeRapidFire(r *http.Request, ip string) {
	ctx := r.Context()
	n, err := g.store.IncrWindow(ctx, "rapid_fire:"+ip, g.cfg.RapidFireWindow)
	if err != nil {
		obs.Error("guard.rapid_fire.store_failed", err, nil)
		return
	}
	if n > g.cfg.RapidFireThreshold {
		g.flagSuspicious(r, ip, "rapid_fire")
	}
}

func (g *Guard) observeRegistration(r *http.Request, ip string) {
	ctx := r.Context()
	n, err := g.store.IncrWindow(ctx, "registrations:"+ip, time.Hour)
	if err != nil {
		obs.Error("guard.registrations.store_failed", err, nil)
		return
	}
	if n > g.cfg.RegistrationsPerHour {
		g.flagSuspicious(r, ip, "registrations")
	}
}

func (g *Guard) flagSuspicious(r *http.Request, ip, reason string) {
	ctx := r.Context()
	if err := g.store.SetEx(ctx, "suspicious_ip:"+ip, g.cfg.SuspiciousTTL, reason); err != nil {
		obs.Error("guard.suspicious_flag.store_failed", err, nil)
		return
	}
	obs.SuspiciousIPFlagsTotal.Inc()
	audit.LogEvent(ctx, "guard.suspicious_ip_flagged", map[string]any{
		"ip": ip, "reason": reason,
	})
}

// Suspicious reports whether the IP currently carries the suspicious flag.
func (g *Guard) Suspicious(r *http.Request, ip string) (bool, error) {
	_, ok, err := g.store.Get(r.Context(), "suspicious_ip:"+ip)
	return ok, err
}

// csrfOK applies the origin check to state-changing browser-form requests.
// JSON bodies, bearer tokens, and XHR markers bypass it.
func (g *Guard) csrfOK(r *http.Request) bool {
	switch r.Method {
	case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
	default:
		return true
	}
	if strings.HasPrefix(r.Header.Get("Authorization"), "Bearer ") {
		return true
	}
	if ct := r.Header.Get("Content-Type"); strings.HasPrefix(strings.ToLower(ct), "application/json") {
		return true
	}
	if r.Header.Get("X-Requested-With") == "XMLHttpRequest" {
		return true
	}

	source := r.Header.Get("Origin")
	if source == "" {
		source = r.Header.Get("Referer")
	}
	if source == "" {
		return false
	}
	host := originHost(source)
	if host == "" {
		return false
	}
	for _, allowed := range g.allowedHosts {
		if host == allowed || strings.HasSuffix(host, "."+allowed) {
			return true
		}
	}
	return false
}

// observeOutcome runs after the handler: failed logins and verifies feed the
// per-IP failure counter, a successful login clears it.
func (g *Guard) observeOutcome(r *http.Request, path, ip string, status int) {
	ctx := r.Context()
	isAuthAttempt := path == "/auth/login" || path == "/auth/verify"
	if isAuthAttempt && (status == http.StatusUnauthorized || status == http.StatusForbidden) {
		n, err := g.store.IncrWindow(ctx, "auth_failures:"+ip, time.Hour)
		if err != nil {
			obs.Error("guard.auth_failures.store_failed", err, nil)
			return
		}
		if n > g.cfg.AuthFailuresPerHour {
			g.flagSuspicious(r, ip, "auth_failures")
		}
		return
	}
	if path == "/auth/login" && status == http.StatusOK {
		if err := g.store.Delete(ctx, "auth_failures:"+ip); err != nil {
			obs.Error("guard.auth_failures.clear_failed", err, nil)
		}
	}
}

func (g *Guard) securityHeaders(w http.ResponseWriter, r *http.Request, path string) {
	h := w.Header()
	h.Set("X-Content-Type-Options", "nosniff")
	h.Set("X-Frame-Options", "DENY")
	h.Set("X-XSS-Protection", "1; mode=block")
	h.Set("Referrer-Policy", "strict-origin-when-cross-origin")
	if r.TLS != nil {
		h.Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
	}
	if strings.HasPrefix(path, "/auth/") {
		h.Set("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'")
	}
}

// ClientIP resolves the caller address behind proxies: first X-Forwarded-For
// entry, then X-Real-IP, then the transport peer.
func ClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}
	if rip := strings.TrimSpace(r.Header.Get("X-Real-IP")); rip != "" {
		return rip
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// originHost extracts the hostname from an origin or referer value. Bare
// hostnames in the allow-list pass through unchanged.
func originHost(origin string) string {
	origin = strings.TrimSpace(origin)
	if origin == "" {
		return ""
	}
	if !strings.Contains(origin, "://") {
		if host, _, err := net.SplitHostPort(origin); err == nil {
			return strings.ToLower(host)
		}
		return strings.ToLower(origin)
	}
	u, err := url.Parse(origin)
	if err != nil || u.Hostname() == "" {
		return ""
	}
	return strings.ToLower(u.Hostname())
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

package httpserver

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/netip"
	"time"

	"userauth/auth-service/internal/audit"
	"userauth/auth-service/internal/auth"
	"userauth/auth-service/internal/config"
	"userauth/auth-service/internal/observability"
)

type AuthService interface {
	Register(email, password string) (auth.User, error)
	CreateUser(in auth.NewUser) (auth.User, error)
	Login(email, password string) (auth.Session, error)
	SessionExpiresAt(sess auth.Session) time.Time
	ResolveSession(sessionID string) (auth.User, bool)
	Logout(userID string) error
	EndSession(sessionID string) (bool, error)
	RequestReset(email string) (string, error)
	ConsumeReset(token, newPassword string) error
	User(id string) (auth.User, error)
	UserByEmail(email string) (auth.User, error)
	Users() ([]auth.User, error)
	CountUsers() (int, error)
	UpdateProfile(id string, p auth.ProfileUpdate) (auth.User, error)
	DeleteUser(id string) error
}

type AuditLogger interface {
	Record(e audit.Event) error
}

type Deps struct {
	Auth AuthService
	// Authenticator guards /api/v1; nil leaves the API open.
	Authenticator auth.Authenticator
	ExcludedPaths []string
	SessionName   string
	Audit         AuditLogger
	Metrics       *observability.Metrics
	Logger        *slog.Logger
	LoginLimiter  *RateLimiter
	// TrustedProxies are the peers whose X-Forwarded-For is believed.
	TrustedProxies []netip.Prefix
	Ready          func(ctx context.Context) error
}

type Server struct {
	httpServer *http.Server
}

func New(cfg config.HTTPConfig, deps Deps) *Server {
	return &Server{
		httpServer: &http.Server{
			Addr:         cfg.Addr,
			Handler:      NewHandler(deps),
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
			IdleTimeout:  60 * time.Second,
		},
	}
}

// NewHandler wires every route behind request logging, trailing slash
// normalization and, for /api/v1, the authorization check.
func NewHandler(deps Deps) http.Handler {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.SessionName == "" {
		deps.SessionName = "session_id"
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	mux.HandleFunc("GET /readyz", func(w http.ResponseWriter, r *http.Request) {
		if deps.Ready != nil {
			if err := deps.Ready(r.Context()); err != nil {
				deps.Logger.Warn("readiness check failed", "error", err)
				writeError(w, http.StatusServiceUnavailable, "not ready")
				return
			}
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
	})
	if deps.Metrics != nil {
		mux.Handle("GET /metrics", deps.Metrics.Handler())
	}
	mux.HandleFunc("/", func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, "Not found")
	})

	registerProfileHandlers(mux, deps)
	registerAPIHandlers(mux, deps)

	var h http.Handler = mux
	h = authMiddleware(deps, h)
	h = trimTrailingSlash(h)
	return loggingMiddleware(deps, mux, h)
}

func (s *Server) Start() error {
	return s.httpServer.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

func writeMessage(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"message": message})
}

type userJSON struct {
	ID          string `json:"id"`
	Email       string `json:"email"`
	FirstName   string `json:"first_name"`
	LastName    string `json:"last_name"`
	DisplayName string `json:"display_name"`
	CreatedAt   string `json:"created_at"`
	UpdatedAt   string `json:"updated_at"`
}

func toUserJSON(u auth.User) userJSON {
	return userJSON{
		ID:          u.ID,
		Email:       u.Email,
		FirstName:   u.FirstName,
		LastName:    u.LastName,
		DisplayName: u.DisplayName(),
		CreatedAt:   u.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt:   u.UpdatedAt.UTC().Format(time.RFC3339),
	}
}

// httpRequest adapts *http.Request to auth.Request.
type httpRequest struct {
	r *http.Request
}

func AdaptRequest(r *http.Request) auth.Request { return httpRequest{r: r} }

func (h httpRequest) Path() string { return h.r.URL.Path }

func (h httpRequest) Header(name string) string { return h.r.Header.Get(name) }

func (h httpRequest) Cookie(name string) (string, bool) {
	c, err := h.r.Cookie(name)
	if err != nil {
		return "", false
	}
	return c.Value, true
}

type ctxKey int

const (
	requestIDKey ctxKey = iota
	currentUserKey
)

// CurrentUser returns the user the authorization middleware resolved for
// the request.
func CurrentUser(ctx context.Context) (auth.User, bool) {
	u, ok := ctx.Value(currentUserKey).(auth.User)
	return u, ok
}

func requestIDFromContext(ctx context.Context) string {
	s, _ := ctx.Value(requestIDKey).(string)
	return s
}

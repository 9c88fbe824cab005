package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	_ "github.com/lib/pq"

	"userauth/auth-service/internal/audit"
	"userauth/auth-service/internal/auth"
	"userauth/auth-service/internal/config"
	"userauth/auth-service/internal/httpserver"
	"userauth/auth-service/internal/observability"
)

const pingTimeout = 5 * time.Second

// Core is the storage and auth stack shared by the server and the admin
// commands.
type Core struct {
	Users         auth.UserStore
	Sessions      *auth.SessionRegistry
	Service       *auth.Service
	Authenticator auth.Authenticator

	db *sql.DB
}

// OpenCore builds the stores selected by cfg: Postgres when DATABASE_URL is
// set, the JSON state files otherwise.
func OpenCore(cfg config.Config, logger *slog.Logger) (*Core, error) {
	var db *sql.DB
	if cfg.DatabaseURL != "" {
		var err error
		db, err = openDB(cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
	}
	c, err := buildCore(cfg, db, logger)
	if err != nil {
		if db != nil {
			_ = db.Close()
		}
		return nil, err
	}
	return c, nil
}

func openDB(dsn string) (*sql.DB, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), pingTimeout)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return db, nil
}

func buildCore(cfg config.Config, db *sql.DB, logger *slog.Logger) (*Core, error) {
	var (
		users auth.UserStore
		err   error
	)
	if db != nil {
		users, err = auth.NewPostgresUserStore(db)
		if err != nil {
			return nil, fmt.Errorf("create postgres user store: %w", err)
		}
	} else {
		users, err = auth.NewFileUserStore(cfg.Auth.UserStateFile)
		if err != nil {
			return nil, fmt.Errorf("create user store: %w", err)
		}
	}

	sessionStore, err := newSessionStore(cfg.Auth, db)
	if err != nil {
		return nil, err
	}
	sessions := auth.NewSessionRegistry(auth.RegistryConfig{
		Duration: cfg.Auth.EffectiveSessionDuration(),
		Store:    sessionStore,
	})

	hasher := newHasher(cfg.Auth)
	svc, err := auth.NewService(users, auth.ServiceConfig{
		Hasher:          hasher,
		Sessions:        sessions,
		StrictPasswords: cfg.Auth.StrictPasswords,
		Logger:          logger,
	})
	if err != nil {
		return nil, fmt.Errorf("create auth service: %w", err)
	}

	return &Core{
		Users:         users,
		Sessions:      sessions,
		Service:       svc,
		Authenticator: newAuthenticator(cfg.Auth, users, hasher, sessions),
		db:            db,
	}, nil
}

// newSessionStore keeps sessions in memory except for the durable
// strategy, which persists them in Postgres or the session state file.
func newSessionStore(cfg config.AuthConfig, db *sql.DB) (auth.SessionStore, error) {
	if cfg.Type != config.AuthTypeSessionDurable {
		return auth.NewMemorySessionStore(), nil
	}
	if db != nil {
		s, err := auth.NewPostgresSessionStore(db)
		if err != nil {
			return nil, fmt.Errorf("create postgres session store: %w", err)
		}
		return s, nil
	}
	s, err := auth.NewFileSessionStore(cfg.SessionStateFile)
	if err != nil {
		return nil, fmt.Errorf("create session store: %w", err)
	}
	return s, nil
}

func newHasher(cfg config.AuthConfig) auth.PasswordHasher {
	if cfg.PasswordHasher == config.HasherArgon2id {
		return auth.NewArgon2idHasher(auth.DefaultArgon2Params)
	}
	return auth.NewBcryptHasher(cfg.BcryptCost)
}

// newAuthenticator returns nil for an empty AUTH_TYPE, which leaves the API
// unguarded.
func newAuthenticator(cfg config.AuthConfig, users auth.UserStore, hasher auth.PasswordHasher, sessions *auth.SessionRegistry) auth.Authenticator {
	switch {
	case cfg.Type == config.AuthTypeAuth:
		return auth.NoAuth{}
	case cfg.Type == config.AuthTypeBasic:
		return auth.NewBasicAuth(users, hasher)
	case cfg.Type == config.AuthTypeSessionOrBasic:
		return auth.Chain{
			auth.NewSessionAuth(sessions, users, cfg.SessionName),
			auth.NewBasicAuth(users, hasher),
		}
	case cfg.UsesSessions():
		return auth.NewSessionAuth(sessions, users, cfg.SessionName)
	}
	return nil
}

// Bootstrap creates the configured bootstrap user when it does not exist
// yet. It reports whether a user was created.
func (c *Core) Bootstrap(email, password string) (bool, error) {
	if email == "" {
		return false, nil
	}
	_, err := c.Service.UserByEmail(email)
	if err == nil {
		return false, nil
	}
	if !errors.Is(err, auth.ErrNotFound) {
		return false, fmt.Errorf("check bootstrap user: %w", err)
	}
	if _, err := c.Service.Register(email, password); err != nil {
		return false, fmt.Errorf("create bootstrap user: %w", err)
	}
	return true, nil
}

// Ping reports whether the database answers; without one it always
// succeeds.
func (c *Core) Ping(ctx context.Context) error {
	if c.db == nil {
		return nil
	}
	return c.db.PingContext(ctx)
}

func (c *Core) Close() error {
	if c.db == nil {
		return nil
	}
	return c.db.Close()
}

type App struct {
	cfg    config.Config
	log    *slog.Logger
	core   *Core
	server *httpserver.Server
}

func New(cfg config.Config, logger *slog.Logger) (*App, error) {
	core, err := OpenCore(cfg, logger)
	if err != nil {
		return nil, err
	}
	created, err := core.Bootstrap(cfg.Auth.BootstrapEmail, cfg.Auth.BootstrapPassword)
	if err != nil {
		_ = core.Close()
		return nil, err
	}
	if created {
		logger.Info("bootstrap auth user created", "email", cfg.Auth.BootstrapEmail)
	}

	server := httpserver.New(cfg.HTTP, Deps(cfg, core, logger))
	return &App{cfg: cfg, log: logger, core: core, server: server}, nil
}

// Deps assembles the HTTP dependencies for core.
func Deps(cfg config.Config, core *Core, logger *slog.Logger) httpserver.Deps {
	return httpserver.Deps{
		Auth:           core.Service,
		Authenticator:  core.Authenticator,
		ExcludedPaths:  cfg.Auth.ExcludedPaths,
		SessionName:    cfg.Auth.SessionName,
		Audit:          audit.NewLogger(cfg.AuditLogFile),
		Metrics:        observability.NewMetrics(),
		Logger:         logger,
		LoginLimiter:   httpserver.NewRateLimiter(cfg.Auth.LoginRatePerMin, cfg.Auth.LoginBurst),
		TrustedProxies: cfg.Auth.TrustedProxies,
		Ready:          core.Ping,
	}
}

func (a *App) Run(ctx context.Context) error {
	defer func() {
		_ = a.core.Close()
	}()

	errCh := make(chan error, 1)

	go func() {
		a.log.Info("http server starting", "addr", a.cfg.HTTP.Addr, "auth_type", a.cfg.Auth.Type)
		errCh <- a.server.Start()
	}()

	select {
	case <-ctx.Done():
		a.log.Info("shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.HTTP.ShutdownTimeout)
		defer cancel()
		if err := a.server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown server: %w", err)
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("server exited: %w", err)
	}
}

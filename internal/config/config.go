package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/netip"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Authentication strategies selectable with AUTH_TYPE.
const (
	AuthTypeNone           = ""
	AuthTypeAuth           = "auth"
	AuthTypeBasic          = "basic_auth"
	AuthTypeSession        = "session_auth"
	AuthTypeSessionExpiry  = "session_exp_auth"
	AuthTypeSessionDurable = "session_db_auth"
	// AuthTypeSessionOrBasic accepts a session cookie and falls back to
	// HTTP Basic credentials.
	AuthTypeSessionOrBasic = "session_basic_auth"
)

const (
	HasherBcrypt   = "bcrypt"
	HasherArgon2id = "argon2id"
)

var defaultExcludedPaths = []string{
	"/api/v1/status/",
	"/api/v1/unauthorized/",
	"/api/v1/forbidden/",
	"/api/v1/auth_session/login/",
}

type Config struct {
	HTTP         HTTPConfig
	DatabaseURL  string
	Auth         AuthConfig
	Log          LogConfig
	AuditLogFile string
}

type HTTPConfig struct {
	Addr            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
}

type AuthConfig struct {
	Type              string
	SessionName       string
	SessionDuration   time.Duration
	SessionStateFile  string
	UserStateFile     string
	ExcludedPaths     []string
	PasswordHasher    string
	BcryptCost        int
	StrictPasswords   bool
	BootstrapEmail    string
	BootstrapPassword string
	// LoginRatePerMin <= 0 disables login rate limiting.
	LoginRatePerMin int
	LoginBurst      int
	// TrustedProxies lists the peers allowed to set X-Forwarded-For.
	TrustedProxies []netip.Prefix
}

type LogConfig struct {
	Level  string
	Format string
}

// EffectiveSessionDuration is the lifetime applied to sessions: only the
// expiring and durable session strategies honor SESSION_DURATION.
func (a AuthConfig) EffectiveSessionDuration() time.Duration {
	switch a.Type {
	case AuthTypeSessionExpiry, AuthTypeSessionDurable:
		return a.SessionDuration
	}
	return 0
}

// UsesSessions reports whether the API authenticates with session cookies.
func (a AuthConfig) UsesSessions() bool {
	switch a.Type {
	case AuthTypeSession, AuthTypeSessionExpiry, AuthTypeSessionDurable, AuthTypeSessionOrBasic:
		return true
	}
	return false
}

// LoadDotEnv seeds the environment from .env style files. Missing files are
// skipped and variables already set win.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("load %s: %w", p, err)
		}
	}
	return nil
}

func Load() (Config, error) {
	cfg := Config{
		HTTP: HTTPConfig{
			Addr:            getEnv("HTTP_ADDR", ":5000"),
			ReadTimeout:     time.Duration(getEnvInt("HTTP_READ_TIMEOUT_SEC", 10)) * time.Second,
			WriteTimeout:    time.Duration(getEnvInt("HTTP_WRITE_TIMEOUT_SEC", 15)) * time.Second,
			ShutdownTimeout: time.Duration(getEnvInt("HTTP_SHUTDOWN_TIMEOUT_SEC", 20)) * time.Second,
		},
		DatabaseURL: getEnv("DATABASE_URL", ""),
		Auth: AuthConfig{
			Type:              strings.TrimSpace(os.Getenv("AUTH_TYPE")),
			SessionName:       getEnv("SESSION_NAME", "session_id"),
			SessionDuration:   time.Duration(getEnvInt("SESSION_DURATION", 0)) * time.Second,
			SessionStateFile:  getEnv("AUTH_SESSION_STATE_FILE", "./data/auth_sessions.json"),
			UserStateFile:     getEnv("AUTH_USER_STATE_FILE", "./data/auth_users.json"),
			ExcludedPaths:     getEnvList("AUTH_EXCLUDED_PATHS", defaultExcludedPaths),
			PasswordHasher:    strings.ToLower(getEnv("AUTH_PASSWORD_HASHER", HasherBcrypt)),
			BcryptCost:        getEnvInt("AUTH_BCRYPT_COST", 10),
			StrictPasswords:   getEnvBool("AUTH_STRICT_PASSWORDS", false),
			BootstrapEmail:    getEnv("AUTH_BOOTSTRAP_EMAIL", ""),
			BootstrapPassword: getEnv("AUTH_BOOTSTRAP_PASSWORD", ""),
			LoginRatePerMin:   getEnvInt("AUTH_LOGIN_RATE_PER_MIN", 10),
			LoginBurst:        getEnvInt("AUTH_LOGIN_BURST", 5),
		},
		Log: LogConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
		AuditLogFile: getEnv("AUDIT_LOG_FILE", "./data/audit.log"),
	}

	if cfg.HTTP.Addr == "" {
		return Config{}, fmt.Errorf("HTTP_ADDR must not be empty")
	}
	switch cfg.Auth.Type {
	case AuthTypeNone, AuthTypeAuth, AuthTypeBasic, AuthTypeSession, AuthTypeSessionExpiry, AuthTypeSessionDurable, AuthTypeSessionOrBasic:
	default:
		return Config{}, fmt.Errorf("AUTH_TYPE %q is not supported", cfg.Auth.Type)
	}
	if cfg.Auth.SessionDuration < 0 {
		return Config{}, fmt.Errorf("SESSION_DURATION must be >= 0")
	}
	switch cfg.Auth.PasswordHasher {
	case HasherBcrypt, HasherArgon2id:
	default:
		return Config{}, fmt.Errorf("AUTH_PASSWORD_HASHER %q is not supported", cfg.Auth.PasswordHasher)
	}
	if cfg.Auth.BcryptCost < 4 || cfg.Auth.BcryptCost > 31 {
		return Config{}, fmt.Errorf("AUTH_BCRYPT_COST must be between 4 and 31")
	}
	if (cfg.Auth.BootstrapEmail == "") != (cfg.Auth.BootstrapPassword == "") {
		return Config{}, fmt.Errorf("AUTH_BOOTSTRAP_EMAIL and AUTH_BOOTSTRAP_PASSWORD must be set together")
	}
	if cfg.Auth.LoginRatePerMin > 0 && cfg.Auth.LoginBurst <= 0 {
		return Config{}, fmt.Errorf("AUTH_LOGIN_BURST must be > 0 when rate limiting is enabled")
	}
	proxies, err := parsePrefixes(getEnvList("AUTH_TRUSTED_PROXIES", nil))
	if err != nil {
		return Config{}, fmt.Errorf("AUTH_TRUSTED_PROXIES: %w", err)
	}
	cfg.Auth.TrustedProxies = proxies
	if cfg.Auth.SessionStateFile == "" {
		return Config{}, fmt.Errorf("AUTH_SESSION_STATE_FILE must not be empty")
	}
	if cfg.Auth.UserStateFile == "" {
		return Config{}, fmt.Errorf("AUTH_USER_STATE_FILE must not be empty")
	}
	if cfg.AuditLogFile == "" {
		return Config{}, fmt.Errorf("AUDIT_LOG_FILE must not be empty")
	}

	return cfg, nil
}

// parsePrefixes accepts CIDRs and bare addresses, which match only
// themselves.
func parsePrefixes(values []string) ([]netip.Prefix, error) {
	var out []netip.Prefix
	for _, v := range values {
		if strings.Contains(v, "/") {
			p, err := netip.ParsePrefix(v)
			if err != nil {
				return nil, err
			}
			out = append(out, p.Masked())
			continue
		}
		addr, err := netip.ParseAddr(v)
		if err != nil {
			return nil, err
		}
		addr = addr.Unmap()
		out = append(out, netip.PrefixFrom(addr, addr.BitLen()))
	}
	return out, nil
}

func getEnv(key, fallback string) string {
	val, ok := os.LookupEnv(key)
	if !ok || val == "" {
		return fallback
	}
	return val
}

func getEnvInt(key string, fallback int) int {
	val, ok := os.LookupEnv(key)
	if !ok || val == "" {
		return fallback
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return fallback
	}
	return n
}

func getEnvBool(key string, fallback bool) bool {
	val, ok := os.LookupEnv(key)
	if !ok || val == "" {
		return fallback
	}
	b, err := strconv.ParseBool(val)
	if err != nil {
		return fallback
	}
	return b
}

func getEnvList(key string, fallback []string) []string {
	val, ok := os.LookupEnv(key)
	if !ok || strings.TrimSpace(val) == "" {
		return append([]string(nil), fallback...)
	}
	var out []string
	for _, part := range strings.Split(val, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

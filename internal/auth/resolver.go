package auth

import (
	"encoding/base64"
	"fmt"
	"strings"
	"unicode/utf8"
)

const (
	AuthorizationHeader = "Authorization"
	SchemeBasic         = "Basic"
)

// Request is the part of an inbound request the resolvers read.
type Request interface {
	Path() string
	Header(name string) string
	Cookie(name string) (string, bool)
}

// Authenticator resolves the user behind a request.
type Authenticator interface {
	CurrentUser(r Request) (User, bool)
}

// RequireAuth reports whether path needs authentication given the excluded
// entries. Entries ending in "*" exclude every path sharing the literal
// prefix before the star, so "/api/v1/stat*" also excludes
// "/api/v1/statuses". Other entries match exactly once both sides carry a
// trailing slash.
func RequireAuth(path string, excluded []string) bool {
	if path == "" || len(excluded) == 0 {
		return true
	}
	normalized := withTrailingSlash(path)
	for _, entry := range excluded {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		if prefix, ok := strings.CutSuffix(entry, "*"); ok {
			if strings.HasPrefix(path, prefix) {
				return false
			}
			continue
		}
		if withTrailingSlash(entry) == normalized {
			return false
		}
	}
	return true
}

func withTrailingSlash(p string) string {
	return strings.TrimRight(p, "/") + "/"
}

// ExtractAuthorization returns what follows the exact "<scheme> " prefix
// of an Authorization header value.
func ExtractAuthorization(header, scheme string) (string, bool) {
	token, ok := strings.CutPrefix(header, scheme+" ")
	if !ok || token == "" {
		return "", false
	}
	return token, true
}

// DecodeBasic decodes a basic-auth token with strict base64 rules and
// requires the payload to be UTF-8.
func DecodeBasic(token string) (string, error) {
	b, err := base64.StdEncoding.Strict().DecodeString(token)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if !utf8.Valid(b) {
		return "", fmt.Errorf("%w: credentials are not valid UTF-8", ErrMalformed)
	}
	return string(b), nil
}

// SplitCredentials splits "user:password" on the first colon; the password
// keeps any further colons.
func SplitCredentials(decoded string) (user, password string, ok bool) {
	return strings.Cut(decoded, ":")
}

// HasCredentials reports whether the request carries an Authorization header
// or the named session cookie.
func HasCredentials(r Request, cookieName string) bool {
	if r == nil {
		return false
	}
	if r.Header(AuthorizationHeader) != "" {
		return true
	}
	if cookieName == "" {
		return false
	}
	_, ok := r.Cookie(cookieName)
	return ok
}

// NoAuth never resolves a user.
type NoAuth struct{}

func (NoAuth) CurrentUser(Request) (User, bool) { return User{}, false }

type BasicAuth struct {
	users  UserStore
	hasher PasswordHasher
}

func NewBasicAuth(users UserStore, hasher PasswordHasher) *BasicAuth {
	return &BasicAuth{users: users, hasher: hasher}
}

// ResolveUser returns the first user registered under email whose password
// verifies.
func (a *BasicAuth) ResolveUser(email, password string) (User, bool) {
	if email == "" {
		return User{}, false
	}
	candidates, err := a.users.Search(Filter{FieldEmail: email})
	if err != nil {
		return User{}, false
	}
	for _, u := range candidates {
		if a.hasher.Verify(u.PasswordHash, password) {
			return u, true
		}
	}
	return User{}, false
}

func (a *BasicAuth) CurrentUser(r Request) (User, bool) {
	if r == nil {
		return User{}, false
	}
	token, ok := ExtractAuthorization(r.Header(AuthorizationHeader), SchemeBasic)
	if !ok {
		return User{}, false
	}
	decoded, err := DecodeBasic(token)
	if err != nil {
		return User{}, false
	}
	email, password, ok := SplitCredentials(decoded)
	if !ok {
		return User{}, false
	}
	return a.ResolveUser(email, password)
}

type SessionAuth struct {
	sessions   *SessionRegistry
	users      UserStore
	cookieName string
}

func NewSessionAuth(sessions *SessionRegistry, users UserStore, cookieName string) *SessionAuth {
	return &SessionAuth{sessions: sessions, users: users, cookieName: cookieName}
}

func (a *SessionAuth) ResolveUser(sessionID string) (User, bool) {
	userID, ok := a.sessions.Resolve(sessionID)
	if !ok {
		return User{}, false
	}
	u, err := a.users.FindBy(Filter{FieldID: userID})
	if err != nil {
		return User{}, false
	}
	return u, true
}

func (a *SessionAuth) CurrentUser(r Request) (User, bool) {
	if r == nil {
		return User{}, false
	}
	sessionID, ok := r.Cookie(a.cookieName)
	if !ok {
		return User{}, false
	}
	return a.ResolveUser(sessionID)
}

// Chain tries each authenticator in order and returns the first user found.
type Chain []Authenticator

func (c Chain) CurrentUser(r Request) (User, bool) {
	for _, a := range c {
		if u, ok := a.CurrentUser(r); ok {
			return u, true
		}
	}
	return User{}, false
}

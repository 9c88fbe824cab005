package auth

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/samber/oops"
)

const sessionTokenBytes = 32

// SessionRegistry maps opaque session ids to user ids. Expiry and storage
// are independent: Duration decides when a session dies, the SessionStore
// decides where it lives. A session id is never reactivated once it has
// expired or been destroyed.
type SessionRegistry struct {
	mu       sync.Mutex
	store    SessionStore
	duration time.Duration
	nowFunc  func() time.Time
	newID    func() (string, error)
}

type RegistryConfig struct {
	// Duration <= 0 means sessions never expire.
	Duration time.Duration
	// Store defaults to a MemorySessionStore.
	Store SessionStore
}

func NewSessionRegistry(cfg RegistryConfig) *SessionRegistry {
	store := cfg.Store
	if store == nil {
		store = NewMemorySessionStore()
	}
	return &SessionRegistry{
		store:    store,
		duration: cfg.Duration,
		nowFunc:  time.Now,
		newID:    func() (string, error) { return generateToken(sessionTokenBytes) },
	}
}

func (r *SessionRegistry) Create(userID string) (Session, error) {
	id, err := r.nextID(userID)
	if err != nil {
		return Session{}, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	return r.insertLocked(id, userID)
}

// Replace ends every session userID holds and starts a new one in a single
// step, so concurrent callers leave exactly one live session behind.
func (r *SessionRegistry) Replace(userID string) (Session, error) {
	id, err := r.nextID(userID)
	if err != nil {
		return Session{}, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, err := r.store.DeleteUser(userID); err != nil {
		return Session{}, oops.Code("SESSION_STORE_FAILED").With("operation", "DeleteUser").Wrap(err)
	}
	return r.insertLocked(id, userID)
}

// DestroyUser removes every session userID holds and reports how many
// records were removed.
func (r *SessionRegistry) DestroyUser(userID string) (int, error) {
	if userID == "" {
		return 0, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	n, err := r.store.DeleteUser(userID)
	if err != nil {
		return 0, oops.Code("SESSION_STORE_FAILED").With("operation", "DeleteUser").Wrap(err)
	}
	return n, nil
}

func (r *SessionRegistry) nextID(userID string) (string, error) {
	if strings.TrimSpace(userID) == "" {
		return "", ErrInvalidIdentity
	}
	id, err := r.newID()
	if err != nil {
		return "", oops.Code("SESSION_TOKEN_GENERATE_FAILED").With("requested_bytes", sessionTokenBytes).Wrap(err)
	}
	return id, nil
}

func (r *SessionRegistry) insertLocked(id, userID string) (Session, error) {
	if _, err := r.store.Get(id); err == nil {
		return Session{}, oops.Code("SESSION_TOKEN_GENERATE_FAILED").Errorf("session id collision")
	}
	sess := Session{ID: id, UserID: userID, CreatedAt: r.nowFunc().UTC()}
	if err := r.store.Insert(sess); err != nil {
		return Session{}, oops.Code("SESSION_STORE_FAILED").With("operation", "Insert").Wrap(err)
	}
	return sess, nil
}

// Lookup returns the live session for id: ErrNotFound when there is none and
// ErrSessionExpired when it has outlived the registry duration. Expired
// sessions are removed from the store.
func (r *SessionRegistry) Lookup(id string) (Session, error) {
	if id == "" {
		return Session{}, ErrNotFound
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	sess, err := r.store.Get(id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return Session{}, ErrNotFound
		}
		return Session{}, oops.Code("SESSION_STORE_FAILED").With("operation", "Get").Wrap(err)
	}
	if r.expiredLocked(sess) {
		if _, err := r.store.Delete(id); err != nil {
			return Session{}, oops.Code("SESSION_STORE_FAILED").With("operation", "Delete").Wrap(err)
		}
		return Session{}, ErrSessionExpired
	}
	return sess, nil
}

// Resolve returns the user id owning a live session.
func (r *SessionRegistry) Resolve(id string) (string, bool) {
	sess, err := r.Lookup(id)
	if err != nil {
		return "", false
	}
	return sess.UserID, true
}

// Destroy removes the session and reports whether it was live. Expired
// sessions are removed but report false.
func (r *SessionRegistry) Destroy(id string) (bool, error) {
	if id == "" {
		return false, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	sess, err := r.store.Get(id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return false, nil
		}
		return false, oops.Code("SESSION_STORE_FAILED").With("operation", "Get").Wrap(err)
	}
	removed, err := r.store.Delete(id)
	if err != nil {
		return false, oops.Code("SESSION_STORE_FAILED").With("operation", "Delete").Wrap(err)
	}
	return removed && !r.expiredLocked(sess), nil
}

// ExpiresAt is the instant after which sess stops resolving, or the zero
// time when sessions never expire.
func (r *SessionRegistry) ExpiresAt(sess Session) time.Time {
	if r.duration <= 0 {
		return time.Time{}
	}
	return sess.CreatedAt.Add(r.duration)
}

func (r *SessionRegistry) expiredLocked(sess Session) bool {
	if r.duration <= 0 {
		return false
	}
	return r.nowFunc().After(sess.CreatedAt.Add(r.duration))
}

func generateToken(n int) (string, error) {
	if n < 16 {
		return "", fmt.Errorf("token length too short")
	}
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

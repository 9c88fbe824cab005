package auth

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"hash/fnv"
	"log/slog"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/samber/oops"
)

const (
	minPasswordLength = 12
	maxPasswordLength = 128
	resetTokenBytes   = 32
)

// Service is the single entry point for registration, login, logout,
// profile lookup and password resets.
type Service struct {
	users    UserStore
	hasher   PasswordHasher
	sessions *SessionRegistry
	strict   bool
	log      *slog.Logger
	locks    userLocks
}

// userLocks serializes session changes per user id. Ids hash onto a fixed
// set of stripes.
type userLocks [64]sync.Mutex

func (l *userLocks) lock(userID string) func() {
	h := fnv.New32a()
	_, _ = h.Write([]byte(userID))
	m := &l[h.Sum32()%uint32(len(l))]
	m.Lock()
	return m.Unlock
}

type ServiceConfig struct {
	Hasher   PasswordHasher
	Sessions *SessionRegistry
	// StrictPasswords enforces the length and character-class policy on
	// every new password.
	StrictPasswords bool
	Logger          *slog.Logger
}

func NewService(userStore UserStore, cfg ServiceConfig) (*Service, error) {
	if userStore == nil {
		return nil, fmt.Errorf("user store is required")
	}
	if cfg.Hasher == nil {
		return nil, fmt.Errorf("password hasher is required")
	}
	if cfg.Sessions == nil {
		return nil, fmt.Errorf("session registry is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Service{
		users:    userStore,
		hasher:   cfg.Hasher,
		sessions: cfg.Sessions,
		strict:   cfg.StrictPasswords,
		log:      logger.With("component", "auth"),
	}, nil
}

// SessionExpiresAt is the instant sess stops resolving, zero when sessions
// never expire.
func (s *Service) SessionExpiresAt(sess Session) time.Time {
	return s.sessions.ExpiresAt(sess)
}

func (s *Service) Register(email, password string) (User, error) {
	email = strings.TrimSpace(email)
	if email == "" {
		return User{}, invalidField(FieldEmail)
	}
	if err := s.checkPolicy(password); err != nil {
		return User{}, err
	}

	if _, err := s.users.FindBy(Filter{FieldEmail: email}); err == nil {
		return User{}, ErrDuplicateEmail
	} else if !errors.Is(err, ErrNotFound) {
		return User{}, storeFailure("FindBy", err)
	}

	hash, err := s.hasher.Hash(password)
	if err != nil {
		return User{}, err
	}
	u, err := s.users.Add(email, hash)
	if err != nil {
		if errors.Is(err, ErrDuplicateEmail) {
			return User{}, ErrDuplicateEmail
		}
		return User{}, storeFailure("Add", err)
	}
	s.log.Info("user registered", "user_id", u.ID)
	return u, nil
}

func (s *Service) CreateUser(in NewUser) (User, error) {
	u, err := s.Register(in.Email, in.Password)
	if err != nil {
		return User{}, err
	}
	if in.FirstName == "" && in.LastName == "" {
		return u, nil
	}
	first, last := in.FirstName, in.LastName
	return s.UpdateProfile(u.ID, ProfileUpdate{FirstName: &first, LastName: &last})
}

// Authenticate returns the user owning email when password verifies.
// Unknown emails and wrong passwords are indistinguishable.
func (s *Service) Authenticate(email, password string) (User, error) {
	u, err := s.users.FindBy(Filter{FieldEmail: strings.TrimSpace(email)})
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return User{}, ErrInvalidCredentials
		}
		return User{}, storeFailure("FindBy", err)
	}
	if !s.hasher.Verify(u.PasswordHash, password) {
		return User{}, ErrInvalidCredentials
	}
	return u, nil
}

func (s *Service) ValidLogin(email, password string) bool {
	_, err := s.Authenticate(email, password)
	return err == nil
}

// Login verifies the credentials and starts a new session, ending every
// session the user already had.
func (s *Service) Login(email, password string) (Session, error) {
	u, err := s.Authenticate(email, password)
	if err != nil {
		return Session{}, err
	}

	unlock := s.locks.lock(u.ID)
	defer unlock()

	sess, err := s.sessions.Replace(u.ID)
	if err != nil {
		return Session{}, err
	}
	if err := s.users.Update(u.ID, Changes{FieldSessionID: Value(sess.ID)}); err != nil {
		_, _ = s.sessions.Destroy(sess.ID)
		return Session{}, storeFailure("Update", err)
	}
	s.log.Info("session created", "user_id", u.ID)
	return sess, nil
}

func (s *Service) ResolveSession(sessionID string) (User, bool) {
	userID, ok := s.sessions.Resolve(sessionID)
	if !ok {
		return User{}, false
	}
	u, err := s.users.FindBy(Filter{FieldID: userID})
	if err != nil {
		return User{}, false
	}
	return u, true
}

// Logout ends every session the user holds. Logging out a user without a
// session, or an unknown user, is a no-op.
func (s *Service) Logout(userID string) error {
	u, err := s.users.FindBy(Filter{FieldID: userID})
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil
		}
		return storeFailure("FindBy", err)
	}

	unlock := s.locks.lock(u.ID)
	defer unlock()

	n, err := s.sessions.DestroyUser(u.ID)
	if err != nil {
		return err
	}
	if err := s.users.Update(u.ID, Changes{FieldSessionID: nil}); err != nil && !errors.Is(err, ErrNotFound) {
		return storeFailure("Update", err)
	}
	if n > 0 {
		s.log.Info("session destroyed", "user_id", u.ID, "sessions", n)
	}
	return nil
}

// EndSession destroys a session by id and reports whether it was live.
func (s *Service) EndSession(sessionID string) (bool, error) {
	userID, live := s.sessions.Resolve(sessionID)
	if !live {
		_, err := s.sessions.Destroy(sessionID)
		return false, err
	}

	unlock := s.locks.lock(userID)
	defer unlock()

	removed, err := s.sessions.Destroy(sessionID)
	if err != nil || !removed {
		return false, err
	}
	if u, err := s.users.FindBy(Filter{FieldID: userID}); err == nil && u.SessionID == sessionID {
		if err := s.users.Update(u.ID, Changes{FieldSessionID: nil}); err != nil && !errors.Is(err, ErrNotFound) {
			return true, storeFailure("Update", err)
		}
	}
	return true, nil
}

// RequestReset issues a single-use reset token for email. Only the token's
// SHA-256 is stored.
func (s *Service) RequestReset(email string) (string, error) {
	u, err := s.users.FindBy(Filter{FieldEmail: strings.TrimSpace(email)})
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return "", ErrUnknownEmail
		}
		return "", storeFailure("FindBy", err)
	}

	token, err := generateToken(resetTokenBytes)
	if err != nil {
		return "", oops.Code("RESET_TOKEN_GENERATE_FAILED").Wrap(err)
	}
	if err := s.users.Update(u.ID, Changes{FieldResetToken: Value(hashResetToken(token))}); err != nil {
		return "", storeFailure("Update", err)
	}
	s.log.Info("reset token issued", "user_id", u.ID)
	return token, nil
}

// ConsumeReset replaces the password of the user holding token and clears
// the token.
func (s *Service) ConsumeReset(token, newPassword string) error {
	if token == "" {
		return ErrInvalidToken
	}
	if err := s.checkPolicy(newPassword); err != nil {
		return err
	}

	u, err := s.users.FindBy(Filter{FieldResetToken: hashResetToken(token)})
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return ErrInvalidToken
		}
		return storeFailure("FindBy", err)
	}
	hash, err := s.hasher.Hash(newPassword)
	if err != nil {
		return err
	}
	if err := s.users.Update(u.ID, Changes{FieldPasswordHash: Value(hash), FieldResetToken: nil}); err != nil {
		return storeFailure("Update", err)
	}
	s.log.Info("password reset", "user_id", u.ID)
	return nil
}

func (s *Service) User(id string) (User, error) {
	u, err := s.users.FindBy(Filter{FieldID: id})
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return User{}, ErrNotFound
		}
		return User{}, storeFailure("FindBy", err)
	}
	return u, nil
}

func (s *Service) UserByEmail(email string) (User, error) {
	u, err := s.users.FindBy(Filter{FieldEmail: strings.TrimSpace(email)})
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return User{}, ErrNotFound
		}
		return User{}, storeFailure("FindBy", err)
	}
	return u, nil
}

func (s *Service) Users() ([]User, error) {
	users, err := s.users.All()
	if err != nil {
		return nil, storeFailure("All", err)
	}
	return users, nil
}

func (s *Service) CountUsers() (int, error) {
	n, err := s.users.Count()
	if err != nil {
		return 0, storeFailure("Count", err)
	}
	return n, nil
}

func (s *Service) UpdateProfile(id string, p ProfileUpdate) (User, error) {
	changes := Changes{}
	if p.FirstName != nil {
		changes[FieldFirstName] = Value(*p.FirstName)
	}
	if p.LastName != nil {
		changes[FieldLastName] = Value(*p.LastName)
	}
	if err := s.users.Update(id, changes); err != nil {
		if errors.Is(err, ErrNotFound) {
			return User{}, ErrNotFound
		}
		return User{}, storeFailure("Update", err)
	}
	return s.User(id)
}

// DeleteUser removes the user and any session it holds.
func (s *Service) DeleteUser(id string) error {
	u, err := s.User(id)
	if err != nil {
		return err
	}

	unlock := s.locks.lock(u.ID)
	defer unlock()

	if _, err := s.sessions.DestroyUser(u.ID); err != nil {
		return err
	}
	if err := s.users.Delete(id); err != nil {
		if errors.Is(err, ErrNotFound) {
			return ErrNotFound
		}
		return storeFailure("Delete", err)
	}
	s.log.Info("user deleted", "user_id", id)
	return nil
}

func (s *Service) checkPolicy(password string) error {
	if password == "" {
		return ErrEmptyPassword
	}
	if !s.strict {
		return nil
	}
	return validatePasswordPolicy(password)
}

func validatePasswordPolicy(password string) error {
	if strings.TrimSpace(password) != password {
		return ErrWeakPassword
	}
	if len(password) < minPasswordLength || len(password) > maxPasswordLength {
		return ErrWeakPassword
	}

	var hasUpper, hasLower, hasDigit, hasSpecial bool
	for _, r := range password {
		switch {
		case unicode.IsUpper(r):
			hasUpper = true
		case unicode.IsLower(r):
			hasLower = true
		case unicode.IsDigit(r):
			hasDigit = true
		case unicode.IsPunct(r) || unicode.IsSymbol(r):
			hasSpecial = true
		}
	}
	if !hasUpper || !hasLower || !hasDigit || !hasSpecial {
		return ErrWeakPassword
	}
	return nil
}

func hashResetToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

func storeFailure(operation string, err error) error {
	return oops.Code("AUTH_STORE_FAILED").With("operation", operation).Wrap(err)
}

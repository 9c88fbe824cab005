package auth

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// UserStore persists user records. Search results are ordered by creation
// time, and FindBy returns the earliest match.
type UserStore interface {
	Add(email, passwordHash string) (User, error)
	Search(filter Filter) ([]User, error)
	FindBy(filter Filter) (User, error)
	Update(id string, changes Changes) error
	Delete(id string) error
	All() ([]User, error)
	Count() (int, error)
}

type InMemoryUserStore struct {
	mu      sync.RWMutex
	users   map[string]User
	nowFunc func() time.Time

	// persist runs under the write lock after every mutation. A failure
	// rolls the mutation back.
	persist func(users map[string]User) error
}

func NewInMemoryUserStore() *InMemoryUserStore {
	return &InMemoryUserStore{
		users:   make(map[string]User),
		nowFunc: time.Now,
	}
}

func (s *InMemoryUserStore) Add(email, passwordHash string) (User, error) {
	email = strings.TrimSpace(email)
	if email == "" {
		return User{}, invalidField(FieldEmail)
	}
	if passwordHash == "" {
		return User{}, invalidField(FieldPasswordHash)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.emailTakenLocked(email, "") {
		return User{}, ErrDuplicateEmail
	}
	now := s.nowFunc().UTC()
	u := User{
		ID:           uuid.NewString(),
		Email:        email,
		PasswordHash: passwordHash,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	s.users[u.ID] = u
	if err := s.persistLocked(); err != nil {
		delete(s.users, u.ID)
		return User{}, err
	}
	return u, nil
}

func (s *InMemoryUserStore) Search(filter Filter) ([]User, error) {
	if err := validateFilter(filter); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]User, 0)
	for _, u := range s.users {
		if u.matches(filter) {
			out = append(out, u)
		}
	}
	sortByCreation(out)
	return out, nil
}

func (s *InMemoryUserStore) FindBy(filter Filter) (User, error) {
	users, err := s.Search(filter)
	if err != nil {
		return User{}, err
	}
	if len(users) == 0 {
		return User{}, ErrNotFound
	}
	return users[0], nil
}

func (s *InMemoryUserStore) Update(id string, changes Changes) error {
	if err := validateChanges(changes); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	prev, ok := s.users[id]
	if !ok {
		return ErrNotFound
	}
	if v, ok := changes[FieldEmail]; ok && s.emailTakenLocked(strings.TrimSpace(*v), id) {
		return ErrDuplicateEmail
	}

	u := prev
	for f, v := range changes {
		if f == FieldEmail {
			v = Value(strings.TrimSpace(*v))
		}
		u.set(f, v)
	}
	u.UpdatedAt = s.nowFunc().UTC()
	s.users[id] = u
	if err := s.persistLocked(); err != nil {
		s.users[id] = prev
		return err
	}
	return nil
}

func (s *InMemoryUserStore) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev, ok := s.users[id]
	if !ok {
		return ErrNotFound
	}
	delete(s.users, id)
	if err := s.persistLocked(); err != nil {
		s.users[id] = prev
		return err
	}
	return nil
}

func (s *InMemoryUserStore) All() ([]User, error) {
	return s.Search(nil)
}

func (s *InMemoryUserStore) Count() (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.users), nil
}

func (s *InMemoryUserStore) emailTakenLocked(email, exceptID string) bool {
	for id, u := range s.users {
		if id != exceptID && u.Email == email {
			return true
		}
	}
	return false
}

func (s *InMemoryUserStore) persistLocked() error {
	if s.persist == nil {
		return nil
	}
	if err := s.persist(s.users); err != nil {
		return fmt.Errorf("persist users: %w", err)
	}
	return nil
}

func sortByCreation(users []User) {
	sort.SliceStable(users, func(i, j int) bool {
		if users[i].CreatedAt.Equal(users[j].CreatedAt) {
			return users[i].ID < users[j].ID
		}
		return users[i].CreatedAt.Before(users[j].CreatedAt)
	})
}

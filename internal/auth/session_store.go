package auth

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// SessionStore persists session records for a SessionRegistry. The registry
// serializes every call, so implementations need no locking of their own.
type SessionStore interface {
	Insert(s Session) error
	// Get returns ErrNotFound for an unknown id.
	Get(id string) (Session, error)
	// Delete reports whether a record was removed.
	Delete(id string) (bool, error)
	// DeleteUser removes every record owned by userID and returns how many
	// were removed.
	DeleteUser(userID string) (int, error)
}

type MemorySessionStore struct {
	sessions map[string]Session
}

func NewMemorySessionStore() *MemorySessionStore {
	return &MemorySessionStore{sessions: make(map[string]Session)}
}

func (s *MemorySessionStore) Insert(sess Session) error {
	s.sessions[sess.ID] = sess
	return nil
}

func (s *MemorySessionStore) Get(id string) (Session, error) {
	sess, ok := s.sessions[id]
	if !ok {
		return Session{}, ErrNotFound
	}
	return sess, nil
}

func (s *MemorySessionStore) Delete(id string) (bool, error) {
	if _, ok := s.sessions[id]; !ok {
		return false, nil
	}
	delete(s.sessions, id)
	return true, nil
}

func (s *MemorySessionStore) DeleteUser(userID string) (int, error) {
	n := 0
	for id, sess := range s.sessions {
		if sess.UserID == userID {
			delete(s.sessions, id)
			n++
		}
	}
	return n, nil
}

// FileSessionStore is a MemorySessionStore mirrored to a JSON file keyed by
// session id.
type FileSessionStore struct {
	mem  *MemorySessionStore
	path string
}

func NewFileSessionStore(path string) (*FileSessionStore, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("session state file path is required")
	}
	s := &FileSessionStore{mem: NewMemorySessionStore(), path: path}
	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *FileSessionStore) Insert(sess Session) error {
	if err := s.mem.Insert(sess); err != nil {
		return err
	}
	if err := s.write(); err != nil {
		delete(s.mem.sessions, sess.ID)
		return err
	}
	return nil
}

func (s *FileSessionStore) Get(id string) (Session, error) {
	return s.mem.Get(id)
}

func (s *FileSessionStore) Delete(id string) (bool, error) {
	prev, ok := s.mem.sessions[id]
	if !ok {
		return false, nil
	}
	delete(s.mem.sessions, id)
	if err := s.write(); err != nil {
		s.mem.sessions[id] = prev
		return false, err
	}
	return true, nil
}

func (s *FileSessionStore) DeleteUser(userID string) (int, error) {
	removed := make(map[string]Session)
	for id, sess := range s.mem.sessions {
		if sess.UserID == userID {
			removed[id] = sess
		}
	}
	if len(removed) == 0 {
		return 0, nil
	}
	for id := range removed {
		delete(s.mem.sessions, id)
	}
	if err := s.write(); err != nil {
		for id, sess := range removed {
			s.mem.sessions[id] = sess
		}
		return 0, err
	}
	return len(removed), nil
}

func (s *FileSessionStore) load() error {
	b, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read session state: %w", err)
	}
	if len(b) == 0 {
		return nil
	}
	state := make(map[string]Session)
	if err := json.Unmarshal(b, &state); err != nil {
		return fmt.Errorf("decode session state: %w", err)
	}
	for id, sess := range state {
		sess.ID = id
		s.mem.sessions[id] = sess
	}
	return nil
}

func (s *FileSessionStore) write() error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("mkdir session state dir: %w", err)
	}
	b, err := json.MarshalIndent(s.mem.sessions, "", "  ")
	if err != nil {
		return fmt.Errorf("encode session state: %w", err)
	}
	if err := os.WriteFile(s.path, b, 0o600); err != nil {
		return fmt.Errorf("write session state: %w", err)
	}
	return nil
}

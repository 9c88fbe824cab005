package auth

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// FileUserStore keeps users in memory and mirrors the whole set to a JSON
// file after every mutation.
type FileUserStore struct {
	*InMemoryUserStore
	path string
}

type userRecord struct {
	ID           string    `json:"id"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"password_hash"`
	FirstName    string    `json:"first_name,omitempty"`
	LastName     string    `json:"last_name,omitempty"`
	SessionID    string    `json:"session_id,omitempty"`
	ResetToken   string    `json:"reset_token,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

func NewFileUserStore(path string) (*FileUserStore, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("user state file path is required")
	}

	s := &FileUserStore{
		InMemoryUserStore: NewInMemoryUserStore(),
		path:              path,
	}
	if err := s.load(); err != nil {
		return nil, err
	}
	s.persist = s.write
	return s, nil
}

func (s *FileUserStore) load() error {
	b, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read user store file: %w", err)
	}
	if len(b) == 0 {
		return nil
	}

	var decoded []userRecord
	if err := json.Unmarshal(b, &decoded); err != nil {
		return fmt.Errorf("decode user store file: %w", err)
	}
	for _, r := range decoded {
		if strings.TrimSpace(r.ID) == "" || strings.TrimSpace(r.Email) == "" {
			continue
		}
		s.users[r.ID] = User(r)
	}
	return nil
}

func (s *FileUserStore) write(users map[string]User) error {
	ordered := make([]User, 0, len(users))
	for _, u := range users {
		ordered = append(ordered, u)
	}
	sortByCreation(ordered)

	out := make([]userRecord, 0, len(ordered))
	for _, u := range ordered {
		out = append(out, userRecord(u))
	}
	b, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return fmt.Errorf("encode user store file: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("mkdir user store dir: %w", err)
	}
	if err := os.WriteFile(s.path, b, 0o600); err != nil {
		return fmt.Errorf("write user store file: %w", err)
	}
	return nil
}

package auth

import (
	"database/sql"
	"errors"
	"fmt"
)

type PostgresSessionStore struct {
	db *sql.DB
}

func NewPostgresSessionStore(db *sql.DB) (*PostgresSessionStore, error) {
	if db == nil {
		return nil, fmt.Errorf("database is required")
	}
	s := &PostgresSessionStore{db: db}
	if err := s.ensureSchema(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *PostgresSessionStore) ensureSchema() error {
	const q = `
CREATE TABLE IF NOT EXISTS user_sessions (
	session_id TEXT PRIMARY KEY,
	user_id TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL
)`
	if _, err := s.db.Exec(q); err != nil {
		return fmt.Errorf("ensure user_sessions schema: %w", err)
	}
	return nil
}

func (s *PostgresSessionStore) Insert(sess Session) error {
	const q = `INSERT INTO user_sessions (session_id, user_id, created_at) VALUES ($1, $2, $3)`
	if _, err := s.db.Exec(q, sess.ID, sess.UserID, sess.CreatedAt); err != nil {
		return fmt.Errorf("insert session: %w", err)
	}
	return nil
}

func (s *PostgresSessionStore) Get(id string) (Session, error) {
	const q = `SELECT session_id, user_id, created_at FROM user_sessions WHERE session_id = $1`
	var sess Session
	if err := s.db.QueryRow(q, id).Scan(&sess.ID, &sess.UserID, &sess.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Session{}, ErrNotFound
		}
		return Session{}, fmt.Errorf("query session: %w", err)
	}
	return sess, nil
}

func (s *PostgresSessionStore) Delete(id string) (bool, error) {
	res, err := s.db.Exec(`DELETE FROM user_sessions WHERE session_id = $1`, id)
	if err != nil {
		return false, fmt.Errorf("delete session: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete session rows: %w", err)
	}
	return n > 0, nil
}

func (s *PostgresSessionStore) DeleteUser(userID string) (int, error) {
	res, err := s.db.Exec(`DELETE FROM user_sessions WHERE user_id = $1`, userID)
	if err != nil {
		return 0, fmt.Errorf("delete user sessions: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("delete user sessions rows: %w", err)
	}
	return int(n), nil
}

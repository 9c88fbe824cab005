package auth

import (
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

const pgUniqueViolation = "23505"

// Column names double as Field values; only fields in this set reach SQL.
var userColumns = map[Field]string{
	FieldID:           "id",
	FieldEmail:        "email",
	FieldPasswordHash: "password_hash",
	FieldFirstName:    "first_name",
	FieldLastName:     "last_name",
	FieldSessionID:    "session_id",
	FieldResetToken:   "reset_token",
}

const selectUserColumns = `id, email, password_hash, first_name, last_name, session_id, reset_token, created_at, updated_at`

type PostgresUserStore struct {
	db *sql.DB
}

func NewPostgresUserStore(db *sql.DB) (*PostgresUserStore, error) {
	if db == nil {
		return nil, fmt.Errorf("database is required")
	}
	s := &PostgresUserStore{db: db}
	if err := s.ensureSchema(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *PostgresUserStore) ensureSchema() error {
	const q = `
CREATE TABLE IF NOT EXISTS auth_users (
	id TEXT PRIMARY KEY,
	email TEXT NOT NULL UNIQUE,
	password_hash TEXT NOT NULL,
	first_name TEXT,
	last_name TEXT,
	session_id TEXT,
	reset_token TEXT,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`
	if _, err := s.db.Exec(q); err != nil {
		return fmt.Errorf("ensure auth_users schema: %w", err)
	}
	return nil
}

func (s *PostgresUserStore) Add(email, passwordHash string) (User, error) {
	email = strings.TrimSpace(email)
	if email == "" {
		return User{}, invalidField(FieldEmail)
	}
	if passwordHash == "" {
		return User{}, invalidField(FieldPasswordHash)
	}

	const q = `
INSERT INTO auth_users (id, email, password_hash)
VALUES ($1, $2, $3)
RETURNING created_at, updated_at`
	u := User{ID: uuid.NewString(), Email: email, PasswordHash: passwordHash}
	if err := s.db.QueryRow(q, u.ID, u.Email, u.PasswordHash).Scan(&u.CreatedAt, &u.UpdatedAt); err != nil {
		if isUniqueViolation(err) {
			return User{}, ErrDuplicateEmail
		}
		return User{}, fmt.Errorf("insert auth user: %w", err)
	}
	return u, nil
}

func (s *PostgresUserStore) Search(filter Filter) ([]User, error) {
	where, args, err := whereClause(filter)
	if err != nil {
		return nil, err
	}

	q := `SELECT ` + selectUserColumns + ` FROM auth_users` + where + ` ORDER BY created_at, id`
	rows, err := s.db.Query(q, args...)
	if err != nil {
		return nil, fmt.Errorf("query auth users: %w", err)
	}
	defer rows.Close()

	out := make([]User, 0)
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate auth users: %w", err)
	}
	return out, nil
}

func (s *PostgresUserStore) FindBy(filter Filter) (User, error) {
	users, err := s.Search(filter)
	if err != nil {
		return User{}, err
	}
	if len(users) == 0 {
		return User{}, ErrNotFound
	}
	return users[0], nil
}

func (s *PostgresUserStore) Update(id string, changes Changes) error {
	if err := validateChanges(changes); err != nil {
		return err
	}
	if len(changes) == 0 {
		if _, err := s.FindBy(Filter{FieldID: id}); err != nil {
			return err
		}
		return nil
	}

	fields := make([]Field, 0, len(changes))
	for f := range changes {
		fields = append(fields, f)
	}
	sort.Slice(fields, func(i, j int) bool { return fields[i] < fields[j] })

	sets := make([]string, 0, len(fields)+1)
	args := make([]any, 0, len(fields)+1)
	for i, f := range fields {
		v := changes[f]
		if f == FieldEmail {
			v = Value(strings.TrimSpace(*v))
		}
		sets = append(sets, fmt.Sprintf("%s = $%d", userColumns[f], i+1))
		args = append(args, nullable(v))
	}
	sets = append(sets, "updated_at = NOW()")
	args = append(args, id)

	q := fmt.Sprintf(`UPDATE auth_users SET %s WHERE id = $%d`, strings.Join(sets, ", "), len(args))
	res, err := s.db.Exec(q, args...)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateEmail
		}
		return fmt.Errorf("update auth user: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update auth user rows: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresUserStore) Delete(id string) error {
	res, err := s.db.Exec(`DELETE FROM auth_users WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete auth user: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete auth user rows: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresUserStore) All() ([]User, error) {
	return s.Search(nil)
}

func (s *PostgresUserStore) Count() (int, error) {
	var n int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM auth_users`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count auth users: %w", err)
	}
	return n, nil
}

func whereClause(filter Filter) (string, []any, error) {
	if err := validateFilter(filter); err != nil {
		return "", nil, err
	}
	if len(filter) == 0 {
		return "", nil, nil
	}

	fields := make([]Field, 0, len(filter))
	for f := range filter {
		fields = append(fields, f)
	}
	sort.Slice(fields, func(i, j int) bool { return fields[i] < fields[j] })

	conds := make([]string, 0, len(fields))
	args := make([]any, 0, len(fields))
	for i, f := range fields {
		conds = append(conds, fmt.Sprintf("COALESCE(%s, '') = $%d", userColumns[f], i+1))
		args = append(args, filter[f])
	}
	return " WHERE " + strings.Join(conds, " AND "), args, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (User, error) {
	var u User
	var first, last, sessionID, resetToken sql.NullString
	if err := row.Scan(&u.ID, &u.Email, &u.PasswordHash, &first, &last, &sessionID, &resetToken, &u.CreatedAt, &u.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return User{}, ErrNotFound
		}
		return User{}, fmt.Errorf("scan auth user: %w", err)
	}
	u.FirstName = first.String
	u.LastName = last.String
	u.SessionID = sessionID.String
	u.ResetToken = resetToken.String
	return u, nil
}

func nullable(v *string) sql.NullString {
	if v == nil || *v == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: *v, Valid: true}
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == pgUniqueViolation
}

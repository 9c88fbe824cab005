// Package audit appends authentication events to a JSON lines file.
package audit

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"userauth/auth-service/internal/observability"
)

type Action string

const (
	ActionRegister      Action = "user.register"
	ActionLogin         Action = "session.login"
	ActionLogout        Action = "session.logout"
	ActionResetRequest  Action = "password.reset_request"
	ActionResetConsume  Action = "password.reset"
	ActionUserDelete    Action = "user.delete"
	ActionProfileUpdate Action = "user.update"
)

const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)

type Event struct {
	At        string `json:"at"`
	RequestID string `json:"request_id,omitempty"`
	Actor     string `json:"actor,omitempty"`
	Action    Action `json:"action"`
	Target    string `json:"target,omitempty"`
	Outcome   string `json:"outcome"`
	Detail    string `json:"detail,omitempty"`
}

// Logger is safe for concurrent use. A nil Logger or one without a path
// drops every event.
type Logger struct {
	path    string
	mu      sync.Mutex
	nowFunc func() time.Time
}

func NewLogger(path string) *Logger {
	return &Logger{path: path, nowFunc: time.Now}
}

// Record writes e, stamping its time. PII key=value pairs in Detail are
// masked before they reach disk.
func (l *Logger) Record(e Event) error {
	if l == nil || l.path == "" {
		return nil
	}
	e.At = l.nowFunc().UTC().Format(time.RFC3339)
	e.Detail = observability.FilterDatum(observability.PIIFields, observability.Redaction, e.Detail, observability.Separator)
	b, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal audit event: %w", err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return fmt.Errorf("mkdir audit log dir: %w", err)
	}
	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("open audit log file: %w", err)
	}
	defer f.Close()
	if _, err := f.Write(append(b, '\n')); err != nil {
		return fmt.Errorf("write audit log entry: %w", err)
	}
	return nil
}

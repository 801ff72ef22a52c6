package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// LogLevel is the severity of a job log line.
type LogLevel string

const (
	LogLevelDebug LogLevel = "debug"
	LogLevelInfo  LogLevel = "info"
	LogLevelWarn  LogLevel = "warn"
	LogLevelError LogLevel = "error"
)

// Valid returns true if the LogLevel is known.
func (l LogLevel) Valid() bool {
	return l == LogLevelDebug || l == LogLevelInfo || l == LogLevelWarn || l == LogLevelError
}

// JobLog is one append-only log line scoped to a run.
type JobLog struct {
	ID        int64           `json:"id"                db:"id"`
	RunID     int64           `json:"run_id"            db:"run_id"`
	Level     LogLevel        `json:"level"             db:"level"`
	Stage     string          `json:"stage,omitempty"   db:"stage"`
	Message   string          `json:"message"           db:"message"`
	Context   json.RawMessage `json:"context,omitempty" db:"context"`
	CreatedAt time.Time       `json:"created_at"        db:"created_at"`
}

// AppendLogRequest represents a new log line.
type AppendLogRequest struct {
	RunID   int64
	Level   LogLevel
	Stage   string
	Message string
	Context map[string]any
}

// Validate validates the AppendLogRequest fields.
func (r *AppendLogRequest) Validate() error {
	if r.RunID <= 0 {
		return errors.New("run id is required")
	}
	if r.Level == "" {
		r.Level = LogLevelInfo
	}
	if !r.Level.Valid() {
		return fmt.Errorf("invalid log level %q", r.Level)
	}
	if strings.TrimSpace(r.Message) == "" {
		return errors.New("message is required")
	}
	return nil
}

// LogListOptions groups parameters for reading a run's log lines.
type LogListOptions struct {
	RunID  int64
	Limit  int
	Offset int
}

package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresSink appends audit entries to an audit_events table. Insert
// failures are logged and otherwise ignored: audit persistence must
// never fail the audited operation.
type PostgresSink struct {
	pool *pgxpool.Pool
}

// NewPostgresSink creates a sink backed by the given connection pool and
// ensures the audit_events table exists.
func NewPostgresSink(ctx context.Context, pool *pgxpool.Pool) (*PostgresSink, error) {
	_, err := pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS audit_events (
			id       BIGSERIAL PRIMARY KEY,
			ts       TIMESTAMPTZ NOT NULL,
			severity TEXT NOT NULL,
			action   TEXT NOT NULL,
			code     TEXT,
			details  JSONB
		)`)
	if err != nil {
		return nil, err
	}
	return &PostgresSink{pool: pool}, nil
}

func (s *PostgresSink) Event(ctx context.Context, action string, details Details) {
	s.insert(ctx, "info", action, "", details)
}

func (s *PostgresSink) Warn(ctx context.Context, action, code string, details Details) {
	s.insert(ctx, "warn", action, code, details)
}

func (s *PostgresSink) Error(ctx context.Context, action, code string, details Details, cause error) {
	if cause != nil {
		if details == nil {
			details = Details{}
		}
		details["error"] = cause.Error()
	}
	s.insert(ctx, "error", action, code, details)
}

// Entry is one persisted audit event.
type Entry struct {
	ID       int64     `json:"id"`
	Ts       time.Time `json:"ts"`
	Severity string    `json:"severity"`
	Action   string    `json:"action"`
	Code     string    `json:"code,omitempty"`
	Details  Details   `json:"details,omitempty"`
}

// Query returns the most recent audit entries, optionally filtered by
// action, newest first.
func (s *PostgresSink) Query(ctx context.Context, action string, limit int) ([]Entry, error) {
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	query := `
		SELECT id, ts, severity, action, COALESCE(code, ''), details
		FROM audit_events
		WHERE ($1 = '' OR action = $1)
		ORDER BY id DESC
		LIMIT $2`

	rows, err := s.pool.Query(ctx, query, action, limit)
	if err != nil {
		return nil, fmt.Errorf("querying audit events: %w", err)
	}
	defer rows.Close()

	entries := []Entry{}
	for rows.Next() {
		var e Entry
		var raw []byte
		if err := rows.Scan(&e.ID, &e.Ts, &e.Severity, &e.Action, &e.Code, &raw); err != nil {
			return nil, fmt.Errorf("scanning audit row: %w", err)
		}
		if len(raw) > 0 {
			if err := json.Unmarshal(raw, &e.Details); err != nil {
				e.Details = Details{"raw": string(raw)}
			}
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating audit rows: %w", err)
	}
	return entries, nil
}

func (s *PostgresSink) insert(ctx context.Context, severity, action, code string, details Details) {
	var payload []byte
	if details != nil {
		var err error
		payload, err = json.Marshal(details)
		if err != nil {
			payload = nil
		}
	}

	// Detach from the caller's deadline so a cancelled request does not
	// lose its audit trail.
	insertCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()

	query := `
		INSERT INTO audit_events (ts, severity, action, code, details)
		VALUES ($1, $2, $3, NULLIF($4, ''), $5)`

	if _, err := s.pool.Exec(insertCtx, query, time.Now().UTC(), severity, action, code, payload); err != nil {
		slog.Warn("audit insert failed", "action", action, "error", err)
	}
}

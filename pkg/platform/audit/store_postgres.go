package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
)

// Schema is the DDL for the audit table.
const Schema = `
CREATE TABLE IF NOT EXISTS audit_events (
    id           UUID PRIMARY KEY,
    kind         TEXT NOT NULL,
    organization TEXT NOT NULL DEFAULT '',
    subject_id   TEXT NOT NULL DEFAULT '',
    request_id   TEXT NOT NULL DEFAULT '',
    client_ip    TEXT NOT NULL DEFAULT '',
    user_agent   TEXT NOT NULL DEFAULT '',
    details      JSONB NOT NULL DEFAULT '{}'::jsonb,
    occurred_at  TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS audit_events_subject_id ON audit_events (subject_id, occurred_at);
`

// PostgresStore persists audit events in PostgreSQL. Append-only; rows are
// never updated or deleted by the service.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Append(ctx context.Context, event Event) error {
	details, err := json.Marshal(event.Details)
	if err != nil {
		return fmt.Errorf("encode audit details: %w", err)
	}
	query := `
		INSERT INTO audit_events (id, kind, organization, subject_id, request_id, client_ip, user_agent, details, occurred_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	_, err = s.db.ExecContext(ctx, query,
		event.ID, string(event.Kind), event.Organization, event.SubjectID,
		event.RequestID, event.ClientIP, event.UserAgent, details, event.At,
	)
	if err != nil {
		return fmt.Errorf("append audit event: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListBySubject(ctx context.Context, subjectID string) ([]Event, error) {
	query := `
		SELECT id, kind, organization, subject_id, request_id, client_ip, user_agent, details, occurred_at
		FROM audit_events
		WHERE subject_id = $1
		ORDER BY occurred_at
	`
	rows, err := s.db.QueryContext(ctx, query, subjectID)
	if err != nil {
		return nil, fmt.Errorf("list audit events: %w", err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var (
			event   Event
			kind    string
			details []byte
		)
		err := rows.Scan(
			&event.ID, &kind, &event.Organization, &event.SubjectID,
			&event.RequestID, &event.ClientIP, &event.UserAgent, &details, &event.At,
		)
		if err != nil {
			return nil, fmt.Errorf("scan audit event: %w", err)
		}
		event.Kind = Kind(kind)
		if len(details) > 0 {
			if err := json.Unmarshal(details, &event.Details); err != nil {
				return nil, fmt.Errorf("decode audit details: %w", err)
			}
		}
		events = append(events, event)
	}
	return events, rows.Err()
}

package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
)

// PostgresSink writes events into the audit_events table.
type PostgresSink struct {
	db *sql.DB
}

func NewPostgresSink(db *sql.DB) *PostgresSink {
	return &PostgresSink{db: db}
}

func (s *PostgresSink) Append(ctx context.Context, event Event) error {
	metadata := []byte("{}")
	if len(event.Metadata) > 0 {
		encoded, err := json.Marshal(event.Metadata)
		if err != nil {
			return fmt.Errorf("encode audit metadata: %w", err)
		}
		metadata = encoded
	}
	var actorID, actorName, actorIP sql.NullString
	if event.Actor != nil {
		actorID = nullString(event.Actor.ID)
		actorName = nullString(event.Actor.Name)
		actorIP = nullString(event.Actor.IP)
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_events (occurred_at, action, target, actor_id, actor_name, actor_ip, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7::jsonb)
	`, event.Timestamp, event.Action, event.Target, actorID, actorName, actorIP, string(metadata))
	if err != nil {
		return fmt.Errorf("insert audit event: %w", err)
	}
	return nil
}

func nullString(v string) sql.NullString {
	return sql.NullString{String: v, Valid: v != ""}
}

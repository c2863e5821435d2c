package sqlite

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/zenithlabs/authcore"
)

var _ authcore.AuditSink = (*Store)(nil)

// Write appends event to the audit table. Rows are never updated or deleted.
func (s *Store) Write(ctx context.Context, event authcore.AuditEvent) error {
	if event.EventID == "" {
		event.EventID = uuid.NewString()
	}
	meta := []byte("{}")
	if len(event.Metadata) > 0 {
		var err error
		if meta, err = json.Marshal(event.Metadata); err != nil {
			return fmt.Errorf("encode audit metadata: %w", err)
		}
	}

	_, err := s.db.ExecContext(ctx, `
        INSERT INTO audit_events(event_id, timestamp, event_type, user_id, ip_address, user_agent, success, error_message, metadata)
        VALUES(?,?,?,?,?,?,?,?,?)
    `,
		event.EventID, formatTime(event.Timestamp), event.EventType, event.UserID, event.IPAddress,
		event.UserAgent, boolInt(event.Success), event.ErrorMessage, string(meta),
	)
	return err
}

// AuditQuery filters ListAuditEvents. Zero fields match everything.
type AuditQuery struct {
	UserID    string
	EventType string
	Limit     int
}

// ListAuditEvents returns matching events, newest first.
func (s *Store) ListAuditEvents(ctx context.Context, q AuditQuery) ([]authcore.AuditEvent, error) {
	query := `SELECT event_id, timestamp, event_type, user_id, ip_address, user_agent, success, error_message, metadata
        FROM audit_events WHERE 1=1`
	var args []any
	if q.UserID != "" {
		query += ` AND user_id = ?`
		args = append(args, q.UserID)
	}
	if q.EventType != "" {
		query += ` AND event_type = ?`
		args = append(args, q.EventType)
	}
	if q.Limit <= 0 {
		q.Limit = 100
	}
	query += ` ORDER BY seq DESC LIMIT ?`
	args = append(args, q.Limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []authcore.AuditEvent
	for rows.Next() {
		var (
			ev      authcore.AuditEvent
			ts      string
			success int
			meta    string
		)
		if err := rows.Scan(&ev.EventID, &ts, &ev.EventType, &ev.UserID, &ev.IPAddress,
			&ev.UserAgent, &success, &ev.ErrorMessage, &meta); err != nil {
			return nil, err
		}
		ev.Success = success != 0
		if ev.Timestamp, err = parseTime(ts); err != nil {
			return nil, err
		}
		if meta != "" && meta != "{}" {
			if err := json.Unmarshal([]byte(meta), &ev.Metadata); err != nil {
				return nil, fmt.Errorf("decode audit metadata: %w", err)
			}
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

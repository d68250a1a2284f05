package sqlite

import (
	"context"
	"database/sql"
	"time"

	"github.com/tanglebox/keywarden/internal/auth/domain"
)

type auditEventsRepo struct {
	db dbtx
}

func (r *auditEventsRepo) Append(ctx context.Context, ev domain.AuditEvent) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO audit_events (id, event_type, client_id, origin, reason, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		ev.ID, ev.EventType, ev.ClientID, mapStringNull(ev.Origin),
		ev.Reason, ev.CreatedAt.UTC())
	return err
}

func (r *auditEventsRepo) ListRecentByClient(ctx context.Context, clientID string, limit int) ([]domain.AuditEvent, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, event_type, client_id, origin, reason, created_at
		FROM audit_events
		WHERE client_id = ?
		ORDER BY created_at DESC, id DESC
		LIMIT ?`, clientID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []domain.AuditEvent
	for rows.Next() {
		var ev domain.AuditEvent
		var origin sql.NullString
		if err := rows.Scan(&ev.ID, &ev.EventType, &ev.ClientID, &origin, &ev.Reason, &ev.CreatedAt); err != nil {
			return nil, err
		}
		ev.Origin = mapNullString(origin)
		events = append(events, ev)
	}
	return events, rows.Err()
}

func (r *auditEventsRepo) DeleteOlderThan(ctx context.Context, before time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `
		DELETE FROM audit_events WHERE created_at < ?`, before.UTC())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

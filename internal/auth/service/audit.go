package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/tanglebox/keywarden/internal/auth/domain"
	"github.com/tanglebox/keywarden/internal/auth/store"
	"github.com/tanglebox/keywarden/pkg/idx"
)

// auditTimeout bounds how long a single audit insert may take. Audit writes
// run on a background context so a slow store never holds up or masks the
// authorization decision.
const auditTimeout = 3 * time.Second

// Auditor appends security events to the audit trail. Failures are logged
// and swallowed: the event stream is best effort, the decision that triggered
// the event is not.
type Auditor struct {
	Store  store.Store
	Logger *slog.Logger
}

func (a *Auditor) Record(eventType, clientID, origin, reason string) {
	ev := domain.AuditEvent{
		ID:        idx.New().String(),
		EventType: eventType,
		ClientID:  clientID,
		Origin:    origin,
		Reason:    reason,
		CreatedAt: time.Now().UTC(),
	}

	ctx, cancel := context.WithTimeout(context.Background(), auditTimeout)
	defer cancel()

	if err := a.Store.AuditEvents().Append(ctx, ev); err != nil {
		a.Logger.Error("failed to append audit event",
			slog.String("event_type", eventType),
			slog.String("client_id", clientID),
			slog.Any("error", err),
		)
	}
}

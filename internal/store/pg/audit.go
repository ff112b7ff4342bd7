package pg

import (
	"context"

	"schedulers.app/internal/audit"
)

var _ audit.Store = (*Store)(nil)

// AppendAudit inserts one row into the append-only activity log.
func (s *Store) AppendAudit(ctx context.Context, e *audit.Entry) error {
	_, err := s.db.ExecContext(ctx, `
		insert into activity_log (id, occurred_at, actor_id, action, resource_type, resource_id, detail, origin, request_id)
		values ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, e.ID, e.OccurredAt, nullInt64(e.ActorID), e.Action,
		nullIfEmpty(e.ResourceType), nullIfEmpty(e.ResourceID), nullIfEmpty(e.Detail),
		nullIfEmpty(e.Origin), nullIfEmpty(e.RequestID))
	return err
}

package persistence

import (
	"context"

	"github.com/doug-martin/goqu/v9"
)

// AppendAuditLog records a tenant-scoped event (pairing claim, bind, unbind,
// send, inbound-forward-failure, ...) consumed by the admin live-tail
// websocket — a feature the distilled spec doesn't call for but that every
// admin surface in the pack (uncord's moderation log, the teacher's activity
// feed) carries, so it's supplemented here.
func (d *DB) AppendAuditLog(ctx context.Context, tenantID, eventType, payloadJSON string, nowMs int64) error {
	_, err := d.goqu.Insert("audit_logs").
		Rows(goqu.Record{
			"tenant_id":     tenantID,
			"event_type":    eventType,
			"payload_json":  payloadJSON,
			"created_at_ms": nowMs,
		}).
		Executor().ExecContext(ctx)
	return err
}

func (d *DB) RecentAuditLogs(ctx context.Context, tenantID string, limit int) ([]AuditLog, error) {
	q := d.goqu.From("audit_logs").Order(goqu.I("id").Desc()).Limit(uint(limit))
	if tenantID != "" {
		q = q.Where(goqu.Ex{"tenant_id": tenantID})
	}
	var rows []AuditLog
	if err := q.ScanStructsContext(ctx, &rows); err != nil {
		return nil, err
	}
	return rows, nil
}

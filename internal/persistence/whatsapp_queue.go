package persistence

import (
	"context"
	"database/sql"

	"github.com/doug-martin/goqu/v9"
)

type whatsappQueueRowDB struct {
	ID              int64          `db:"id"`
	DedupeKey       string         `db:"dedupe_key"`
	PayloadJSON     string         `db:"payload_json"`
	NextAttemptAtMs int64          `db:"next_attempt_at_ms"`
	AttemptCount    int            `db:"attempt_count"`
	LastError       sql.NullString `db:"last_error"`
}

func (r whatsappQueueRowDB) toDomain() WhatsAppQueueRow {
	out := WhatsAppQueueRow{
		ID: r.ID, DedupeKey: r.DedupeKey, PayloadJSON: r.PayloadJSON,
		NextAttemptAtMs: r.NextAttemptAtMs, AttemptCount: r.AttemptCount,
	}
	if r.LastError.Valid {
		v := r.LastError.String
		out.LastError = &v
	}
	return out
}

// EnqueueWhatsAppSend inserts a durable inbound WhatsApp message into the
// retry queue. dedupeKey collisions (OnConflict DoNothing) make re-delivery
// of an already-queued message a no-op (§4.8).
func (d *DB) EnqueueWhatsAppSend(ctx context.Context, dedupeKey, payloadJSON string, nextAttemptAtMs int64) (bool, error) {
	res, err := d.goqu.Insert("whatsapp_inbound_queue").
		Rows(goqu.Record{
			"dedupe_key":         dedupeKey,
			"payload_json":       payloadJSON,
			"next_attempt_at_ms": nextAttemptAtMs,
			"attempt_count":      0,
		}).
		OnConflict(goqu.DoNothing()).
		Executor().ExecContext(ctx)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// DueWhatsAppSends returns up to limit rows whose next_attempt_at_ms has
// elapsed, oldest first — the shape the retry queue's cron tick (§4.8, §9)
// pulls a batch from.
func (d *DB) DueWhatsAppSends(ctx context.Context, nowMs int64, limit int) ([]WhatsAppQueueRow, error) {
	var rows []whatsappQueueRowDB
	if err := d.goqu.From("whatsapp_inbound_queue").
		Where(goqu.C("next_attempt_at_ms").Lte(nowMs)).
		Order(goqu.I("next_attempt_at_ms").Asc(), goqu.I("id").Asc()).
		Limit(uint(limit)).
		ScanStructsContext(ctx, &rows); err != nil {
		return nil, err
	}
	out := make([]WhatsAppQueueRow, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toDomain())
	}
	return out, nil
}

// DeferWhatsAppSend bumps attempt_count and schedules the next retry after a
// failed send, per the exponential backoff in §4.8/§9:
// delay(n) = min(maxMs, initialMs * 2^min(n,10)).
func (d *DB) DeferWhatsAppSend(ctx context.Context, id int64, nextAttemptAtMs int64, attemptCount int, lastError string) error {
	_, err := d.goqu.Update("whatsapp_inbound_queue").
		Set(goqu.Record{
			"next_attempt_at_ms": nextAttemptAtMs,
			"attempt_count":      attemptCount,
			"last_error":         lastError,
		}).
		Where(goqu.Ex{"id": id}).
		Executor().ExecContext(ctx)
	return err
}

func (d *DB) DeleteWhatsAppSend(ctx context.Context, id int64) error {
	_, err := d.goqu.Delete("whatsapp_inbound_queue").Where(goqu.Ex{"id": id}).Executor().ExecContext(ctx)
	return err
}

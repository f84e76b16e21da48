package persistence

import (
	"context"

	"github.com/doug-martin/goqu/v9"
)

// InsertIdempotencyResult stores the cached response for a (tenant, key)
// pair the first time it's seen. OnConflict DoNothing means a racing
// concurrent request that lost the in-process coalescing lock (§4.5) still
// can't clobber the winner's cached response.
func (d *DB) InsertIdempotencyResult(ctx context.Context, e IdempotencyEntry) (bool, error) {
	res, err := d.goqu.Insert("idempotency_keys").
		Rows(goqu.Record{
			"tenant_id":           e.TenantID,
			"key":                 e.Key,
			"request_fingerprint": e.RequestFingerprint,
			"response_status":     e.ResponseStatus,
			"response_body":       e.ResponseBody,
			"expires_at_ms":       e.ExpiresAtMs,
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

func (d *DB) IdempotencyResult(ctx context.Context, tenantID, key string, nowMs int64) (IdempotencyEntry, error) {
	var row IdempotencyEntry
	found, err := d.goqu.From("idempotency_keys").
		Where(goqu.Ex{"tenant_id": tenantID, "key": key}).
		Where(goqu.C("expires_at_ms").Gt(nowMs)).
		ScanStructContext(ctx, &row)
	if err != nil {
		return IdempotencyEntry{}, err
	}
	if !found {
		return IdempotencyEntry{}, ErrNotFound
	}
	return row, nil
}

// PurgeExpiredIdempotencyKeys deletes expired rows; the idempotency
// coordinator calls it at the start of every Run so the table doesn't grow
// unbounded.
func (d *DB) PurgeExpiredIdempotencyKeys(ctx context.Context, nowMs int64) (int64, error) {
	res, err := d.goqu.Delete("idempotency_keys").
		Where(goqu.C("expires_at_ms").Lte(nowMs)).
		Executor().ExecContext(ctx)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

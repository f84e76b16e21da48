package persistence

import (
	"context"
	"database/sql"

	"github.com/doug-martin/goqu/v9"
)

// SeedPairingCode inserts a pairing code from config (MUX_PAIRING_CODE_SEED),
// idempotent on primary key like BootstrapTenant.
func (d *DB) SeedPairingCode(ctx context.Context, c PairingCode) error {
	_, err := d.goqu.Insert("pairing_codes").
		Rows(goqu.Record{
			"code":          c.Code,
			"channel":       c.Channel,
			"route_key":     c.RouteKey,
			"scope":         c.Scope,
			"expires_at_ms": c.ExpiresAtMs,
		}).
		OnConflict(goqu.DoNothing()).
		Executor().ExecContext(ctx)
	return err
}

// ClaimPairingCode atomically marks an unclaimed, unexpired code as claimed
// by tenantID. The UPDATE's WHERE clause is the compare-and-swap: only a row
// still unclaimed and not expired is touched, so concurrent claims from two
// tenants for the same code resolve to exactly one winner (§4.2 invariant,
// §5 "pairing code claim is a single atomic UPDATE"). Issued via raw
// database/sql rather than goqu because the result we need is RowsAffected,
// not a scanned row.
func (d *DB) ClaimPairingCode(ctx context.Context, code, tenantID string, nowMs int64) (PairingCode, bool, error) {
	res, err := d.SQL.ExecContext(ctx, `
		UPDATE pairing_codes
		SET claimed_by_tenant_id = ?, claimed_at_ms = ?
		WHERE code = ? AND claimed_by_tenant_id IS NULL AND expires_at_ms > ?`,
		tenantID, nowMs, code, nowMs,
	)
	if err != nil {
		return PairingCode{}, false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return PairingCode{}, false, err
	}
	if n == 0 {
		return PairingCode{}, false, nil
	}

	row, err := d.PairingCodeStatus(ctx, code)
	if err != nil {
		return PairingCode{}, false, err
	}
	return row, true, nil
}

// PairingCodeStatus reads a pairing code row regardless of claim state, used
// to distinguish "already claimed" (409) from "absent/expired" (404) after a
// failed claim attempt (§8 boundary behaviors).
func (d *DB) PairingCodeStatus(ctx context.Context, code string) (PairingCode, error) {
	var row struct {
		Code            string         `db:"code"`
		Channel         string         `db:"channel"`
		RouteKey        string         `db:"route_key"`
		Scope           string         `db:"scope"`
		ExpiresAtMs     int64          `db:"expires_at_ms"`
		ClaimedByTenant sql.NullString `db:"claimed_by_tenant_id"`
		ClaimedAtMs     sql.NullInt64  `db:"claimed_at_ms"`
	}
	found, err := d.goqu.From("pairing_codes").Where(goqu.Ex{"code": code}).ScanStructContext(ctx, &row)
	if err != nil {
		return PairingCode{}, err
	}
	if !found {
		return PairingCode{}, ErrNotFound
	}
	out := PairingCode{
		Code:        row.Code,
		Channel:     row.Channel,
		RouteKey:    row.RouteKey,
		Scope:       row.Scope,
		ExpiresAtMs: row.ExpiresAtMs,
	}
	if row.ClaimedByTenant.Valid {
		v := row.ClaimedByTenant.String
		out.ClaimedByTenant = &v
	}
	if row.ClaimedAtMs.Valid {
		v := row.ClaimedAtMs.Int64
		out.ClaimedAtMs = &v
	}
	return out, nil
}

// IssuePairingToken stores a one-time pairing token (mpt_*) hashed at rest —
// the caller hashes the raw token before calling this, mirroring how
// api_key_hash is stored rather than the raw API key (§4.2).
func (d *DB) IssuePairingToken(ctx context.Context, t PairingToken) error {
	rec := goqu.Record{
		"token_hash":    t.TokenHash,
		"tenant_id":     t.TenantID,
		"channel":       t.Channel,
		"created_at_ms": t.CreatedAtMs,
		"expires_at_ms": t.ExpiresAtMs,
	}
	if t.SessionKey != nil {
		rec["session_key"] = *t.SessionKey
	}
	_, err := d.goqu.Insert("pairing_tokens").Rows(rec).Executor().ExecContext(ctx)
	return err
}

// RedeemPairingToken atomically consumes an unexpired, unconsumed token and
// records the binding/route it resolved to, the same CAS pattern as
// ClaimPairingCode.
func (d *DB) RedeemPairingToken(ctx context.Context, tokenHash, bindingID, routeKey string, nowMs int64) (PairingToken, bool, error) {
	res, err := d.SQL.ExecContext(ctx, `
		UPDATE pairing_tokens
		SET consumed_at_ms = ?, consumed_binding_id = ?, consumed_route_key = ?
		WHERE token_hash = ? AND consumed_at_ms IS NULL AND expires_at_ms > ?`,
		nowMs, bindingID, routeKey, tokenHash, nowMs,
	)
	if err != nil {
		return PairingToken{}, false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return PairingToken{}, false, err
	}
	if n == 0 {
		return PairingToken{}, false, nil
	}

	var row struct {
		TokenHash         string         `db:"token_hash"`
		TenantID          string         `db:"tenant_id"`
		Channel           string         `db:"channel"`
		SessionKey        sql.NullString `db:"session_key"`
		CreatedAtMs       int64          `db:"created_at_ms"`
		ExpiresAtMs       int64          `db:"expires_at_ms"`
		ConsumedAtMs      sql.NullInt64  `db:"consumed_at_ms"`
		ConsumedBindingID sql.NullString `db:"consumed_binding_id"`
		ConsumedRouteKey  sql.NullString `db:"consumed_route_key"`
	}
	found, err := d.goqu.From("pairing_tokens").Where(goqu.Ex{"token_hash": tokenHash}).ScanStructContext(ctx, &row)
	if err != nil {
		return PairingToken{}, false, err
	}
	if !found {
		return PairingToken{}, false, ErrNotFound
	}
	out := PairingToken{
		TokenHash:   row.TokenHash,
		TenantID:    row.TenantID,
		Channel:     row.Channel,
		CreatedAtMs: row.CreatedAtMs,
		ExpiresAtMs: row.ExpiresAtMs,
	}
	if row.SessionKey.Valid {
		v := row.SessionKey.String
		out.SessionKey = &v
	}
	if row.ConsumedAtMs.Valid {
		v := row.ConsumedAtMs.Int64
		out.ConsumedAtMs = &v
	}
	if row.ConsumedBindingID.Valid {
		v := row.ConsumedBindingID.String
		out.ConsumedBindingID = &v
	}
	if row.ConsumedRouteKey.Valid {
		v := row.ConsumedRouteKey.String
		out.ConsumedRouteKey = &v
	}
	return out, nil
}

// PairingTokenByHash looks up a token without consuming it, used to validate
// scope/channel before the caller attempts redemption.
func (d *DB) PairingTokenByHash(ctx context.Context, tokenHash string) (PairingToken, error) {
	var row struct {
		TokenHash         string         `db:"token_hash"`
		TenantID          string         `db:"tenant_id"`
		Channel           string         `db:"channel"`
		SessionKey        sql.NullString `db:"session_key"`
		CreatedAtMs       int64          `db:"created_at_ms"`
		ExpiresAtMs       int64          `db:"expires_at_ms"`
		ConsumedAtMs      sql.NullInt64  `db:"consumed_at_ms"`
		ConsumedBindingID sql.NullString `db:"consumed_binding_id"`
		ConsumedRouteKey  sql.NullString `db:"consumed_route_key"`
	}
	found, err := d.goqu.From("pairing_tokens").Where(goqu.Ex{"token_hash": tokenHash}).ScanStructContext(ctx, &row)
	if err != nil {
		return PairingToken{}, err
	}
	if !found {
		return PairingToken{}, ErrNotFound
	}
	out := PairingToken{
		TokenHash:   row.TokenHash,
		TenantID:    row.TenantID,
		Channel:     row.Channel,
		CreatedAtMs: row.CreatedAtMs,
		ExpiresAtMs: row.ExpiresAtMs,
	}
	if row.SessionKey.Valid {
		v := row.SessionKey.String
		out.SessionKey = &v
	}
	if row.ConsumedAtMs.Valid {
		v := row.ConsumedAtMs.Int64
		out.ConsumedAtMs = &v
	}
	if row.ConsumedBindingID.Valid {
		v := row.ConsumedBindingID.String
		out.ConsumedBindingID = &v
	}
	if row.ConsumedRouteKey.Valid {
		v := row.ConsumedRouteKey.String
		out.ConsumedRouteKey = &v
	}
	return out, nil
}

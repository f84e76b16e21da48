package persistence

import (
	"context"
	"errors"

	"github.com/doug-martin/goqu/v9"
)

var ErrNotFound = errors.New("persistence: not found")

type tenantRow struct {
	ID               string `db:"id"`
	Name             string `db:"name"`
	APIKeyHash       string `db:"api_key_hash"`
	Status           string `db:"status"`
	InboundURL       string `db:"inbound_url"`
	InboundToken     string `db:"inbound_token"`
	InboundTimeoutMs int    `db:"inbound_timeout_ms"`
	CreatedAtMs      int64  `db:"created_at_ms"`
	UpdatedAtMs      int64  `db:"updated_at_ms"`
}

func (r tenantRow) toDomain() Tenant {
	return Tenant{
		ID:               r.ID,
		Name:             r.Name,
		APIKeyHash:       r.APIKeyHash,
		Status:           TenantStatus(r.Status),
		InboundURL:       r.InboundURL,
		InboundToken:     r.InboundToken,
		InboundTimeoutMs: r.InboundTimeoutMs,
		CreatedAtMs:      r.CreatedAtMs,
		UpdatedAtMs:      r.UpdatedAtMs,
	}
}

// BootstrapTenant inserts a tenant seeded from config, or no-ops if the id
// already exists — it's called on every startup for every MUX_TENANT_SEED
// entry, so it must be idempotent (§6 seeding requirements).
func (d *DB) BootstrapTenant(ctx context.Context, t Tenant) error {
	_, err := d.goqu.Insert("tenants").
		Rows(goqu.Record{
			"id":                 t.ID,
			"name":               t.Name,
			"api_key_hash":       t.APIKeyHash,
			"status":             string(t.Status),
			"inbound_url":        t.InboundURL,
			"inbound_token":      t.InboundToken,
			"inbound_timeout_ms": t.InboundTimeoutMs,
			"created_at_ms":      t.CreatedAtMs,
			"updated_at_ms":      t.UpdatedAtMs,
		}).
		OnConflict(goqu.DoNothing()).
		Executor().ExecContext(ctx)
	return err
}

func (d *DB) TenantByAPIKeyHash(ctx context.Context, hash string) (Tenant, error) {
	var row tenantRow
	found, err := d.goqu.From("tenants").
		Where(goqu.Ex{"api_key_hash": hash, "status": string(TenantActive)}).
		ScanStructContext(ctx, &row)
	if err != nil {
		return Tenant{}, err
	}
	if !found {
		return Tenant{}, ErrNotFound
	}
	return row.toDomain(), nil
}

func (d *DB) TenantByID(ctx context.Context, id string) (Tenant, error) {
	var row tenantRow
	found, err := d.goqu.From("tenants").Where(goqu.Ex{"id": id}).ScanStructContext(ctx, &row)
	if err != nil {
		return Tenant{}, err
	}
	if !found {
		return Tenant{}, ErrNotFound
	}
	return row.toDomain(), nil
}

// UpdateInboundTarget sets the per-tenant callback URL/token/timeout used by
// the dispatcher to forward inbound provider events (§4.1/§6).
func (d *DB) UpdateInboundTarget(ctx context.Context, tenantID, url, token string, timeoutMs int, nowMs int64) error {
	res, err := d.goqu.Update("tenants").
		Set(goqu.Record{
			"inbound_url":        url,
			"inbound_token":      token,
			"inbound_timeout_ms": timeoutMs,
			"updated_at_ms":      nowMs,
		}).
		Where(goqu.Ex{"id": tenantID}).
		Executor().ExecContext(ctx)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

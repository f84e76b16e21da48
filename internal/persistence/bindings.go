package persistence

import (
	"context"

	"github.com/doug-martin/goqu/v9"
)

type bindingRow struct {
	ID          string `db:"id"`
	TenantID    string `db:"tenant_id"`
	Channel     string `db:"channel"`
	Scope       string `db:"scope"`
	RouteKey    string `db:"route_key"`
	Status      string `db:"status"`
	CreatedAtMs int64  `db:"created_at_ms"`
	UpdatedAtMs int64  `db:"updated_at_ms"`
}

func (r bindingRow) toDomain() Binding {
	return Binding{
		ID: r.ID, TenantID: r.TenantID, Channel: r.Channel, Scope: r.Scope,
		RouteKey: r.RouteKey, Status: BindingStatus(r.Status),
		CreatedAtMs: r.CreatedAtMs, UpdatedAtMs: r.UpdatedAtMs,
	}
}

// CreateBinding inserts a new binding. The caller is responsible for
// resolving conflicts with the active route before calling this — the
// partial unique index uq_bindings_active_route is the last line of defense
// (§3 "Binding uniqueness"), not the primary mechanism, because a duplicate
// insert attempt should surface as a structured 409 CONFLICT rather than a
// raw constraint-violation error.
func (d *DB) CreateBinding(ctx context.Context, b Binding) error {
	_, err := d.goqu.Insert("bindings").
		Rows(goqu.Record{
			"id":            b.ID,
			"tenant_id":     b.TenantID,
			"channel":       b.Channel,
			"scope":         b.Scope,
			"route_key":     b.RouteKey,
			"status":        string(b.Status),
			"created_at_ms": b.CreatedAtMs,
			"updated_at_ms": b.UpdatedAtMs,
		}).
		Executor().ExecContext(ctx)
	return err
}

// ActiveBindingByRoute finds the active binding currently bound to a route
// key, used both to enforce uniqueness before insert and by the resolver to
// map an inbound event back to a tenant (§4.3/§4.4).
func (d *DB) ActiveBindingByRoute(ctx context.Context, channel, routeKey string) (Binding, error) {
	var row bindingRow
	found, err := d.goqu.From("bindings").
		Where(goqu.Ex{"channel": channel, "route_key": routeKey, "status": string(BindingActive)}).
		ScanStructContext(ctx, &row)
	if err != nil {
		return Binding{}, err
	}
	if !found {
		return Binding{}, ErrNotFound
	}
	return row.toDomain(), nil
}

func (d *DB) BindingByID(ctx context.Context, id string) (Binding, error) {
	var row bindingRow
	found, err := d.goqu.From("bindings").Where(goqu.Ex{"id": id}).ScanStructContext(ctx, &row)
	if err != nil {
		return Binding{}, err
	}
	if !found {
		return Binding{}, ErrNotFound
	}
	return row.toDomain(), nil
}

// ListBindingsByChannel returns every binding for a channel regardless of
// tenant, in {pending, active} status — used by pollers that must sweep all
// tenants' bindings for a given provider (Discord REST polling has no
// push/webhook signal to target just the tenants with new activity; §4.7).
func (d *DB) ListBindingsByChannel(ctx context.Context, channel string) ([]Binding, error) {
	var rows []bindingRow
	if err := d.goqu.From("bindings").
		Where(goqu.Ex{"channel": channel, "status": []string{string(BindingActive), string(BindingPending)}}).
		ScanStructsContext(ctx, &rows); err != nil {
		return nil, err
	}
	out := make([]Binding, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toDomain())
	}
	return out, nil
}

func (d *DB) ListBindings(ctx context.Context, tenantID string) ([]Binding, error) {
	var rows []bindingRow
	if err := d.goqu.From("bindings").
		Where(goqu.Ex{"tenant_id": tenantID}).
		Order(goqu.I("created_at_ms").Desc()).
		ScanStructsContext(ctx, &rows); err != nil {
		return nil, err
	}
	out := make([]Binding, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toDomain())
	}
	return out, nil
}

// ActivateBinding transitions a pending binding to active as the CAS-style
// final step of pairing-token redemption.
func (d *DB) ActivateBinding(ctx context.Context, id string, nowMs int64) error {
	_, err := d.goqu.Update("bindings").
		Set(goqu.Record{"status": string(BindingActive), "updated_at_ms": nowMs}).
		Where(goqu.Ex{"id": id, "status": string(BindingPending)}).
		Executor().ExecContext(ctx)
	return err
}

// UnbindActive transitions an active binding owned by tenantID to inactive,
// freeing its route key for re-pairing (§4.3 unbind operation). Scoping the
// WHERE clause to tenant_id prevents one tenant from unbinding another's
// route.
func (d *DB) UnbindActive(ctx context.Context, id, tenantID string, nowMs int64) (bool, error) {
	res, err := d.goqu.Update("bindings").
		Set(goqu.Record{"status": string(BindingInactive), "updated_at_ms": nowMs}).
		Where(goqu.Ex{"id": id, "tenant_id": tenantID, "status": string(BindingActive)}).
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

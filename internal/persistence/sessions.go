package persistence

import (
	"context"

	"github.com/doug-martin/goqu/v9"
)

type sessionRouteRow struct {
	TenantID           string `db:"tenant_id"`
	Channel            string `db:"channel"`
	SessionKey         string `db:"session_key"`
	BindingID          string `db:"binding_id"`
	ChannelContextJSON string `db:"channel_context_json"`
	UpdatedAtMs        int64  `db:"updated_at_ms"`
}

func (r sessionRouteRow) toDomain() SessionRoute {
	return SessionRoute{
		TenantID: r.TenantID, Channel: r.Channel, SessionKey: r.SessionKey,
		BindingID: r.BindingID, ChannelContextJSON: r.ChannelContextJSON,
		UpdatedAtMs: r.UpdatedAtMs,
	}
}

// UpsertSessionRoute records (or refreshes) which binding a given
// (tenant, channel, sessionKey) currently resolves to, along with opaque
// provider context (e.g. Discord guild/channel ids) the dispatcher needs to
// address an outbound send without re-resolving it (§4.4).
func (d *DB) UpsertSessionRoute(ctx context.Context, s SessionRoute) error {
	_, err := d.goqu.Insert("session_routes").
		Rows(goqu.Record{
			"tenant_id":            s.TenantID,
			"channel":              s.Channel,
			"session_key":          s.SessionKey,
			"binding_id":           s.BindingID,
			"channel_context_json": s.ChannelContextJSON,
			"updated_at_ms":        s.UpdatedAtMs,
		}).
		OnConflict(goqu.DoUpdate("tenant_id, channel, session_key", goqu.Record{
			"binding_id":           s.BindingID,
			"channel_context_json": s.ChannelContextJSON,
			"updated_at_ms":        s.UpdatedAtMs,
		})).
		Executor().ExecContext(ctx)
	return err
}

func (d *DB) SessionRoute(ctx context.Context, tenantID, channel, sessionKey string) (SessionRoute, error) {
	var row sessionRouteRow
	found, err := d.goqu.From("session_routes").
		Where(goqu.Ex{"tenant_id": tenantID, "channel": channel, "session_key": sessionKey}).
		ScanStructContext(ctx, &row)
	if err != nil {
		return SessionRoute{}, err
	}
	if !found {
		return SessionRoute{}, ErrNotFound
	}
	return row.toDomain(), nil
}

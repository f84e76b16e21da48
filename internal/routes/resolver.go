package routes

import (
	"context"

	"github.com/relaymux/mux/internal/persistence"
	"github.com/relaymux/mux/internal/platform/apierr"
)

// Resolver joins session_routes with active bindings to go from a tenant's
// opaque session key to a provider route key, and the reverse direction used
// by inbound pollers.
type Resolver struct {
	db *persistence.DB
}

func NewResolver(db *persistence.DB) *Resolver {
	return &Resolver{db: db}
}

type ResolvedRoute struct {
	BindingID          string
	Channel            string
	RouteKey           string
	ChannelContextJSON string
}

// Forward resolves (tenant, channel, sessionKey) -> route, per §4.4. Returns
// apierr.RouteNotBound() when no session route or its binding isn't active.
func (r *Resolver) Forward(ctx context.Context, tenantID, channel, sessionKey string) (ResolvedRoute, error) {
	sr, err := r.db.SessionRoute(ctx, tenantID, channel, sessionKey)
	if err != nil {
		if err == persistence.ErrNotFound {
			return ResolvedRoute{}, apierr.RouteNotBound()
		}
		return ResolvedRoute{}, err
	}
	b, err := r.db.BindingByID(ctx, sr.BindingID)
	if err != nil {
		if err == persistence.ErrNotFound {
			return ResolvedRoute{}, apierr.RouteNotBound()
		}
		return ResolvedRoute{}, err
	}
	if b.Status != persistence.BindingActive {
		return ResolvedRoute{}, apierr.RouteNotBound()
	}
	return ResolvedRoute{
		BindingID:          b.ID,
		Channel:            b.Channel,
		RouteKey:           b.RouteKey,
		ChannelContextJSON: sr.ChannelContextJSON,
	}, nil
}

// Reverse maps a provider-observed route key back to the owning tenant's
// active binding, used by inbound pollers to find where to forward an event
// (§4.7).
func (r *Resolver) Reverse(ctx context.Context, channel, routeKey string) (persistence.Binding, error) {
	return r.db.ActiveBindingByRoute(ctx, channel, routeKey)
}

// BindAndRoute upserts a session route for a freshly created/activated
// binding, establishing the (tenant, channel, sessionKey) -> binding mapping
// pairing operations rely on (§4.3 "optionally upsert a session route").
func (r *Resolver) BindAndRoute(ctx context.Context, tenantID, channel, sessionKey, bindingID, channelContextJSON string, nowMs int64) error {
	if channelContextJSON == "" {
		channelContextJSON = "{}"
	}
	return r.db.UpsertSessionRoute(ctx, persistence.SessionRoute{
		TenantID:           tenantID,
		Channel:            channel,
		SessionKey:         sessionKey,
		BindingID:          bindingID,
		ChannelContextJSON: channelContextJSON,
		UpdatedAtMs:        nowMs,
	})
}

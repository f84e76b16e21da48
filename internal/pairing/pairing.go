// Package pairing implements the binding state machine described in §4.3:
// seeded-code claims and one-time pairing tokens both terminate in an active
// Binding plus, optionally, a SessionRoute. Grounded on the teacher's
// workspace pairing/session bootstrap flow, generalized to cover both the
// single-step (code claim) and two-step (token issue, then provider-side
// redemption) paths the spec requires.
package pairing

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/relaymux/mux/internal/persistence"
	"github.com/relaymux/mux/internal/platform/apierr"
	"github.com/relaymux/mux/internal/routes"
)

type Engine struct {
	db        *persistence.DB
	resolver  *routes.Resolver
	tokenTTL  time.Duration
	tokenMax  time.Duration
}

func NewEngine(db *persistence.DB, resolver *routes.Resolver, tokenTTL, tokenMax time.Duration) *Engine {
	return &Engine{db: db, resolver: resolver, tokenTTL: tokenTTL, tokenMax: tokenMax}
}

func nowMs() int64 { return time.Now().UnixMilli() }

func newBindingID() string {
	return "bind_" + ulid.Make().String()
}

// HashToken returns the SHA-256 hex digest of a raw mpt_ token, the form
// stored in pairing_tokens.token_hash (§3).
func HashToken(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

// NewRawToken mints mpt_<24 random bytes base64url>, per §4.3.
func NewRawToken() (string, error) {
	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return "mpt_" + base64.RawURLEncoding.EncodeToString(buf), nil
}

type ClaimResult struct {
	BindingID  string
	Channel    string
	Scope      string
	RouteKey   string
	SessionKey string
}

// ClaimCode implements POST /v1/pairings/claim (§4.3 "Code claim"): an
// atomic conditional UPDATE decides the winner among concurrent claimants,
// then a fresh active binding is created.
func (e *Engine) ClaimCode(ctx context.Context, tenantID, code, sessionKey string) (ClaimResult, error) {
	now := nowMs()
	claimed, ok, err := e.db.ClaimPairingCode(ctx, code, tenantID, now)
	if err != nil {
		return ClaimResult{}, err
	}
	if !ok {
		existing, lookupErr := e.lookupCodeForStatus(ctx, code, now)
		if lookupErr != nil {
			return ClaimResult{}, lookupErr
		}
		if existing {
			return ClaimResult{}, apierr.Conflict("pairing code already claimed")
		}
		return ClaimResult{}, apierr.NotFound("pairing code not found or expired")
	}

	bindingID := newBindingID()
	if err := e.db.CreateBinding(ctx, persistence.Binding{
		ID: bindingID, TenantID: tenantID, Channel: claimed.Channel,
		Scope: claimed.Scope, RouteKey: claimed.RouteKey,
		Status: persistence.BindingActive, CreatedAtMs: now, UpdatedAtMs: now,
	}); err != nil {
		return ClaimResult{}, apierr.Conflict("route already bound")
	}

	if sessionKey == "" {
		sessionKey, err = routes.DefaultSessionKey(claimed.Channel, claimed.RouteKey)
		if err != nil {
			return ClaimResult{}, err
		}
	}
	if err := e.resolver.BindAndRoute(ctx, tenantID, claimed.Channel, sessionKey, bindingID, "", now); err != nil {
		return ClaimResult{}, err
	}

	e.audit(ctx, tenantID, "pairing.code_claimed", map[string]any{
		"code": code, "bindingId": bindingID, "routeKey": claimed.RouteKey,
	}, now)

	return ClaimResult{
		BindingID: bindingID, Channel: claimed.Channel, Scope: claimed.Scope,
		RouteKey: claimed.RouteKey, SessionKey: sessionKey,
	}, nil
}

func (e *Engine) lookupCodeForStatus(ctx context.Context, code string, now int64) (alreadyClaimed bool, err error) {
	// Called after ClaimPairingCode lost or matched nothing: re-read the row
	// to split §8's boundary behaviors. An absent or expired code reports
	// false (404); an unexpired, already-claimed code reports true (409).
	pc, err := e.db.PairingCodeStatus(ctx, code)
	if err != nil {
		if err == persistence.ErrNotFound {
			return false, nil
		}
		return false, err
	}
	if pc.ExpiresAtMs <= now {
		return false, nil
	}
	if pc.ClaimedByTenant != nil {
		return true, nil
	}
	return false, nil
}

type IssueTokenResult struct {
	Token       string
	ExpiresAtMs int64
}

// IssueToken implements POST /v1/pairings/token. For Discord, per §4.3, a
// pending binding is created immediately at the given routeKey; redemption
// later activates it. channel != discord tokens carry no pre-created
// binding — the poller creates one on redemption.
func (e *Engine) IssueToken(ctx context.Context, tenantID, channel, sessionKey, discordRouteKey string, ttl time.Duration) (IssueTokenResult, error) {
	if ttl <= 0 || ttl > e.tokenMax {
		ttl = e.tokenTTL
	}
	now := nowMs()
	expires := now + ttl.Milliseconds()

	if channel == routes.ChannelDiscord {
		if discordRouteKey == "" {
			return IssueTokenResult{}, apierr.Validation("routeKey required for discord pairing tokens")
		}
		if _, err := routes.ParseDiscordRoute(discordRouteKey); err != nil {
			return IssueTokenResult{}, err
		}
		if _, err := e.db.ActiveBindingByRoute(ctx, channel, discordRouteKey); err == nil {
			return IssueTokenResult{}, apierr.Conflict("discord route already bound")
		} else if err != persistence.ErrNotFound {
			return IssueTokenResult{}, err
		}
	}

	raw, err := NewRawToken()
	if err != nil {
		return IssueTokenResult{}, err
	}
	tok := persistence.PairingToken{
		TokenHash: HashToken(raw), TenantID: tenantID, Channel: channel,
		CreatedAtMs: now, ExpiresAtMs: expires,
	}
	if sessionKey != "" {
		tok.SessionKey = &sessionKey
	}
	if err := e.db.IssuePairingToken(ctx, tok); err != nil {
		return IssueTokenResult{}, err
	}

	if channel == routes.ChannelDiscord {
		bindingID := newBindingID()
		if err := e.db.CreateBinding(ctx, persistence.Binding{
			ID: bindingID, TenantID: tenantID, Channel: channel, Scope: "dm_or_guild",
			RouteKey: discordRouteKey, Status: persistence.BindingPending,
			CreatedAtMs: now, UpdatedAtMs: now,
		}); err != nil {
			return IssueTokenResult{}, apierr.Conflict("discord route already bound")
		}
	}

	e.audit(ctx, tenantID, "pairing.token_issued", map[string]any{"channel": channel}, now)
	return IssueTokenResult{Token: raw, ExpiresAtMs: expires}, nil
}

// RedeemTokenForTelegramOrWhatsApp implements the non-Discord half of §4.3
// token redemption: the inbound poller observed a chat/JID carrying the raw
// token, derives routeKey, and this call atomically consumes the token and
// materializes (or reuses) an active binding + session route.
func (e *Engine) RedeemTokenForTelegramOrWhatsApp(ctx context.Context, rawToken, channel, routeKey string) (ClaimResult, bool, error) {
	now := nowMs()
	tok, err := e.db.PairingTokenByHash(ctx, HashToken(rawToken))
	if err != nil {
		if err == persistence.ErrNotFound {
			return ClaimResult{}, false, nil
		}
		return ClaimResult{}, false, err
	}
	if tok.Channel != channel {
		return ClaimResult{}, false, nil
	}

	existing, err := e.db.ActiveBindingByRoute(ctx, channel, routeKey)
	var bindingID string
	if err == nil {
		bindingID = existing.ID
	} else if err == persistence.ErrNotFound {
		bindingID = newBindingID()
	} else {
		return ClaimResult{}, false, err
	}

	redeemed, ok, err := e.db.RedeemPairingToken(ctx, tok.TokenHash, bindingID, routeKey, now)
	if err != nil {
		return ClaimResult{}, false, err
	}
	if !ok {
		return ClaimResult{}, false, nil
	}

	if existing.ID == "" {
		if err := e.db.CreateBinding(ctx, persistence.Binding{
			ID: bindingID, TenantID: redeemed.TenantID, Channel: channel, Scope: "chat",
			RouteKey: routeKey, Status: persistence.BindingActive,
			CreatedAtMs: now, UpdatedAtMs: now,
		}); err != nil {
			return ClaimResult{}, false, apierr.Conflict("route already bound")
		}
	}

	sessionKey := ""
	if redeemed.SessionKey != nil {
		sessionKey = *redeemed.SessionKey
	}
	if sessionKey == "" {
		sessionKey, err = routes.DefaultSessionKey(channel, routeKey)
		if err != nil {
			return ClaimResult{}, false, err
		}
	}
	if err := e.resolver.BindAndRoute(ctx, redeemed.TenantID, channel, sessionKey, bindingID, "", now); err != nil {
		return ClaimResult{}, false, err
	}

	e.audit(ctx, redeemed.TenantID, "pairing.token_redeemed", map[string]any{
		"channel": channel, "bindingId": bindingID, "routeKey": routeKey,
	}, now)

	return ClaimResult{
		BindingID: bindingID, Channel: channel, Scope: "chat",
		RouteKey: routeKey, SessionKey: sessionKey,
	}, true, nil
}

// RedeemTokenForDiscord implements the Discord half of §4.3: the binding
// already exists pending at a fixed routeKey from IssueToken; redemption
// only needs to activate it.
func (e *Engine) RedeemTokenForDiscord(ctx context.Context, rawToken string) (ClaimResult, bool, error) {
	now := nowMs()
	tok, err := e.db.PairingTokenByHash(ctx, HashToken(rawToken))
	if err != nil {
		if err == persistence.ErrNotFound {
			return ClaimResult{}, false, nil
		}
		return ClaimResult{}, false, err
	}
	if tok.Channel != routes.ChannelDiscord {
		return ClaimResult{}, false, nil
	}

	pending, err := e.findPendingDiscordBinding(ctx, tok.TenantID)
	if err != nil {
		return ClaimResult{}, false, err
	}

	redeemed, ok, err := e.db.RedeemPairingToken(ctx, tok.TokenHash, pending.ID, pending.RouteKey, now)
	if err != nil {
		return ClaimResult{}, false, err
	}
	if !ok {
		return ClaimResult{}, false, nil
	}

	if err := e.db.ActivateBinding(ctx, pending.ID, now); err != nil {
		return ClaimResult{}, false, err
	}

	sessionKey := ""
	if redeemed.SessionKey != nil {
		sessionKey = *redeemed.SessionKey
	}
	if sessionKey == "" {
		sessionKey, err = routes.DefaultSessionKey(routes.ChannelDiscord, pending.RouteKey)
		if err != nil {
			return ClaimResult{}, false, err
		}
	}
	if err := e.resolver.BindAndRoute(ctx, redeemed.TenantID, routes.ChannelDiscord, sessionKey, pending.ID, "", now); err != nil {
		return ClaimResult{}, false, err
	}

	e.audit(ctx, redeemed.TenantID, "pairing.token_redeemed", map[string]any{
		"channel": routes.ChannelDiscord, "bindingId": pending.ID, "routeKey": pending.RouteKey,
	}, now)

	return ClaimResult{
		BindingID: pending.ID, Channel: routes.ChannelDiscord, Scope: "dm_or_guild",
		RouteKey: pending.RouteKey, SessionKey: sessionKey,
	}, true, nil
}

func (e *Engine) findPendingDiscordBinding(ctx context.Context, tenantID string) (persistence.Binding, error) {
	bindings, err := e.db.ListBindings(ctx, tenantID)
	if err != nil {
		return persistence.Binding{}, err
	}
	for _, b := range bindings {
		if b.Channel == routes.ChannelDiscord && b.Status == persistence.BindingPending {
			return b, nil
		}
	}
	return persistence.Binding{}, apierr.NotFound("no pending discord pairing for tenant")
}

// Unbind implements POST /v1/pairings/unbind (§4.3): transitions active ->
// inactive, scoped to the requesting tenant.
func (e *Engine) Unbind(ctx context.Context, tenantID, bindingID string) error {
	ok, err := e.db.UnbindActive(ctx, bindingID, tenantID, nowMs())
	if err != nil {
		return err
	}
	if !ok {
		return apierr.NotFound("binding not found")
	}
	e.audit(ctx, tenantID, "pairing.unbound", map[string]any{"bindingId": bindingID}, nowMs())
	return nil
}

func (e *Engine) ListActive(ctx context.Context, tenantID string) ([]persistence.Binding, error) {
	all, err := e.db.ListBindings(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	out := make([]persistence.Binding, 0, len(all))
	for _, b := range all {
		if b.Status == persistence.BindingActive {
			out = append(out, b)
		}
	}
	return out, nil
}

func (e *Engine) audit(ctx context.Context, tenantID, eventType string, payload map[string]any, nowMs int64) {
	body, err := json.Marshal(payload)
	if err != nil {
		return
	}
	_ = e.db.AppendAuditLog(ctx, tenantID, eventType, string(body), nowMs)
}

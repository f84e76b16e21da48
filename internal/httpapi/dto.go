// Package httpapi wires the mux's HTTP surface (§6) on top of identity,
// routes, pairing, idempotency and dispatch. Route table structure and
// JSON envelope conventions are grounded on the teacher's ui/rest package;
// since the teacher's own utils.ResponseData/PanicIfNeeded helpers weren't
// part of the retrieved pack, responses instead go through
// internal/httpapi/middleware's apierr-based envelope (see DESIGN.md).
package httpapi

import (
	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/relaymux/mux/internal/routes"
)

// bootstrapTenantRequest is the body of POST /v1/admin/tenants/bootstrap.
type bootstrapTenantRequest struct {
	TenantID         string `json:"tenantId"`
	Name             string `json:"name"`
	APIKey           string `json:"apiKey"`
	InboundURL       string `json:"inboundUrl"`
	InboundTimeoutMs int    `json:"inboundTimeoutMs"`
}

func (r bootstrapTenantRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.TenantID, validation.Required),
		validation.Field(&r.APIKey, validation.Required, validation.Length(8, 0)),
		validation.Field(&r.InboundURL, validation.Required),
	)
}

// setInboundTargetRequest is the body of POST /v1/tenant/inbound-target.
type setInboundTargetRequest struct {
	InboundURL       string `json:"inboundUrl"`
	InboundTimeoutMs int    `json:"inboundTimeoutMs"`
}

func (r setInboundTargetRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.InboundURL, validation.Required),
	)
}

// issuePairingTokenRequest is the body of POST /v1/pairings/token.
type issuePairingTokenRequest struct {
	Channel    string `json:"channel"`
	SessionKey string `json:"sessionKey"`
	RouteKey   string `json:"routeKey"`
	TTLSec     int    `json:"ttlSec"`
}

func (r issuePairingTokenRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Channel, validation.Required, validation.In(
			routes.ChannelTelegram, routes.ChannelDiscord, routes.ChannelWhatsApp)),
	)
}

// claimPairingCodeRequest is the body of POST /v1/pairings/claim.
type claimPairingCodeRequest struct {
	Code       string `json:"code"`
	SessionKey string `json:"sessionKey"`
}

func (r claimPairingCodeRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Code, validation.Required),
	)
}

// unbindRequest is the body of POST /v1/pairings/unbind.
type unbindRequest struct {
	BindingID string `json:"bindingId"`
}

func (r unbindRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.BindingID, validation.Required),
	)
}

// typingRequest is the body of POST /v1/mux/outbound/typing.
type typingRequest struct {
	Channel    string `json:"channel"`
	SessionKey string `json:"sessionKey"`
}

func (r typingRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Channel, validation.Required),
		validation.Field(&r.SessionKey, validation.Required),
	)
}

package httpapi

import (
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/relaymux/mux/internal/httpapi/middleware"
	"github.com/relaymux/mux/internal/platform/apierr"
	"github.com/relaymux/mux/internal/routes"
)

// listPairings implements GET /v1/pairings (§6).
func (s *Server) listPairings(c *fiber.Ctx) error {
	tenant := middleware.TenantFromLocals(c)
	active, err := s.pairing.ListActive(c.Context(), tenant.ID)
	if err != nil {
		return middleware.WriteError(c, apierr.Internal(err.Error()))
	}
	items := make([]fiber.Map, 0, len(active))
	for _, b := range active {
		items = append(items, fiber.Map{
			"bindingId": b.ID, "channel": b.Channel, "scope": b.Scope, "routeKey": b.RouteKey,
		})
	}
	return c.JSON(fiber.Map{"items": items})
}

// issuePairingToken implements POST /v1/pairings/token (§6).
func (s *Server) issuePairingToken(c *fiber.Ctx) error {
	tenant := middleware.TenantFromLocals(c)
	var req issuePairingTokenRequest
	if err := c.BodyParser(&req); err != nil {
		return middleware.WriteError(c, apierr.Validation("malformed JSON body"))
	}
	if err := req.Validate(); err != nil {
		return middleware.WriteError(c, apierr.Validation(err.Error()))
	}

	ttl := time.Duration(req.TTLSec) * time.Second
	result, err := s.pairing.IssueToken(c.Context(), tenant.ID, req.Channel, req.SessionKey, req.RouteKey, ttl)
	if err != nil {
		return middleware.WriteError(c, err)
	}

	resp := fiber.Map{
		"ok": true, "channel": req.Channel, "token": result.Token, "expiresAtMs": result.ExpiresAtMs,
	}
	if req.Channel == routes.ChannelTelegram && s.cfg.BotDisplayUsername != "" {
		resp["startCommand"] = "/start " + result.Token
		resp["deepLink"] = fmt.Sprintf("https://t.me/%s?start=%s", s.cfg.BotDisplayUsername, result.Token)
	}
	return c.JSON(resp)
}

// claimPairingCode implements POST /v1/pairings/claim (§6).
func (s *Server) claimPairingCode(c *fiber.Ctx) error {
	tenant := middleware.TenantFromLocals(c)
	var req claimPairingCodeRequest
	if err := c.BodyParser(&req); err != nil {
		return middleware.WriteError(c, apierr.Validation("malformed JSON body"))
	}
	if err := req.Validate(); err != nil {
		return middleware.WriteError(c, apierr.Validation(err.Error()))
	}

	result, err := s.pairing.ClaimCode(c.Context(), tenant.ID, req.Code, req.SessionKey)
	if err != nil {
		return middleware.WriteError(c, err)
	}
	return c.JSON(fiber.Map{
		"bindingId": result.BindingID, "channel": result.Channel, "scope": result.Scope,
		"routeKey": result.RouteKey, "sessionKey": result.SessionKey,
	})
}

// unbind implements POST /v1/pairings/unbind (§6).
func (s *Server) unbind(c *fiber.Ctx) error {
	tenant := middleware.TenantFromLocals(c)
	var req unbindRequest
	if err := c.BodyParser(&req); err != nil {
		return middleware.WriteError(c, apierr.Validation("malformed JSON body"))
	}
	if err := req.Validate(); err != nil {
		return middleware.WriteError(c, apierr.Validation(err.Error()))
	}
	if err := s.pairing.Unbind(c.Context(), tenant.ID, req.BindingID); err != nil {
		return middleware.WriteError(c, err)
	}
	return c.JSON(fiber.Map{"ok": true})
}

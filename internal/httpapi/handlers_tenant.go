package httpapi

import (
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/relaymux/mux/internal/httpapi/middleware"
	"github.com/relaymux/mux/internal/persistence"
	"github.com/relaymux/mux/internal/platform/apierr"
)

// getInboundTarget implements GET /v1/tenant/inbound-target (§6).
func (s *Server) getInboundTarget(c *fiber.Ctx) error {
	tenant := middleware.TenantFromLocals(c)
	if tenant.InboundURL == "" {
		return c.JSON(fiber.Map{"ok": true, "configured": false})
	}
	return c.JSON(fiber.Map{
		"ok": true, "configured": true,
		"inboundUrl": tenant.InboundURL, "inboundTimeoutMs": tenant.InboundTimeoutMs,
	})
}

// setInboundTarget implements POST /v1/tenant/inbound-target (§6).
func (s *Server) setInboundTarget(c *fiber.Ctx) error {
	tenant := middleware.TenantFromLocals(c)
	var req setInboundTargetRequest
	if err := c.BodyParser(&req); err != nil {
		return middleware.WriteError(c, apierr.Validation("malformed JSON body"))
	}
	if err := req.Validate(); err != nil {
		return middleware.WriteError(c, apierr.Validation(err.Error()))
	}
	timeoutMs := req.InboundTimeoutMs
	if timeoutMs <= 0 {
		timeoutMs = 15000
	}
	if err := s.db.UpdateInboundTarget(c.Context(), tenant.ID, req.InboundURL, tenant.InboundToken, timeoutMs, time.Now().UnixMilli()); err != nil {
		if err == persistence.ErrNotFound {
			return middleware.WriteError(c, apierr.NotFound("tenant not found"))
		}
		return middleware.WriteError(c, apierr.Internal(err.Error()))
	}
	return c.JSON(fiber.Map{"ok": true, "inboundUrl": req.InboundURL, "inboundTimeoutMs": timeoutMs})
}

package httpapi

import (
	"context"
	"encoding/json"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/relaymux/mux/internal/httpapi/middleware"
	"github.com/relaymux/mux/internal/identity"
	"github.com/relaymux/mux/internal/persistence"
	"github.com/relaymux/mux/internal/platform/apierr"
)

func (s *Server) health(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"ok": true})
}

func (s *Server) detailedHealth(c *fiber.Ctx) error {
	processed, deferred, dropped := s.retryQueue.Stats()
	return c.JSON(fiber.Map{
		"ok": true,
		"whatsappQueue": fiber.Map{
			"processed": processed,
			"deferred":  deferred,
			"dropped":   dropped,
		},
	})
}

// bootstrapTenant implements POST /v1/admin/tenants/bootstrap (§6): inserts
// a tenant's identity and forward target for operator-driven onboarding.
// When the tenant id already exists the stored row is left unchanged and the
// request still answers ok; it does not update the name, key or inbound
// target.
func (s *Server) bootstrapTenant(c *fiber.Ctx) error {
	var req bootstrapTenantRequest
	if err := c.BodyParser(&req); err != nil {
		return middleware.WriteError(c, apierr.Validation("malformed JSON body"))
	}
	if err := req.Validate(); err != nil {
		return middleware.WriteError(c, apierr.Validation(err.Error()))
	}

	now := time.Now().UnixMilli()
	tenant := persistence.Tenant{
		ID:               req.TenantID,
		Name:             req.Name,
		APIKeyHash:       identity.HashAPIKey(req.APIKey),
		Status:           persistence.TenantActive,
		InboundURL:       req.InboundURL,
		InboundTimeoutMs: req.InboundTimeoutMs,
		CreatedAtMs:      now,
		UpdatedAtMs:      now,
	}
	if tenant.InboundTimeoutMs <= 0 {
		tenant.InboundTimeoutMs = 15000
	}
	if err := s.db.BootstrapTenant(c.Context(), tenant); err != nil {
		return middleware.WriteError(c, apierr.Internal(err.Error()))
	}
	return c.JSON(fiber.Map{"ok": true, "tenantId": req.TenantID})
}

// auditTailFeed builds the admin live-tail websocket feed: a one-shot recent
// history replay followed by periodic polling for new rows, since the
// audit_log table has no in-process fan-out (§9 observability supplement).
func (s *Server) auditTailFeed() func() ([]byte, error) {
	var lastSeen int64
	return func() ([]byte, error) {
		entries, err := s.db.RecentAuditLogs(context.Background(), "", 50)
		if err != nil {
			return nil, err
		}
		var fresh []persistence.AuditLog
		for _, e := range entries {
			if e.CreatedAtMs > lastSeen {
				fresh = append(fresh, e)
			}
		}
		if len(fresh) == 0 {
			return nil, nil
		}
		lastSeen = fresh[0].CreatedAtMs
		return json.Marshal(fiber.Map{"items": fresh})
	}
}

package middleware

import (
	"github.com/gofiber/fiber/v2"

	"github.com/relaymux/mux/internal/identity"
	"github.com/relaymux/mux/internal/persistence"
	"github.com/relaymux/mux/internal/platform/apierr"
)

const tenantLocalsKey = "tenant"

// TenantAuth resolves the Authorization bearer token to a tenant and stores
// it in locals for handlers under /v1/tenant and /v1/mux (§6).
func TenantAuth(resolver *identity.Resolver) fiber.Handler {
	return func(c *fiber.Ctx) error {
		tenant, err := resolver.ResolveTenant(c.Context(), c.Get(fiber.HeaderAuthorization))
		if err != nil {
			return WriteError(c, err)
		}
		c.Locals(tenantLocalsKey, tenant)
		return c.Next()
	}
}

// AdminAuth guards /v1/admin/* with a constant-time compare against the
// configured admin token (§6).
func AdminAuth(adminToken string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if !identity.IsAdmin(c.Get(fiber.HeaderAuthorization), adminToken) {
			return WriteError(c, apierr.Unauthorized("admin token required"))
		}
		return c.Next()
	}
}

// TenantFromLocals retrieves the tenant TenantAuth placed in context.
func TenantFromLocals(c *fiber.Ctx) persistence.Tenant {
	return c.Locals(tenantLocalsKey).(persistence.Tenant)
}

// Package middleware holds the Fiber middleware stack for the mux HTTP
// server: panic recovery (adapted from the teacher's
// ui/rest/middleware/recovery.go, generalized from pkg/error.GenericError
// to apierr.GenericError), request-id propagation, and auth extraction.
package middleware

import (
	"fmt"

	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"

	"github.com/relaymux/mux/internal/platform/apierr"
)

// ErrorResponse is the JSON shape every error response takes (§7): a flat
// {ok:false, error, code} with no stack trace.
type ErrorResponse struct {
	OK    bool   `json:"ok"`
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

// Recovery turns a panic into a structured JSON response instead of a
// crashed connection (§7 "no global panic; failures in one component never
// crash the server"). Errors a handler returns are not handled here.
func Recovery(log *logrus.Logger) fiber.Handler {
	return func(c *fiber.Ctx) (retErr error) {
		defer func() {
			if r := recover(); r != nil {
				log.WithField("request_id", c.Locals("requestId")).Errorf("panic recovered: %v", r)
				retErr = WriteError(c, apierr.Internal(fmt.Sprintf("%v", r)))
			}
		}()
		return c.Next()
	}
}

// WriteError maps err to its HTTP status/code and writes the §7 envelope.
// Handlers call this directly for returned (non-panic) errors; Recovery
// calls it for recovered panics.
func WriteError(c *fiber.Ctx, err error) error {
	status, code := apierr.StatusAndCode(err)
	body := ErrorResponse{OK: false, Error: err.Error(), Code: code}
	if details, ok := apierr.AsUpstream(err); ok {
		return c.Status(status).JSON(fiber.Map{"ok": false, "error": err.Error(), "code": code, "details": details})
	}
	return c.Status(status).JSON(body)
}

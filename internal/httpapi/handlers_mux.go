package httpapi

import (
	"context"
	"encoding/json"

	"github.com/gofiber/fiber/v2"

	"github.com/relaymux/mux/internal/dispatch"
	"github.com/relaymux/mux/internal/httpapi/middleware"
	"github.com/relaymux/mux/internal/idempotency"
	"github.com/relaymux/mux/internal/platform/apierr"
)

const idempotencyKeyHeader = "Idempotency-Key"

// outboundSend implements POST /v1/mux/outbound/send (§4.6/§6). When the
// caller supplies an Idempotency-Key header, the dispatch runs through the
// coalescing coordinator (§4.5); otherwise it runs directly.
func (s *Server) outboundSend(c *fiber.Ctx) error {
	tenant := middleware.TenantFromLocals(c)
	raw := c.Body()

	var req dispatch.OutboundRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		return middleware.WriteError(c, apierr.Validation("malformed JSON body"))
	}

	run := func(ctx context.Context) (idempotency.Result, error) {
		result, err := s.dispatcher.Send(ctx, tenant.ID, req)
		if err != nil {
			return idempotency.Result{}, err
		}
		body, marshalErr := json.Marshal(result)
		if marshalErr != nil {
			return idempotency.Result{}, marshalErr
		}
		return idempotency.Result{Status: fiber.StatusOK, Body: body}, nil
	}

	key := c.Get(idempotencyKeyHeader)
	var (
		result idempotency.Result
		err    error
	)
	if key != "" {
		result, err = s.idempotency.Run(c.Context(), tenant.ID, key, raw, run)
	} else {
		result, err = run(c.Context())
	}
	if err != nil {
		return middleware.WriteError(c, err)
	}
	c.Status(result.Status)
	c.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	return c.Send(result.Body)
}

// outboundTyping implements POST /v1/mux/outbound/typing (§6): a
// fire-and-forget shortcut, never idempotency-wrapped since it has no
// meaningful replay semantics.
func (s *Server) outboundTyping(c *fiber.Ctx) error {
	tenant := middleware.TenantFromLocals(c)
	var req typingRequest
	if err := c.BodyParser(&req); err != nil {
		return middleware.WriteError(c, apierr.Validation("malformed JSON body"))
	}
	if err := req.Validate(); err != nil {
		return middleware.WriteError(c, apierr.Validation(err.Error()))
	}

	outReq := dispatch.OutboundRequest{Channel: req.Channel, SessionKey: req.SessionKey, Op: "action", Action: "typing"}
	if _, err := s.dispatcher.Send(c.Context(), tenant.ID, outReq); err != nil {
		return middleware.WriteError(c, err)
	}
	return c.JSON(fiber.Map{"ok": true})
}

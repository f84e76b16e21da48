package httpapi

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/helmet"
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/websocket/v2"
	"github.com/sirupsen/logrus"

	"github.com/relaymux/mux/internal/dispatch"
	"github.com/relaymux/mux/internal/httpapi/middleware"
	"github.com/relaymux/mux/internal/idempotency"
	"github.com/relaymux/mux/internal/identity"
	"github.com/relaymux/mux/internal/pairing"
	"github.com/relaymux/mux/internal/persistence"
	"github.com/relaymux/mux/internal/platform/config"
	"github.com/relaymux/mux/internal/retryqueue"
)

// Server owns the Fiber app and every dependency its handlers need — the
// "Server struct constructed at startup, owning all dependencies" the
// spec's DESIGN NOTES (§9) call for in place of global mutable state.
type Server struct {
	app *fiber.App

	cfg         *config.Config
	log         *logrus.Logger
	db          *persistence.DB
	identity    *identity.Resolver
	pairing     *pairing.Engine
	idempotency *idempotency.Coordinator
	dispatcher  *dispatch.Dispatcher
	retryQueue  *retryqueue.Queue
}

type Deps struct {
	Config      *config.Config
	Log         *logrus.Logger
	DB          *persistence.DB
	Identity    *identity.Resolver
	Pairing     *pairing.Engine
	Idempotency *idempotency.Coordinator
	Dispatcher  *dispatch.Dispatcher
	RetryQueue  *retryqueue.Queue
}

// New builds the Fiber app and registers the full route table of §6,
// middleware stack grounded on the vibeshift example's SetupMiddleware
// shape (recover, request-id, structured logger, helmet, cors) since the
// teacher's own cmd/rest.go middleware registration predates the retrieved
// pack's utils package.
func New(d Deps) *Server {
	s := &Server{
		cfg: d.Config, log: d.Log, db: d.DB, identity: d.Identity,
		pairing: d.Pairing, idempotency: d.Idempotency, dispatcher: d.Dispatcher,
		retryQueue: d.RetryQueue,
	}

	app := fiber.New(fiber.Config{
		DisableStartupMessage: true,
		ReadTimeout:            30 * time.Second,
		WriteTimeout:           30 * time.Second,
	})

	app.Use(recover.New())
	app.Use(middleware.RequestID())
	app.Use(fiberlogger.New(fiberlogger.Config{
		Format: "${time} ${locals:requestId} ${status} ${method} ${path} ${latency}\n",
	}))
	app.Use(helmet.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowHeaders: "Origin, Content-Type, Accept, Authorization, " + idempotencyKeyHeader,
	}))
	app.Use(middleware.Recovery(d.Log))

	s.app = app
	s.registerRoutes()
	return s
}

func (s *Server) registerRoutes() {
	app := s.app

	app.Get("/health", s.health)

	admin := app.Group("/v1/admin", middleware.AdminAuth(s.cfg.AdminToken))
	admin.Post("/tenants/bootstrap", s.bootstrapTenant)
	admin.Get("/health/detailed", s.detailedHealth)
	admin.Use("/audit/tail", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return c.SendStatus(fiber.StatusUpgradeRequired)
	})
	admin.Get("/audit/tail", websocket.New(s.auditTailHandler))

	tenantAuth := middleware.TenantAuth(s.identity)

	app.Get("/v1/tenant/inbound-target", tenantAuth, s.getInboundTarget)
	app.Post("/v1/tenant/inbound-target", tenantAuth, s.setInboundTarget)

	app.Get("/v1/pairings", tenantAuth, s.listPairings)
	app.Post("/v1/pairings/token", tenantAuth, s.issuePairingToken)
	app.Post("/v1/pairings/claim", tenantAuth, s.claimPairingCode)
	app.Post("/v1/pairings/unbind", tenantAuth, s.unbind)

	app.Post("/v1/mux/outbound/send", tenantAuth, s.outboundSend)
	app.Post("/v1/mux/outbound/typing", tenantAuth, s.outboundTyping)
}

// auditTailHandler streams recently appended audit rows to an admin
// websocket client, polling the table every second since sqlite has no
// native change-feed (§9 supplemented observability).
func (s *Server) auditTailHandler(conn *websocket.Conn) {
	defer conn.Close()
	feed := s.auditTailFeed()
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for range ticker.C {
		payload, err := feed()
		if err != nil {
			s.log.WithError(err).Warn("audit tail: feed error")
			return
		}
		if payload == nil {
			continue
		}
		if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
			return
		}
	}
}

// Listen starts the HTTP server; it blocks until the listener stops.
func (s *Server) Listen(addr string) error {
	return s.app.Listen(addr)
}

// Shutdown gracefully stops the HTTP server (§5 cancellation: "HTTP
// requests in flight complete").
func (s *Server) Shutdown() error {
	return s.app.ShutdownWithTimeout(10 * time.Second)
}

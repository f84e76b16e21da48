// Package app wires every mux component into a single Server struct
// constructed at startup — the shape the spec's DESIGN NOTES (§9) call
// for in place of global mutable state — and owns its start/stop lifecycle.
package app

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
	valkeylib "github.com/valkey-io/valkey-go"

	"github.com/relaymux/mux/internal/cache"
	"github.com/relaymux/mux/internal/dispatch"
	"github.com/relaymux/mux/internal/forward"
	"github.com/relaymux/mux/internal/httpapi"
	"github.com/relaymux/mux/internal/identity"
	"github.com/relaymux/mux/internal/idempotency"
	"github.com/relaymux/mux/internal/pairing"
	"github.com/relaymux/mux/internal/persistence"
	"github.com/relaymux/mux/internal/platform/config"
	"github.com/relaymux/mux/internal/platform/logging"
	"github.com/relaymux/mux/internal/providers/discord"
	"github.com/relaymux/mux/internal/providers/telegram"
	"github.com/relaymux/mux/internal/providers/whatsapp"
	"github.com/relaymux/mux/internal/retryqueue"
	"github.com/relaymux/mux/internal/routes"
)

const whatsappAccount = "default"

// App owns every long-lived mux component: the HTTP server, the three
// inbound pollers, and the WhatsApp retry queue worker.
type App struct {
	cfg *config.Config
	log *logrus.Logger
	db  *persistence.DB

	http *httpapi.Server

	telegramPoller *telegram.Poller
	discordClient  *discord.Client
	discordPoller  *discord.Poller
	whatsappRT     whatsapp.Runtime
	retryQueue     *retryqueue.Queue

	cancel context.CancelFunc
}

// Bootstrap constructs every component described in §4 from cfg, wiring
// teacher-grounded concrete implementations (sqlite persistence, whatsmeow
// runtime, discordgo client, raw-HTTP telegram client) behind their
// respective seams.
func Bootstrap(cfg *config.Config) (*App, error) {
	logger, err := logging.Init(cfg.LogFilePath, false)
	if err != nil {
		return nil, err
	}

	db, err := persistence.Open(cfg.DatabasePath, logging.Component(logger, "persistence"))
	if err != nil {
		return nil, err
	}

	if err := SeedFromConfig(db, cfg); err != nil {
		return nil, err
	}

	idResolver := identity.NewResolver(db)
	routeResolver := routes.NewResolver(db)
	pairingEngine := pairing.NewEngine(db, routeResolver,
		time.Duration(cfg.PairingTokenTTLSeconds)*time.Second,
		time.Duration(cfg.PairingTokenTTLMaxSeconds)*time.Second)
	idemCoordinator := idempotency.NewCoordinator(db, time.Duration(cfg.IdempotencyTTLSeconds)*time.Second)
	fw := forward.NewForwarder()

	var vk valkeylib.Client
	if cfg.ValkeyEnabled {
		client, vkErr := valkeylib.NewClient(valkeylib.ClientOption{InitAddress: []string{cfg.ValkeyAddress}})
		if vkErr != nil {
			return nil, vkErr
		}
		vk = client
	}
	guildCache := cache.New(vk, "discord:guild")
	dmCache := cache.New(vk, "discord:dm")

	tgClient := telegram.NewClient(cfg.TelegramBaseURL, cfg.TelegramBotToken)
	var tgPoller *telegram.Poller
	if cfg.TelegramEnabled {
		tgPoller = telegram.NewPoller(tgClient, db, routeResolver, pairingEngine, fw,
			logging.Component(logger, "telegram"), cfg.MaxImageBytes)
	}

	var (
		dcClient *discord.Client
		dcPoller *discord.Poller
	)
	if cfg.DiscordEnabled {
		dcClient, err = discord.NewClient(cfg.DiscordBotToken, guildCache, dmCache)
		if err != nil {
			return nil, err
		}
		dcPoller = discord.NewPoller(dcClient, db, pairingEngine, fw,
			logging.Component(logger, "discord"), time.Duration(cfg.DiscordPollIntervalMs)*time.Millisecond,
			cfg.MaxImageBytes)
	}

	var waRuntime whatsapp.Runtime
	var retryQueue *retryqueue.Queue
	if cfg.WhatsAppEnabled {
		wmRuntime := whatsapp.NewWhatsmeowRuntime(cfg.WhatsAppAuthDir, logging.Component(logger, "whatsapp"))
		waRuntime = wmRuntime
		listener := whatsapp.NewListener(waRuntime, db, pairingEngine, fw, logging.Component(logger, "whatsapp-listener"))
		retryQueue = retryqueue.New(db, retryqueue.Config{
			BatchSize: cfg.WhatsAppBatchSize,
			InitialMs: cfg.WhatsAppRetryInitialMs,
			MaxMs:     cfg.WhatsAppRetryMaxMs,
		}, logging.Component(logger, "whatsapp-queue"), listener.Handle)
		listener.Attach(retryQueue, whatsappAccount)
	} else {
		// Detailed health and the dispatcher's WhatsApp sender still need a
		// queue/runtime to talk to even when disabled; a fake keeps both
		// wired without a live session (§9 WhatsAppRuntime seam).
		waRuntime = whatsapp.NewFakeRuntime()
		retryQueue = retryqueue.New(db, retryqueue.Config{
			BatchSize: cfg.WhatsAppBatchSize,
			InitialMs: cfg.WhatsAppRetryInitialMs,
			MaxMs:     cfg.WhatsAppRetryMaxMs,
		}, logging.Component(logger, "whatsapp-queue"), func(ctx context.Context, row persistence.WhatsAppQueueRow) error { return nil })
	}
	waSender := whatsapp.NewSender(waRuntime)

	dispatcher := dispatch.NewDispatcher(routeResolver, tgClient,
		dispatchDiscordSenderOrNil(dcClient), waSender)

	httpServer := httpapi.New(httpapi.Deps{
		Config: cfg, Log: logger, DB: db, Identity: idResolver, Pairing: pairingEngine,
		Idempotency: idemCoordinator, Dispatcher: dispatcher, RetryQueue: retryQueue,
	})

	return &App{
		cfg: cfg, log: logger, db: db, http: httpServer,
		telegramPoller: tgPoller, discordClient: dcClient, discordPoller: dcPoller,
		whatsappRT: waRuntime, retryQueue: retryQueue,
	}, nil
}

// dispatchDiscordSenderOrNil returns nil typed as dispatch.DiscordSender
// when Discord is disabled; dispatch only calls it for discord-channel
// sends, which validation/resolution will never route to in that case
// because no active discord binding can exist.
func dispatchDiscordSenderOrNil(c *discord.Client) dispatch.DiscordSender {
	if c == nil {
		return nil
	}
	return c
}

// Run starts every enabled background task and blocks serving HTTP until
// ctx is cancelled, then drains in reverse dependency order (§5
// cancellation semantics).
func (a *App) Run(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	a.cancel = cancel

	if a.discordClient != nil {
		if err := a.discordClient.Open(); err != nil {
			return err
		}
	}
	if a.cfg.WhatsAppEnabled {
		if err := a.whatsappRT.Connect(runCtx, whatsappAccount); err != nil {
			a.log.WithError(err).Warn("whatsapp connect failed; inbound/outbound whatsapp will error")
		}
	}

	if a.telegramPoller != nil {
		go a.telegramPoller.Run(runCtx)
	}
	if a.discordPoller != nil {
		go a.discordPoller.Run(runCtx)
	}
	if a.retryQueue != nil {
		if err := a.retryQueue.Start(runCtx); err != nil {
			return err
		}
	}

	errCh := make(chan error, 1)
	go func() { errCh <- a.http.Listen(a.cfg.Host + ":" + a.cfg.Port) }()

	select {
	case <-runCtx.Done():
		return a.Shutdown()
	case err := <-errCh:
		return err
	}
}

// Shutdown stops every component; HTTP shuts down last so in-flight
// requests complete (§5).
func (a *App) Shutdown() error {
	if a.retryQueue != nil {
		a.retryQueue.Stop()
	}
	if a.discordClient != nil {
		_ = a.discordClient.Close()
	}
	return a.http.Shutdown()
}

// SeedFromConfig applies MUX_TENANT_SEED/MUX_PAIRING_CODE_SEED idempotently;
// shared by Bootstrap's startup path and the standalone `mux seed` command.
func SeedFromConfig(db *persistence.DB, cfg *config.Config) error {
	now := time.Now().UnixMilli()
	ctx := context.Background()
	for _, t := range cfg.TenantSeeds {
		timeoutMs := t.InboundTimeoutMs
		if timeoutMs <= 0 {
			timeoutMs = 15000
		}
		if err := db.BootstrapTenant(ctx, persistence.Tenant{
			ID: t.ID, Name: t.Name, APIKeyHash: identity.HashAPIKey(t.APIKey),
			Status: persistence.TenantActive, InboundURL: t.InboundURL,
			InboundTimeoutMs: timeoutMs, CreatedAtMs: now, UpdatedAtMs: now,
		}); err != nil {
			return err
		}
	}
	for _, c := range cfg.PairingCodeSeeds {
		expires := now + c.ExpiresInMs
		if c.ExpiresInMs <= 0 {
			expires = now + int64(24*time.Hour/time.Millisecond)
		}
		if err := db.SeedPairingCode(ctx, persistence.PairingCode{
			Code: c.Code, Channel: c.Channel, RouteKey: c.RouteKey, Scope: c.Scope,
			ExpiresAtMs: expires,
		}); err != nil {
			return err
		}
	}
	return nil
}

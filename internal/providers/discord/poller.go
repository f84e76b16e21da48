package discord

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/sirupsen/logrus"

	"github.com/relaymux/mux/internal/attachments"
	"github.com/relaymux/mux/internal/forward"
	"github.com/relaymux/mux/internal/pairing"
	"github.com/relaymux/mux/internal/persistence"
	"github.com/relaymux/mux/internal/routes"
)

const pairingTokenPrefix = "mpt_"

// defaultMaxAttachmentBytes bounds inbound image downloads when the poller
// is constructed with a non-positive cap (§4.7/§6 media byte cap); config
// itself defaults MUX_MAX_IMAGE_BYTES to 20 MiB.
const defaultMaxAttachmentBytes = 8 * 1024 * 1024

// Poller implements the §4.7 Discord REST polling loop: per active or
// pending binding, fetch new messages after the stored offset on a fixed
// interval.
type Poller struct {
	client             *Client
	db                 *persistence.DB
	pairing            *pairing.Engine
	forwarder          *forward.Forwarder
	log                *logrus.Entry
	interval           time.Duration
	maxAttachmentBytes int64
}

func NewPoller(client *Client, db *persistence.DB, eng *pairing.Engine, fw *forward.Forwarder, log *logrus.Entry, interval time.Duration, maxAttachmentBytes int64) *Poller {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	return &Poller{client: client, db: db, pairing: eng, forwarder: fw, log: log, interval: interval, maxAttachmentBytes: maxAttachmentBytes}
}

// attachmentCap returns the configured inbound image byte cap, falling back
// to defaultMaxAttachmentBytes when unset.
func (p *Poller) attachmentCap() int64 {
	if p.maxAttachmentBytes > 0 {
		return p.maxAttachmentBytes
	}
	return defaultMaxAttachmentBytes
}

func (p *Poller) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			p.pass(ctx)
		}
	}
}

func (p *Poller) pass(ctx context.Context) {
	bindings, err := p.db.ListBindingsByChannel(ctx, routes.ChannelDiscord)
	if err != nil {
		p.log.WithError(err).Error("discord poll: list bindings")
		return
	}
	for _, b := range bindings {
		p.pollBinding(ctx, b)
	}
}

func (p *Poller) pollBinding(ctx context.Context, b persistence.Binding) {
	route, err := routes.ParseDiscordRoute(b.RouteKey)
	if err != nil {
		return
	}
	channelID, err := p.client.resolveChannelID(ctx, route)
	if err != nil {
		p.log.WithError(err).Warn("discord poll: resolve channel")
		return
	}

	lastID, err := p.db.DiscordOffset(ctx, b.ID)
	if err != nil {
		p.log.WithError(err).Error("discord poll: load offset")
		return
	}

	messages, err := p.client.session.ChannelMessages(channelID, 50, "", lastID, "")
	if err != nil {
		p.log.WithError(err).Warn("discord poll: list messages")
		return
	}
	// Discord returns newest-first; process in ascending snowflake order
	// (§5 ordering guarantee).
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}

	for _, m := range messages {
		if m.Author == nil || m.Author.ID == "" {
			lastID = m.ID
			_ = p.db.AdvanceDiscordOffset(ctx, b.ID, lastID)
			continue
		}
		if m.Author.Bot {
			lastID = m.ID
			_ = p.db.AdvanceDiscordOffset(ctx, b.ID, lastID)
			continue
		}

		if !p.processMessage(ctx, b, route, m) {
			return // forward failed: halt this binding's pass, retry next tick
		}
		lastID = m.ID
		if err := p.db.AdvanceDiscordOffset(ctx, b.ID, lastID); err != nil {
			p.log.WithError(err).Error("discord poll: advance offset")
			return
		}
	}
}

func (p *Poller) processMessage(ctx context.Context, b persistence.Binding, route routes.DiscordRoute, m *discordgo.Message) bool {
	token, hasToken := extractPairingToken(m.Content)

	if b.Status == persistence.BindingPending {
		if hasToken {
			result, ok, err := p.pairing.RedeemTokenForDiscord(ctx, token)
			if err != nil {
				p.log.WithError(err).Error("discord token redemption failed")
				return true
			}
			if ok && result.BindingID == b.ID {
				_, _ = p.client.session.ChannelMessageSend(m.ChannelID, "Paired successfully.")
			}
		}
		return true
	}

	tenant, err := p.db.TenantByID(ctx, b.TenantID)
	if err != nil {
		return false
	}
	sessionKey, _ := routes.DefaultSessionKey(routes.ChannelDiscord, b.RouteKey)

	// Download any image-typed attachment to base64, bounded by the
	// configured byte cap (§4.7).
	var atts []*attachments.Attachment
	for _, a := range m.Attachments {
		if !strings.HasPrefix(a.ContentType, "image/") {
			continue
		}
		att, err := attachments.Fetch(http.DefaultClient, a.URL, a.Filename, p.attachmentCap())
		if err != nil {
			p.log.WithError(err).Warn("discord: download attachment")
			continue
		}
		if att != nil {
			atts = append(atts, att)
		}
	}

	chatType := "guild"
	if route.IsDM() {
		chatType = "direct"
	}
	raw, _ := json.Marshal(m)
	env := forward.Envelope{
		EventID:     fmt.Sprintf("discord:%s:%s", m.ChannelID, m.ID),
		Channel:     routes.ChannelDiscord,
		Event:       forward.EnvelopeEvent{Kind: "message", Raw: raw},
		SessionKey:  sessionKey,
		Body:        m.Content,
		From:        m.Author.ID,
		AccountID:   account,
		ChatType:    chatType,
		MessageID:   m.ID,
		TimestampMs: m.Timestamp.UnixMilli(),
		Attachments: atts,
	}
	target := forward.Target{URL: tenant.InboundURL, Token: tenant.InboundToken, TimeoutMs: tenant.InboundTimeoutMs}
	if err := p.forwarder.Send(ctx, target, env); err != nil {
		p.log.WithError(err).Warn("discord forward failed, will retry next pass")
		return false
	}
	return true
}

func extractPairingToken(text string) (string, bool) {
	for _, field := range strings.Fields(strings.TrimSpace(text)) {
		if strings.HasPrefix(field, pairingTokenPrefix) {
			return field, true
		}
	}
	return "", false
}

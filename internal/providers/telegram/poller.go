package telegram

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/relaymux/mux/internal/attachments"
	"github.com/relaymux/mux/internal/forward"
	"github.com/relaymux/mux/internal/pairing"
	"github.com/relaymux/mux/internal/persistence"
	"github.com/relaymux/mux/internal/routes"
)

const pairingTokenPrefix = "mpt_"
const account = "default" // single bot token per deployment (§4.7)

// defaultMaxAttachmentBytes bounds inbound image downloads when the poller
// is constructed with a non-positive cap (§4.7/§6 media byte cap); config
// itself defaults MUX_MAX_IMAGE_BYTES to 20 MiB.
const defaultMaxAttachmentBytes = 8 * 1024 * 1024

type update struct {
	UpdateID      int64           `json:"update_id"`
	Message       *message        `json:"message"`
	EditedMessage *message        `json:"edited_message"`
	CallbackQuery *callbackQuery  `json:"callback_query"`
}

type message struct {
	MessageID       int64      `json:"message_id"`
	Date            int64      `json:"date"`
	Text            string     `json:"text"`
	MessageThreadID int64      `json:"message_thread_id"`
	Chat            chat       `json:"chat"`
	Photo           []photo    `json:"photo"`
	Document        *document  `json:"document"`
}

type chat struct {
	ID int64 `json:"id"`
}

type photo struct {
	FileID string `json:"file_id"`
}

type document struct {
	FileID   string `json:"file_id"`
	MimeType string `json:"mime_type"`
	FileName string `json:"file_name"`
}

type callbackQuery struct {
	ID      string   `json:"id"`
	Message *message `json:"message"`
	Data    string   `json:"data"`
}

// Poller runs the §4.7 Telegram long-poll loop.
type Poller struct {
	client    *Client
	db        *persistence.DB
	resolver  *routes.Resolver
	pairing   *pairing.Engine
	forwarder *forward.Forwarder
	log       *logrus.Entry

	maxAttachmentBytes int64
}

func NewPoller(client *Client, db *persistence.DB, resolver *routes.Resolver, eng *pairing.Engine, fw *forward.Forwarder, log *logrus.Entry, maxAttachmentBytes int64) *Poller {
	return &Poller{client: client, db: db, resolver: resolver, pairing: eng, forwarder: fw, log: log, maxAttachmentBytes: maxAttachmentBytes}
}

// attachmentCap returns the configured inbound image byte cap, falling back
// to defaultMaxAttachmentBytes when unset.
func (p *Poller) attachmentCap() int64 {
	if p.maxAttachmentBytes > 0 {
		return p.maxAttachmentBytes
	}
	return defaultMaxAttachmentBytes
}

// Run polls getUpdates until ctx is cancelled. On cold start it first skips
// backlog by fetching only the latest update (§4.7 "Bootstrap skips backlog
// by fetching the latest update once at cold start").
func (p *Poller) Run(ctx context.Context) error {
	offset, err := p.db.TelegramOffset(ctx)
	if err != nil {
		return err
	}
	if offset == 0 {
		if latest, err := p.fetchLatestOnly(ctx); err == nil && latest > 0 {
			offset = latest
			_ = p.db.AdvanceTelegramOffset(ctx, offset)
		}
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		updates, err := p.getUpdates(ctx, offset+1, 25*time.Second)
		if err != nil {
			p.log.WithError(err).Error("telegram poll failed")
			time.Sleep(time.Second)
			continue
		}
		for _, u := range updates {
			if !p.processUpdate(ctx, u) {
				// Forward failed; stop this pass so no later update_id is
				// acked before this one (§5 ordering guarantee). The next
				// pass re-fetches from the same offset.
				time.Sleep(time.Second)
				break
			}
			offset = u.UpdateID
			if err := p.db.AdvanceTelegramOffset(ctx, offset); err != nil {
				p.log.WithError(err).Error("advance telegram offset")
				time.Sleep(time.Second)
				break
			}
		}
	}
}

func (p *Poller) fetchLatestOnly(ctx context.Context) (int64, error) {
	updates, err := p.getUpdates(ctx, -1, 0)
	if err != nil || len(updates) == 0 {
		return 0, err
	}
	return updates[len(updates)-1].UpdateID, nil
}

func (p *Poller) getUpdates(ctx context.Context, offset int64, timeout time.Duration) ([]update, error) {
	body, _ := json.Marshal(map[string]any{
		"offset":          offset,
		"timeout":         int(timeout.Seconds()),
		"allowed_updates": []string{"message", "edited_message", "callback_query"},
	})
	result, err := p.client.call(ctx, "getUpdates", body)
	if err != nil {
		return nil, err
	}
	var updates []update
	if err := json.Unmarshal(result, &updates); err != nil {
		return nil, err
	}
	return updates, nil
}

// processUpdate returns false when the tenant forward failed, signaling the
// caller to halt the pass without acking.
func (p *Poller) processUpdate(ctx context.Context, u update) bool {
	switch {
	case u.CallbackQuery != nil:
		return p.processCallback(ctx, u.CallbackQuery)
	case u.Message != nil:
		return p.processMessage(ctx, u.Message)
	case u.EditedMessage != nil:
		return true // edits are not forwarded, only original messages
	default:
		return true
	}
}

func (p *Poller) routeKeyFor(m *message) string {
	r := routes.TelegramRoute{Account: account, ChatID: strconv.FormatInt(m.Chat.ID, 10)}
	if m.MessageThreadID != 0 {
		r.TopicID = strconv.FormatInt(m.MessageThreadID, 10)
	}
	return r.Key()
}

func (p *Poller) chatRouteKeyFallback(m *message) string {
	return routes.TelegramRoute{Account: account, ChatID: strconv.FormatInt(m.Chat.ID, 10)}.Key()
}

func (p *Poller) processMessage(ctx context.Context, m *message) bool {
	// Topic-first resolution, chat-level fallback (§4.4 reverse resolution).
	binding, err := p.resolver.Reverse(ctx, routes.ChannelTelegram, p.routeKeyFor(m))
	if err == persistence.ErrNotFound && m.MessageThreadID != 0 {
		binding, err = p.resolver.Reverse(ctx, routes.ChannelTelegram, p.chatRouteKeyFallback(m))
	}

	token, hasToken := extractPairingToken(m.Text)

	if err != nil {
		if hasToken {
			result, ok, redeemErr := p.pairing.RedeemTokenForTelegramOrWhatsApp(ctx, token, routes.ChannelTelegram, p.routeKeyFor(m))
			if redeemErr != nil {
				p.log.WithError(redeemErr).Error("telegram token redemption failed")
				return true
			}
			if ok {
				p.client.notifyBestEffort(ctx, m.Chat.ID, "Paired successfully.")
				return p.forwardBinding(ctx, result.Channel, result.RouteKey, "", m.Chat.ID)
			}
		}
		if strings.HasPrefix(strings.TrimSpace(m.Text), "/") {
			p.client.notifyBestEffort(ctx, m.Chat.ID, "This chat isn't paired yet.")
		}
		return true
	}

	// Bound chat: ignore stray pairing tokens (§4.3 "If bound and a pairing
	// token appears, ignore it.").
	return p.forward(ctx, binding, m)
}

func (p *Poller) forwardBinding(ctx context.Context, channel, routeKey, body string, chatID int64) bool {
	// Used only for the just-paired notice path; no message content to
	// forward since pairing consumed the triggering text.
	return true
}

func (p *Poller) forward(ctx context.Context, binding persistence.Binding, m *message) bool {
	tenant, err := p.db.TenantByID(ctx, binding.TenantID)
	if err != nil {
		p.log.WithError(err).Error("telegram forward: load tenant")
		return false
	}

	sessionKey, _ := routes.DefaultSessionKey(routes.ChannelTelegram, binding.RouteKey)

	// Download the largest photo and image-type documents as base64
	// attachments, bounded by the configured byte cap (§4.7).
	var atts []*attachments.Attachment
	if len(m.Photo) > 0 {
		// Largest photo is last in Telegram's size-ascending array.
		if url, err := p.client.downloadFileURL(ctx, m.Photo[len(m.Photo)-1].FileID); err == nil {
			if att, ferr := attachments.Fetch(p.client.httpClient, url, "", p.attachmentCap()); ferr == nil && att != nil {
				atts = append(atts, att)
			} else if ferr != nil {
				p.log.WithError(ferr).Warn("telegram: download photo attachment")
			}
		}
	} else if m.Document != nil && strings.HasPrefix(m.Document.MimeType, "image/") {
		if url, err := p.client.downloadFileURL(ctx, m.Document.FileID); err == nil {
			if att, ferr := attachments.Fetch(p.client.httpClient, url, m.Document.FileName, p.attachmentCap()); ferr == nil && att != nil {
				atts = append(atts, att)
			} else if ferr != nil {
				p.log.WithError(ferr).Warn("telegram: download document attachment")
			}
		}
	}

	env := forward.Envelope{
		EventID:     fmt.Sprintf("telegram:%d:%d", m.Chat.ID, m.MessageID),
		Channel:     routes.ChannelTelegram,
		Event:       forward.EnvelopeEvent{Kind: "message"},
		SessionKey:  sessionKey,
		Body:        m.Text,
		AccountID:   account,
		ChatType:    "chat",
		MessageID:   strconv.FormatInt(m.MessageID, 10),
		TimestampMs: m.Date * 1000,
		Attachments: atts,
	}
	if m.MessageThreadID != 0 {
		env.ThreadID = strconv.FormatInt(m.MessageThreadID, 10)
	}

	target := forward.Target{URL: tenant.InboundURL, Token: tenant.InboundToken, TimeoutMs: tenant.InboundTimeoutMs}
	if err := p.forwarder.Send(ctx, target, env); err != nil {
		p.log.WithError(err).Warn("telegram forward failed, will retry next pass")
		return false
	}
	return true
}

func (p *Poller) processCallback(ctx context.Context, cq *callbackQuery) bool {
	if cq.Message == nil {
		return true
	}
	binding, err := p.resolver.Reverse(ctx, routes.ChannelTelegram, p.routeKeyFor(cq.Message))
	if err != nil {
		p.client.AnswerCallbackQuery(ctx, cq.ID, "This chat isn't paired.")
		return true
	}
	tenant, err := p.db.TenantByID(ctx, binding.TenantID)
	if err != nil {
		return false
	}
	sessionKey, _ := routes.DefaultSessionKey(routes.ChannelTelegram, binding.RouteKey)
	raw, _ := json.Marshal(cq)
	env := forward.Envelope{
		EventID:     fmt.Sprintf("telegram:callback:%s", cq.ID),
		Channel:     routes.ChannelTelegram,
		Event:       forward.EnvelopeEvent{Kind: "callback", Raw: raw},
		SessionKey:  sessionKey,
		Body:        cq.Data,
		AccountID:   account,
		ChatType:    "chat",
	}
	target := forward.Target{URL: tenant.InboundURL, Token: tenant.InboundToken, TimeoutMs: tenant.InboundTimeoutMs}
	if err := p.forwarder.Send(ctx, target, env); err != nil {
		p.log.WithError(err).Warn("telegram callback forward failed")
		return false
	}
	p.client.AnswerCallbackQuery(ctx, cq.ID, "")
	return true
}

// extractPairingToken finds an mpt_ token either as /start argument or
// inline in the text (§4.7 "/start <token> or an inline mpt_…").
func extractPairingToken(text string) (string, bool) {
	text = strings.TrimSpace(text)
	if strings.HasPrefix(text, "/start ") {
		text = strings.TrimPrefix(text, "/start ")
	}
	for _, field := range strings.Fields(text) {
		if strings.HasPrefix(field, pairingTokenPrefix) {
			return field, true
		}
	}
	return "", false
}

func (c *Client) notifyBestEffort(ctx context.Context, chatID int64, text string) {
	body, _ := json.Marshal(map[string]any{"chat_id": chatID, "text": text})
	_, _ = c.call(ctx, "sendMessage", body)
}

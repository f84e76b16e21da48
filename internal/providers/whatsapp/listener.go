package whatsapp

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/relaymux/mux/internal/attachments"
	"github.com/relaymux/mux/internal/forward"
	"github.com/relaymux/mux/internal/pairing"
	"github.com/relaymux/mux/internal/persistence"
	"github.com/relaymux/mux/internal/retryqueue"
	"github.com/relaymux/mux/internal/routes"
)

const pairingTokenPrefix = "mpt_"

// queuedPayload is the snapshot persisted in whatsapp_inbound_queue.payload_json
// (§3 WhatsAppInboundQueueRow).
type queuedPayload struct {
	AccountID   string `json:"accountId"`
	ChatJID     string `json:"chatJid"`
	From        string `json:"from"`
	MessageID   string `json:"messageId"`
	Text        string `json:"text"`
	TimestampMs int64  `json:"timestampMs"`
	MediaPath   string `json:"mediaPath,omitempty"`
	MediaMime   string `json:"mediaMime,omitempty"`
}

// Listener wires Runtime's inbound callback to the durable retry queue, and
// provides the retryqueue.Handler that drains it (§4.7/§4.8).
type Listener struct {
	runtime   Runtime
	db        *persistence.DB
	pairing   *pairing.Engine
	forwarder *forward.Forwarder
	log       *logrus.Entry
}

func NewListener(runtime Runtime, db *persistence.DB, eng *pairing.Engine, fw *forward.Forwarder, log *logrus.Entry) *Listener {
	return &Listener{runtime: runtime, db: db, pairing: eng, forwarder: fw, log: log}
}

// Attach registers the runtime callback that enqueues every inbound message
// onto queue (§4.7: "a long-running listener callback enqueues snapshot
// rows").
func (l *Listener) Attach(queue *retryqueue.Queue, accountID string) {
	l.runtime.SetActiveListener(accountID, func(m InboundMessage) {
		dedupeKey := fmt.Sprintf("%s:%s:%s", m.AccountID, m.ChatJID, m.MessageID)
		if m.MessageID == "" {
			dedupeKey = fmt.Sprintf("%s:%s:synthetic:%d", m.AccountID, m.ChatJID, m.TimestampMs)
		}
		payload, err := json.Marshal(queuedPayload{
			AccountID: m.AccountID, ChatJID: m.ChatJID, From: m.From,
			MessageID: m.MessageID, Text: m.Text, TimestampMs: m.TimestampMs,
			MediaPath: m.MediaPath, MediaMime: m.MediaMime,
		})
		if err != nil {
			l.log.WithError(err).Error("whatsapp listener: marshal payload")
			return
		}
		if err := queue.Enqueue(context.Background(), dedupeKey, string(payload)); err != nil {
			l.log.WithError(err).Error("whatsapp listener: enqueue")
		}
	})
}

// Handle implements retryqueue.Handler: resolve binding, consume a pairing
// token if present, and forward (§4.7/§4.8).
func (l *Listener) Handle(ctx context.Context, row persistence.WhatsAppQueueRow) error {
	var p queuedPayload
	if err := json.Unmarshal([]byte(row.PayloadJSON), &p); err != nil {
		return fmt.Errorf("decode queued payload: %w", err)
	}

	routeKey := routes.WhatsAppRoute{Account: p.AccountID, ChatJID: p.ChatJID}.Key()
	binding, err := l.db.ActiveBindingByRoute(ctx, routes.ChannelWhatsApp, routeKey)

	if err == persistence.ErrNotFound {
		if token, ok := extractPairingToken(p.Text); ok {
			result, redeemed, redeemErr := l.pairing.RedeemTokenForTelegramOrWhatsApp(ctx, token, routes.ChannelWhatsApp, routeKey)
			if redeemErr != nil {
				return redeemErr
			}
			if redeemed {
				_, _ = l.runtime.SendMessage(ctx, p.AccountID, p.ChatJID, "Paired successfully.", nil)
				_ = result
			}
		}
		return nil // not bound and not a pairing message: drop, ack (delete row)
	}
	if err != nil {
		return err
	}

	tenant, err := l.db.TenantByID(ctx, binding.TenantID)
	if err != nil {
		return err
	}
	sessionKey, _ := routes.DefaultSessionKey(routes.ChannelWhatsApp, binding.RouteKey)

	// Image attachments are read from disk and inlined as base64; other
	// media is summarized as channelData.whatsapp.media instead of
	// downloaded (§4.7).
	var atts []*attachments.Attachment
	var media map[string]any
	if p.MediaPath != "" {
		if strings.HasPrefix(p.MediaMime, "image/") {
			if data, err := os.ReadFile(p.MediaPath); err != nil {
				l.log.WithError(err).Warn("whatsapp: read media file")
			} else if att, ferr := attachments.FromBytes(data, filepath.Base(p.MediaPath)); ferr == nil && att != nil {
				atts = append(atts, att)
			}
		} else {
			media = map[string]any{"mimeType": p.MediaMime, "path": p.MediaPath}
		}
	}

	env := forward.Envelope{
		EventID:     fmt.Sprintf("whatsapp:%s:%s", p.ChatJID, row.DedupeKey),
		Channel:     routes.ChannelWhatsApp,
		Event:       forward.EnvelopeEvent{Kind: "message"},
		SessionKey:  sessionKey,
		Body:        p.Text,
		From:        p.From,
		AccountID:   p.AccountID,
		ChatType:    "chat",
		MessageID:   p.MessageID,
		TimestampMs: p.TimestampMs,
		Attachments: atts,
	}
	if media != nil {
		env.ChannelData = map[string]any{"whatsapp": map[string]any{"media": media}}
	}
	target := forward.Target{URL: tenant.InboundURL, Token: tenant.InboundToken, TimeoutMs: tenant.InboundTimeoutMs}
	return l.forwarder.Send(ctx, target, env)
}

func extractPairingToken(text string) (string, bool) {
	for _, field := range strings.Fields(strings.TrimSpace(text)) {
		if strings.HasPrefix(field, pairingTokenPrefix) {
			return field, true
		}
	}
	return "", false
}

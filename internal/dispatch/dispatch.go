// Package dispatch implements the outbound send contract of §4.6: validate
// the request, resolve its route, translate it into a provider call, and
// return a structured result. Providers are reached through small Sender
// interfaces so dispatch itself stays provider-agnostic and testable with
// fakes, the same shape as the WhatsAppRuntime abstraction the spec's
// DESIGN NOTES (§9) call for, generalized to all three channels.
package dispatch

import (
	"context"
	"encoding/json"

	"github.com/relaymux/mux/internal/platform/apierr"
	"github.com/relaymux/mux/internal/routes"
)

// OutboundRequest mirrors the JSON body accepted by
// POST /v1/mux/outbound/send (§4.6).
type OutboundRequest struct {
	RequestID   string          `json:"requestId"`
	Channel     string          `json:"channel"`
	SessionKey  string          `json:"sessionKey"`
	AccountID   string          `json:"accountId,omitempty"`
	To          string          `json:"to,omitempty"`
	Text        string          `json:"text,omitempty"`
	MediaURL    string          `json:"mediaUrl,omitempty"`
	MediaURLs   []string        `json:"mediaUrls,omitempty"`
	ReplyToID   string          `json:"replyToId,omitempty"`
	ThreadID    string          `json:"threadId,omitempty"`
	ChannelData json.RawMessage `json:"channelData,omitempty"`
	Raw         *RawEnvelope    `json:"raw,omitempty"`
	Poll        json.RawMessage `json:"poll,omitempty"`
	Op          string          `json:"op,omitempty"`
	Action      string          `json:"action,omitempty"`
}

type RawEnvelope struct {
	Telegram *TelegramRaw `json:"telegram,omitempty"`
	Discord  *DiscordRaw  `json:"discord,omitempty"`
}

type TelegramRaw struct {
	Method string          `json:"method"`
	Body   json.RawMessage `json:"body"`
}

type DiscordRaw struct {
	Body json.RawMessage `json:"body,omitempty"`
	Send *DiscordTypedSend `json:"send,omitempty"`
}

type DiscordTypedSend struct {
	Text      string   `json:"text,omitempty"`
	MediaURLs []string `json:"mediaUrls,omitempty"`
	ReplyToID string   `json:"replyToId,omitempty"`
}

// Result is the structured outcome returned on 200 (§4.6).
type Result struct {
	OK                 bool     `json:"ok"`
	MessageID          string   `json:"messageId,omitempty"`
	ChatID             string   `json:"chatId,omitempty"`
	ChannelID          string   `json:"channelId,omitempty"`
	ToJID              string   `json:"toJid,omitempty"`
	ProviderMessageIDs []string `json:"providerMessageIds,omitempty"`
}

func (r *OutboundRequest) isAction() bool {
	return r.Op == "action" || r.Action == "typing"
}

// Validate applies the §4.6 validation order.
func (r *OutboundRequest) Validate() error {
	if r.Channel == "" {
		return apierr.Validation("channel required")
	}
	if r.SessionKey == "" {
		return apierr.Validation("sessionKey required")
	}
	switch r.Channel {
	case routes.ChannelTelegram, routes.ChannelDiscord, routes.ChannelWhatsApp:
	default:
		return apierr.Validation("unsupported channel")
	}
	if r.isAction() {
		return nil
	}
	if r.Text == "" && r.MediaURL == "" && len(r.MediaURLs) == 0 && r.Raw == nil {
		return apierr.Validation("text, mediaUrl(s), or raw required")
	}
	if r.Channel == routes.ChannelTelegram && r.Raw == nil {
		// §4.6/§9: legacy non-raw Telegram envelopes are rejected, no shim.
		return apierr.Validation("raw.telegram required for telegram sends")
	}
	if r.Channel == routes.ChannelTelegram && r.Raw.Telegram == nil {
		return apierr.Validation("raw.telegram required for telegram sends")
	}
	return nil
}

// Dispatcher ties route resolution to the per-channel Sender.
type Dispatcher struct {
	resolver *routes.Resolver
	telegram TelegramSender
	discord  DiscordSender
	whatsapp WhatsAppSender
}

func NewDispatcher(resolver *routes.Resolver, tg TelegramSender, dc DiscordSender, wa WhatsAppSender) *Dispatcher {
	return &Dispatcher{resolver: resolver, telegram: tg, discord: dc, whatsapp: wa}
}

// Send implements POST /v1/mux/outbound/send end to end (minus idempotency,
// which wraps this at the HTTP layer).
func (d *Dispatcher) Send(ctx context.Context, tenantID string, req OutboundRequest) (Result, error) {
	if err := req.Validate(); err != nil {
		return Result{}, err
	}

	route, err := d.resolver.Forward(ctx, tenantID, req.Channel, req.SessionKey)
	if err != nil {
		return Result{}, err
	}

	if req.isAction() {
		return d.dispatchTyping(ctx, route, req)
	}

	switch req.Channel {
	case routes.ChannelTelegram:
		return d.dispatchTelegram(ctx, route, req)
	case routes.ChannelDiscord:
		return d.dispatchDiscord(ctx, route, req)
	case routes.ChannelWhatsApp:
		return d.dispatchWhatsApp(ctx, route, req)
	default:
		return Result{}, apierr.Validation("unsupported channel")
	}
}

func (d *Dispatcher) dispatchTyping(ctx context.Context, route routes.ResolvedRoute, req OutboundRequest) (Result, error) {
	switch route.Channel {
	case routes.ChannelTelegram:
		tr, err := routes.ParseTelegramRoute(route.RouteKey)
		if err != nil {
			return Result{}, err
		}
		if err := d.telegram.SendTyping(ctx, tr); err != nil {
			return Result{}, apierr.Upstream("telegram typing failed", err.Error())
		}
	case routes.ChannelDiscord:
		dr, err := routes.ParseDiscordRoute(route.RouteKey)
		if err != nil {
			return Result{}, err
		}
		if err := d.discord.SendTyping(ctx, dr); err != nil {
			return Result{}, apierr.Upstream("discord typing failed", err.Error())
		}
	case routes.ChannelWhatsApp:
		wr, err := routes.ParseWhatsAppRoute(route.RouteKey)
		if err != nil {
			return Result{}, err
		}
		if err := d.whatsapp.SendTyping(ctx, wr); err != nil {
			return Result{}, apierr.Upstream("whatsapp typing failed", err.Error())
		}
	}
	return Result{OK: true}, nil
}

// telegramMethodsWithThread supports an injected message_thread_id when the
// route (or request) carries a topic (§4.6).
var telegramMethodsWithThread = map[string]bool{
	"sendMessage": true, "sendPhoto": true, "sendChatAction": true,
}

func (d *Dispatcher) dispatchTelegram(ctx context.Context, route routes.ResolvedRoute, req OutboundRequest) (Result, error) {
	tr, err := routes.ParseTelegramRoute(route.RouteKey)
	if err != nil {
		return Result{}, err
	}
	raw := *req.Raw.Telegram
	body, err := injectTelegramFields(raw.Body, tr, req.ThreadID, raw.Method)
	if err != nil {
		return Result{}, apierr.Validation("malformed raw.telegram.body")
	}
	raw.Body = body

	res, err := d.telegram.Send(ctx, tr, raw)
	if err != nil {
		return Result{}, apierr.Upstream("telegram send failed", err.Error())
	}
	res.OK = true
	res.ChatID = tr.ChatID
	return res, nil
}

// injectTelegramFields enforces chat_id from the route (except
// answerCallbackQuery, which has no chat_id) and fills message_thread_id
// from the route's topic or the request when the body omits it, leaving
// every other field (parse_mode, reply_parameters, reply_markup, ...)
// untouched (§4.6).
func injectTelegramFields(body json.RawMessage, route routes.TelegramRoute, requestThreadID, method string) (json.RawMessage, error) {
	fields := map[string]json.RawMessage{}
	if len(body) > 0 {
		if err := json.Unmarshal(body, &fields); err != nil {
			return nil, err
		}
	}
	if method != "answerCallbackQuery" {
		chatID, _ := json.Marshal(route.ChatID)
		fields["chat_id"] = chatID
	}
	if telegramMethodsWithThread[method] {
		if _, ok := fields["message_thread_id"]; !ok {
			topic := route.TopicID
			if topic == "" {
				topic = requestThreadID
			}
			if topic != "" {
				threadID, _ := json.Marshal(topic)
				fields["message_thread_id"] = threadID
			}
		}
	}
	return json.Marshal(fields)
}

func (d *Dispatcher) dispatchDiscord(ctx context.Context, route routes.ResolvedRoute, req OutboundRequest) (Result, error) {
	dr, err := routes.ParseDiscordRoute(route.RouteKey)
	if err != nil {
		return Result{}, err
	}
	if !dr.IsDM() && req.To != "" {
		inGuild, err := d.discord.ChannelInGuild(ctx, dr.GuildID, req.To)
		if err != nil {
			return Result{}, apierr.Upstream("discord guild channel lookup failed", err.Error())
		}
		if !inGuild {
			return Result{}, apierr.Forbidden("target channel not in bound guild")
		}
		dr.ChannelID = req.To
	}

	var raw *DiscordRaw
	if req.Raw != nil {
		raw = req.Raw.Discord
	}
	res, err := d.discord.Send(ctx, dr, req.Text, req.MediaURLs, req.ReplyToID, raw)
	if err != nil {
		return Result{}, apierr.Upstream("discord send failed", err.Error())
	}
	res.OK = true
	res.ChannelID = dr.ChannelID
	if dr.IsDM() {
		res.ChannelID = ""
	}
	return res, nil
}

func (d *Dispatcher) dispatchWhatsApp(ctx context.Context, route routes.ResolvedRoute, req OutboundRequest) (Result, error) {
	wr, err := routes.ParseWhatsAppRoute(route.RouteKey)
	if err != nil {
		return Result{}, err
	}
	mediaURLs := req.MediaURLs
	if req.MediaURL != "" {
		mediaURLs = append([]string{req.MediaURL}, mediaURLs...)
	}
	res, err := d.whatsapp.Send(ctx, wr, req.Text, mediaURLs)
	if err != nil {
		return Result{}, apierr.Upstream("whatsapp send failed", err.Error())
	}
	res.OK = true
	res.ToJID = wr.ChatJID
	return res, nil
}

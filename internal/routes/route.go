// Package routes owns the canonical route-key grammars (§4.4) and the
// forward/reverse resolution between a tenant's opaque session key and a
// provider-specific destination. Grounded on the teacher's
// workspace/domain route-variant handling, generalized from a Telegram-only
// shape to the sum-type DiscordRoute = DM | Guild described in the
// spec's DESIGN NOTES (§9 "tagged route variants").
package routes

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/relaymux/mux/internal/platform/apierr"
)

const (
	ChannelTelegram = "telegram"
	ChannelDiscord  = "discord"
	ChannelWhatsApp = "whatsapp"
)

// TelegramRoute is the typed decomposition of a
// telegram:<account>:chat:<chatId>[:topic:<topicId>] route key.
type TelegramRoute struct {
	Account string
	ChatID  string
	TopicID string // "" when absent
}

func (r TelegramRoute) Key() string {
	if r.TopicID != "" {
		return fmt.Sprintf("telegram:%s:chat:%s:topic:%s", r.Account, r.ChatID, r.TopicID)
	}
	return fmt.Sprintf("telegram:%s:chat:%s", r.Account, r.ChatID)
}

// DiscordRoute is a sum type: exactly one of DM or Guild is set, matching
// the spec's "tagged route variants" design note.
type DiscordRoute struct {
	Account   string
	UserID    string // set iff this is a DM route
	GuildID   string // set iff this is a guild route
	ChannelID string // guild routes only, optional
	ThreadID  string // guild routes only, optional
}

func (r DiscordRoute) IsDM() bool { return r.UserID != "" }

func (r DiscordRoute) Key() string {
	if r.IsDM() {
		return fmt.Sprintf("discord:%s:dm:user:%s", r.Account, r.UserID)
	}
	key := fmt.Sprintf("discord:%s:guild:%s", r.Account, r.GuildID)
	if r.ChannelID != "" {
		key += fmt.Sprintf(":channel:%s", r.ChannelID)
	}
	if r.ThreadID != "" {
		key += fmt.Sprintf(":thread:%s", r.ThreadID)
	}
	return key
}

type WhatsAppRoute struct {
	Account string
	ChatJID string
}

func (r WhatsAppRoute) Key() string {
	return fmt.Sprintf("whatsapp:%s:chat:%s", r.Account, r.ChatJID)
}

// ParseTelegramRoute decodes a telegram:* route key.
func ParseTelegramRoute(key string) (TelegramRoute, error) {
	parts := strings.Split(key, ":")
	if len(parts) < 4 || parts[0] != ChannelTelegram || parts[2] != "chat" {
		return TelegramRoute{}, apierr.Validation("malformed telegram route key")
	}
	r := TelegramRoute{Account: parts[1], ChatID: parts[3]}
	if len(parts) >= 6 && parts[4] == "topic" {
		r.TopicID = parts[5]
	}
	return r, nil
}

// ParseDiscordRoute decodes a discord:* route key into its DM or Guild
// variant.
func ParseDiscordRoute(key string) (DiscordRoute, error) {
	parts := strings.Split(key, ":")
	if len(parts) < 4 || parts[0] != ChannelDiscord {
		return DiscordRoute{}, apierr.Validation("malformed discord route key")
	}
	account := parts[1]
	switch parts[2] {
	case "dm":
		if len(parts) < 5 || parts[3] != "user" {
			return DiscordRoute{}, apierr.Validation("malformed discord dm route key")
		}
		return DiscordRoute{Account: account, UserID: parts[4]}, nil
	case "guild":
		r := DiscordRoute{Account: account, GuildID: parts[3]}
		for i := 4; i+1 < len(parts); i += 2 {
			switch parts[i] {
			case "channel":
				r.ChannelID = parts[i+1]
			case "thread":
				r.ThreadID = parts[i+1]
			}
		}
		return r, nil
	default:
		return DiscordRoute{}, apierr.Validation("malformed discord route key")
	}
}

func ParseWhatsAppRoute(key string) (WhatsAppRoute, error) {
	parts := strings.Split(key, ":")
	if len(parts) != 4 || parts[0] != ChannelWhatsApp || parts[2] != "chat" {
		return WhatsAppRoute{}, apierr.Validation("malformed whatsapp route key")
	}
	return WhatsAppRoute{Account: parts[1], ChatJID: parts[3]}, nil
}

// DefaultSessionKey derives the deterministic session key a tenant sees when
// one isn't supplied, per the grammars sketched in §4.4
// (tg:group:<id>[:thread:<tid>], dc:dm:<userId> / dc:guild:<id>:channel:<id>,
// wa:group:<jid>).
func DefaultSessionKey(channel, routeKey string) (string, error) {
	switch channel {
	case ChannelTelegram:
		r, err := ParseTelegramRoute(routeKey)
		if err != nil {
			return "", err
		}
		if r.TopicID != "" {
			return fmt.Sprintf("tg:group:%s:thread:%s", r.ChatID, r.TopicID), nil
		}
		return fmt.Sprintf("tg:group:%s", r.ChatID), nil
	case ChannelDiscord:
		r, err := ParseDiscordRoute(routeKey)
		if err != nil {
			return "", err
		}
		if r.IsDM() {
			return fmt.Sprintf("dc:dm:%s", r.UserID), nil
		}
		if r.ChannelID != "" {
			return fmt.Sprintf("dc:guild:%s:channel:%s", r.GuildID, r.ChannelID), nil
		}
		return fmt.Sprintf("dc:guild:%s", r.GuildID), nil
	case ChannelWhatsApp:
		r, err := ParseWhatsAppRoute(routeKey)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("wa:group:%s", r.ChatJID), nil
	default:
		return "", apierr.Validation("unsupported channel")
	}
}

// IsNumeric reports whether s is a plain base-10 integer (the shape of a
// snowflake or chat id). The route-key parsers and builders do not call it.
func IsNumeric(s string) bool {
	if s == "" {
		return false
	}
	_, err := strconv.ParseInt(s, 10, 64)
	return err == nil
}

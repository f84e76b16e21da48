package dispatch

import (
	"context"

	"github.com/relaymux/mux/internal/routes"
)

// TelegramSender is implemented by internal/providers/telegram. Send passes
// the caller's {method, body} through verbatim after the dispatcher has
// already injected chat_id/message_thread_id into body (§4.6).
type TelegramSender interface {
	Send(ctx context.Context, route routes.TelegramRoute, raw TelegramRaw) (Result, error)
	SendTyping(ctx context.Context, route routes.TelegramRoute) error
}

// DiscordSender is implemented by internal/providers/discord.
type DiscordSender interface {
	Send(ctx context.Context, route routes.DiscordRoute, text string, mediaURLs []string, replyToID string, raw *DiscordRaw) (Result, error)
	SendTyping(ctx context.Context, route routes.DiscordRoute) error
	// ChannelInGuild reports whether channelID belongs to guildID, backed by
	// the 30s-TTL cache described in §4.4/§5.
	ChannelInGuild(ctx context.Context, guildID, channelID string) (bool, error)
}

// WhatsAppSender is implemented by internal/providers/whatsapp, itself a
// thin wrapper over the WhatsAppRuntime interface (§9).
type WhatsAppSender interface {
	Send(ctx context.Context, route routes.WhatsAppRoute, text string, mediaURLs []string) (Result, error)
	SendTyping(ctx context.Context, route routes.WhatsAppRoute) error
}

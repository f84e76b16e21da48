// Package discord implements the Discord half of §4.6 (outbound) and §4.7
// (inbound REST polling). Grounded on bwmarrin/discordgo's REST session for
// typed sends/channel lookups, with a thin raw-body path for
// raw.discord.body passthrough the same way the Telegram client supports
// raw.telegram.
package discord

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/relaymux/mux/internal/cache"
	"github.com/relaymux/mux/internal/dispatch"
	"github.com/relaymux/mux/internal/routes"
)

const account = "default"

type Client struct {
	session      *discordgo.Session
	guildCache   *cache.TTLCache // channelID -> guildID, 30s TTL (§4.4/§5)
	dmCache      *cache.TTLCache // userID -> DM channelID, 10min TTL
}

func NewClient(token string, guildCache, dmCache *cache.TTLCache) (*Client, error) {
	session, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, err
	}
	return &Client{session: session, guildCache: guildCache, dmCache: dmCache}, nil
}

func (c *Client) Open() error  { return c.session.Open() }
func (c *Client) Close() error { return c.session.Close() }

// ChannelInGuild resolves channelID's guild via a 30s-TTL cache, backed by
// the REST API on a miss (§4.4).
func (c *Client) ChannelInGuild(ctx context.Context, guildID, channelID string) (bool, error) {
	if cached, ok := c.guildCache.Get(ctx, channelID); ok {
		return cached == guildID, nil
	}
	ch, err := c.session.Channel(channelID)
	if err != nil {
		return false, err
	}
	c.guildCache.Set(ctx, channelID, ch.GuildID, 30*time.Second)
	return ch.GuildID == guildID, nil
}

// dmChannelID resolves (or creates) the DM channel for userID via a
// 10min-TTL cache (§4.4).
func (c *Client) dmChannelID(ctx context.Context, userID string) (string, error) {
	if cached, ok := c.dmCache.Get(ctx, userID); ok {
		return cached, nil
	}
	ch, err := c.session.UserChannelCreate(userID)
	if err != nil {
		return "", err
	}
	c.dmCache.Set(ctx, userID, ch.ID, 10*time.Minute)
	return ch.ID, nil
}

// resolveChannelID turns a DiscordRoute into the concrete channel id to
// address: the DM channel for DM routes, or the stored/explicit channel for
// guild routes.
func (c *Client) resolveChannelID(ctx context.Context, route routes.DiscordRoute) (string, error) {
	if route.IsDM() {
		return c.dmChannelID(ctx, route.UserID)
	}
	if route.ChannelID == "" {
		return "", fmt.Errorf("discord guild route has no bound channel")
	}
	return route.ChannelID, nil
}

func (c *Client) Send(ctx context.Context, route routes.DiscordRoute, text string, mediaURLs []string, replyToID string, raw *dispatch.DiscordRaw) (dispatch.Result, error) {
	channelID, err := c.resolveChannelID(ctx, route)
	if err != nil {
		return dispatch.Result{}, err
	}

	if raw != nil && len(raw.Body) > 0 {
		return c.sendRawBody(channelID, raw.Body)
	}

	var ids []string
	if len(mediaURLs) == 0 {
		msg, err := c.session.ChannelMessageSendComplex(channelID, &discordgo.MessageSend{
			Content:   text,
			Reference: replyReference(replyToID, channelID),
		})
		if err != nil {
			return dispatch.Result{}, err
		}
		ids = append(ids, msg.ID)
	} else {
		for i, url := range mediaURLs {
			caption := ""
			if i == 0 {
				caption = text
			}
			msg, err := c.session.ChannelMessageSendComplex(channelID, &discordgo.MessageSend{
				Content:   caption + embedImageMarkdown(url),
				Reference: replyReference(replyToID, channelID),
			})
			if err != nil {
				return dispatch.Result{}, err
			}
			ids = append(ids, msg.ID)
		}
	}

	res := dispatch.Result{ProviderMessageIDs: ids}
	if len(ids) > 0 {
		res.MessageID = ids[0]
	}
	return res, nil
}

// embedImageMarkdown appends a bare URL so Discord auto-embeds the image;
// the bot has no local file to multipart-upload for a remote mediaUrl.
func embedImageMarkdown(url string) string {
	return "\n" + url
}

func replyReference(replyToID, channelID string) *discordgo.MessageReference {
	if replyToID == "" {
		return nil
	}
	return &discordgo.MessageReference{MessageID: replyToID, ChannelID: channelID}
}

func (c *Client) sendRawBody(channelID string, body json.RawMessage) (dispatch.Result, error) {
	var send discordgo.MessageSend
	if err := json.Unmarshal(body, &send); err != nil {
		return dispatch.Result{}, err
	}
	msg, err := c.session.ChannelMessageSendComplex(channelID, &send)
	if err != nil {
		return dispatch.Result{}, err
	}
	return dispatch.Result{MessageID: msg.ID, ProviderMessageIDs: []string{msg.ID}}, nil
}

func (c *Client) SendTyping(ctx context.Context, route routes.DiscordRoute) error {
	channelID, err := c.resolveChannelID(ctx, route)
	if err != nil {
		return err
	}
	return c.session.ChannelTyping(channelID)
}

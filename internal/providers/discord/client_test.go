package discord

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/relaymux/mux/internal/cache"
	"github.com/relaymux/mux/internal/routes"
)

func newTestClient(t *testing.T) *Client {
	t.Helper()
	c, err := NewClient("test-token", cache.New(nil, "guild"), cache.New(nil, "dm"))
	require.NoError(t, err)
	return c
}

func TestResolveChannelID_GuildRouteUsesExplicitChannel(t *testing.T) {
	c := newTestClient(t)
	id, err := c.resolveChannelID(context.Background(), routes.DiscordRoute{GuildID: "g1", ChannelID: "ch1"})
	require.NoError(t, err)
	require.Equal(t, "ch1", id)
}

func TestResolveChannelID_GuildRouteWithoutChannelErrors(t *testing.T) {
	c := newTestClient(t)
	_, err := c.resolveChannelID(context.Background(), routes.DiscordRoute{GuildID: "g1"})
	require.Error(t, err)
}

func TestChannelInGuild_CacheHit(t *testing.T) {
	c := newTestClient(t)
	c.guildCache.Set(context.Background(), "ch1", "g1", time.Minute)

	ok, err := c.ChannelInGuild(context.Background(), "g1", "ch1")
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = c.ChannelInGuild(context.Background(), "g2", "ch1")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestDmChannelID_CacheHit(t *testing.T) {
	c := newTestClient(t)
	c.dmCache.Set(context.Background(), "user1", "dm-chan-1", time.Minute)

	id, err := c.dmChannelID(context.Background(), "user1")
	require.NoError(t, err)
	require.Equal(t, "dm-chan-1", id)
}

func TestEmbedImageMarkdown(t *testing.T) {
	require.Equal(t, "\nhttps://example/img.png", embedImageMarkdown("https://example/img.png"))
}

func TestReplyReference_EmptyReturnsNil(t *testing.T) {
	require.Nil(t, replyReference("", "ch1"))
}

func TestReplyReference_SetsChannelAndMessage(t *testing.T) {
	ref := replyReference("msg-1", "ch1")
	require.NotNil(t, ref)
	require.Equal(t, "msg-1", ref.MessageID)
	require.Equal(t, "ch1", ref.ChannelID)
}

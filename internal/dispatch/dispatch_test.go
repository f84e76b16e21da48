package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/relaymux/mux/internal/persistence"
	"github.com/relaymux/mux/internal/routes"
)

func TestValidate_RequiresChannelAndSessionKey(t *testing.T) {
	var r OutboundRequest
	require.Error(t, r.Validate())

	r.Channel = routes.ChannelTelegram
	require.Error(t, r.Validate())
}

func TestValidate_RejectsUnsupportedChannel(t *testing.T) {
	r := OutboundRequest{Channel: "irc", SessionKey: "s1"}
	require.Error(t, r.Validate())
}

func TestValidate_TelegramRequiresRawEnvelope(t *testing.T) {
	r := OutboundRequest{Channel: routes.ChannelTelegram, SessionKey: "s1", Text: "hi"}
	require.Error(t, r.Validate())

	r.Raw = &RawEnvelope{}
	require.Error(t, r.Validate())

	r.Raw.Telegram = &TelegramRaw{Method: "sendMessage", Body: json.RawMessage(`{}`)}
	require.NoError(t, r.Validate())
}

func TestValidate_DiscordAcceptsPlainText(t *testing.T) {
	r := OutboundRequest{Channel: routes.ChannelDiscord, SessionKey: "s1", Text: "hi"}
	require.NoError(t, r.Validate())
}

func TestValidate_RequiresContentUnlessAction(t *testing.T) {
	r := OutboundRequest{Channel: routes.ChannelDiscord, SessionKey: "s1"}
	require.Error(t, r.Validate())

	r.Op = "action"
	require.NoError(t, r.Validate())
}

// fakeTelegram/fakeDiscord/fakeWhatsApp are minimal Sender fakes used to
// exercise Dispatcher.Send without a live provider.
type fakeTelegram struct {
	sendErr  error
	lastRaw  TelegramRaw
	lastRoute routes.TelegramRoute
}

func (f *fakeTelegram) Send(ctx context.Context, route routes.TelegramRoute, raw TelegramRaw) (Result, error) {
	f.lastRoute, f.lastRaw = route, raw
	if f.sendErr != nil {
		return Result{}, f.sendErr
	}
	return Result{MessageID: "msg-1"}, nil
}
func (f *fakeTelegram) SendTyping(ctx context.Context, route routes.TelegramRoute) error { return nil }

type fakeDiscord struct{ inGuild bool }

func (f *fakeDiscord) Send(ctx context.Context, route routes.DiscordRoute, text string, mediaURLs []string, replyToID string, raw *DiscordRaw) (Result, error) {
	return Result{MessageID: "dc-1"}, nil
}
func (f *fakeDiscord) SendTyping(ctx context.Context, route routes.DiscordRoute) error { return nil }
func (f *fakeDiscord) ChannelInGuild(ctx context.Context, guildID, channelID string) (bool, error) {
	return f.inGuild, nil
}

func openTestDB(t *testing.T) *persistence.DB {
	t.Helper()
	log := logrus.New()
	log.SetOutput(io.Discard)
	path := filepath.Join(t.TempDir(), "mux.db")
	db, err := persistence.Open(path, logrus.NewEntry(log))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func seedActiveTelegramRoute(t *testing.T, db *persistence.DB, tenantID, sessionKey, routeKey string) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, db.CreateBinding(ctx, persistence.Binding{
		ID: "bind-1", TenantID: tenantID, Channel: routes.ChannelTelegram, Scope: "chat",
		RouteKey: routeKey, Status: persistence.BindingActive, CreatedAtMs: 1, UpdatedAtMs: 1,
	}))
	require.NoError(t, db.UpsertSessionRoute(ctx, persistence.SessionRoute{
		TenantID: tenantID, Channel: routes.ChannelTelegram, SessionKey: sessionKey,
		BindingID: "bind-1", ChannelContextJSON: "{}", UpdatedAtMs: 1,
	}))
}

func TestDispatcher_Send_TelegramHappyPath(t *testing.T) {
	db := openTestDB(t)
	resolver := routes.NewResolver(db)
	seedActiveTelegramRoute(t, db, "t1", "sess-1", "telegram:default:chat:555")

	tg := &fakeTelegram{}
	d := NewDispatcher(resolver, tg, &fakeDiscord{}, nil)

	res, err := d.Send(context.Background(), "t1", OutboundRequest{
		Channel: routes.ChannelTelegram, SessionKey: "sess-1",
		Raw: &RawEnvelope{Telegram: &TelegramRaw{Method: "sendMessage", Body: json.RawMessage(`{"text":"hi"}`)}},
	})
	require.NoError(t, err)
	require.True(t, res.OK)
	require.Equal(t, "555", res.ChatID)
	require.Equal(t, "555", tg.lastRoute.ChatID)

	var body map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(tg.lastRaw.Body, &body))
	require.Contains(t, body, "chat_id")
}

func TestDispatcher_Send_RouteNotBound(t *testing.T) {
	db := openTestDB(t)
	resolver := routes.NewResolver(db)
	d := NewDispatcher(resolver, &fakeTelegram{}, &fakeDiscord{}, nil)

	_, err := d.Send(context.Background(), "t1", OutboundRequest{
		Channel: routes.ChannelTelegram, SessionKey: "unknown-session",
		Raw: &RawEnvelope{Telegram: &TelegramRaw{Method: "sendMessage", Body: json.RawMessage(`{}`)}},
	})
	require.Error(t, err)
}

func TestDispatcher_Send_UpstreamErrorWrapped(t *testing.T) {
	db := openTestDB(t)
	resolver := routes.NewResolver(db)
	seedActiveTelegramRoute(t, db, "t1", "sess-2", "telegram:default:chat:1")

	tg := &fakeTelegram{sendErr: errors.New("bot api 500")}
	d := NewDispatcher(resolver, tg, &fakeDiscord{}, nil)

	_, err := d.Send(context.Background(), "t1", OutboundRequest{
		Channel: routes.ChannelTelegram, SessionKey: "sess-2",
		Raw: &RawEnvelope{Telegram: &TelegramRaw{Method: "sendMessage", Body: json.RawMessage(`{}`)}},
	})
	require.Error(t, err)
}

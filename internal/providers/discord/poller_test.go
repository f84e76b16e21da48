package discord

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/relaymux/mux/internal/forward"
	"github.com/relaymux/mux/internal/pairing"
	"github.com/relaymux/mux/internal/persistence"
	"github.com/relaymux/mux/internal/routes"
)

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

func newTestDiscordPoller(t *testing.T, db *persistence.DB) *Poller {
	t.Helper()
	log := logrus.New()
	log.SetOutput(io.Discard)
	client := newTestClient(t)
	resolver := routes.NewResolver(db)
	eng := pairing.NewEngine(db, resolver, time.Hour, 24*time.Hour)
	fw := forward.NewForwarder()
	return NewPoller(client, db, eng, fw, logrus.NewEntry(log), time.Second, 0)
}

func TestDiscordProcessMessage_PendingWithoutTokenIsNoOp(t *testing.T) {
	db := openTestDB(t)
	p := newTestDiscordPoller(t, db)
	b := persistence.Binding{ID: "bind-1", TenantID: "t1", Status: persistence.BindingPending}
	m := &discordgo.Message{ID: "m1", ChannelID: "ch1", Content: "hello", Author: &discordgo.User{ID: "u1"}}

	ok := p.processMessage(context.Background(), b, routes.DiscordRoute{GuildID: "g1", ChannelID: "ch1"}, m)
	require.True(t, ok)
}

func TestDiscordProcessMessage_ActiveBindingForwards(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	var gotBody []byte
	inbound := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusOK)
	}))
	defer inbound.Close()

	require.NoError(t, db.BootstrapTenant(ctx, persistence.Tenant{
		ID: "t1", Name: "t1", APIKeyHash: "hash", Status: persistence.TenantActive,
		InboundURL: inbound.URL, InboundTimeoutMs: 5000, CreatedAtMs: 1, UpdatedAtMs: 1,
	}))

	p := newTestDiscordPoller(t, db)
	b := persistence.Binding{ID: "bind-2", TenantID: "t1", Status: persistence.BindingActive, RouteKey: "discord:default:guild:g1:channel:ch1"}
	m := &discordgo.Message{
		ID: "m2", ChannelID: "ch1", Content: "hi there",
		Author: &discordgo.User{ID: "u1"}, Timestamp: time.Now(),
	}

	ok := p.processMessage(ctx, b, routes.DiscordRoute{GuildID: "g1", ChannelID: "ch1"}, m)
	require.True(t, ok)
	require.Contains(t, string(gotBody), "hi there")
}

func TestDiscordProcessMessage_ForwardFailureHaltsPass(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	require.NoError(t, db.BootstrapTenant(ctx, persistence.Tenant{
		ID: "t2", Name: "t2", APIKeyHash: "hash", Status: persistence.TenantActive,
		InboundURL: "http://127.0.0.1:0/not-listening", InboundTimeoutMs: 100, CreatedAtMs: 1, UpdatedAtMs: 1,
	}))

	p := newTestDiscordPoller(t, db)
	b := persistence.Binding{ID: "bind-3", TenantID: "t2", Status: persistence.BindingActive, RouteKey: "discord:default:guild:g1:channel:ch1"}
	m := &discordgo.Message{
		ID: "m3", ChannelID: "ch1", Content: "hi",
		Author: &discordgo.User{ID: "u1"}, Timestamp: time.Now(),
	}

	ok := p.processMessage(ctx, b, routes.DiscordRoute{GuildID: "g1", ChannelID: "ch1"}, m)
	require.False(t, ok)
}

func TestDiscordExtractPairingToken(t *testing.T) {
	tok, ok := extractPairingToken("hello mpt_abc done")
	require.True(t, ok)
	require.Equal(t, "mpt_abc", tok)

	_, ok = extractPairingToken("no token")
	require.False(t, ok)
}

package pairing

import (
	"context"
	"io"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

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

func newEngine(t *testing.T) (*Engine, *persistence.DB) {
	db := openTestDB(t)
	resolver := routes.NewResolver(db)
	return NewEngine(db, resolver, time.Hour, 24*time.Hour), db
}

func TestNewRawToken_HasPrefixAndHashesDeterministically(t *testing.T) {
	tok, err := NewRawToken()
	require.NoError(t, err)
	require.Regexp(t, `^mpt_`, tok)
	require.Equal(t, HashToken(tok), HashToken(tok))
}

func TestClaimCode_HappyPath(t *testing.T) {
	e, db := newEngine(t)
	ctx := context.Background()
	require.NoError(t, db.SeedPairingCode(ctx, persistence.PairingCode{
		Code: "CODE1", Channel: routes.ChannelTelegram, RouteKey: "telegram:default:chat:1",
		Scope: "chat", ExpiresAtMs: time.Now().Add(time.Hour).UnixMilli(),
	}))

	res, err := e.ClaimCode(ctx, "tenant-a", "CODE1", "")
	require.NoError(t, err)
	require.NotEmpty(t, res.BindingID)
	require.Equal(t, routes.ChannelTelegram, res.Channel)
	require.Equal(t, "tg:group:1", res.SessionKey)
}

func TestClaimCode_AlreadyClaimedConflicts(t *testing.T) {
	e, db := newEngine(t)
	ctx := context.Background()
	require.NoError(t, db.SeedPairingCode(ctx, persistence.PairingCode{
		Code: "CODE2", Channel: routes.ChannelTelegram, RouteKey: "telegram:default:chat:2",
		Scope: "chat", ExpiresAtMs: time.Now().Add(time.Hour).UnixMilli(),
	}))
	_, err := e.ClaimCode(ctx, "tenant-a", "CODE2", "")
	require.NoError(t, err)

	_, err = e.ClaimCode(ctx, "tenant-b", "CODE2", "")
	require.Error(t, err)
}

func TestClaimCode_UnknownCodeNotFound(t *testing.T) {
	e, _ := newEngine(t)
	_, err := e.ClaimCode(context.Background(), "tenant-a", "NOPE", "")
	require.Error(t, err)
}

func TestIssueAndRedeemToken_TelegramFlow(t *testing.T) {
	e, _ := newEngine(t)
	ctx := context.Background()

	issued, err := e.IssueToken(ctx, "tenant-a", routes.ChannelTelegram, "", "", time.Hour)
	require.NoError(t, err)
	require.NotEmpty(t, issued.Token)

	res, ok, err := e.RedeemTokenForTelegramOrWhatsApp(ctx, issued.Token, routes.ChannelTelegram, "telegram:default:chat:9")
	require.NoError(t, err)
	require.True(t, ok)
	require.NotEmpty(t, res.BindingID)

	// One-time: redeeming again must fail.
	_, okAgain, err := e.RedeemTokenForTelegramOrWhatsApp(ctx, issued.Token, routes.ChannelTelegram, "telegram:default:chat:9")
	require.NoError(t, err)
	require.False(t, okAgain)
}

func TestIssueToken_Discord_PreCreatesPendingBinding(t *testing.T) {
	e, db := newEngine(t)
	ctx := context.Background()

	_, err := e.IssueToken(ctx, "tenant-a", routes.ChannelDiscord, "", "discord:default:guild:g1", time.Hour)
	require.NoError(t, err)

	bindings, err := db.ListBindings(ctx, "tenant-a")
	require.NoError(t, err)
	require.Len(t, bindings, 1)
	require.Equal(t, persistence.BindingPending, bindings[0].Status)
}

func TestIssueToken_Discord_PendingBindingDoesNotBlockSecondIssue(t *testing.T) {
	e, _ := newEngine(t)
	ctx := context.Background()

	_, err := e.IssueToken(ctx, "tenant-a", routes.ChannelDiscord, "", "discord:default:guild:g2", time.Hour)
	require.NoError(t, err)

	// A pending (not yet redeemed/active) binding only guards against
	// issuing for an already-ACTIVE route; a second pending issue for the
	// same route key is allowed through.
	_, err = e.IssueToken(ctx, "tenant-b", routes.ChannelDiscord, "", "discord:default:guild:g2", time.Hour)
	require.NoError(t, err)
}

func TestRedeemTokenForDiscord_ActivatesPendingBinding(t *testing.T) {
	e, db := newEngine(t)
	ctx := context.Background()

	issued, err := e.IssueToken(ctx, "tenant-a", routes.ChannelDiscord, "", "discord:default:guild:g3", time.Hour)
	require.NoError(t, err)

	res, ok, err := e.RedeemTokenForDiscord(ctx, issued.Token)
	require.NoError(t, err)
	require.True(t, ok)

	b, err := db.BindingByID(ctx, res.BindingID)
	require.NoError(t, err)
	require.Equal(t, persistence.BindingActive, b.Status)
}

func TestUnbind_RequiresOwnership(t *testing.T) {
	e, db := newEngine(t)
	ctx := context.Background()
	require.NoError(t, db.SeedPairingCode(ctx, persistence.PairingCode{
		Code: "CODE3", Channel: routes.ChannelTelegram, RouteKey: "telegram:default:chat:3",
		Scope: "chat", ExpiresAtMs: time.Now().Add(time.Hour).UnixMilli(),
	}))
	res, err := e.ClaimCode(ctx, "tenant-a", "CODE3", "")
	require.NoError(t, err)

	err = e.Unbind(ctx, "tenant-b", res.BindingID)
	require.Error(t, err)

	err = e.Unbind(ctx, "tenant-a", res.BindingID)
	require.NoError(t, err)

	active, err := e.ListActive(ctx, "tenant-a")
	require.NoError(t, err)
	require.Empty(t, active)
}

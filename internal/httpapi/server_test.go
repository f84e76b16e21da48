package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/relaymux/mux/internal/dispatch"
	"github.com/relaymux/mux/internal/idempotency"
	"github.com/relaymux/mux/internal/identity"
	"github.com/relaymux/mux/internal/pairing"
	"github.com/relaymux/mux/internal/persistence"
	"github.com/relaymux/mux/internal/platform/config"
	"github.com/relaymux/mux/internal/retryqueue"
	"github.com/relaymux/mux/internal/routes"
)

type fakeTelegramSender struct{}

func (fakeTelegramSender) Send(ctx context.Context, route routes.TelegramRoute, raw dispatch.TelegramRaw) (dispatch.Result, error) {
	return dispatch.Result{MessageID: "msg-1"}, nil
}
func (fakeTelegramSender) SendTyping(ctx context.Context, route routes.TelegramRoute) error { return nil }

type fakeDiscordSender struct{}

func (fakeDiscordSender) Send(ctx context.Context, route routes.DiscordRoute, text string, mediaURLs []string, replyToID string, raw *dispatch.DiscordRaw) (dispatch.Result, error) {
	return dispatch.Result{MessageID: "dc-1"}, nil
}
func (fakeDiscordSender) SendTyping(ctx context.Context, route routes.DiscordRoute) error { return nil }
func (fakeDiscordSender) ChannelInGuild(ctx context.Context, guildID, channelID string) (bool, error) {
	return true, nil
}

func newTestServer(t *testing.T) (*Server, *persistence.DB) {
	t.Helper()
	log := logrus.New()
	log.SetOutput(io.Discard)
	path := filepath.Join(t.TempDir(), "mux.db")
	db, err := persistence.Open(path, logrus.NewEntry(log))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	routeResolver := routes.NewResolver(db)
	pairingEngine := pairing.NewEngine(db, routeResolver, time.Minute, time.Hour)
	idemCoordinator := idempotency.NewCoordinator(db, time.Minute)
	dispatcher := dispatch.NewDispatcher(routeResolver, fakeTelegramSender{}, fakeDiscordSender{}, nil)
	rq := retryqueue.New(db, retryqueue.Config{BatchSize: 10, InitialMs: 1000, MaxMs: 60000},
		logrus.NewEntry(log), func(ctx context.Context, row persistence.WhatsAppQueueRow) error { return nil })

	cfg := &config.Config{AdminToken: "admin-secret"}

	s := New(Deps{
		Config: cfg, Log: log, DB: db, Identity: identity.NewResolver(db),
		Pairing: pairingEngine, Idempotency: idemCoordinator, Dispatcher: dispatcher,
		RetryQueue: rq,
	})
	return s, db
}

func doJSON(t *testing.T, s *Server, method, path, bearer string, body any) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, path, &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	resp, err := s.app.Test(req, -1)
	require.NoError(t, err)
	return resp
}

func TestHealth_OK(t *testing.T) {
	s, _ := newTestServer(t)
	resp := doJSON(t, s, http.MethodGet, "/health", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestBootstrapTenant_RequiresAdminToken(t *testing.T) {
	s, _ := newTestServer(t)
	resp := doJSON(t, s, http.MethodPost, "/v1/admin/tenants/bootstrap", "wrong-token", map[string]any{
		"tenantId": "t1", "apiKey": "key-12345678", "inboundUrl": "https://t1.example/hook",
	})
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestBootstrapTenant_CreatesTenant(t *testing.T) {
	s, db := newTestServer(t)
	resp := doJSON(t, s, http.MethodPost, "/v1/admin/tenants/bootstrap", "admin-secret", map[string]any{
		"tenantId": "t1", "name": "Acme", "apiKey": "key-12345678", "inboundUrl": "https://t1.example/hook",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	got, err := db.TenantByID(context.Background(), "t1")
	require.NoError(t, err)
	require.Equal(t, "Acme", got.Name)
}

func TestTenantEndpoints_RequireAuth(t *testing.T) {
	s, _ := newTestServer(t)
	resp := doJSON(t, s, http.MethodGet, "/v1/tenant/inbound-target", "", nil)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func bootstrapTenant(t *testing.T, s *Server, id, apiKey string) {
	t.Helper()
	resp := doJSON(t, s, http.MethodPost, "/v1/admin/tenants/bootstrap", "admin-secret", map[string]any{
		"tenantId": id, "name": id, "apiKey": apiKey, "inboundUrl": "https://" + id + ".example/hook",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestPairingClaimAndOutboundSend_EndToEnd(t *testing.T) {
	s, db := newTestServer(t)
	bootstrapTenant(t, s, "tenant-a", "key-abcdefgh")

	require.NoError(t, db.SeedPairingCode(context.Background(), persistence.PairingCode{
		Code: "JOINME1", Channel: routes.ChannelTelegram, RouteKey: "telegram:default:chat:777",
		Scope: "chat", ExpiresAtMs: time.Now().Add(time.Hour).UnixMilli(),
	}))

	claimResp := doJSON(t, s, http.MethodPost, "/v1/pairings/claim", "key-abcdefgh", map[string]any{
		"code": "JOINME1",
	})
	require.Equal(t, http.StatusOK, claimResp.StatusCode)
	var claimBody map[string]any
	require.NoError(t, json.NewDecoder(claimResp.Body).Decode(&claimBody))
	sessionKey := claimBody["sessionKey"].(string)
	require.NotEmpty(t, sessionKey)

	sendResp := doJSON(t, s, http.MethodPost, "/v1/mux/outbound/send", "key-abcdefgh", map[string]any{
		"channel":    "telegram",
		"sessionKey": sessionKey,
		"raw": map[string]any{
			"telegram": map[string]any{"method": "sendMessage", "body": map[string]any{"text": "hi"}},
		},
	})
	require.Equal(t, http.StatusOK, sendResp.StatusCode)
	var sendBody map[string]any
	require.NoError(t, json.NewDecoder(sendResp.Body).Decode(&sendBody))
	require.Equal(t, true, sendBody["ok"])
}

func TestOutboundSend_UnboundRouteReturns403(t *testing.T) {
	s, _ := newTestServer(t)
	bootstrapTenant(t, s, "tenant-b", "key-ijklmnop")

	resp := doJSON(t, s, http.MethodPost, "/v1/mux/outbound/send", "key-ijklmnop", map[string]any{
		"channel":    "telegram",
		"sessionKey": "no-such-session",
		"raw": map[string]any{
			"telegram": map[string]any{"method": "sendMessage", "body": map[string]any{"text": "hi"}},
		},
	})
	require.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestOutboundSend_IdempotentReplay(t *testing.T) {
	s, db := newTestServer(t)
	bootstrapTenant(t, s, "tenant-c", "key-qrstuvwx")
	require.NoError(t, db.SeedPairingCode(context.Background(), persistence.PairingCode{
		Code: "JOINME2", Channel: routes.ChannelTelegram, RouteKey: "telegram:default:chat:888",
		Scope: "chat", ExpiresAtMs: time.Now().Add(time.Hour).UnixMilli(),
	}))
	claimResp := doJSON(t, s, http.MethodPost, "/v1/pairings/claim", "key-qrstuvwx", map[string]any{"code": "JOINME2"})
	var claimBody map[string]any
	require.NoError(t, json.NewDecoder(claimResp.Body).Decode(&claimBody))
	sessionKey := claimBody["sessionKey"].(string)

	sendBody := map[string]any{
		"channel":    "telegram",
		"sessionKey": sessionKey,
		"raw": map[string]any{
			"telegram": map[string]any{"method": "sendMessage", "body": map[string]any{"text": "hi"}},
		},
	}

	req1, _ := http.NewRequest(http.MethodPost, "/v1/mux/outbound/send", jsonBody(t, sendBody))
	req1.Header.Set("Content-Type", "application/json")
	req1.Header.Set("Authorization", "Bearer key-qrstuvwx")
	req1.Header.Set("Idempotency-Key", "idem-1")
	resp1, err := s.app.Test(req1, -1)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp1.StatusCode)
	body1, _ := io.ReadAll(resp1.Body)

	req2, _ := http.NewRequest(http.MethodPost, "/v1/mux/outbound/send", jsonBody(t, sendBody))
	req2.Header.Set("Content-Type", "application/json")
	req2.Header.Set("Authorization", "Bearer key-qrstuvwx")
	req2.Header.Set("Idempotency-Key", "idem-1")
	resp2, err := s.app.Test(req2, -1)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp2.StatusCode)
	body2, _ := io.ReadAll(resp2.Body)

	require.Equal(t, body1, body2)
}

func TestInboundTarget_SetThenGet(t *testing.T) {
	s, _ := newTestServer(t)
	bootstrapTenant(t, s, "tenant-d", "key-yzabcdef")

	setResp := doJSON(t, s, http.MethodPost, "/v1/tenant/inbound-target", "key-yzabcdef", map[string]any{
		"inboundUrl": "https://tenant-d.example/webhook2", "inboundTimeoutMs": 9000,
	})
	require.Equal(t, http.StatusOK, setResp.StatusCode)

	getResp := doJSON(t, s, http.MethodGet, "/v1/tenant/inbound-target", "key-yzabcdef", nil)
	require.Equal(t, http.StatusOK, getResp.StatusCode)
	var body map[string]any
	require.NoError(t, json.NewDecoder(getResp.Body).Decode(&body))
	require.Equal(t, "https://tenant-d.example/webhook2", body["inboundUrl"])
	require.Equal(t, float64(9000), body["inboundTimeoutMs"])
}

func jsonBody(t *testing.T, v any) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, json.NewEncoder(&buf).Encode(v))
	return &buf
}

package telegram

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/relaymux/mux/internal/dispatch"
	"github.com/relaymux/mux/internal/routes"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(srv.URL, "test-token")
}

func TestClient_Send_ParsesMessageID(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Contains(t, r.URL.Path, "/bottest-token/sendMessage")
		json.NewEncoder(w).Encode(map[string]any{"ok": true, "result": map[string]any{"message_id": 42}})
	})

	res, err := c.Send(context.Background(), routes.TelegramRoute{ChatID: "1"}, dispatch.TelegramRaw{
		Method: "sendMessage", Body: json.RawMessage(`{"chat_id":1,"text":"hi"}`),
	})
	require.NoError(t, err)
	require.Equal(t, "42", res.MessageID)
}

func TestClient_Send_UpstreamErrorPropagates(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"ok": false, "description": "chat not found"})
	})

	_, err := c.Send(context.Background(), routes.TelegramRoute{ChatID: "1"}, dispatch.TelegramRaw{
		Method: "sendMessage", Body: json.RawMessage(`{}`),
	})
	require.Error(t, err)
	require.Contains(t, err.Error(), "chat not found")
}

func TestClient_SendTyping_IncludesThreadID(t *testing.T) {
	var gotBody map[string]any
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&gotBody)
		json.NewEncoder(w).Encode(map[string]any{"ok": true, "result": json.RawMessage(`{}`)})
	})

	err := c.SendTyping(context.Background(), routes.TelegramRoute{ChatID: "1", TopicID: "7"})
	require.NoError(t, err)
	require.Equal(t, "7", gotBody["message_thread_id"])
}

func TestClient_AnswerCallbackQuery_BestEffortIgnoresError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})
	// Must not panic even though the upstream call fails.
	c.AnswerCallbackQuery(context.Background(), "cbq-1", "done")
}

func TestExtractPairingToken_StartCommand(t *testing.T) {
	tok, ok := extractPairingToken("/start mpt_abc123")
	require.True(t, ok)
	require.Equal(t, "mpt_abc123", tok)
}

func TestExtractPairingToken_Inline(t *testing.T) {
	tok, ok := extractPairingToken("join with mpt_xyz please")
	require.True(t, ok)
	require.Equal(t, "mpt_xyz", tok)
}

func TestExtractPairingToken_Absent(t *testing.T) {
	_, ok := extractPairingToken("just chatting")
	require.False(t, ok)
}

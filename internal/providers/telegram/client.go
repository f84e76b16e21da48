// Package telegram implements the Telegram half of §4.6 (outbound) and §4.7
// (inbound long-poll). Outbound sends are raw passthrough per the spec's
// raw.telegram contract, so this package talks to the Bot API directly over
// HTTP with its own minimal Update/Message decode types rather than a typed
// client library, grounded on the teacher's infrastructure/telegram
// integration shape (bot-token client, long-poll loop, update-id offset
// bookkeeping).
package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/relaymux/mux/internal/dispatch"
	"github.com/relaymux/mux/internal/routes"
)

type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

func NewClient(baseURL, token string) *Client {
	if baseURL == "" {
		baseURL = "https://api.telegram.org"
	}
	return &Client{baseURL: baseURL, token: token, httpClient: &http.Client{Timeout: 30 * time.Second}}
}

func (c *Client) methodURL(method string) string {
	return fmt.Sprintf("%s/bot%s/%s", c.baseURL, c.token, method)
}

func (c *Client) call(ctx context.Context, method string, body json.RawMessage) (json.RawMessage, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.methodURL(method), bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	var envelope struct {
		OK          bool            `json:"ok"`
		Result      json.RawMessage `json:"result"`
		Description string          `json:"description"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, fmt.Errorf("decode telegram response: %w", err)
	}
	if !envelope.OK {
		return nil, fmt.Errorf("telegram API error: %s", envelope.Description)
	}
	return envelope.Result, nil
}

// Send posts raw.method/body to the Telegram Bot API, the dispatcher having
// already injected chat_id/message_thread_id (§4.6).
func (c *Client) Send(ctx context.Context, route routes.TelegramRoute, raw dispatch.TelegramRaw) (dispatch.Result, error) {
	result, err := c.call(ctx, raw.Method, raw.Body)
	if err != nil {
		return dispatch.Result{}, err
	}
	var msg struct {
		MessageID int `json:"message_id"`
	}
	_ = json.Unmarshal(result, &msg)
	id := ""
	if msg.MessageID != 0 {
		id = fmt.Sprintf("%d", msg.MessageID)
	}
	return dispatch.Result{MessageID: id}, nil
}

func (c *Client) SendTyping(ctx context.Context, route routes.TelegramRoute) error {
	body := map[string]any{"chat_id": route.ChatID, "action": "typing"}
	if route.TopicID != "" {
		body["message_thread_id"] = route.TopicID
	}
	payload, _ := json.Marshal(body)
	_, err := c.call(ctx, "sendChatAction", payload)
	return err
}

// AnswerCallbackQuery is best-effort per §4.7 ("answerCallbackQuery is
// called best-effort after successful forward").
func (c *Client) AnswerCallbackQuery(ctx context.Context, callbackQueryID, text string) {
	body := map[string]any{"callback_query_id": callbackQueryID}
	if text != "" {
		body["text"] = text
	}
	payload, _ := json.Marshal(body)
	_, _ = c.call(ctx, "answerCallbackQuery", payload)
}

func (c *Client) downloadFileURL(ctx context.Context, fileID string) (string, error) {
	payload, _ := json.Marshal(map[string]string{"file_id": fileID})
	result, err := c.call(ctx, "getFile", payload)
	if err != nil {
		return "", err
	}
	var f struct {
		FilePath string `json:"file_path"`
	}
	if err := json.Unmarshal(result, &f); err != nil {
		return "", err
	}
	return fmt.Sprintf("%s/file/bot%s/%s", c.baseURL, c.token, f.FilePath), nil
}

// Package forward posts normalized inbound envelopes to a tenant's
// inboundUrl (§4.7) and reports whether the forward was acknowledged (2xx),
// the signal every poller uses to decide whether to advance its offset.
package forward

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// Envelope is the normalized inbound shape common to all three providers
// (§4.7), carrying provider-specific detail in ChannelData.
type Envelope struct {
	EventID     string          `json:"eventId"`
	Channel     string          `json:"channel"`
	Event       EnvelopeEvent   `json:"event"`
	Raw         json.RawMessage `json:"raw,omitempty"`
	SessionKey  string          `json:"sessionKey"`
	Body        string          `json:"body"`
	From        string          `json:"from,omitempty"`
	To          string          `json:"to,omitempty"`
	AccountID   string          `json:"accountId,omitempty"`
	ChatType    string          `json:"chatType,omitempty"`
	MessageID   string          `json:"messageId,omitempty"`
	TimestampMs int64           `json:"timestampMs"`
	ThreadID    string          `json:"threadId,omitempty"`
	ChannelData any             `json:"channelData,omitempty"`
	Attachments any             `json:"attachments,omitempty"`
}

type EnvelopeEvent struct {
	Kind string          `json:"kind"`
	Raw  json.RawMessage `json:"raw,omitempty"`
}

// Target is the destination a poller forwards to — a snapshot of the
// tenant's current inbound configuration, taken fresh per forward so a
// mid-flight config change doesn't use a stale client.
type Target struct {
	URL       string
	Token     string
	TimeoutMs int
}

type Forwarder struct {
	client *http.Client
}

func NewForwarder() *Forwarder {
	return &Forwarder{client: &http.Client{}}
}

// Send posts env to target.URL and returns nil only on a 2xx response — the
// "ack-safe commit" signal (§4.7/§8 invariant 4) that lets the caller
// advance its offset or delete its queue row.
func (f *Forwarder) Send(ctx context.Context, target Target, env Envelope) error {
	if target.URL == "" {
		return fmt.Errorf("forward: tenant has no inbound target configured")
	}
	timeout := time.Duration(target.TimeoutMs) * time.Millisecond
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	body, err := json.Marshal(env)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target.URL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if target.Token != "" {
		req.Header.Set("Authorization", "Bearer "+target.Token)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("tenant inbound returned status %d", resp.StatusCode)
	}
	return nil
}

// Package whatsapp implements the WhatsApp half of §4.6/§4.7/§4.8. Per the
// spec's DESIGN NOTES (§9, "dynamic import() of runtime modules" ->
// "an interface WhatsAppRuntime ... supplied at construction time; tests
// pass a fake"), the whatsmeow-specific wiring is hidden behind a small
// Runtime interface; everything else in this package (and in
// internal/dispatch, internal/retryqueue) only ever talks to Runtime.
package whatsapp

import (
	"context"
)

// InboundMessage is the normalized shape the runtime hands the listener
// callback for every incoming message, before envelope construction.
type InboundMessage struct {
	AccountID   string
	ChatJID     string
	From        string
	MessageID   string
	Text        string
	TimestampMs int64
	MediaPath   string // local file path when the library already downloaded media
	MediaMime   string
}

// Runtime is the seam over the WhatsApp session library (whatsmeow in
// production, a fake in tests).
type Runtime interface {
	// Connect establishes (or resumes) the WhatsApp session for accountID.
	Connect(ctx context.Context, accountID string) error
	// SendMessage sends text to chatJID. When mediaURLs is non-empty it sends
	// one message per url in order, the first also carrying text as caption;
	// WhatsmeowRuntime sends each url as a text link and does not download
	// or attach the media.
	SendMessage(ctx context.Context, accountID, chatJID, text string, mediaURLs []string) (messageID string, err error)
	SendTyping(ctx context.Context, accountID, chatJID string) error
	// SetActiveListener registers the callback invoked for every inbound
	// message on accountID; it may be called before Connect.
	SetActiveListener(accountID string, onMessage func(InboundMessage))
}

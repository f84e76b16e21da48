package whatsapp

import (
	"context"
	"fmt"
	"sync"

	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/store/sqlstore"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	waLog "go.mau.fi/whatsmeow/util/log"
	"google.golang.org/protobuf/proto"

	"github.com/sirupsen/logrus"
)

// WhatsmeowRuntime is the production Runtime backed by go.mau.fi/whatsmeow,
// grounded on the teacher's infrastructure/whatsapp/init.go device-store
// bootstrap and infrastructure/whatsapp/adapter/messaging.go send shape.
type WhatsmeowRuntime struct {
	authDir string
	log     *logrus.Entry

	mu        sync.Mutex
	clients   map[string]*whatsmeow.Client
	listeners map[string]func(InboundMessage)
}

func NewWhatsmeowRuntime(authDir string, log *logrus.Entry) *WhatsmeowRuntime {
	return &WhatsmeowRuntime{
		authDir:   authDir,
		log:       log,
		clients:   make(map[string]*whatsmeow.Client),
		listeners: make(map[string]func(InboundMessage)),
	}
}

func (r *WhatsmeowRuntime) Connect(ctx context.Context, accountID string) error {
	dbURI := fmt.Sprintf("file:%s/whatsapp-%s.db?_foreign_keys=on", r.authDir, accountID)
	container, err := sqlstore.New(ctx, "sqlite3", dbURI, waLog.Stdout("Database", "ERROR", true))
	if err != nil {
		return fmt.Errorf("whatsapp store for %s: %w", accountID, err)
	}
	device, err := container.GetFirstDevice(ctx)
	if err != nil {
		return fmt.Errorf("whatsapp device for %s: %w", accountID, err)
	}

	client := whatsmeow.NewClient(device, waLog.Stdout("Client", "ERROR", true))
	client.EnableAutoReconnect = true
	client.AutoTrustIdentity = true
	client.AddEventHandler(func(evt any) { r.handleEvent(accountID, evt) })

	if client.Store.ID == nil {
		// No paired device: callers drive the QR/pairing-code flow out of
		// band via whatsmeow's GetQRChannel; out of scope for the mux's own
		// HTTP surface (§1 out-of-scope: provider credential setup).
		return fmt.Errorf("whatsapp account %s has no linked device; pair it out of band first", accountID)
	}

	if err := client.Connect(); err != nil {
		return fmt.Errorf("whatsapp connect %s: %w", accountID, err)
	}

	r.mu.Lock()
	r.clients[accountID] = client
	r.mu.Unlock()
	return nil
}

func (r *WhatsmeowRuntime) client(accountID string) (*whatsmeow.Client, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.clients[accountID]
	if !ok {
		return nil, fmt.Errorf("whatsapp account %s not connected", accountID)
	}
	return c, nil
}

func (r *WhatsmeowRuntime) SendMessage(ctx context.Context, accountID, chatJID, text string, mediaURLs []string) (string, error) {
	c, err := r.client(accountID)
	if err != nil {
		return "", err
	}
	jid, err := types.ParseJID(chatJID)
	if err != nil {
		return "", fmt.Errorf("invalid whatsapp jid: %w", err)
	}

	if len(mediaURLs) == 0 {
		msg := &waE2E.Message{ExtendedTextMessage: &waE2E.ExtendedTextMessage{Text: proto.String(text)}}
		resp, err := c.SendMessage(ctx, jid, msg)
		if err != nil {
			return "", err
		}
		return resp.ID, nil
	}

	// First media url carries the caption. Each url is sent as a text
	// message holding the link; the media is not downloaded or uploaded, and
	// the returned id is that of the last message sent.
	var lastID string
	for i, url := range mediaURLs {
		caption := ""
		if i == 0 {
			caption = text
		}
		body := caption
		if body != "" {
			body += "\n"
		}
		body += url
		msg := &waE2E.Message{ExtendedTextMessage: &waE2E.ExtendedTextMessage{Text: proto.String(body)}}
		resp, err := c.SendMessage(ctx, jid, msg)
		if err != nil {
			return lastID, err
		}
		lastID = resp.ID
	}
	return lastID, nil
}

func (r *WhatsmeowRuntime) SendTyping(ctx context.Context, accountID, chatJID string) error {
	c, err := r.client(accountID)
	if err != nil {
		return err
	}
	jid, err := types.ParseJID(chatJID)
	if err != nil {
		return err
	}
	return c.SendChatPresence(ctx, jid, types.ChatPresenceComposing, types.ChatPresenceMediaText)
}

func (r *WhatsmeowRuntime) SetActiveListener(accountID string, onMessage func(InboundMessage)) {
	r.mu.Lock()
	r.listeners[accountID] = onMessage
	r.mu.Unlock()
}

func (r *WhatsmeowRuntime) handleEvent(accountID string, rawEvt any) {
	msgEvt, ok := rawEvt.(*events.Message)
	if !ok {
		return
	}
	r.mu.Lock()
	listener := r.listeners[accountID]
	r.mu.Unlock()
	if listener == nil {
		return
	}

	text := msgEvt.Message.GetConversation()
	if text == "" && msgEvt.Message.GetExtendedTextMessage() != nil {
		text = msgEvt.Message.GetExtendedTextMessage().GetText()
	}

	listener(InboundMessage{
		AccountID:   accountID,
		ChatJID:     msgEvt.Info.Chat.String(),
		From:        msgEvt.Info.Sender.User,
		MessageID:   msgEvt.Info.ID,
		Text:        text,
		TimestampMs: msgEvt.Info.Timestamp.UnixMilli(),
	})
}

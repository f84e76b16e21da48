package whatsapp

import (
	"context"

	"github.com/relaymux/mux/internal/dispatch"
	"github.com/relaymux/mux/internal/routes"
)

// Sender adapts Runtime to dispatch.WhatsAppSender (§4.6).
type Sender struct {
	runtime Runtime
}

func NewSender(runtime Runtime) *Sender {
	return &Sender{runtime: runtime}
}

func (s *Sender) Send(ctx context.Context, route routes.WhatsAppRoute, text string, mediaURLs []string) (dispatch.Result, error) {
	id, err := s.runtime.SendMessage(ctx, route.Account, route.ChatJID, text, mediaURLs)
	if err != nil {
		return dispatch.Result{}, err
	}
	return dispatch.Result{MessageID: id, ProviderMessageIDs: []string{id}}, nil
}

func (s *Sender) SendTyping(ctx context.Context, route routes.WhatsAppRoute) error {
	return s.runtime.SendTyping(ctx, route.Account, route.ChatJID)
}

package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/jobhub/messaging/internal/messaging"
	"github.com/jobhub/messaging/internal/model"
)

// Deps: всё, что нужно маршрутам локального API.
type Deps struct {
	Store     *messaging.Store
	Self      model.Identity
	Status    StatusSource
	Simulated bool
	UI        *WSHandler
}

// Mount регистрирует маршруты API на r. Middleware вешает вызывающий.
func Mount(r chi.Router, d Deps) {
	chatH := NewChatHandler(d.Store, d.Self)
	msgH := NewMessageHandler(d.Store)
	connH := NewConnectionHandler(d.Status, d.Self.CurrentUserID(), d.Simulated)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK); w.Write([]byte("ok")) })
	r.Get("/api/connection", connH.Get)

	r.Get("/api/chats", chatH.GetUserChats)
	r.Post("/api/chats", chatH.CreateChat)
	r.Get("/api/chats/{chatId}", chatH.GetChat)
	r.Post("/api/chats/{chatId}/typing", chatH.SetTyping)
	r.Get("/api/chats/{chatId}/messages", msgH.GetMessages)
	r.Post("/api/chats/{chatId}/messages", msgH.SendMessage)
	r.Post("/api/chats/{chatId}/read", msgH.MarkAsRead)
	r.Post("/api/messages/{messageId}/retry", msgH.Retry)

	if d.UI != nil {
		r.Get("/ws", d.UI.ServeWS)
	}
}

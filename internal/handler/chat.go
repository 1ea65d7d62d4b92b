package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/jobhub/messaging/internal/messaging"
	"github.com/jobhub/messaging/internal/model"
)

type ChatHandler struct {
	store *messaging.Store
	self  model.Identity
}

func NewChatHandler(store *messaging.Store, self model.Identity) *ChatHandler {
	return &ChatHandler{store: store, self: self}
}

type CreateChatRequest struct {
	ParticipantIDs []string `json:"participant_ids" validate:"required,min=1,dive,required"`
	Name           string   `json:"name"`
	Group          bool     `json:"group"`
}

type TypingRequest struct {
	Active bool `json:"active"`
}

// GetUserChats: чаты пользователя; ?user_id= позволяет посмотреть список глазами другого участника.
func (h *ChatHandler) GetUserChats(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		userID = h.self.CurrentUserID()
	}
	chats, err := h.store.GetChatsForUser(userID)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, chats)
}

func (h *ChatHandler) GetChat(w http.ResponseWriter, r *http.Request) {
	chat, err := h.store.GetChat(chi.URLParam(r, "chatId"))
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, chat)
}

// CreateChat отдаёт 200 для уже существующего личного чата и 201 для нового.
func (h *ChatHandler) CreateChat(w http.ResponseWriter, r *http.Request) {
	var req CreateChatRequest
	if !decodeBody(w, r, &req) {
		return
	}

	var opts []messaging.ChatOption
	if req.Name != "" {
		opts = append(opts, messaging.WithDisplayName(req.Name))
	}
	if req.Group {
		opts = append(opts, messaging.AsGroup())
	}

	before, err := h.store.GetChatsForUser(h.self.CurrentUserID())
	if err != nil {
		writeStoreError(w, err)
		return
	}
	chat, err := h.store.CreateChat(req.ParticipantIDs, opts...)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	status := http.StatusCreated
	for _, c := range before {
		if c.ID == chat.ID {
			status = http.StatusOK
			break
		}
	}
	writeJSON(w, status, chat)
}

func (h *ChatHandler) SetTyping(w http.ResponseWriter, r *http.Request) {
	var req TypingRequest
	if !decodeBody(w, r, &req) {
		return
	}
	chatID := chi.URLParam(r, "chatId")
	var err error
	if req.Active {
		err = h.store.StartTyping(chatID)
	} else {
		err = h.store.StopTyping(chatID)
	}
	if err != nil {
		writeStoreError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

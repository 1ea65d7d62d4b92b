package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/jobhub/messaging/internal/messaging"
	"github.com/jobhub/messaging/internal/model"
)

type MessageHandler struct {
	store *messaging.Store
}

func NewMessageHandler(store *messaging.Store) *MessageHandler {
	return &MessageHandler{store: store}
}

type SendMessageRequest struct {
	Content     string             `json:"content" validate:"required_without=Attachments"`
	Attachments []model.Attachment `json:"attachments" validate:"omitempty,dive"`
}

type MarkReadRequest struct {
	MessageIDs []string `json:"message_ids" validate:"omitempty,dive,required"`
}

// GetMessages отдаёт сообщения чата по времени создания.
// limit/offset считаются с конца: при offset=0 отдаются самые свежие.
func (h *MessageHandler) GetMessages(w http.ResponseWriter, r *http.Request) {
	messages, err := h.store.GetMessagesForChat(chi.URLParam(r, "chatId"))
	if err != nil {
		writeStoreError(w, err)
		return
	}

	limit := queryInt(r, "limit", 50)
	offset := queryInt(r, "offset", 0)
	if limit > 100 || limit <= 0 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}
	end := len(messages) - offset
	if end < 0 {
		end = 0
	}
	start := end - limit
	if start < 0 {
		start = 0
	}

	writeJSON(w, http.StatusOK, messages[start:end])
}

func (h *MessageHandler) SendMessage(w http.ResponseWriter, r *http.Request) {
	var req SendMessageRequest
	if !decodeBody(w, r, &req) {
		return
	}
	msg, err := h.store.SendMessage(chi.URLParam(r, "chatId"), req.Content, req.Attachments)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, msg)
}

// MarkAsRead: пустой message_ids отмечает прочитанным весь чат.
func (h *MessageHandler) MarkAsRead(w http.ResponseWriter, r *http.Request) {
	var req MarkReadRequest
	if r.ContentLength != 0 && !decodeBody(w, r, &req) {
		return
	}
	if err := h.store.MarkRead(chi.URLParam(r, "chatId"), req.MessageIDs); err != nil {
		writeStoreError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *MessageHandler) Retry(w http.ResponseWriter, r *http.Request) {
	msg, err := h.store.RetryMessage(chi.URLParam(r, "messageId"))
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, msg)
}

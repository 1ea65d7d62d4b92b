package handler

import (
	"net/http"

	"github.com/jobhub/messaging/internal/ws"
)

// StatusSource: текущее состояние канала к серверу сообщений.
type StatusSource interface {
	Status() ws.Status
}

type ConnectionHandler struct {
	src       StatusSource
	userID    string
	simulated bool
}

func NewConnectionHandler(src StatusSource, userID string, simulated bool) *ConnectionHandler {
	return &ConnectionHandler{src: src, userID: userID, simulated: simulated}
}

type connectionResponse struct {
	ws.Status
	Connected bool   `json:"connected"`
	UserID    string `json:"user_id"`
	Simulated bool   `json:"simulated"`
}

func (h *ConnectionHandler) Get(w http.ResponseWriter, r *http.Request) {
	st := h.src.Status()
	writeJSON(w, http.StatusOK, connectionResponse{
		Status:    st,
		Connected: st.State == ws.StateOpen,
		UserID:    h.userID,
		Simulated: h.simulated,
	})
}

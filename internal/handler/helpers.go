package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-playground/validator/v10"
	"github.com/jobhub/messaging/internal/logger"
	"github.com/jobhub/messaging/internal/messaging"
)

const maxBodySize = 1 << 20

var validate = validator.New(validator.WithRequiredStructEnabled())

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger.Errorf("writeJSON encode: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

// writeStoreError переводит ошибки стора в HTTP-статусы.
func writeStoreError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, messaging.ErrChatNotFound), errors.Is(err, messaging.ErrMessageNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, messaging.ErrEmptyMessage), errors.Is(err, messaging.ErrInvalidParticipants):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, messaging.ErrNotFailed):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, messaging.ErrStopped):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	default:
		logger.Errorf("store: %v", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

// decodeBody читает JSON-тело и проверяет теги validate.
func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return false
	}
	if err := validate.Struct(dst); err != nil {
		writeError(w, http.StatusBadRequest, validationMessage(err))
		return false
	}
	return true
}

func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		return fmt.Sprintf("invalid field %s (%s)", verrs[0].Field(), verrs[0].Tag())
	}
	return "invalid body"
}

func queryInt(r *http.Request, key string, defaultVal int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return n
}

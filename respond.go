package chatsync

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/klipach/chatsync/auth"
	"github.com/klipach/chatsync/chat"
	"github.com/klipach/chatsync/contract"
	"github.com/klipach/chatsync/gateway"
	"github.com/klipach/chatsync/log"
	"github.com/klipach/chatsync/upload"
	"github.com/klipach/chatsync/validate"
)

var (
	errNotParticipant = errors.New("not a chat participant")
	errChatNotFound   = errors.New("chat not found")
	errUploadDisabled = errors.New("image uploads are not configured")
)

// statusFor maps an error onto the response status and the message shown to
// the client.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, validate.ErrValidationFailed), errors.Is(err, upload.ErrInvalidImage):
		return http.StatusBadRequest, "Bad Request"
	case errors.Is(err, auth.ErrUnauthenticated):
		return http.StatusUnauthorized, "Unauthorized"
	case errors.Is(err, errNotParticipant):
		return http.StatusForbidden, "Forbidden"
	case errors.Is(err, errChatNotFound):
		return http.StatusNotFound, "Not Found"
	case errors.Is(err, errUploadDisabled):
		return http.StatusNotImplemented, "Not Implemented"
	case errors.Is(err, chat.ErrWriteFailed), errors.Is(err, upload.ErrUploadFailed):
		return http.StatusBadGateway, "Bad Gateway"
	case errors.Is(err, gateway.ErrRemoteDenied):
		return http.StatusForbidden, "Forbidden"
	case errors.Is(err, gateway.ErrRemoteUnavailable):
		return http.StatusServiceUnavailable, "Service Unavailable"
	}
	return http.StatusInternalServerError, "Internal Server Error"
}

func writeError(w http.ResponseWriter, logger *slog.Logger, msg string, err error) {
	code, text := statusFor(err)
	if code >= http.StatusInternalServerError {
		logger.Error(msg, log.Err(err), slog.Int("status", code))
	} else {
		logger.Warn(msg, log.Err(err), slog.Int("status", code))
	}
	resp := contract.ErrorResponse{Error: text}
	var fieldErr *validate.FieldError
	if errors.As(err, &fieldErr) {
		resp.Fields = fieldErr.Fields
	}
	writeJSON(w, logger, code, resp)
}

func writeJSON(w http.ResponseWriter, logger *slog.Logger, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Error("error while encoding response", log.Err(err))
	}
}

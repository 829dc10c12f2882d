package gateway

import (
	"context"
	"errors"
	"net/http"

	"github.com/man-su-97/rag-chatbot/internal/agent"
	"github.com/man-su-97/rag-chatbot/internal/commands"
	"github.com/man-su-97/rag-chatbot/internal/sessions"
)

// errorResponse is the body of every error reply.
type errorResponse struct {
	Error      string `json:"error"`
	StatusCode int    `json:"statusCode"`
}

// StatusFor maps an error onto an HTTP status code.
func StatusFor(err error) int {
	var validationErr *agent.ValidationError
	switch {
	case err == nil:
		return http.StatusOK
	case errors.As(err, &validationErr), errors.Is(err, agent.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, sessions.ErrLockTimeout):
		return http.StatusConflict
	case errors.Is(err, agent.ErrAuth):
		return http.StatusUnauthorized
	case errors.Is(err, agent.ErrInvalidRequest), errors.Is(err, agent.ErrUnsupportedProvider):
		return http.StatusBadRequest
	case errors.Is(err, commands.ErrUninterpretable):
		return http.StatusBadRequest
	case errors.Is(err, sessions.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	}

	switch agent.ClassifyError(err) {
	case agent.ClassAuth:
		return http.StatusUnauthorized
	case agent.ClassInvalidRequest:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, err error) {
	writeErrorStatus(w, StatusFor(err), agent.PublicMessage(err))
}

func writeErrorStatus(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Error: message, StatusCode: status})
}

package gateway

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/man-su-97/rag-chatbot/internal/agent"
	"github.com/man-su-97/rag-chatbot/internal/observability"
	"github.com/man-su-97/rag-chatbot/pkg/models"
)

type messageRequest struct {
	SessionID      string `json:"sessionId"`
	Message        string `json:"message"`
	MetadataIP     string `json:"metadataIp,omitempty"`
	MetadataDevice string `json:"metadataDevice,omitempty"`
}

type configureRequest struct {
	SessionID string `json:"sessionId"`
	Provider  string `json:"provider"`
	Model     string `json:"model"`
	APIKey    string `json:"apiKey,omitempty"`
}

type interpretRequest struct {
	Message string `json:"message"`
}

type historyResponse struct {
	History []models.Message `json:"history"`
}

type newSessionResponse struct {
	SessionID string `json:"sessionId"`
}

type healthResponse struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
}

func (s *Server) handleRoot(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte("Server is running!")) //nolint:errcheck
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{
		Status:    "ok",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) handleNewSession(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusCreated, newSessionResponse{SessionID: uuid.NewString()})
}

func (s *Server) handleConfigureSession(w http.ResponseWriter, r *http.Request) {
	var req configureRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.SessionID) == "" {
		writeError(w, &agent.ValidationError{Field: "sessionId", Reason: "is required"})
		return
	}
	provider, err := models.ParseProvider(req.Provider)
	if err != nil {
		writeError(w, &agent.ValidationError{Field: "provider", Reason: err.Error()})
		return
	}

	ctx := observability.AddSessionID(r.Context(), req.SessionID)
	cfg, err := s.configs.Configure(ctx, req.SessionID, provider, req.Model, req.APIKey)
	if err != nil {
		s.logger.WarnContext(ctx, "session configure rejected", "provider", provider, "model", req.Model, "error", err)
		writeError(w, err)
		return
	}
	s.logger.InfoContext(ctx, "session configured", "provider", cfg.Provider, "model", cfg.Model)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("sessionId")
	ctx := observability.AddSessionID(r.Context(), sessionID)

	msgs, err := s.history.LoadMemory(ctx, sessionID)
	if err != nil {
		s.logger.ErrorContext(ctx, "history load failed", "error", err)
		writeError(w, fmt.Errorf("load history: %w", err))
		return
	}
	if msgs == nil {
		msgs = []models.Message{}
	}
	writeJSON(w, http.StatusOK, historyResponse{History: msgs})
}

func (s *Server) handleMessage(w http.ResponseWriter, r *http.Request) {
	var req messageRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if err := checkMessageRequest(req); err != nil {
		writeError(w, err)
		return
	}

	ctx := observability.AddSessionID(r.Context(), req.SessionID)
	sc := s.sessionContext(r, req)
	result, err := s.runner.Run(ctx, sc, req.Message)
	if err != nil {
		s.logger.WarnContext(ctx, "turn failed", "error", err)
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleInterpret(w http.ResponseWriter, r *http.Request) {
	var req interpretRequest
	if !decodeBody(w, r, &req) {
		return
	}
	cmd, err := s.commands.Interpret(r.Context(), req.Message)
	if err != nil {
		writeErrorStatus(w, http.StatusBadRequest, fmt.Sprintf("Could not interpret command: %v", err))
		return
	}
	writeJSON(w, http.StatusOK, cmd)
}

// sessionContext builds the turn's session context. Client metadata falls
// back to the request's remote address and user agent.
func (s *Server) sessionContext(r *http.Request, req messageRequest) agent.SessionContext {
	ip := strings.TrimSpace(req.MetadataIP)
	if ip == "" {
		ip = clientIP(r)
	}
	device := strings.TrimSpace(req.MetadataDevice)
	if device == "" {
		device = r.UserAgent()
	}
	return agent.NewSessionContext(req.SessionID, s.configs.Resolve(req.SessionID)).WithClient(ip, device)
}

func checkMessageRequest(req messageRequest) error {
	if strings.TrimSpace(req.SessionID) == "" {
		return &agent.ValidationError{Field: "sessionId", Reason: "is required"}
	}
	if req.Message == "" {
		return &agent.ValidationError{Field: "message", Reason: "is required"}
	}
	return nil
}

func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		return strings.TrimSpace(first)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// decodeBody decodes a JSON body into v. On failure it writes the error
// response and returns false.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	defer r.Body.Close()

	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeErrorStatus(w, http.StatusRequestEntityTooLarge, "request too large")
			return false
		}
		writeErrorStatus(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	// The client may already be gone.
	_ = json.NewEncoder(w).Encode(payload) //nolint:errcheck
}

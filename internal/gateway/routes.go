package gateway

import "net/http"

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /{$}", s.handleRoot)
	mux.HandleFunc("GET /health", s.handleHealth)
	if s.config.MetricsPath != "" && s.config.MetricsHandler != nil {
		mux.Handle("GET "+s.config.MetricsPath, s.config.MetricsHandler)
	}

	mux.HandleFunc("POST /chatbot/session/new", s.handleNewSession)
	mux.HandleFunc("POST /chatbot/session/configure", s.handleConfigureSession)
	mux.HandleFunc("GET /chatbot/history/{sessionId}", s.handleHistory)
	mux.Handle("POST /chatbot/message", s.rateLimit(http.HandlerFunc(s.handleMessage)))
	mux.Handle("GET /chatbot/chat-stream", s.rateLimit(http.HandlerFunc(s.handleChatStream)))
	mux.Handle("GET /chatbot/ws", s.rateLimit(s.newWSHandler()))

	if s.commands != nil {
		mux.Handle("POST /command/interpret", s.rateLimit(http.HandlerFunc(s.handleInterpret)))
	}

	var h http.Handler = mux
	h = s.corsMiddleware(h)
	h = s.observeMiddleware(h)
	h = s.recoverMiddleware(h)
	return h
}

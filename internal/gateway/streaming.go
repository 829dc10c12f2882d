package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"

	"github.com/man-su-97/rag-chatbot/internal/agent"
	"github.com/man-su-97/rag-chatbot/internal/observability"
)

// ndjsonSink writes one StreamEvent per line and flushes after each.
type ndjsonSink struct {
	mu  sync.Mutex
	enc *json.Encoder
	rc  *http.ResponseController
}

func newNDJSONSink(w http.ResponseWriter) *ndjsonSink {
	return &ndjsonSink{
		enc: json.NewEncoder(w),
		rc:  http.NewResponseController(w),
	}
}

// Send implements agent.EventSink.
func (s *ndjsonSink) Send(ctx context.Context, event agent.StreamEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enc.Encode(event); err != nil {
		return err
	}
	if err := s.rc.Flush(); err != nil && err != http.ErrNotSupported {
		return err
	}
	return nil
}

func (s *Server) handleChatStream(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	req := messageRequest{
		SessionID:      q.Get("sessionId"),
		Message:        q.Get("message"),
		MetadataIP:     q.Get("metadataIp"),
		MetadataDevice: q.Get("metadataDevice"),
	}
	sink := startStream(w)

	// Input errors are reported like every other turn failure, as a single
	// error event.
	if err := checkMessageRequest(req); err != nil {
		_ = sink.Send(r.Context(), agent.ErrorEvent(agent.PublicMessage(err))) //nolint:errcheck
		return
	}

	// The request context ends when the client disconnects, which cancels
	// the turn.
	ctx := observability.AddSessionID(r.Context(), req.SessionID)
	sc := s.sessionContext(r, req)
	if _, err := s.streamer.Stream(ctx, sc, req.Message, sink); err != nil {
		s.logger.DebugContext(ctx, "stream ended with error", "error", err)
	}
}

// startStream writes the ndjson response headers and returns the sink for
// the body.
func startStream(w http.ResponseWriter) *ndjsonSink {
	h := w.Header()
	h.Set("Content-Type", "application/x-ndjson; charset=utf-8")
	h.Set("Cache-Control", "no-cache, no-transform")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	h.Set("Access-Control-Allow-Origin", "*")
	h.Set("Access-Control-Expose-Headers", "*")
	w.WriteHeader(http.StatusOK)

	sink := newNDJSONSink(w)
	_ = sink.rc.Flush() //nolint:errcheck
	return sink
}

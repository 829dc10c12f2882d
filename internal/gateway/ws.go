package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/man-su-97/rag-chatbot/internal/agent"
	"github.com/man-su-97/rag-chatbot/internal/observability"
)

const (
	wsMaxPayloadBytes = 1 << 20
	wsPongWait        = 45 * time.Second
	wsPingPeriod      = (wsPongWait * 9) / 10
	wsWriteWait       = 10 * time.Second
	wsSendBuffer      = 64

	// wsMaxTurns bounds the chat.send turns running on one connection.
	wsMaxTurns = 4
)

const methodChatSend = "chat.send"

// wsFrame is the envelope of every websocket message in both directions.
type wsFrame struct {
	Type    string          `json:"type"`
	ID      string          `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	OK      *bool           `json:"ok,omitempty"`
	Payload any             `json:"payload,omitempty"`
	Error   *wsError        `json:"error,omitempty"`
	Seq     *int64          `json:"seq,omitempty"`
}

type wsError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type wsChatSendParams struct {
	SessionID      string `json:"sessionId"`
	Message        string `json:"message"`
	MetadataIP     string `json:"metadataIp,omitempty"`
	MetadataDevice string `json:"metadataDevice,omitempty"`
}

type wsHandler struct {
	server   *Server
	logger   *slog.Logger
	upgrader websocket.Upgrader
}

func (s *Server) newWSHandler() http.Handler {
	origin := s.config.CORSOrigin
	return &wsHandler{
		server: s,
		logger: s.logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  8192,
			WriteBufferSize: 8192,
			CheckOrigin: func(r *http.Request) bool {
				got := r.Header.Get("Origin")
				return got == "" || origin == "" || origin == "*" || got == origin
			},
		},
	}
}

// wsConn is one websocket client. Each chat.send runs as its own turn;
// closing the socket cancels every running turn.
type wsConn struct {
	handler *wsHandler
	conn    *websocket.Conn
	request *http.Request
	send    chan []byte
	ctx     context.Context
	cancel  context.CancelFunc
	turns   sync.WaitGroup
	slots   chan struct{}
	seq     int64
}

func (h *wsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.DebugContext(r.Context(), "websocket upgrade failed", "error", err)
		return
	}

	// The request context is not cancelled when a hijacked connection
	// closes, so the connection owns its own.
	ctx, cancel := context.WithCancel(context.WithoutCancel(r.Context()))
	c := &wsConn{
		handler: h,
		conn:    conn,
		request: r,
		send:    make(chan []byte, wsSendBuffer),
		slots:   make(chan struct{}, wsMaxTurns),
		ctx:     ctx,
		cancel:  cancel,
	}
	c.run()
}

func (c *wsConn) run() {
	defer c.close()
	go c.writeLoop()
	c.readLoop()
}

func (c *wsConn) close() {
	c.cancel()
	c.turns.Wait()
	_ = c.conn.Close()
}

func (c *wsConn) readLoop() {
	c.conn.SetReadLimit(wsMaxPayloadBytes)
	_ = c.conn.SetReadDeadline(time.Now().Add(wsPongWait)) //nolint:errcheck
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})

	for {
		messageType, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}

		frame, err := decodeWSFrame(data)
		if err != nil {
			c.sendError("", "invalid_frame", err.Error())
			continue
		}
		if err := c.handleRequest(frame); err != nil {
			c.sendError(frame.ID, "request_failed", err.Error())
		}
	}
}

func (c *wsConn) writeLoop() {
	ticker := time.NewTicker(wsPingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-c.ctx.Done():
			_ = c.conn.WriteControl(websocket.CloseMessage, //nolint:errcheck
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(wsWriteWait))
			return
		case msg := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait)) //nolint:errcheck
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				c.cancel()
				_ = c.conn.Close()
				return
			}
		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait)); err != nil {
				c.cancel()
				_ = c.conn.Close()
				return
			}
		}
	}
}

func decodeWSFrame(raw []byte) (*wsFrame, error) {
	var frame wsFrame
	if err := json.Unmarshal(raw, &frame); err != nil {
		return nil, err
	}
	if err := validateWSRequestFrame(raw, &frame); err != nil {
		return nil, err
	}
	return &frame, nil
}

func (c *wsConn) handleRequest(frame *wsFrame) error {
	switch frame.Method {
	case "ping":
		return c.sendResponse(frame.ID, map[string]any{"timestamp": time.Now().UnixMilli()})
	case methodChatSend:
		return c.handleChatSend(frame)
	default:
		return fmt.Errorf("unknown method %q", frame.Method)
	}
}

func (c *wsConn) handleChatSend(frame *wsFrame) error {
	var params wsChatSendParams
	if err := json.Unmarshal(frame.Params, &params); err != nil {
		return err
	}
	req := messageRequest{
		SessionID:      params.SessionID,
		Message:        params.Message,
		MetadataIP:     params.MetadataIP,
		MetadataDevice: params.MetadataDevice,
	}
	select {
	case c.slots <- struct{}{}:
	default:
		c.sendError(frame.ID, "busy", fmt.Sprintf("at most %d turns may run per connection", wsMaxTurns))
		return nil
	}
	if err := c.sendResponse(frame.ID, map[string]any{"status": "accepted"}); err != nil {
		<-c.slots
		return err
	}

	s := c.handler.server
	sc := s.sessionContext(c.request, req)
	sink := agent.EventSinkFunc(func(ctx context.Context, event agent.StreamEvent) error {
		return c.sendEvent(ctx, frame.ID, event)
	})

	c.turns.Add(1)
	go func() {
		defer c.turns.Done()
		defer func() { <-c.slots }()
		ctx := observability.AddSessionID(c.ctx, req.SessionID)
		if _, err := s.streamer.Stream(ctx, sc, req.Message, sink); err != nil {
			c.handler.logger.DebugContext(ctx, "websocket turn ended with error", "request_id", frame.ID, "error", err)
		}
	}()
	return nil
}

func (c *wsConn) sendResponse(id string, payload any) error {
	ok := true
	return c.enqueue(c.ctx, wsFrame{Type: "res", ID: id, OK: &ok, Payload: payload})
}

func (c *wsConn) sendEvent(ctx context.Context, id string, event agent.StreamEvent) error {
	seq := atomic.AddInt64(&c.seq, 1)
	return c.enqueue(ctx, wsFrame{Type: "event", ID: id, Payload: event, Seq: &seq})
}

func (c *wsConn) sendError(id, code, message string) {
	ok := false
	_ = c.enqueue(c.ctx, wsFrame{Type: "res", ID: id, OK: &ok, Error: &wsError{Code: code, Message: message}}) //nolint:errcheck
}

func (c *wsConn) enqueue(ctx context.Context, frame wsFrame) error {
	data, err := json.Marshal(frame)
	if err != nil {
		return err
	}
	if len(data) > wsMaxPayloadBytes {
		return fmt.Errorf("payload too large")
	}
	select {
	case c.send <- data:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-c.ctx.Done():
		return c.ctx.Err()
	}
}

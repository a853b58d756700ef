package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
)

const (
	socketWriteWait  = 10 * time.Second
	socketPongWait   = 60 * time.Second
	socketPingPeriod = socketPongWait * 9 / 10
)

// SocketRequest is one client frame on /ws
type SocketRequest struct {
	ID string `json:"id,omitempty"` // echoed back so clients can match replies
	ChatRequest
}

// SocketReply is one server frame on /ws. Type is queued, reply or error.
type SocketReply struct {
	ID   string `json:"id,omitempty"`
	Type string `json:"type"`
	ChatResponse
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
}

// socketConn serializes writes; gorilla allows one concurrent writer
type socketConn struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (c *socketConn) send(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(socketWriteWait))
	return c.conn.WriteJSON(v)
}

func (c *socketConn) ping() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(socketWriteWait))
}

// ChatSocket handles GET /ws. Prompts on one connection run in order; closing
// the connection cancels the one in flight.
func (h *Handler) ChatSocket(w http.ResponseWriter, r *http.Request) {
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warnw("WebSocket upgrade failed", "error", err)
		return
	}
	conn := &socketConn{conn: ws}
	defer ws.Close()

	reqID := chiMiddleware.GetReqID(r.Context())
	h.log.Infow("WebSocket connected", "request_id", reqID, "remote", r.RemoteAddr)

	ctx, cancel := context.WithCancel(context.WithoutCancel(r.Context()))
	defer cancel()

	ws.SetReadLimit(maxBodyBytes)
	ws.SetReadDeadline(time.Now().Add(socketPongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(socketPongWait))
	})

	frames := make(chan []byte)
	go func() {
		defer cancel()
		defer close(frames)
		for {
			_, data, err := ws.ReadMessage()
			if err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					h.log.Debugw("WebSocket read failed", "request_id", reqID, "error", err)
				}
				return
			}
			select {
			case frames <- data:
			case <-ctx.Done():
				return
			}
		}
	}()

	go func() {
		ticker := time.NewTicker(socketPingPeriod)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := conn.ping(); err != nil {
					cancel()
					return
				}
			}
		}
	}()

	for data := range frames {
		if err := h.handleFrame(ctx, conn, data); err != nil {
			if !errors.Is(err, context.Canceled) {
				h.log.Debugw("WebSocket write failed", "request_id", reqID, "error", err)
			}
			return
		}
	}
}

func (h *Handler) handleFrame(ctx context.Context, conn *socketConn, data []byte) error {
	var req SocketRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return conn.send(SocketReply{Type: "error", ChatResponse: failure("invalid message: " + err.Error())})
	}
	if strings.TrimSpace(req.Prompt) == "" {
		return conn.send(SocketReply{ID: req.ID, Type: "error", ChatResponse: failure("prompt is required")})
	}
	maxRetries, err := h.retries(req.MaxRetries)
	if err != nil {
		return conn.send(SocketReply{ID: req.ID, Type: "error", ChatResponse: failure(err.Error())})
	}

	if err := conn.send(SocketReply{ID: req.ID, Type: "queued"}); err != nil {
		return err
	}

	_, resp := h.exchange(ctx, "ws", req.Prompt, maxRetries)
	if err := ctx.Err(); err != nil {
		return err
	}
	return conn.send(SocketReply{ID: req.ID, Type: "reply", ChatResponse: resp})
}

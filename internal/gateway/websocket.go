package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/haasonsaas/tariti/internal/agent"
	"github.com/haasonsaas/tariti/pkg/models"
)

const (
	wsMaxPayloadBytes = 4 << 20
	wsPongWait        = 45 * time.Second
	wsWriteWait       = 10 * time.Second
	wsSendBuffer      = 256
)

// wsFrame is a client request on the WebSocket.
type wsFrame struct {
	Action     string           `json:"action"`
	Messages   []models.Message `json:"messages,omitempty"`
	ChatID     string           `json:"chat_id,omitempty"`
	ApprovalID string           `json:"approval_id,omitempty"`
	Reason     string           `json:"reason,omitempty"`
}

type wsSession struct {
	server *Server
	conn   *websocket.Conn
	send   chan []byte
	ctx    context.Context
	cancel context.CancelFunc
	logger *slog.Logger

	user  *models.User
	token string
	// busy is set while a turn runs; one turn at a time per connection.
	busy atomic.Bool
}

func (s *Server) upgrader() websocket.Upgrader {
	allowed := strings.TrimRight(s.config.FrontendURL, "/")
	return websocket.Upgrader{
		ReadBufferSize:  8192,
		WriteBufferSize: 8192,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			return origin == "" || origin == allowed
		},
	}
}

// handleWebSocket serves the streaming protocol over a WebSocket. Each
// client frame starts or resumes a turn; events come back as one JSON text
// frame each, in the same shape as the SSE data lines.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	upgrader := s.upgrader()
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	user, token := caller(r)

	ctx, cancel := context.WithCancel(context.WithoutCancel(r.Context()))
	session := &wsSession{
		server: s,
		conn:   conn,
		send:   make(chan []byte, wsSendBuffer),
		ctx:    ctx,
		cancel: cancel,
		logger: s.logger.With("ws_session", uuid.NewString()),
		user:   user,
		token:  token,
	}
	release := s.deps.Metrics.StreamOpened()
	defer release()
	session.run()
}

func (ws *wsSession) run() {
	done := make(chan struct{})
	go func() {
		defer close(done)
		ws.writeLoop()
	}()
	ws.readLoop()
	ws.cancel()
	<-done
	_ = ws.conn.Close()
}

func (ws *wsSession) readLoop() {
	ws.conn.SetReadLimit(wsMaxPayloadBytes)
	_ = ws.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	ws.conn.SetPongHandler(func(string) error {
		return ws.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})

	for {
		messageType, data, err := ws.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				ws.logger.Debug("websocket read failed", "error", err)
			}
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}
		var frame wsFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			ws.sendError("Invalid frame")
			continue
		}
		ws.handleFrame(frame)
	}
}

func (ws *wsSession) writeLoop() {
	ticker := time.NewTicker(ws.server.config.KeepaliveInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ws.ctx.Done():
			_ = ws.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(wsWriteWait))
			return
		case data := <-ws.send:
			_ = ws.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := ws.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				ws.cancel()
				return
			}
		case <-ticker.C:
			if err := ws.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait)); err != nil {
				ws.cancel()
				return
			}
		}
	}
}

func (ws *wsSession) handleFrame(frame wsFrame) {
	switch frame.Action {
	case "chat":
		if !ws.allowTurn() {
			return
		}
		turn, err := ws.server.newTurn(ws.ctx, ws.user, ws.token, chatRequest{Messages: frame.Messages, ChatID: frame.ChatID})
		if err != nil {
			ws.sendFailure(err)
			return
		}
		ws.start(func(ctx context.Context, sink agent.Sink) {
			ws.server.runTurn(ctx, turn, sink)
		})
	case "approve", "reject":
		if ws.busy.Load() {
			ws.sendError("A response is already in progress")
			return
		}
		if frame.Action == "approve" && !ws.allowTurn() {
			return
		}
		pending, route, err := ws.server.claim(ws.ctx, ws.user, ws.token, decisionRequest{ApprovalID: frame.ApprovalID})
		if err != nil {
			ws.sendFailure(err)
			return
		}
		decision := agent.Decision{Approve: frame.Action == "approve"}
		if !decision.Approve {
			decision.Reason = frame.Reason
		}
		ws.start(func(ctx context.Context, sink agent.Sink) {
			ws.server.resumeTurn(ctx, pending, decision, route, sink)
		})
	default:
		ws.sendError("Unknown action")
	}
}

// allowTurn applies the chat limit shared with the HTTP chat and approve
// routes. Frames over the limit are answered with an error event.
func (ws *wsSession) allowTurn() bool {
	if ws.server.chatLimiter.Allow(userKey(ws.user.ID)).Allowed {
		return true
	}
	ws.sendError(chatLimitMessage)
	return false
}

// start runs a turn in the background so the read loop keeps answering
// pings. Only one turn runs per connection.
func (ws *wsSession) start(run func(ctx context.Context, sink agent.Sink)) {
	if !ws.busy.CompareAndSwap(false, true) {
		ws.sendError("A response is already in progress")
		return
	}
	ws.server.turns.Add(1)
	go func() {
		defer ws.server.turns.Done()
		defer ws.busy.Store(false)
		run(ws.ctx, &wsSink{session: ws})
	}()
}

func (ws *wsSession) sendFailure(err error) {
	var apiErr *apiError
	if errors.As(err, &apiErr) {
		ws.sendError(apiErr.Message)
		return
	}
	ws.logger.Error("websocket request failed", "error", err)
	ws.sendError("Internal server error")
}

func (ws *wsSession) sendError(msg string) {
	_ = (&wsSink{session: ws}).Send(models.ErrorEvent(msg))
}

// wsSink queues events for the session writer.
type wsSink struct {
	session *wsSession
}

func (s *wsSink) Send(e models.Event) error {
	data, err := json.Marshal(e)
	if err != nil {
		return err
	}
	select {
	case <-s.session.ctx.Done():
		return errStreamClosed
	case s.session.send <- data:
		return nil
	}
}

// Close is a no-op; the connection outlives a single turn.
func (s *wsSink) Close() error { return nil }

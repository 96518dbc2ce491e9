package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/CJButlers/RXhale/internal/projection"
	"github.com/CJButlers/RXhale/internal/roster"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Live message types.
const (
	LiveTypeView   = "view"
	LiveTypeRoster = "roster"
	LiveTypeError  = "error"
)

// LiveMessage is one frame sent to a WebSocket observer.
type LiveMessage struct {
	Type    string `json:"type"`
	Data    any    `json:"data,omitempty"`
	Message string `json:"message,omitempty"`
}

// LiveHandler streams projection subscriptions over WebSockets.
type LiveHandler struct {
	engine     *projection.Engine
	upgrader   websocket.Upgrader
	writeWait  time.Duration
	pongWait   time.Duration
	pingPeriod time.Duration
	logger     *zap.Logger
}

// NewLiveHandler creates the handler. An empty allowedOrigins accepts any origin.
func NewLiveHandler(engine *projection.Engine, allowedOrigins []string, logger *zap.Logger) *LiveHandler {
	allowed := make(map[string]bool, len(allowedOrigins))
	for _, o := range allowedOrigins {
		allowed[o] = true
	}
	return &LiveHandler{
		engine: engine,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				if len(allowed) == 0 {
					return true
				}
				return allowed[r.Header.Get("Origin")]
			},
		},
		writeWait:  10 * time.Second,
		pongWait:   60 * time.Second,
		pingPeriod: 50 * time.Second,
		logger:     logger,
	}
}

// PatientStream streams one patient's projected view.
func (h *LiveHandler) PatientStream(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	// subscribe before upgrading so failures are plain HTTP errors
	sub, err := h.engine.Subscribe(ctx, id)
	if err != nil {
		writeError(w, err)
		return
	}
	defer sub.Unsubscribe()

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("WebSocket upgrade failed", zap.String("patient_id", id), zap.Error(err))
		return
	}
	defer conn.Close()

	h.logger.Debug("Live patient stream opened", zap.String("patient_id", id))
	stream(ctx, cancel, h, conn, sub, func(v projection.ProjectedView) LiveMessage {
		return LiveMessage{Type: LiveTypeView, Data: v}
	})
}

// RosterStream streams the filtered roster: ?tab=all|critical&q=search
func (h *LiveHandler) RosterStream(w http.ResponseWriter, r *http.Request) {
	q := queryFromRequest(r)
	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	sub, err := h.engine.SubscribeRoster(ctx)
	if err != nil {
		writeError(w, err)
		return
	}
	defer sub.Unsubscribe()

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("WebSocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	stream(ctx, cancel, h, conn, sub, func(entries []projection.RosterEntry) LiveMessage {
		return LiveMessage{Type: LiveTypeRoster, Data: roster.Filter(entries, q)}
	})
}

// stream writes every value of sub to conn until the client leaves or the
// subscription ends. A lost subscription is reported in an error frame.
func stream[V any](ctx context.Context, cancel context.CancelFunc, h *LiveHandler, conn *websocket.Conn, sub *projection.Subscription[V], frame func(V) LiveMessage) {
	go h.readLoop(conn, cancel)

	ticker := time.NewTicker(h.pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			h.closeConn(conn, websocket.CloseNormalClosure, "")
			return
		case v, ok := <-sub.Views():
			if !ok {
				if err := sub.Err(); err != nil {
					h.logger.Warn("Live stream lost", zap.Error(err))
					_ = h.write(conn, LiveMessage{Type: LiveTypeError, Message: err.Error()})
					h.closeConn(conn, websocket.CloseInternalServerErr, "subscription lost")
					return
				}
				h.closeConn(conn, websocket.CloseNormalClosure, "")
				return
			}
			if err := h.write(conn, frame(v)); err != nil {
				h.logger.Debug("Live client write failed", zap.Error(err))
				return
			}
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(h.writeWait)); err != nil {
				return
			}
		}
	}
}

// readLoop drains client frames so control messages are processed, and
// cancels the stream when the client goes away.
func (h *LiveHandler) readLoop(conn *websocket.Conn, cancel context.CancelFunc) {
	defer cancel()
	conn.SetReadLimit(512)
	_ = conn.SetReadDeadline(time.Now().Add(h.pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(h.pongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *LiveHandler) write(conn *websocket.Conn, msg LiveMessage) error {
	_ = conn.SetWriteDeadline(time.Now().Add(h.writeWait))
	return conn.WriteJSON(msg)
}

func (h *LiveHandler) closeConn(conn *websocket.Conn, code int, text string) {
	_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, text), time.Now().Add(h.writeWait))
}

package ws

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/kasuganosora/socialgraph/cache"
	"github.com/kasuganosora/socialgraph/config"
	mw "github.com/kasuganosora/socialgraph/middleware"
	"github.com/kasuganosora/socialgraph/notify"
	"github.com/kasuganosora/socialgraph/session"
	"go.uber.org/zap"
)

// NotificationType is the packet type carrying a pushed notify.Event.
const NotificationType = "notification"

// Handler is the Gin handler for GET /ws.
type Handler struct {
	cache    cache.Cache
	pubsub   cache.PubSub
	sec      config.SecurityConfig
	sm       *session.Manager
	router   *Router
	logger   *zap.Logger
	upgrader websocket.Upgrader
}

// NewHandler creates a new WebSocket Handler.
// sec.AllowedOrigins controls which WebSocket origins are accepted.
// An empty slice permits all origins (development only).
func NewHandler(
	c cache.Cache,
	ps cache.PubSub,
	sec config.SecurityConfig,
	sm *session.Manager,
	router *Router,
	logger *zap.Logger,
) *Handler {
	h := &Handler{
		cache:  c,
		pubsub: ps,
		sec:    sec,
		sm:     sm,
		router: router,
		logger: logger,
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     OriginChecker(sec.AllowedOrigins),
	}
	return h
}

// OriginChecker accepts requests whose Origin is in allowed. An empty list
// accepts every origin.
func OriginChecker(allowed []string) func(r *http.Request) bool {
	return func(r *http.Request) bool {
		if len(allowed) == 0 {
			return true // dev mode: allow all
		}
		origin := r.Header.Get("Origin")
		for _, o := range allowed {
			if o == origin {
				return true
			}
		}
		return false
	}
}

// ServeWS handles GET /ws?token=<jwt>.
func (h *Handler) ServeWS(c *gin.Context) {
	claims, err := mw.Authenticate(c.Request.Context(), h.sec, h.cache, c.Query("token"))
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
		return
	}

	// Subscribe before upgrading so no notification published after the
	// handshake can be missed.
	subCtx, cancelSub := context.WithCancel(context.Background())
	msgs, unsubscribe, err := h.pubsub.Subscribe(subCtx, notify.Channel(claims.UserID))
	if err != nil {
		cancelSub()
		h.logger.Error("notification subscribe failed",
			zap.Int64("user_id", claims.UserID), zap.Error(err))
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "notifications unavailable"})
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		unsubscribe()
		cancelSub()
		h.logger.Error("ws upgrade failed", zap.Error(err))
		return
	}

	sess := session.NewUserSession(claims.UserID, conn, h.logger)
	h.sm.Register(sess)
	go h.forward(sess, msgs)

	// Blocks until the connection closes.
	h.readPump(sess)

	unsubscribe()
	cancelSub()
}

// forward pushes every pub/sub message to s as a notification packet.
func (h *Handler) forward(s *session.UserSession, msgs <-chan *cache.Message) {
	for {
		select {
		case msg, ok := <-msgs:
			if !ok {
				return
			}
			s.Send(&session.Packet{Type: NotificationType, Payload: []byte(msg.Payload)})
		case <-s.Done:
			return
		}
	}
}

// readPump reads messages from the WebSocket connection and dispatches them.
func (h *Handler) readPump(s *session.UserSession) {
	defer h.handleDisconnect(s)

	s.SetReadDeadline()
	s.Conn.SetPongHandler(func(string) error {
		s.SetReadDeadline()
		return nil
	})

	for {
		_, raw, err := s.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err,
				websocket.CloseGoingAway,
				websocket.CloseNormalClosure,
				websocket.CloseNoStatusReceived) {
				h.logger.Warn("ws unexpected close",
					zap.Int64("user_id", s.UserID),
					zap.Error(err))
			}
			return
		}
		// Reset read deadline on any message (heartbeat or otherwise).
		s.SetReadDeadline()
		h.router.Dispatch(s, raw)
	}
}

// handleDisconnect cleans up the session after the connection closes.
func (h *Handler) handleDisconnect(s *session.UserSession) {
	s.Close()
	h.sm.Unregister(s)
	h.logger.Info("user disconnected", zap.Int64("user_id", s.UserID))
}

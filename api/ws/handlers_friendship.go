package ws

import (
	"context"
	"encoding/json"

	"github.com/kasuganosora/socialgraph/friendship"
	"github.com/kasuganosora/socialgraph/session"
	"go.uber.org/zap"
)

// FriendshipHandlers exposes friendship operations over WebSocket.
type FriendshipHandlers struct {
	engine *friendship.Engine
	logger *zap.Logger
}

// NewFriendshipHandlers creates FriendshipHandlers.
func NewFriendshipHandlers(engine *friendship.Engine, logger *zap.Logger) *FriendshipHandlers {
	return &FriendshipHandlers{engine: engine, logger: logger}
}

// RegisterHandlers registers friendship WS handlers.
func (h *FriendshipHandlers) RegisterHandlers(r *Router) {
	r.On("ping", h.HandlePing)
	r.On("friend_request", h.HandleRequest)
	r.On("friend_accept", h.HandleAccept)
	r.On("friend_status", h.HandleStatus)
}

// HandlePing answers a client heartbeat.
func (h *FriendshipHandlers) HandlePing(_ context.Context, s *session.UserSession, _ json.RawMessage) error {
	s.Send(&session.Packet{Type: "pong"})
	return nil
}

type friendRequestPayload struct {
	FriendID int64 `json:"friend_id"`
}

// HandleRequest sends a friend request.
func (h *FriendshipHandlers) HandleRequest(ctx context.Context, s *session.UserSession, raw json.RawMessage) error {
	var req friendRequestPayload
	if err := json.Unmarshal(raw, &req); err != nil || req.FriendID == 0 {
		replyError(s, "invalid payload")
		return nil
	}
	res, err := h.engine.SendFriendRequest(ctx, s.UserID, req.FriendID)
	if err != nil {
		return replyFailure(s, err)
	}
	reply(s, "friend_request_result", res)
	return nil
}

type friendAcceptPayload struct {
	FriendshipID int64 `json:"friendship_id"`
}

// HandleAccept accepts a pending request addressed to the session's user.
func (h *FriendshipHandlers) HandleAccept(ctx context.Context, s *session.UserSession, raw json.RawMessage) error {
	var req friendAcceptPayload
	if err := json.Unmarshal(raw, &req); err != nil || req.FriendshipID == 0 {
		replyError(s, "invalid payload")
		return nil
	}
	edge, err := h.engine.AcceptFriendRequest(ctx, req.FriendshipID, s.UserID)
	if err != nil {
		return replyFailure(s, err)
	}
	reply(s, "friend_accept_result", map[string]interface{}{"friendship": edge})
	return nil
}

type friendStatusPayload struct {
	UserID int64 `json:"user_id"`
}

// HandleStatus reports the relationship with another user.
func (h *FriendshipHandlers) HandleStatus(ctx context.Context, s *session.UserSession, raw json.RawMessage) error {
	var req friendStatusPayload
	if err := json.Unmarshal(raw, &req); err != nil || req.UserID == 0 {
		replyError(s, "invalid payload")
		return nil
	}
	status, err := h.engine.GetFriendshipStatus(ctx, s.UserID, req.UserID)
	if err != nil {
		return replyFailure(s, err)
	}
	reply(s, "friend_status_result", map[string]interface{}{
		"user_id": req.UserID,
		"status":  status,
	})
	return nil
}

func reply(s *session.UserSession, typ string, payload interface{}) {
	pkt, err := session.NewPacket(typ, payload)
	if err != nil {
		replyError(s, "internal error")
		return
	}
	s.Send(pkt)
}

// replyFailure tells the client why a call failed. Unexpected errors are
// hidden from the client and returned for the router to log.
func replyFailure(s *session.UserSession, err error) error {
	if friendship.IsDomainError(err) {
		replyError(s, err.Error())
		return nil
	}
	replyError(s, "internal error")
	return err
}

func replyError(s *session.UserSession, msg string) {
	payload, _ := json.Marshal(map[string]string{"error": msg})
	s.Send(&session.Packet{Type: "error", Payload: payload})
}

package ws

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
	mw "github.com/kasuganosora/socialgraph/middleware"
	"github.com/kasuganosora/socialgraph/session"
	"go.uber.org/zap"
)

// HandlerFunc serves one friendship RPC packet for the session's user.
// Domain failures are replied to the client; a returned error is logged.
type HandlerFunc func(ctx context.Context, s *session.UserSession, payload json.RawMessage) error

// Router maps packet types (friend_request, friend_accept, ...) to handlers.
type Router struct {
	handlers map[string]HandlerFunc
	logger   *zap.Logger
}

// NewRouter creates an empty Router.
func NewRouter(logger *zap.Logger) *Router {
	return &Router{
		handlers: make(map[string]HandlerFunc),
		logger:   logger,
	}
}

// On binds msgType to fn, replacing any earlier binding.
func (r *Router) On(msgType string, fn HandlerFunc) {
	r.handlers[msgType] = fn
}

// Dispatch handles one frame read from s. Malformed, replayed and unknown
// packets are dropped. Each handled packet gets its own trace id, which
// the engine's log lines carry through ctx.
func (r *Router) Dispatch(s *session.UserSession, raw []byte) {
	var pkt session.Packet
	if err := json.Unmarshal(raw, &pkt); err != nil {
		r.logger.Warn("dropping malformed friendship packet",
			zap.Int64("user_id", s.UserID),
			zap.Error(err))
		return
	}
	if !s.AcceptSeq(pkt.Seq) {
		r.logger.Warn("dropping replayed friendship packet",
			zap.Int64("user_id", s.UserID),
			zap.String("type", pkt.Type),
			zap.Uint64("seq", pkt.Seq),
			zap.Uint64("last_seq", s.LastSeq))
		return
	}

	fn, ok := r.handlers[pkt.Type]
	if !ok {
		r.logger.Debug("no handler for packet",
			zap.String("type", pkt.Type),
			zap.Int64("user_id", s.UserID))
		return
	}

	s.TraceID = uuid.NewString()
	ctx := mw.WithTraceID(context.Background(), s.TraceID)
	if err := fn(ctx, s, pkt.Payload); err != nil {
		r.logger.Error("friendship packet failed",
			zap.String("type", pkt.Type),
			zap.Int64("user_id", s.UserID),
			zap.String("trace_id", s.TraceID),
			zap.Error(err))
	}
}

// TraceIDFromCtx returns the trace id Dispatch attached to ctx.
func TraceIDFromCtx(ctx context.Context) string {
	return mw.TraceIDFromContext(ctx)
}

package rest

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/kasuganosora/socialgraph/audit"
	"github.com/kasuganosora/socialgraph/friendship"
	mw "github.com/kasuganosora/socialgraph/middleware"
	"github.com/kasuganosora/socialgraph/session"
	"go.uber.org/zap"
)

// FriendshipHandler handles friends and blocks REST endpoints.
type FriendshipHandler struct {
	engine *friendship.Engine
	query  *friendship.Query
	sm     *session.Manager
	audit  *audit.Service
	logger *zap.Logger
}

// NewFriendshipHandler creates a new FriendshipHandler. A nil audit service
// disables the audit trail.
func NewFriendshipHandler(
	engine *friendship.Engine,
	query *friendship.Query,
	sm *session.Manager,
	auditSvc *audit.Service,
	logger *zap.Logger,
) *FriendshipHandler {
	return &FriendshipHandler{engine: engine, query: query, sm: sm, audit: auditSvc, logger: logger}
}

// statusOf maps an engine error to an HTTP status.
func statusOf(err error) int {
	switch {
	case errors.Is(err, friendship.ErrNotFound),
		errors.Is(err, friendship.ErrNotFriends),
		errors.Is(err, friendship.ErrNotBlocked):
		return http.StatusNotFound
	case errors.Is(err, friendship.ErrSelfReference):
		return http.StatusBadRequest
	case errors.Is(err, friendship.ErrForbidden),
		errors.Is(err, friendship.ErrBlocked):
		return http.StatusForbidden
	case errors.Is(err, friendship.ErrDuplicateRequest),
		errors.Is(err, friendship.ErrAlreadyFriends),
		errors.Is(err, friendship.ErrInvalidState):
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}

func (h *FriendshipHandler) fail(c *gin.Context, err error) {
	status := statusOf(err)
	if status == http.StatusInternalServerError {
		h.logger.Error("friendship call failed",
			zap.String("trace_id", mw.GetTraceID(c)),
			zap.String("path", c.FullPath()),
			zap.Error(err))
		c.JSON(status, gin.H{"error": "internal error"})
		return
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

// record enqueues an audit row for a mutating call.
func (h *FriendshipHandler) record(c *gin.Context, action string, target int64, req, resp interface{}, err error, start time.Time) {
	entry := audit.Entry{
		TraceID:    mw.GetTraceID(c),
		ActorID:    mw.GetUserID(c),
		TargetID:   target,
		Action:     action,
		Request:    req,
		Response:   resp,
		IP:         c.ClientIP(),
		DurationMs: int(time.Since(start).Milliseconds()),
	}
	if err != nil {
		entry.Error = err.Error()
	}
	h.audit.Log(entry)
}

func paramID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return 0, false
	}
	return id, true
}

type friendInfo struct {
	friendship.UserRef
	Online bool `json:"online"`
}

func (h *FriendshipHandler) withOnline(refs []friendship.UserRef) []friendInfo {
	out := make([]friendInfo, len(refs))
	for i, r := range refs {
		out[i] = friendInfo{UserRef: r, Online: h.sm.IsOnline(r.ID)}
	}
	return out
}

// ListFriends handles GET /api/friends.
func (h *FriendshipHandler) ListFriends(c *gin.Context) {
	friends, err := h.query.GetUserFriends(c.Request.Context(), mw.GetUserID(c))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"friends": h.withOnline(friends)})
}

// SearchFriends handles GET /api/friends/search?q=.
func (h *FriendshipHandler) SearchFriends(c *gin.Context) {
	friends, err := h.query.SearchFriends(c.Request.Context(), mw.GetUserID(c), c.Query("q"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"friends": h.withOnline(friends)})
}

// ListPending handles GET /api/friends/requests/pending.
func (h *FriendshipHandler) ListPending(c *gin.Context) {
	reqs, err := h.query.GetPendingFriendRequests(c.Request.Context(), mw.GetUserID(c))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"requests": reqs})
}

// ListSent handles GET /api/friends/requests/sent.
func (h *FriendshipHandler) ListSent(c *gin.Context) {
	reqs, err := h.query.GetSentFriendRequests(c.Request.Context(), mw.GetUserID(c))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"requests": reqs})
}

// SendRequest handles POST /api/friends/requests.
func (h *FriendshipHandler) SendRequest(c *gin.Context) {
	start := time.Now()
	var req struct {
		FriendID int64 `json:"friend_id" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	res, err := h.engine.SendFriendRequest(c.Request.Context(), mw.GetUserID(c), req.FriendID)
	h.record(c, "friend_request", req.FriendID, req, res, err, start)
	if err != nil {
		h.fail(c, err)
		return
	}
	status := http.StatusCreated
	if res.Outcome != friendship.OutcomeRequested {
		status = http.StatusOK
	}
	c.JSON(status, res)
}

// AcceptRequest handles POST /api/friends/requests/:id/accept.
func (h *FriendshipHandler) AcceptRequest(c *gin.Context) {
	start := time.Now()
	id, ok := paramID(c)
	if !ok {
		return
	}
	edge, err := h.engine.AcceptFriendRequest(c.Request.Context(), id, mw.GetUserID(c))
	var target int64
	if edge != nil {
		target = edge.UserID
	}
	h.record(c, "friend_accept", target, gin.H{"friendship_id": id}, edge, err, start)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"friendship": edge})
}

// RejectRequest handles POST /api/friends/requests/:id/reject.
func (h *FriendshipHandler) RejectRequest(c *gin.Context) {
	start := time.Now()
	id, ok := paramID(c)
	if !ok {
		return
	}
	edge, err := h.engine.RejectFriendRequest(c.Request.Context(), id, mw.GetUserID(c))
	var target int64
	if edge != nil {
		target = edge.UserID
	}
	h.record(c, "friend_reject", target, gin.H{"friendship_id": id}, edge, err, start)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"friendship": edge})
}

// CancelRequest handles DELETE /api/friends/requests/:id.
func (h *FriendshipHandler) CancelRequest(c *gin.Context) {
	start := time.Now()
	id, ok := paramID(c)
	if !ok {
		return
	}
	err := h.engine.CancelFriendRequest(c.Request.Context(), id, mw.GetUserID(c))
	h.record(c, "friend_cancel", 0, gin.H{"friendship_id": id}, nil, err, start)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

// RemoveFriend handles DELETE /api/friends/:id.
func (h *FriendshipHandler) RemoveFriend(c *gin.Context) {
	start := time.Now()
	id, ok := paramID(c)
	if !ok {
		return
	}
	err := h.engine.RemoveFriend(c.Request.Context(), mw.GetUserID(c), id)
	h.record(c, "friend_remove", id, nil, nil, err, start)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

// Block handles POST /api/blocks/:id.
func (h *FriendshipHandler) Block(c *gin.Context) {
	start := time.Now()
	id, ok := paramID(c)
	if !ok {
		return
	}
	edge, err := h.engine.BlockUser(c.Request.Context(), mw.GetUserID(c), id)
	h.record(c, "block", id, nil, edge, err, start)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"friendship": edge})
}

// Unblock handles DELETE /api/blocks/:id.
func (h *FriendshipHandler) Unblock(c *gin.Context) {
	start := time.Now()
	id, ok := paramID(c)
	if !ok {
		return
	}
	err := h.engine.UnblockUser(c.Request.Context(), mw.GetUserID(c), id)
	h.record(c, "unblock", id, nil, nil, err, start)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

// ListBlocked handles GET /api/blocks.
func (h *FriendshipHandler) ListBlocked(c *gin.Context) {
	users, err := h.query.GetBlockedUsers(c.Request.Context(), mw.GetUserID(c))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"blocked": users})
}

// Status handles GET /api/friends/status/:id.
func (h *FriendshipHandler) Status(c *gin.Context) {
	id, ok := paramID(c)
	if !ok {
		return
	}
	status, err := h.engine.GetFriendshipStatus(c.Request.Context(), mw.GetUserID(c), id)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"user_id": id, "status": status})
}

// Mutual handles GET /api/friends/mutual/:id.
func (h *FriendshipHandler) Mutual(c *gin.Context) {
	id, ok := paramID(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()
	uid := mw.GetUserID(c)
	count, err := h.engine.GetMutualFriendsCount(ctx, uid, id)
	if err != nil {
		h.fail(c, err)
		return
	}
	users, err := h.query.GetMutualFriends(ctx, uid, id)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"count": count, "friends": users})
}

// Suggestions handles GET /api/friends/suggestions?page=&size=.
func (h *FriendshipHandler) Suggestions(c *gin.Context) {
	page, err := strconv.Atoi(c.DefaultQuery("page", "1"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid page"})
		return
	}
	size := 0
	if raw := c.Query("size"); raw != "" {
		if size, err = strconv.Atoi(raw); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid size"})
			return
		}
	}
	res, err := h.engine.GetFriendSuggestions(c.Request.Context(), mw.GetUserID(c), page, size)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// RegisterRoutes mounts the handler under an authenticated group.
func (h *FriendshipHandler) RegisterRoutes(g *gin.RouterGroup) {
	friends := g.Group("/friends")
	friends.GET("", h.ListFriends)
	friends.GET("/search", h.SearchFriends)
	friends.GET("/requests/pending", h.ListPending)
	friends.GET("/requests/sent", h.ListSent)
	friends.POST("/requests", h.SendRequest)
	friends.POST("/requests/:id/accept", h.AcceptRequest)
	friends.POST("/requests/:id/reject", h.RejectRequest)
	friends.DELETE("/requests/:id", h.CancelRequest)
	friends.GET("/status/:id", h.Status)
	friends.GET("/mutual/:id", h.Mutual)
	friends.GET("/suggestions", h.Suggestions)
	friends.DELETE("/:id", h.RemoveFriend)

	blocks := g.Group("/blocks")
	blocks.GET("", h.ListBlocked)
	blocks.POST("/:id", h.Block)
	blocks.DELETE("/:id", h.Unblock)
}

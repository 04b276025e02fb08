package rest

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/kasuganosora/socialgraph/audit"
	"github.com/kasuganosora/socialgraph/friendship"
	"github.com/kasuganosora/socialgraph/scheduler"
	"github.com/kasuganosora/socialgraph/session"
	"go.uber.org/zap"
)

// BreakerReporter exposes the notifier's circuit breaker state.
type BreakerReporter interface {
	BreakerState() string
}

// AdminHandler handles admin-only REST endpoints.
// Routes should be protected by AdminAuth middleware.
type AdminHandler struct {
	repair   *friendship.Repairer
	sm       *session.Manager
	sched    *scheduler.Scheduler
	audit    *audit.Service
	notifier BreakerReporter
	logger   *zap.Logger
}

// NewAdminHandler creates an AdminHandler. notifier may be nil.
func NewAdminHandler(
	repair *friendship.Repairer,
	sm *session.Manager,
	sched *scheduler.Scheduler,
	auditSvc *audit.Service,
	notifier BreakerReporter,
	logger *zap.Logger,
) *AdminHandler {
	return &AdminHandler{repair: repair, sm: sm, sched: sched, audit: auditSvc, notifier: notifier, logger: logger}
}

// Metrics returns server health metrics.
// GET /api/admin/metrics
func (h *AdminHandler) Metrics(c *gin.Context) {
	breaker := "none"
	if h.notifier != nil {
		breaker = h.notifier.BreakerState()
	}
	c.JSON(http.StatusOK, gin.H{
		"online_users":    h.sm.Count(),
		"scheduler_tasks": h.sched.ListTickers(),
		"notify_breaker":  breaker,
	})
}

// Reconcile repairs one pair of users.
// POST /api/admin/reconcile
func (h *AdminHandler) Reconcile(c *gin.Context) {
	var req struct {
		UserID   int64 `json:"user_id" binding:"required"`
		FriendID int64 `json:"friend_id" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.UserID == req.FriendID {
		c.JSON(http.StatusBadRequest, gin.H{"error": "user_id and friend_id must differ"})
		return
	}
	res, err := h.repair.Reconcile(c.Request.Context(), req.UserID, req.FriendID)
	if err != nil {
		h.logger.Error("reconcile failed", zap.Int64("user_id", req.UserID),
			zap.Int64("friend_id", req.FriendID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "reconcile failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"result": res})
}

// ReconcileUser repairs every pair involving one user.
// POST /api/admin/reconcile/users/:id
func (h *AdminHandler) ReconcileUser(c *gin.Context) {
	userID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return
	}
	results, err := h.repair.ReconcileUser(c.Request.Context(), userID)
	if err != nil {
		h.logger.Error("reconcile user failed", zap.Int64("user_id", userID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "reconcile failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"results": results, "changed": countChanged(results)})
}

// ReconcileAll repairs every drifted pair.
// POST /api/admin/reconcile/all
func (h *AdminHandler) ReconcileAll(c *gin.Context) {
	results, err := h.repair.ReconcileAll(c.Request.Context())
	if err != nil {
		h.logger.Error("reconcile all failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "reconcile failed"})
		return
	}
	h.logger.Info("admin reconciled all pairs", zap.Int("pairs", len(results)))
	c.JSON(http.StatusOK, gin.H{"results": results, "changed": countChanged(results)})
}

func countChanged(results []friendship.ReconcileResult) int {
	n := 0
	for i := range results {
		if results[i].Changed() {
			n++
		}
	}
	return n
}

// Drift reports drift without repairing it.
// GET /api/admin/drift
func (h *AdminHandler) Drift(c *gin.Context) {
	report, err := h.repair.Audit(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "db error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"clean": report.Clean(), "report": report})
}

// ListAudit returns recent audit rows.
// GET /api/admin/audit?actor_id=&action=&limit=
func (h *AdminHandler) ListAudit(c *gin.Context) {
	actorID, _ := strconv.ParseInt(c.Query("actor_id"), 10, 64)
	limit, _ := strconv.Atoi(c.Query("limit"))
	rows, err := h.audit.List(c.Request.Context(), audit.Filter{
		ActorID: actorID,
		Action:  c.Query("action"),
		Limit:   limit,
	})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "db error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"entries": rows, "count": len(rows)})
}

// RegisterRoutes mounts the admin endpoints on g.
func (h *AdminHandler) RegisterRoutes(g *gin.RouterGroup) {
	g.GET("/metrics", h.Metrics)
	g.POST("/reconcile", h.Reconcile)
	g.POST("/reconcile/all", h.ReconcileAll)
	g.POST("/reconcile/users/:id", h.ReconcileUser)
	g.GET("/drift", h.Drift)
	g.GET("/audit", h.ListAudit)
}

// AdminAuth returns a middleware that checks the X-Admin-Key header.
// WARNING: if adminKey is empty all admin endpoints are disabled (503) so the
// server cannot be accidentally deployed without protection. Set a non-empty
// server.admin_key in config to enable admin routes.
func AdminAuth(adminKey string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if adminKey == "" {
			c.AbortWithStatusJSON(http.StatusServiceUnavailable,
				gin.H{"error": "admin endpoints disabled: set server.admin_key in config"})
			return
		}
		key := c.GetHeader("X-Admin-Key")
		if key != adminKey {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		c.Next()
	}
}

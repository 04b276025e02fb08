package rest_test

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/kasuganosora/socialgraph/api/rest"
	"github.com/kasuganosora/socialgraph/audit"
	"github.com/kasuganosora/socialgraph/friendship"
	"github.com/kasuganosora/socialgraph/model"
	"github.com/kasuganosora/socialgraph/scheduler"
	"github.com/kasuganosora/socialgraph/session"
	"github.com/kasuganosora/socialgraph/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type fakeBreaker string

func (b fakeBreaker) BreakerState() string { return string(b) }

type adminEnv struct {
	r     *gin.Engine
	db    *gorm.DB
	sm    *session.Manager
	sched *scheduler.Scheduler
	audit *audit.Service
}

func newAdminRouter(t *testing.T, adminKey string) *adminEnv {
	db := testutil.SetupTestDB(t)
	logger := zap.NewNop()
	sm := session.NewManager(logger)
	sched := scheduler.New(logger)
	t.Cleanup(sched.Stop)
	auditSvc := audit.New(db, logger)
	t.Cleanup(func() { auditSvc.Stop(context.Background()) })
	repair := friendship.NewRepairer(friendship.NewStore(db), logger)
	h := rest.NewAdminHandler(repair, sm, sched, auditSvc, fakeBreaker("closed"), logger)

	r := gin.New()
	h.RegisterRoutes(r.Group("/api/admin", rest.AdminAuth(adminKey)))
	return &adminEnv{r: r, db: db, sm: sm, sched: sched, audit: auditSvc}
}

func adminGet(r *gin.Engine, path, key string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if key != "" {
		req.Header.Set("X-Admin-Key", key)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func adminPost(r *gin.Engine, path, key, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if key != "" {
		req.Header.Set("X-Admin-Key", key)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

// halfAccepted stores a lone ACCEPTED edge a -> b with its projection row.
func halfAccepted(t *testing.T, db *gorm.DB, a, b int64) {
	t.Helper()
	require.NoError(t, db.Create(&model.Friendship{UserID: a, FriendID: b, Status: model.FriendshipAccepted}).Error)
	require.NoError(t, db.Create(&model.UserFriend{UserID: a, FriendID: b}).Error)
}

// ---- AdminAuth ----

func TestAdminAuth_NoKey_Disabled(t *testing.T) {
	// When adminKey is empty, admin endpoints must be disabled (503) so the
	// server cannot be accidentally deployed without protection.
	e := newAdminRouter(t, "")
	w := adminGet(e.r, "/api/admin/metrics", "")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestAdminAuth_WrongKey(t *testing.T) {
	e := newAdminRouter(t, "secret")
	w := adminGet(e.r, "/api/admin/metrics", "wrong")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestAdminAuth_CorrectKey(t *testing.T) {
	e := newAdminRouter(t, "secret")
	w := adminGet(e.r, "/api/admin/metrics", "secret")
	assert.Equal(t, http.StatusOK, w.Code)
}

// ---- Metrics ----

func TestMetrics_Structure(t *testing.T) {
	e := newAdminRouter(t, "secret")
	e.sm.Register(session.NewUserSession(7, nil, zap.NewNop()))
	e.sched.AddTicker("drift_audit", time.Hour, func(context.Context) {})

	w := adminGet(e.r, "/api/admin/metrics", "secret")
	require.Equal(t, http.StatusOK, w.Code)
	resp := decode(t, w)
	assert.Equal(t, float64(1), resp["online_users"])
	assert.Equal(t, []interface{}{"drift_audit"}, resp["scheduler_tasks"])
	assert.Equal(t, "closed", resp["notify_breaker"])
}

// ---- Reconcile ----

func TestReconcile_Pair(t *testing.T) {
	e := newAdminRouter(t, "secret")
	alice := testutil.CreateUser(t, e.db, "alice").ID
	bob := testutil.CreateUser(t, e.db, "bob").ID
	halfAccepted(t, e.db, alice, bob)

	w := adminPost(e.r, "/api/admin/reconcile", "secret", fmt.Sprintf(`{"user_id":%d,"friend_id":%d}`, alice, bob))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	res := decode(t, w)["result"].(map[string]interface{})
	assert.Equal(t, false, res["friends"])
	assert.Equal(t, float64(1), res["edges_purged"])
	assert.Equal(t, float64(1), res["projection_removed"])

	var n int64
	e.db.Model(&model.Friendship{}).Count(&n)
	assert.Zero(t, n)
}

func TestReconcile_BadRequest(t *testing.T) {
	e := newAdminRouter(t, "secret")
	w := adminPost(e.r, "/api/admin/reconcile", "secret", `{"user_id":1}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = adminPost(e.r, "/api/admin/reconcile", "secret", `{"user_id":1,"friend_id":1}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestReconcileUser(t *testing.T) {
	e := newAdminRouter(t, "secret")
	alice := testutil.CreateUser(t, e.db, "alice").ID
	bob := testutil.CreateUser(t, e.db, "bob").ID
	carol := testutil.CreateUser(t, e.db, "carol").ID
	halfAccepted(t, e.db, alice, bob)
	require.NoError(t, e.db.Create(&model.UserFriend{UserID: carol, FriendID: alice}).Error)

	w := adminPost(e.r, fmt.Sprintf("/api/admin/reconcile/users/%d", alice), "secret", "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, float64(2), decode(t, w)["changed"])

	w = adminPost(e.r, "/api/admin/reconcile/users/abc", "secret", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestDriftAndReconcileAll(t *testing.T) {
	e := newAdminRouter(t, "secret")
	alice := testutil.CreateUser(t, e.db, "alice").ID
	bob := testutil.CreateUser(t, e.db, "bob").ID

	w := adminGet(e.r, "/api/admin/drift", "secret")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, decode(t, w)["clean"])

	halfAccepted(t, e.db, alice, bob)

	w = adminGet(e.r, "/api/admin/drift", "secret")
	require.Equal(t, http.StatusOK, w.Code)
	resp := decode(t, w)
	assert.Equal(t, false, resp["clean"])
	report := resp["report"].(map[string]interface{})
	assert.Len(t, report["half_accepted"], 1)

	w = adminPost(e.r, "/api/admin/reconcile/all", "secret", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(1), decode(t, w)["changed"])

	w = adminGet(e.r, "/api/admin/drift", "secret")
	assert.Equal(t, true, decode(t, w)["clean"])
}

// ---- Audit ----

func TestListAudit(t *testing.T) {
	e := newAdminRouter(t, "secret")
	e.audit.Log(audit.Entry{ActorID: 1, Action: "block", TargetID: 2})
	e.audit.Log(audit.Entry{ActorID: 1, Action: "friend_request", TargetID: 3})
	e.audit.Log(audit.Entry{ActorID: 2, Action: "block", TargetID: 1})
	e.audit.Stop(context.Background())

	w := adminGet(e.r, "/api/admin/audit?actor_id=1", "secret")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(2), decode(t, w)["count"])

	w = adminGet(e.r, "/api/admin/audit?action=block&limit=1", "secret")
	require.Equal(t, http.StatusOK, w.Code)
	resp := decode(t, w)
	assert.Equal(t, float64(1), resp["count"])
	entry := resp["entries"].([]interface{})[0].(map[string]interface{})
	assert.Equal(t, float64(2), entry["actor_id"])
}

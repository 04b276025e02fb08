package rest_test

import (
	"net/http"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/kasuganosora/socialgraph/api/rest"
	"github.com/kasuganosora/socialgraph/config"
	mw "github.com/kasuganosora/socialgraph/middleware"
	"github.com/kasuganosora/socialgraph/model"
	"github.com/kasuganosora/socialgraph/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var testSec = config.SecurityConfig{
	JWTSecret: "test-secret",
	JWTTTLH:   72 * time.Hour,
}

func newAuthRouter(t *testing.T) (*gin.Engine, *gorm.DB) {
	db := testutil.SetupTestDB(t)
	c, _ := testutil.SetupTestCache(t)
	h := rest.NewAuthHandler(db, c, testSec, zap.NewNop())
	r := gin.New()
	r.POST("/api/auth/register", h.Register)
	r.POST("/api/auth/login", h.Login)
	r.POST("/api/auth/logout", mw.Auth(testSec, c), h.Logout)
	r.POST("/api/auth/refresh", mw.Auth(testSec, c), h.Refresh)
	r.GET("/api/auth/me", mw.Auth(testSec, c), h.Me)
	return r, db
}

func register(t *testing.T, r *gin.Engine, username string) string {
	t.Helper()
	w := postJSON(r, "/api/auth/register", map[string]string{
		"username":     username,
		"password":     "pass1234",
		"display_name": username + " display",
		"email":        username + "@example.com",
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	return decode(t, w)["token"].(string)
}

func TestRegister(t *testing.T) {
	r, db := newAuthRouter(t)

	w := postJSON(r, "/api/auth/register", map[string]string{
		"username":     "alice",
		"password":     "pass1234",
		"display_name": "Alice",
		"email":        "Alice@Example.com",
	})
	require.Equal(t, http.StatusCreated, w.Code)
	resp := decode(t, w)
	assert.NotEmpty(t, resp["token"])
	assert.NotZero(t, resp["user_id"])
	user := resp["user"].(map[string]interface{})
	assert.NotContains(t, user, "password_hash")

	var u model.User
	require.NoError(t, db.Where("username = ?", "alice").First(&u).Error)
	assert.Equal(t, "alice@example.com", u.Email)
	assert.Equal(t, "Alice", u.DisplayName)
}

func TestRegister_DefaultDisplayName(t *testing.T) {
	r, db := newAuthRouter(t)
	w := postJSON(r, "/api/auth/register", map[string]string{"username": "bob", "password": "pass1234"})
	require.Equal(t, http.StatusCreated, w.Code)

	var u model.User
	require.NoError(t, db.Where("username = ?", "bob").First(&u).Error)
	assert.Equal(t, "bob", u.DisplayName)
}

func TestRegister_Duplicate(t *testing.T) {
	r, _ := newAuthRouter(t)
	register(t, r, "carol")

	w := postJSON(r, "/api/auth/register", map[string]string{"username": "carol", "password": "other123"})
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestRegister_BadEmail(t *testing.T) {
	r, _ := newAuthRouter(t)
	w := postJSON(r, "/api/auth/register", map[string]string{
		"username": "dave", "password": "pass1234", "email": "not-an-email",
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestLogin(t *testing.T) {
	r, _ := newAuthRouter(t)
	register(t, r, "erin")

	w := postJSON(r, "/api/auth/login", map[string]string{"username": "erin", "password": "pass1234"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.NotEmpty(t, decode(t, w)["token"])
}

func TestLogin_UnknownUser(t *testing.T) {
	r, _ := newAuthRouter(t)
	w := postJSON(r, "/api/auth/login", map[string]string{"username": "ghost", "password": "pass1234"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestLoginWrongPassword(t *testing.T) {
	r, _ := newAuthRouter(t)
	register(t, r, "frank")

	w := postJSON(r, "/api/auth/login", map[string]string{"username": "frank", "password": "wrong123"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestLoginBannedAccount(t *testing.T) {
	r, db := newAuthRouter(t)
	register(t, r, "banned")

	db.Model(&model.User{}).Where("username = ?", "banned").Update("status", 0)

	w := postJSON(r, "/api/auth/login", map[string]string{"username": "banned", "password": "pass1234"})
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestLogout(t *testing.T) {
	r, _ := newAuthRouter(t)
	token := register(t, r, "grace")

	w := postJSON(r, "/api/auth/logout", nil, "Authorization", "Bearer "+token)
	assert.Equal(t, http.StatusOK, w.Code)

	// Session removed
	w = postJSON(r, "/api/auth/logout", nil, "Authorization", "Bearer "+token)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestRefresh(t *testing.T) {
	r, _ := newAuthRouter(t)
	token := register(t, r, "heidi")

	w := postJSON(r, "/api/auth/refresh", nil, "Authorization", "Bearer "+token)
	require.Equal(t, http.StatusOK, w.Code)
	newToken := decode(t, w)["token"].(string)
	assert.NotEqual(t, token, newToken)

	// Old token is invalidated, new one works.
	w = doJSON(r, http.MethodGet, "/api/auth/me", nil, "Authorization", "Bearer "+token)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	w = doJSON(r, http.MethodGet, "/api/auth/me", nil, "Authorization", "Bearer "+newToken)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestRefresh_NoToken(t *testing.T) {
	r, _ := newAuthRouter(t)
	w := postJSON(r, "/api/auth/refresh", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestMe(t *testing.T) {
	r, _ := newAuthRouter(t)
	token := register(t, r, "ivan")

	w := doJSON(r, http.MethodGet, "/api/auth/me", nil, "Authorization", "Bearer "+token)
	require.Equal(t, http.StatusOK, w.Code)
	user := decode(t, w)["user"].(map[string]interface{})
	assert.Equal(t, "ivan", user["username"])
}

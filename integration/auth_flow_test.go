package integration

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFullAuthLifecycle(t *testing.T) {
	ts := NewTestServer(t)
	defer ts.Close()

	username := UniqueID("auth")
	password := "testpass1234"

	// 1. Register returns a token.
	token1, userID := ts.Register(t, username, password)
	require.NotEmpty(t, token1)
	require.Greater(t, userID, int64(0))

	// 2. Friend list starts empty.
	resp := ts.Get(t, "/api/friends", token1)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var list map[string]interface{}
	ReadJSON(t, resp, &list)
	assert.Empty(t, list["friends"])

	// 3. Login again → same user, new token.
	token2, userID2 := ts.Login(t, username, password)
	assert.Equal(t, userID, userID2)
	assert.NotEqual(t, token1, token2)

	// 4. Logout token2 → token2 invalidated, token1 still valid.
	ExpectStatus(t, ts.PostJSON(t, "/api/auth/logout", nil, token2), http.StatusOK)
	ExpectStatus(t, ts.Get(t, "/api/friends", token2), http.StatusUnauthorized)
	ExpectStatus(t, ts.Get(t, "/api/friends", token1), http.StatusOK)
}

func TestLoginWrongPassword(t *testing.T) {
	ts := NewTestServer(t)
	defer ts.Close()

	username := UniqueID("wrongpw")
	ts.Register(t, username, "correctpass")

	resp := ts.PostJSON(t, "/api/auth/login", map[string]string{
		"username": username,
		"password": "wrongpassword",
	}, "")
	ExpectStatus(t, resp, http.StatusUnauthorized)
}

func TestWSRequiresSession(t *testing.T) {
	ts := NewTestServer(t)
	defer ts.Close()

	ExpectStatus(t, ts.Get(t, "/ws?token=bogus", ""), http.StatusUnauthorized)
	ExpectStatus(t, ts.Get(t, "/sse", ""), http.StatusUnauthorized)
}

func TestHealth(t *testing.T) {
	ts := NewTestServer(t)
	defer ts.Close()
	ExpectStatus(t, ts.Get(t, "/health", ""), http.StatusOK)
}

package api

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/jwtauth"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "moderator-test-secret"

func withBearer(req *http.Request, token string) *http.Request {
	req.Header.Set("Authorization", "Bearer "+token)
	return req
}

func TestNewModeratorGuard_Disabled(t *testing.T) {
	guard, err := NewModeratorGuard(GuardConfig{})
	require.NoError(t, err)
	assert.Nil(t, guard)
}

func TestModeratorGuard_JWT(t *testing.T) {
	guard, err := NewModeratorGuard(GuardConfig{JWTSecret: testSecret})
	require.NoError(t, err)
	router, _ := setupHandlerTest(t, nil, WithGuard(guard))

	token, err := IssueModeratorToken(testSecret, "alice")
	require.NoError(t, err)

	_, readerToken, err := jwtauth.New("HS256", []byte(testSecret), nil).Encode(map[string]interface{}{
		"sub":  "bob",
		"role": "reader",
	})
	require.NoError(t, err)

	forged, err := IssueModeratorToken("another-secret", "mallory")
	require.NoError(t, err)

	tests := []struct {
		name   string
		token  string
		status int
	}{
		{name: "no token", status: http.StatusUnauthorized},
		{name: "wrong signature", token: forged, status: http.StatusUnauthorized},
		{name: "reader role", token: readerToken, status: http.StatusForbidden},
		{name: "moderator", token: token, status: http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/review/pending", nil)
			if tt.token != "" {
				req = withBearer(req, tt.token)
			}
			w := serve(router, req)
			assert.Equal(t, tt.status, w.Code)
		})
	}
}

func TestModeratorGuard_QueryOverrides(t *testing.T) {
	guard, err := NewModeratorGuard(GuardConfig{JWTSecret: testSecret})
	require.NoError(t, err)
	router, _ := setupHandlerTest(t, nil, WithGuard(guard))
	pending := upload(t, router, "flask", validArchive(t, "flask"))

	token, err := IssueModeratorToken(testSecret, "alice")
	require.NoError(t, err)

	downloadPath := fmt.Sprintf("/knowledge/%d/download?include_unapproved=true", pending.ID)
	assert.Equal(t, http.StatusUnauthorized, get(router, downloadPath).Code)
	assert.Equal(t, http.StatusOK, serve(router, withBearer(httptest.NewRequest(http.MethodGet, downloadPath, nil), token)).Code)

	assert.Equal(t, http.StatusUnauthorized, get(router, "/search?q=flask&status=pending").Code)
	w := serve(router, withBearer(httptest.NewRequest(http.MethodGet, "/search?q=flask&status=pending", nil), token))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"name":"flask"`)

	assert.Equal(t, http.StatusUnauthorized, get(router, "/knowledge?status=all").Code)

	// Public reads stay open.
	assert.Equal(t, http.StatusOK, get(router, "/search?q=flask").Code)
	assert.Equal(t, http.StatusOK, get(router, fmt.Sprintf("/knowledge/%d", pending.ID)).Code)
}

func TestModeratorGuard_APIKey(t *testing.T) {
	sum := sha256.Sum256([]byte("moderator-key"))
	guard, err := NewModeratorGuard(GuardConfig{APIKeySHA256: hex.EncodeToString(sum[:])})
	require.NoError(t, err)
	require.NotNil(t, guard)
	router, _ := setupHandlerTest(t, nil, WithGuard(guard))

	w := get(router, "/review/stats")
	assert.NotEqual(t, http.StatusOK, w.Code)

	assert.Equal(t, http.StatusOK, get(router, "/health").Code)
}

func TestModeratorGuard_BothCredentials(t *testing.T) {
	sum := sha256.Sum256([]byte("moderator-key"))
	guard, err := NewModeratorGuard(GuardConfig{
		APIKeySHA256: hex.EncodeToString(sum[:]),
		JWTSecret:    testSecret,
	})
	require.NoError(t, err)
	router, _ := setupHandlerTest(t, nil, WithGuard(guard))

	token, err := IssueModeratorToken(testSecret, "alice")
	require.NoError(t, err)

	w := serve(router, withBearer(httptest.NewRequest(http.MethodGet, "/review/stats", nil), token))
	assert.Equal(t, http.StatusOK, w.Code)

	w = get(router, "/review/stats")
	assert.NotEqual(t, http.StatusOK, w.Code)
}

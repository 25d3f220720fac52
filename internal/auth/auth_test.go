package auth_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/ksred/klear-repo/internal/auth"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newService() *auth.Service {
	s := auth.NewService("secret", "CCP")
	s.RegisterAPICredentials("ops", "ops-secret", auth.PermissionRead, auth.PermissionControl)
	s.RegisterAPICredentials("viewer", "viewer-secret")
	return s
}

func TestGenerateAndValidate(t *testing.T) {
	s := newService()

	token, err := s.GenerateToken(auth.Credentials{APIKey: "ops", APISecret: "ops-secret"})
	require.NoError(t, err)
	assert.Equal(t, "CCP", token.Party)

	claims, err := s.ValidateToken(token.Token)
	require.NoError(t, err)
	assert.Equal(t, "ops", claims.ClientID)
	assert.True(t, claims.HasPermission(auth.PermissionControl))

	viewer, err := s.GenerateToken(auth.Credentials{APIKey: "viewer", APISecret: "viewer-secret"})
	require.NoError(t, err)
	claims, err = s.ValidateToken(viewer.Token)
	require.NoError(t, err)
	assert.True(t, claims.HasPermission(auth.PermissionRead))
	assert.False(t, claims.HasPermission(auth.PermissionControl))
}

func TestGenerateTokenRejectsBadCredentials(t *testing.T) {
	s := newService()
	_, err := s.GenerateToken(auth.Credentials{APIKey: "ops", APISecret: "wrong"})
	assert.ErrorIs(t, err, auth.ErrInvalidCredentials)
	_, err = s.GenerateToken(auth.Credentials{APIKey: "nobody"})
	assert.ErrorIs(t, err, auth.ErrInvalidCredentials)
}

func TestValidateTokenScopedToParty(t *testing.T) {
	token, err := newService().GenerateToken(auth.Credentials{APIKey: "ops", APISecret: "ops-secret"})
	require.NoError(t, err)

	other := auth.NewService("secret", "Operator")
	_, err = other.ValidateToken(token.Token)
	assert.ErrorIs(t, err, auth.ErrInvalidToken)

	wrongKey := auth.NewService("other-secret", "CCP")
	_, err = wrongKey.ValidateToken(token.Token)
	assert.ErrorIs(t, err, auth.ErrInvalidToken)

	_, err = newService().ValidateToken("not-a-token")
	assert.ErrorIs(t, err, auth.ErrInvalidToken)
}

func TestGenerateTokenHandler(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.POST("/token", auth.NewGinHandlers(newService()).GenerateTokenHandler())

	post := func(body string) *httptest.ResponseRecorder {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/token", bytes.NewBufferString(body))
		req.Header.Set("Content-Type", "application/json")
		r.ServeHTTP(w, req)
		return w
	}

	assert.Equal(t, http.StatusBadRequest, post("{").Code)
	assert.Equal(t, http.StatusUnauthorized, post(`{"api_key":"ops","api_secret":"nope"}`).Code)

	w := post(`{"api_key":"ops","api_secret":"ops-secret"}`)
	require.Equal(t, http.StatusOK, w.Code)
	var body struct {
		Success bool               `json:"success"`
		Data    auth.TokenResponse `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.True(t, body.Success)
	assert.NotEmpty(t, body.Data.Token)
}

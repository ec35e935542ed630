package auth

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateAndValidateToken(t *testing.T) {
	svc := NewService("test-secret", time.Hour)
	svc.RegisterAPICredentials("key", "secret", "ARN-1001")

	token, err := svc.GenerateToken(Credentials{APIKey: "key", APISecret: "secret"})
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(time.Hour), token.Expiration, 5*time.Second)

	claims, err := svc.ValidateToken(token.Token)
	require.NoError(t, err)
	assert.Equal(t, "ARN-1001", claims.DistributorID)
	assert.True(t, claims.HasPermission(PermissionOrders))
	assert.False(t, claims.HasPermission(PermissionInternal))
}

func TestGenerateToken_InvalidCredentials(t *testing.T) {
	svc := NewService("test-secret", 0)
	svc.RegisterAPICredentials("key", "secret", "ARN-1001")

	_, err := svc.GenerateToken(Credentials{APIKey: "key", APISecret: "wrong"})
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	_, err = svc.GenerateToken(Credentials{APIKey: "unknown", APISecret: "secret"})
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestValidateToken_Rejects(t *testing.T) {
	svc := NewService("test-secret", time.Hour)

	sign := func(secret string, claims Claims) string {
		s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
		require.NoError(t, err)
		return s
	}
	valid := Claims{
		RegisteredClaims: jwt.RegisteredClaims{ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour))},
		DistributorID:    "ARN-1",
	}

	t.Run("wrong secret", func(t *testing.T) {
		_, err := svc.ValidateToken(sign("other-secret", valid))
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("expired", func(t *testing.T) {
		expired := valid
		expired.ExpiresAt = jwt.NewNumericDate(time.Now().Add(-time.Minute))
		_, err := svc.ValidateToken(sign("test-secret", expired))
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("missing expiry", func(t *testing.T) {
		_, err := svc.ValidateToken(sign("test-secret", Claims{DistributorID: "ARN-1"}))
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("missing distributor", func(t *testing.T) {
		anonymous := valid
		anonymous.DistributorID = ""
		_, err := svc.ValidateToken(sign("test-secret", anonymous))
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("garbage", func(t *testing.T) {
		_, err := svc.ValidateToken("not.a.token")
		assert.ErrorIs(t, err, ErrInvalidToken)
	})
}

func TestGenerateTokenHandler(t *testing.T) {
	gin.SetMode(gin.TestMode)
	svc := NewService("test-secret", time.Hour)
	svc.RegisterAPICredentials("key", "secret", "ARN-1001")

	router := gin.New()
	router.POST("/token", NewGinHandlers(svc).GenerateTokenHandler())

	post := func(body string) *httptest.ResponseRecorder {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/token", strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		router.ServeHTTP(w, req)
		return w
	}

	w := post(`{"api_key":"key","api_secret":"secret"}`)
	assert.Equal(t, http.StatusCreated, w.Code)
	assert.Contains(t, w.Body.String(), "jwt_token")

	assert.Equal(t, http.StatusUnauthorized, post(`{"api_key":"key","api_secret":"nope"}`).Code)
	assert.Equal(t, http.StatusBadRequest, post(`{"api_key":"key"}`).Code)
}

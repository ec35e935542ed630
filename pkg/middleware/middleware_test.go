package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ksred/klear-mf/internal/auth"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func tokenFor(t *testing.T, svc *auth.Service, key string) string {
	t.Helper()
	tok, err := svc.GenerateToken(auth.Credentials{APIKey: key, APISecret: key + "-secret"})
	require.NoError(t, err)
	return tok.Token
}

func TestAuthMiddleware(t *testing.T) {
	svc := auth.NewService("test-secret", time.Hour)
	svc.RegisterAPICredentials("dist", "dist-secret", "ARN-1")
	svc.RegisterAPICredentials("ops", "ops-secret", "OPS", auth.PermissionOrders, auth.PermissionInternal)

	router := gin.New()
	whoami := func(c *gin.Context) { c.String(http.StatusOK, auth.DistributorID(c)) }
	router.GET("/orders", JWTAuth(svc), whoami)
	router.GET("/internal", InternalAuth(svc), whoami)

	get := func(path, authz string) *httptest.ResponseRecorder {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, path, nil)
		if authz != "" {
			req.Header.Set("Authorization", authz)
		}
		router.ServeHTTP(w, req)
		return w
	}

	w := get("/orders", "Bearer "+tokenFor(t, svc, "dist"))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ARN-1", w.Body.String())

	assert.Equal(t, http.StatusUnauthorized, get("/orders", "").Code)
	assert.Equal(t, http.StatusUnauthorized, get("/orders", "Bearer garbage").Code)
	assert.Equal(t, http.StatusUnauthorized, get("/orders", "Basic abc").Code)

	assert.Equal(t, http.StatusForbidden, get("/internal", "Bearer "+tokenFor(t, svc, "dist")).Code)
	assert.Equal(t, http.StatusOK, get("/internal", "Bearer "+tokenFor(t, svc, "ops")).Code)
}

func TestRateLimiter(t *testing.T) {
	rl := NewRateLimiter(Limit{Prefix: "/api/v1/orders", PerMinute: 60, Burst: 2})

	router := gin.New()
	router.Use(rl.Middleware())
	ok := func(c *gin.Context) { c.Status(http.StatusOK) }
	router.GET("/api/v1/orders", ok)
	router.GET("/health", ok)

	codes := func(path string, n int) []int {
		var out []int
		for i := 0; i < n; i++ {
			w := httptest.NewRecorder()
			router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
			out = append(out, w.Code)
		}
		return out
	}

	assert.Equal(t, []int{200, 200, 429}, codes("/api/v1/orders", 3))
	assert.Equal(t, []int{200, 200, 200, 200}, codes("/health", 4))

	rl.Cleanup()
	rl.mu.Lock()
	assert.Len(t, rl.visitors, 2, "recent visitors survive cleanup")
	rl.mu.Unlock()
}

func TestTraceID(t *testing.T) {
	router := gin.New()
	router.Use(TraceID(), RequestLogger())
	router.GET("/", func(c *gin.Context) { c.String(http.StatusOK, c.GetString(ContextTraceID)) })

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(TraceHeader, "trace-123")
	router.ServeHTTP(w, req)
	assert.Equal(t, "trace-123", w.Body.String())
	assert.Equal(t, "trace-123", w.Header().Get(TraceHeader))

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.NotEmpty(t, w.Body.String())
	assert.Equal(t, w.Body.String(), w.Header().Get(TraceHeader))
}

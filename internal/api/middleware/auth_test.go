//go:build !integration && !e2e

package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"

	"github.com/user/llama-proxy-go/internal/auth"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func TestRequireAuth_RejectsMissingHeader(t *testing.T) {
	a := auth.New([]string{"secret-key"})
	r := gin.New()
	r.Use(RequireAuth(a))
	r.GET("/v1/models", func(c *gin.Context) { c.Status(http.StatusOK) })

	req := httptest.NewRequest(http.MethodGet, "/v1/models", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRequireAuth_AcceptsValidBearer(t *testing.T) {
	a := auth.New([]string{"secret-key"})
	r := gin.New()
	r.Use(RequireAuth(a))
	r.GET("/v1/models", func(c *gin.Context) { c.Status(http.StatusOK) })

	req := httptest.NewRequest(http.MethodGet, "/v1/models", nil)
	req.Header.Set("Authorization", "Bearer secret-key")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRequireAuth_AllowsOptionsWithoutAuth(t *testing.T) {
	a := auth.New([]string{"secret-key"})
	r := gin.New()
	r.Use(RequireAuth(a))
	r.OPTIONS("/v1/models", func(c *gin.Context) { c.Status(http.StatusOK) })

	req := httptest.NewRequest(http.MethodOptions, "/v1/models", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRequireAuth_DisabledFallsBackToClientID(t *testing.T) {
	a := auth.New(nil)
	r := gin.New()
	var seen string
	r.Use(RequireAuth(a))
	r.GET("/v1/models", func(c *gin.Context) {
		seen = ClientID(c)
		c.Status(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodGet, "/v1/models", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, seen)
}

package api

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"commerce-service/internal/auth"
	"commerce-service/internal/models"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "middleware-test-secret"

func protectedRouter(adminOnly bool) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()

	handlers := []gin.HandlerFunc{AuthRequired(testSecret)}
	if adminOnly {
		handlers = append(handlers, AdminOnly())
	}
	handlers = append(handlers, func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"uid": currentUserID(c)})
	})

	router.GET("/protected", handlers...)
	return router
}

func doGet(t *testing.T, router *gin.Engine, token string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestAuthRequired(t *testing.T) {
	router := protectedRouter(false)

	token, err := auth.GenerateToken(7, models.RoleCustomer, testSecret, auth.CustomerTokenTTL)
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, doGet(t, router, token).Code)
	assert.Equal(t, http.StatusUnauthorized, doGet(t, router, "bogus").Code)

	// Absent credentials get their own message, not the invalid-token one.
	missing := doGet(t, router, "")
	assert.Equal(t, http.StatusUnauthorized, missing.Code)
	assert.Contains(t, missing.Body.String(), "Authorization header required")
}

func TestAdminOnly(t *testing.T) {
	router := protectedRouter(true)

	adminToken, err := auth.GenerateToken(1, models.RoleAdmin, testSecret, auth.AdminTokenTTL)
	require.NoError(t, err)
	customerToken, err := auth.GenerateToken(7, models.RoleCustomer, testSecret, auth.CustomerTokenTTL)
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, doGet(t, router, adminToken).Code)
	assert.Equal(t, http.StatusForbidden, doGet(t, router, customerToken).Code)
}

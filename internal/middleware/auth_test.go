package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/huangang/scamarena/backend/internal/utils"
)

func init() {
	gin.SetMode(gin.TestMode)
	utils.SetJWTSecret("test-secret-for-middleware-testing")
}

func protectedRouter(extra ...gin.HandlerFunc) *gin.Engine {
	router := gin.New()
	router.Use(AuthRequired())
	router.Use(extra...)
	router.GET("/protected", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"user_id":  GetUserID(c),
			"username": GetUsername(c),
			"role":     GetRole(c),
		})
	})
	return router
}

func get(router *gin.Engine, authHeader string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req, _ := http.NewRequest("GET", "/protected", nil)
	if authHeader != "" {
		req.Header.Set("Authorization", authHeader)
	}
	router.ServeHTTP(w, req)
	return w
}

func TestAuthRequired_Rejects(t *testing.T) {
	router := protectedRouter()

	tests := []struct {
		name   string
		header string
	}{
		{"no header", ""},
		{"no scheme", "InvalidToken"},
		{"basic scheme", "Basic token123"},
		{"bearer without token", "Bearer"},
		{"bearer with garbage", "Bearer invalid.jwt.token"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := get(router, tt.header)
			assert.Equal(t, http.StatusUnauthorized, w.Code)

			var body map[string]interface{}
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
			assert.EqualValues(t, http.StatusUnauthorized, body["code"])
		})
	}
}

func TestAuthRequired_ValidToken(t *testing.T) {
	token, err := utils.GenerateToken(7, "alice", utils.RoleReviewer, 24)
	require.NoError(t, err)

	w := get(protectedRouter(), "Bearer "+token)
	require.Equal(t, http.StatusOK, w.Code)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.EqualValues(t, 7, body["user_id"])
	assert.Equal(t, "alice", body["username"])
	assert.Equal(t, utils.RoleReviewer, body["role"])
}

func TestRequireRole(t *testing.T) {
	tests := []struct {
		role     string
		expected int
	}{
		{utils.RoleAdmin, http.StatusOK},
		{utils.RoleReviewer, http.StatusOK},
		{utils.RoleViewer, http.StatusForbidden},
	}

	router := protectedRouter(RequireRole(utils.RoleReviewer))
	for _, tt := range tests {
		t.Run(tt.role, func(t *testing.T) {
			token, err := utils.GenerateToken(1, "u", tt.role, 1)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, get(router, "Bearer "+token).Code)
		})
	}
}

func TestRequireRole_NoClaims(t *testing.T) {
	router := gin.New()
	router.Use(RequireRole(utils.RoleViewer))
	router.GET("/protected", func(c *gin.Context) { c.Status(http.StatusOK) })

	assert.Equal(t, http.StatusForbidden, get(router, "").Code)
}

func TestContextGetters_Missing(t *testing.T) {
	c, _ := gin.CreateTestContext(httptest.NewRecorder())

	assert.Zero(t, GetUserID(c))
	assert.Empty(t, GetUsername(c))
	assert.Empty(t, GetRole(c))

	c.Set(ContextUserID, "not-a-uint")
	assert.Zero(t, GetUserID(c))
}

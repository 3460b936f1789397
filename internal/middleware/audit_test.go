package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/huangang/scamarena/backend/internal/models"
)

type auditEntry struct {
	level   string
	message string
	fields  map[string]interface{}
}

type memorySink struct{ entries []auditEntry }

func (s *memorySink) SaveLog(_ context.Context, level, message string, _ *uint, fields map[string]interface{}) bool {
	s.entries = append(s.entries, auditEntry{level, message, fields})
	return true
}

func auditRouter(sink AuditSink) *gin.Engine {
	router := gin.New()
	router.Use(AuditLog(sink))
	router.GET("/api/rounds", func(c *gin.Context) { c.Status(http.StatusOK) })
	router.POST("/api/rounds", func(c *gin.Context) {
		var req map[string]interface{}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.Status(http.StatusBadRequest)
			return
		}
		c.JSON(http.StatusAccepted, req)
	})
	return router
}

func TestAuditLog_SkipsReads(t *testing.T) {
	sink := &memorySink{}
	w := httptest.NewRecorder()
	auditRouter(sink).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/rounds", nil))
	assert.Empty(t, sink.entries)
}

func TestAuditLog_RecordsWrites(t *testing.T) {
	sink := &memorySink{}
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/rounds", strings.NewReader(`{"total_emails": 5, "token": "abc", "nested": {"api_key": "sk-1"}}`))
	req.Header.Set("Content-Type", "application/json")
	auditRouter(sink).ServeHTTP(w, req)

	// The handler still sees the original body.
	assert.Equal(t, http.StatusAccepted, w.Code)
	assert.Contains(t, w.Body.String(), `"token":"abc"`)

	require.Len(t, sink.entries, 1)
	e := sink.entries[0]
	assert.Equal(t, models.LevelInfo, e.level)
	assert.Equal(t, "audit: POST /api/rounds", e.message)
	assert.Equal(t, http.StatusAccepted, e.fields["status"])

	body := e.fields["body"].(map[string]interface{})
	assert.Equal(t, "***", body["token"])
	assert.EqualValues(t, 5, body["total_emails"])
	assert.Equal(t, "***", body["nested"].(map[string]interface{})["api_key"])
}

func TestAuditLog_FailedWriteIsWarning(t *testing.T) {
	sink := &memorySink{}
	w := httptest.NewRecorder()
	auditRouter(sink).ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/rounds", strings.NewReader("not json")))

	require.Len(t, sink.entries, 1)
	assert.Equal(t, models.LevelWarning, sink.entries[0].level)
	assert.Equal(t, "not json", sink.entries[0].fields["body"])
}

func TestAuditBody_Truncates(t *testing.T) {
	long := strings.Repeat("x", maxAuditBody+10)
	got := auditBody([]byte(long)).(string)
	assert.True(t, strings.HasSuffix(got, "...[truncated]"))
	assert.Len(t, got, maxAuditBody+len("...[truncated]"))
	assert.Nil(t, auditBody(nil))
}

package middleware

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/huangang/scamarena/backend/internal/models"
)

const maxAuditBody = 2000

var sensitiveKeys = map[string]bool{
	"password":     true,
	"api_key":      true,
	"secret":       true,
	"token":        true,
	"access_token": true,
}

// AuditSink is where audit entries go; the store implements it.
type AuditSink interface {
	SaveLog(ctx context.Context, level, message string, roundID *uint, fields map[string]interface{}) bool
}

// AuditLog writes one log row for every state-changing request.
func AuditLog(sink AuditSink) gin.HandlerFunc {
	return func(c *gin.Context) {
		method := c.Request.Method
		if method != http.MethodPost && method != http.MethodPut && method != http.MethodDelete {
			c.Next()
			return
		}

		var body interface{}
		if c.Request.Body != nil {
			raw, _ := io.ReadAll(c.Request.Body)
			c.Request.Body = io.NopCloser(bytes.NewReader(raw))
			body = auditBody(raw)
		}

		c.Next()

		status := c.Writer.Status()
		level := models.LevelInfo
		if status >= http.StatusBadRequest {
			level = models.LevelWarning
		}

		sink.SaveLog(context.WithoutCancel(c.Request.Context()), level, "audit: "+method+" "+c.FullPath(), nil, map[string]interface{}{
			"audit":      true,
			"user_id":    GetUserID(c),
			"username":   GetUsername(c),
			"method":     method,
			"path":       c.Request.URL.Path,
			"status":     status,
			"ip":         c.ClientIP(),
			"request_id": c.GetString("request_id"),
			"body":       body,
		})
	}
}

// auditBody returns the request body with secrets masked. JSON objects keep
// their structure; anything else is stored as truncated text.
func auditBody(raw []byte) interface{} {
	if len(raw) == 0 {
		return nil
	}
	var obj map[string]interface{}
	if err := json.Unmarshal(raw, &obj); err == nil {
		maskSecrets(obj)
		return obj
	}
	s := string(raw)
	if len(s) > maxAuditBody {
		s = s[:maxAuditBody] + "...[truncated]"
	}
	return s
}

func maskSecrets(obj map[string]interface{}) {
	for k, v := range obj {
		if sensitiveKeys[k] {
			obj[k] = "***"
			continue
		}
		if nested, ok := v.(map[string]interface{}); ok {
			maskSecrets(nested)
		}
	}
}

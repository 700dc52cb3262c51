package logger

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestGinMiddlewareLogsRequest(t *testing.T) {
	gin.SetMode(gin.TestMode)
	core, logs := observer.New(zapcore.DebugLevel)
	restore := zap.ReplaceGlobals(zap.New(core))
	defer restore()

	r := gin.New()
	r.Use(GinMiddleware(MiddlewareConfig{
		ErrorClassifier: func(error) (string, string) { return "permission_denied", "insufficient_role" },
	}))
	r.DELETE("/api/units/:id", func(c *gin.Context) {
		c.Set("unit_id", c.Param("id"))
		_ = c.Error(errors.New("denied"))
		c.Status(http.StatusForbidden)
	})

	req := httptest.NewRequest(http.MethodDelete, "/api/units/7", nil)
	req.Header.Set("X-Request-Id", "req-123")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	assert.Equal(t, "req-123", rec.Header().Get("X-Request-Id"))
	entries := logs.FilterMessage("http_request").AllUntimed()
	require.Len(t, entries, 1)
	assert.Equal(t, zapcore.WarnLevel, entries[0].Level)
	fields := entries[0].ContextMap()
	assert.Equal(t, "/api/units/:id", fields["route"])
	assert.Equal(t, "7", fields["unit_id"])
	assert.Equal(t, "insufficient_role", fields["error_code"])
	assert.Equal(t, "req-123", fields["request_id"])
}

func TestEnsureRequestIDRejectsJunk(t *testing.T) {
	assert.True(t, validRequestID("abc-123"))
	assert.False(t, validRequestID(""))
	assert.False(t, validRequestID("has space"))
	assert.False(t, validRequestID(strings.Repeat("x", maxRequestIDLength+1)))
}

func TestRequestLevel(t *testing.T) {
	assert.Equal(t, zapcore.DebugLevel, requestLevel("/health", 200))
	assert.Equal(t, zapcore.ErrorLevel, requestLevel("/api/units", 500))
	assert.Equal(t, zapcore.WarnLevel, requestLevel("/api/units", 429))
	assert.Equal(t, zapcore.InfoLevel, requestLevel("/api/units", 404))
}

package logger

import (
	"bytes"
	"context"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

func TestRequestID_PlainContext(t *testing.T) {
	ctx := WithRequestID(context.Background(), "req-1")
	assert.Equal(t, "req-1", RequestID(ctx))
	assert.Equal(t, "unknown", RequestID(context.Background()))
}

func TestRequestID_GinContext(t *testing.T) {
	gin.SetMode(gin.TestMode)
	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	c.Request = httptest.NewRequest("GET", "/orders", nil)
	c.Set(RequestIDKey, "gin-req")

	assert.Equal(t, "gin-req", RequestID(c))
}

func TestInitializeWithWriter_TeesJSON(t *testing.T) {
	var buf bytes.Buffer
	l := InitializeWithWriter("production", &buf)

	For(WithRequestID(context.Background(), "abc"), l).Info("order created")
	_ = l.Sync()

	assert.Contains(t, buf.String(), `"msg":"order created"`)
	assert.Contains(t, buf.String(), `"request_id":"abc"`)
}

package middleware_test

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"

	"github.com/ollamagate/gateway/pkg/middleware"
)

func TestAssignRequestID_ReusesInbound(t *testing.T) {
	assert.Equal(t, "abc-123", middleware.AssignRequestID("abc-123"))
	assert.Equal(t, "  spaced  ", middleware.AssignRequestID("  spaced  "), "reused verbatim")
}

func TestAssignRequestID_GeneratesUUID(t *testing.T) {
	a := middleware.AssignRequestID("")
	b := middleware.AssignRequestID("")

	_, err := uuid.Parse(a)
	assert.NoError(t, err)
	assert.NotEqual(t, a, b)
}

func TestRequestIDContext(t *testing.T) {
	ctx := context.Background()
	assert.Equal(t, "unknown", middleware.GetRequestID(ctx))

	ctx = middleware.SetRequestID(ctx, "req-42")
	assert.Equal(t, "req-42", middleware.GetRequestID(ctx))
}

package logging

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestContextFieldsAreAttached(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	l := FromZap(zap.New(core)).Named("oms")

	ctx := WithOrderID(WithRequestID(context.Background(), "req-1"), "ord-1")
	l.Info(ctx, "order routed", zap.String("symbol", "X"))
	l.Debug(context.Background(), "no context")

	entries := logs.All()
	assert.Len(t, entries, 2)
	fields := entries[0].ContextMap()
	assert.Equal(t, "req-1", fields["request_id"])
	assert.Equal(t, "ord-1", fields["order_id"])
	assert.Equal(t, "X", fields["symbol"])
	assert.Equal(t, "oms", entries[0].LoggerName)
}

func TestNewRequestContextKeepsExistingID(t *testing.T) {
	ctx := WithRequestID(context.Background(), "fixed")
	assert.Equal(t, "fixed", NewRequestContext(ctx).Value(requestIDKey))

	fresh := NewRequestContext(context.Background())
	assert.NotEmpty(t, fresh.Value(requestIDKey))
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, DEBUG, ParseLevel("DEBUG"))
	assert.Equal(t, WARN, ParseLevel("warning"))
	assert.Equal(t, INFO, ParseLevel("whatever"))
}

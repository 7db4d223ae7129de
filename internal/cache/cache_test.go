package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNoopReportCache(t *testing.T) {
	var c ReportCache = NoopReportCache{}
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "k", []byte(`{"a":1}`), time.Minute))
	val, ok, err := c.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Nil(t, val)
}

func TestRedisReportCache_SkipsEmptyWrites(t *testing.T) {
	// Nothing listens on this address; Set must return before dialing.
	c := NewRedisReportCache("127.0.0.1:1", "", 0)
	defer c.Close()

	assert.NoError(t, c.Set(context.Background(), "k", nil, time.Minute))
	assert.NoError(t, c.Set(context.Background(), "k", []byte("x"), 0))
}

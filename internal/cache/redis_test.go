package cache

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Runs only against a real server: REDIS_TEST_URL=redis://localhost:6379/15
func TestRedis_RoundTrip(t *testing.T) {
	url := os.Getenv("REDIS_TEST_URL")
	if url == "" {
		t.Skip("REDIS_TEST_URL not set")
	}

	ctx := context.Background()
	r, err := NewRedis(ctx, url, "ski-test")
	require.NoError(t, err)
	t.Cleanup(func() { _ = r.Close() })

	require.NoError(t, r.Put(ctx, TopKey("west", 3), []ranking{{Name: "Mammoth"}}, time.Minute))
	require.NoError(t, r.Put(ctx, TopKey("west", 5), []ranking{{Name: "Palisades"}}, time.Minute))

	var out []ranking
	hit, err := r.Get(ctx, TopKey("west", 3), &out)
	require.NoError(t, err)
	assert.True(t, hit)
	assert.Equal(t, "Mammoth", out[0].Name)

	require.NoError(t, r.InvalidatePrefix(ctx, TopPrefix("west")))
	hit, err = r.Get(ctx, TopKey("west", 5), &out)
	require.NoError(t, err)
	assert.False(t, hit)
}

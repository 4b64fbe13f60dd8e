package cache

import (
	"context"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type ranking struct {
	Name  string  `json:"name"`
	Score float64 `json:"score"`
}

func TestMemory_PutGet(t *testing.T) {
	ctx := context.Background()
	m := NewMemory(clockwork.NewFakeClock())

	in := []ranking{{Name: "Alta", Score: 12}, {Name: "Snowbird", Score: 9.5}}
	require.NoError(t, m.Put(ctx, TopKey("rockies", 2), in, time.Minute))

	var out []ranking
	hit, err := m.Get(ctx, TopKey("rockies", 2), &out)
	require.NoError(t, err)
	assert.True(t, hit)
	assert.Equal(t, in, out)
}

func TestMemory_Miss(t *testing.T) {
	m := NewMemory(nil)
	var out []ranking
	hit, err := m.Get(context.Background(), "nope", &out)
	require.NoError(t, err)
	assert.False(t, hit)
	assert.Nil(t, out)
}

func TestMemory_TTLExpiry(t *testing.T) {
	ctx := context.Background()
	clock := clockwork.NewFakeClock()
	m := NewMemory(clock)

	require.NoError(t, m.Put(ctx, MapKey, ranking{Name: "Vail"}, 10*time.Minute))

	clock.Advance(9 * time.Minute)
	var out ranking
	hit, err := m.Get(ctx, MapKey, &out)
	require.NoError(t, err)
	assert.True(t, hit)

	clock.Advance(time.Minute)
	hit, err = m.Get(ctx, MapKey, &out)
	require.NoError(t, err)
	assert.False(t, hit, "entry at exactly its ttl is expired")
	assert.Equal(t, 0, m.Len())
}

func TestMemory_NonPositiveTTLNotStored(t *testing.T) {
	m := NewMemory(nil)
	require.NoError(t, m.Put(context.Background(), "k", 1, 0))
	assert.Equal(t, 0, m.Len())
}

func TestMemory_InvalidatePrefix(t *testing.T) {
	ctx := context.Background()
	m := NewMemory(nil)

	for _, k := range []string{TopKey("rockies", 5), TopKey("rockies", 10), TopKey("northeast", 5), MapKey} {
		require.NoError(t, m.Put(ctx, k, 1, time.Hour))
	}

	require.NoError(t, m.InvalidatePrefix(ctx, TopPrefix("rockies")))
	require.NoError(t, m.Invalidate(ctx, MapKey))

	var v int
	for k, want := range map[string]bool{
		TopKey("rockies", 5):   false,
		TopKey("rockies", 10):  false,
		TopKey("northeast", 5): true,
		MapKey:                 false,
	} {
		hit, err := m.Get(ctx, k, &v)
		require.NoError(t, err)
		assert.Equal(t, want, hit, k)
	}
}

func TestTopPrefixDoesNotMatchLongerRegion(t *testing.T) {
	assert.NotContains(t, TopKey("rockies-north", 5), TopPrefix("rockies")+"5")
	assert.Equal(t, "top:rockies:10", TopKey("rockies", 10))
}

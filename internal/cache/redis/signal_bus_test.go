package redis

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHasPattern(t *testing.T) {
	assert.True(t, hasPattern("market:*"))
	assert.True(t, hasPattern("market:[as]*"))
	assert.False(t, hasPattern("market:activity"))
}

func TestStreamPayload(t *testing.T) {
	got, ok := streamPayload(map[string]any{"payload": `{"id":"s1"}`})
	assert.True(t, ok)
	assert.Equal(t, []byte(`{"id":"s1"}`), got)

	got, ok = streamPayload(map[string]any{"payload": []byte("raw")})
	assert.True(t, ok)
	assert.Equal(t, []byte("raw"), got)

	_, ok = streamPayload(map[string]any{"other": "x"})
	assert.False(t, ok)

	_, ok = streamPayload(map[string]any{"payload": 42})
	assert.False(t, ok)
}

func TestClientKey(t *testing.T) {
	rl := &RateLimiter{client: &Client{prefix: "assetmarket"}}
	assert.Equal(t, "assetmarket:ratelimit:ip:10.0.0.1", rl.rateLimitKey("ip:10.0.0.1"))

	bare := &Client{}
	assert.Equal(t, "lock:sweeper", bare.Key("lock", "sweeper"))
}

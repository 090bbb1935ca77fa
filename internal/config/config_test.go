package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	for _, key := range []string{"APP_ENV", "HTTP_PORT", "CACHE_TTL", "QUEUE_BACKEND", "MIGRATE_ON_START", "APP_TIMEZONE"} {
		t.Setenv(key, "")
	}
	cfg := Load()
	assert.Equal(t, "dev", cfg.Env)
	assert.Equal(t, "8081", cfg.HTTPPort)
	assert.Equal(t, 30*time.Second, cfg.CacheTTL)
	assert.Equal(t, "redis", cfg.QueueBackend)
	assert.True(t, cfg.MigrateOnStart)
	assert.False(t, cfg.Production())
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("APP_ENV", "production")
	t.Setenv("RATE_LIMIT_PER_MIN", "30")
	t.Setenv("CACHE_TTL", "2m")
	t.Setenv("MIGRATE_ON_START", "false")
	t.Setenv("APP_TIMEZONE", "UTC")
	t.Setenv("ACCESS_TTL", "not-a-duration")
	t.Setenv("CORS_ORIGINS", "https://a.test, ,https://b.test")

	cfg := Load()
	assert.True(t, cfg.Production())
	assert.Equal(t, 30, cfg.RateLimitPerMin)
	assert.Equal(t, 2*time.Minute, cfg.CacheTTL)
	assert.False(t, cfg.MigrateOnStart)
	assert.Equal(t, 12*time.Hour, cfg.AccessTTL)
	assert.Equal(t, []string{"https://a.test", "https://b.test"}, cfg.CORSOrigins)

	loc, err := cfg.Location()
	require.NoError(t, err)
	assert.Equal(t, time.UTC, loc)
}

func TestLocationRejectsUnknownZone(t *testing.T) {
	_, err := App{Timezone: "Mars/Olympus"}.Location()
	assert.Error(t, err)
}

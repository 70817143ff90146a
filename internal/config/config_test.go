package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	for _, k := range []string{"PORT", "STORE_BACKEND", "PUBLIC_ORIGIN", "DUPLICATE_CROSS_CAMPAIGN", "CORS_ALLOWED_ORIGINS", "LINK_READBACK_DELAY", "CACHE_BACKEND"} {
		t.Setenv(k, "")
	}

	cfg := Load()

	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, BackendSupabase, cfg.StoreBackend)
	assert.Equal(t, "http://localhost:5173", cfg.PublicOrigin)
	assert.Equal(t, 500*time.Millisecond, cfg.LinkReadbackDelay)
	assert.False(t, cfg.BlockCrossCampaign)
	assert.Empty(t, cfg.CORSAllowedOrigins)
	assert.Equal(t, CacheMemory, cfg.CacheBackend)
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("STORE_BACKEND", "Memory")
	t.Setenv("PUBLIC_ORIGIN", "https://conectados.app/")
	t.Setenv("DUPLICATE_CROSS_CAMPAIGN", "BLOCK")
	t.Setenv("CORS_ALLOWED_ORIGINS", "https://a.app, ,https://b.app")
	t.Setenv("REGISTER_RATE_LIMIT", "0.5")
	t.Setenv("HTTP_TIMEOUT", "not-a-duration")
	t.Setenv("CACHE_BACKEND", "Redis")
	t.Setenv("REDIS_DB", "2")

	cfg := Load()

	assert.Equal(t, 9090, cfg.Port)
	assert.Equal(t, BackendMemory, cfg.StoreBackend)
	assert.Equal(t, "https://conectados.app", cfg.PublicOrigin)
	assert.True(t, cfg.BlockCrossCampaign)
	assert.Equal(t, []string{"https://a.app", "https://b.app"}, cfg.CORSAllowedOrigins)
	assert.Equal(t, CacheRedis, cfg.CacheBackend)
	assert.Equal(t, 2, cfg.RedisDB)
	assert.Equal(t, 0.5, cfg.RegisterRateLimit)
	assert.Equal(t, 10*time.Second, cfg.HTTPTimeout)
}

func TestLoadDotEnv_DoesNotOverrideEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("CONECTADOS_A=from-file\nCONECTADOS_B=\"quoted\"\n"), 0o600))

	t.Setenv("CONECTADOS_A", "from-env")
	t.Setenv("CONECTADOS_B", "")
	require.NoError(t, os.Unsetenv("CONECTADOS_B"))

	require.NoError(t, LoadDotEnv(path))

	assert.Equal(t, "from-env", os.Getenv("CONECTADOS_A"))
	assert.Equal(t, "quoted", os.Getenv("CONECTADOS_B"))
	os.Unsetenv("CONECTADOS_B")
}

package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"PORT", "ENV", "LOG_LEVEL", "REDIS_URL", "REDIS_HOST", "REDIS_PORT", "REDIS_PASSWORD",
		"VCAP_SERVICES", "REDIS_SERVICE_NAME", "CHANNEL_HISTORY_MAX", "HUB_BUFFER",
		"MAX_MESSAGE_BYTES", "CONNECT_RATE_LIMIT", "RATE_LIMIT_WHITELIST",
		"HISTORY_TRIM_ON_WRITE", "AVATAR_BASE_URL", "STATIC_DIR", "SNAPSHOT_RATE_LIMIT", "SEND_RATE_LIMIT",
	} {
		t.Setenv(k, "")
	}
}

const vcapDoc = `{
  "p-redis": [
    {"name": "cache", "tags": ["cache"], "credentials": {"host": "cache.internal", "port": 6380, "password": "c"}},
    {"name": "chat-redis", "tags": ["redis", "pivotal"], "credentials": {"host": "p.internal", "port": "6379", "password": "p"}}
  ],
  "rediscloud": [
    {"name": "cloud", "tags": ["redis"], "credentials": {"hostname": "cloud.example", "port": "16379", "password": "r"}}
  ]
}`

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "3000", cfg.Port)
	assert.True(t, cfg.IsDevelopment())
	assert.Equal(t, 10, cfg.HistoryMax)
	assert.Equal(t, 30, cfg.ConnectRateLimit)
	assert.Equal(t, 60, cfg.SnapshotRateLimit)
	assert.Equal(t, 60, cfg.SendRateLimit)
	assert.True(t, cfg.TrimOnWrite)
	assert.Equal(t, 256, cfg.HubBuffer)
	assert.Equal(t, 4096, cfg.MaxMessageBytes)
	assert.Equal(t, "//api.adorable.io/avatars/30/", cfg.AvatarBaseURL)

	opts, err := cfg.RedisOptions()
	require.NoError(t, err)
	assert.Equal(t, "localhost:6379", opts.Addr)
}

func TestLoadProductionRequiresRedis(t *testing.T) {
	clearEnv(t)
	t.Setenv("ENV", "production")

	_, err := Load()
	assert.ErrorIs(t, err, ErrNoRedis)
}

func TestLoadRedisURL(t *testing.T) {
	clearEnv(t)
	t.Setenv("REDIS_URL", "redis://:secret@redis.example:6390/2")
	t.Setenv("REDIS_HOST", "ignored")

	cfg, err := Load()
	require.NoError(t, err)

	opts, err := cfg.RedisOptions()
	require.NoError(t, err)
	assert.Equal(t, "redis.example:6390", opts.Addr)
	assert.Equal(t, "secret", opts.Password)
	assert.Equal(t, 2, opts.DB)
}

func TestLoadRedisHost(t *testing.T) {
	clearEnv(t)
	t.Setenv("REDIS_HOST", "redis")
	t.Setenv("REDIS_PASSWORD", "my_password")

	cfg, err := Load()
	require.NoError(t, err)

	opts, err := cfg.RedisOptions()
	require.NoError(t, err)
	assert.Equal(t, "redis:6379", opts.Addr)
	assert.Equal(t, "my_password", opts.Password)
}

func TestLoadVCAPByTag(t *testing.T) {
	clearEnv(t)
	t.Setenv("ENV", "production")
	t.Setenv("VCAP_SERVICES", vcapDoc)

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "p.internal", cfg.RedisHost)
	assert.Equal(t, "6379", cfg.RedisPort)
	assert.Equal(t, "p", cfg.RedisPassword)
}

func TestLoadVCAPByName(t *testing.T) {
	clearEnv(t)
	t.Setenv("VCAP_SERVICES", vcapDoc)
	t.Setenv("REDIS_SERVICE_NAME", "cloud")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "cloud.example", cfg.RedisHost, "hostname is accepted in place of host")
	assert.Equal(t, "16379", cfg.RedisPort)
}

func TestLoadVCAPNumericPort(t *testing.T) {
	clearEnv(t)
	t.Setenv("VCAP_SERVICES", vcapDoc)
	t.Setenv("REDIS_SERVICE_NAME", "cache")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "6380", cfg.RedisPort)
}

func TestLoadVCAPMissingService(t *testing.T) {
	clearEnv(t)
	t.Setenv("VCAP_SERVICES", vcapDoc)
	t.Setenv("REDIS_SERVICE_NAME", "nope")

	_, err := Load()
	assert.ErrorIs(t, err, ErrNoRedis)
}

func TestLoadRejectsBadNumbers(t *testing.T) {
	clearEnv(t)
	t.Setenv("CHANNEL_HISTORY_MAX", "ten")
	_, err := Load()
	assert.Error(t, err)

	t.Setenv("CHANNEL_HISTORY_MAX", "-1")
	_, err = Load()
	assert.Error(t, err)
}

func TestLoadWhitelist(t *testing.T) {
	clearEnv(t)
	t.Setenv("RATE_LIMIT_WHITELIST", "10.0.0.1, 192.168.0.0/16,,")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, []string{"10.0.0.1", "192.168.0.0/16"}, cfg.RateLimitWhitelist)
}

func TestLoadSendRateLimit(t *testing.T) {
	clearEnv(t)
	t.Setenv("SEND_RATE_LIMIT", "5")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 5, cfg.SendRateLimit)

	t.Setenv("SEND_RATE_LIMIT", "fast")
	_, err = Load()
	assert.Error(t, err)
}

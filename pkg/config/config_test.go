package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, ":8082", cfg.Gateway.Address)
	assert.Equal(t, 1, cfg.Voice.HeartbeatInterval)
	assert.Equal(t, []string{"xsalsa20_poly1305", "plain"}, cfg.Voice.EncryptionModes)
	assert.Equal(t, 500*time.Millisecond, cfg.Voice.VideoResumeDelay)
	assert.Equal(t, 30*time.Second, cfg.MemberList.ListCacheTTL)
	assert.False(t, cfg.Redis.Enabled)
	assert.Equal(t, "realtime-gateway", cfg.Tracing.ServiceName)
}

func TestValidateRejectsBadValues(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{
			name:   "empty gateway address",
			mutate: func(c *Config) { c.Gateway.Address = "" },
			want:   "gateway.address",
		},
		{
			name:   "relay port out of range",
			mutate: func(c *Config) { c.Voice.RelayPort = 70000 },
			want:   "voice.relay_port",
		},
		{
			name:   "no encryption modes",
			mutate: func(c *Config) { c.Voice.EncryptionModes = nil },
			want:   "voice.encryption_modes",
		},
		{
			name: "inverted webrtc port range",
			mutate: func(c *Config) {
				c.WebRTC.PortMin = 20000
				c.WebRTC.PortMax = 10000
			},
			want: "webrtc.port_max",
		},
		{
			name:   "zero list cache ttl",
			mutate: func(c *Config) { c.MemberList.ListCacheTTL = 0 },
			want:   "member_list.list_cache_ttl",
		},
		{
			name:   "empty jwt secret",
			mutate: func(c *Config) { c.Auth.JWTSecret = "" },
			want:   "auth.jwt_secret",
		},
		{
			name: "redis enabled without address",
			mutate: func(c *Config) {
				c.Redis.Enabled = true
				c.Redis.Address = ""
			},
			want: "redis.address",
		},
		{
			name: "tracing sample rate out of range",
			mutate: func(c *Config) {
				c.Tracing.Enabled = true
				c.Tracing.SampleRate = 1.5
			},
			want: "tracing.sample_rate",
		},
		{
			name: "rate limiting without burst",
			mutate: func(c *Config) {
				c.RateLimiting.Enabled = true
				c.RateLimiting.Burst = 0
			},
			want: "rate_limiting.burst",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tc.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.want)
		})
	}
}

func TestLoadMissingFileFallsBackToDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig().Gateway.Address, cfg.Gateway.Address)
}

func TestLoadMergesFileOverDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	data := `
gateway:
  address: ":9999"
voice:
  relay_port: 50123
webrtc:
  port_min: 10000
  port_max: 10100
redis:
  enabled: true
  address: "redis:6379"
  pool_size: 5
`
	require.NoError(t, os.WriteFile(path, []byte(data), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":9999", cfg.Gateway.Address)
	assert.Equal(t, 50123, cfg.Voice.RelayPort)
	assert.Equal(t, uint16(10000), cfg.WebRTC.PortMin)
	assert.True(t, cfg.Redis.Enabled)
	// Untouched sections keep their defaults.
	assert.Equal(t, 1, cfg.Voice.HeartbeatInterval)
	assert.Equal(t, 30*time.Second, cfg.MemberList.ListCacheTTL)
}

func TestLoadRejectsInvalidFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("gateway:\n  address: \"\"\n"), 0o644))

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid configuration")
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("REALTIME_GATEWAY_ADDRESS", ":7070")
	t.Setenv("REALTIME_LOG_LEVEL", "debug")
	t.Setenv("REALTIME_REDIS_ADDRESS", "redis.internal:6379")

	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)

	assert.Equal(t, ":7070", cfg.Gateway.Address)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "redis.internal:6379", cfg.Redis.Address)
	assert.True(t, cfg.Redis.Enabled)
}

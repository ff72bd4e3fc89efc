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
	t.Setenv("JWT_ACCESS_SECRET", "secret")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, ":5000", cfg.APIAddr)
	assert.Equal(t, "localhost:5001", cfg.AdminAddr)
	assert.Equal(t, 15*time.Minute, cfg.JWTExpiry)
	assert.Equal(t, PresenceRedis, cfg.PresenceBackend)
	assert.Equal(t, 500*time.Millisecond, cfg.PresenceTimeout)
	assert.Equal(t, 60*time.Second, cfg.PingTimeout)
	assert.Equal(t, 256, cfg.SendBuffer)
	assert.Equal(t, devOrigins, cfg.AllowedOrigins)
	assert.False(t, cfg.VerifyParticipants)
}

func TestLoad_Env(t *testing.T) {
	t.Setenv("JWT_ACCESS_SECRET", "secret")
	t.Setenv("PRESENCE_BACKEND", "BOLT")
	t.Setenv("PRESENCE_DB", "/tmp/p.db")
	t.Setenv("CLIENT_URL", "https://vaani.example")
	t.Setenv("JWT_ACCESS_EXPIRY", "1h")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, PresenceBolt, cfg.PresenceBackend)
	assert.Equal(t, "/tmp/p.db", cfg.PresenceDB)
	assert.Equal(t, time.Hour, cfg.JWTExpiry)
	assert.Equal(t, "https://vaani.example", cfg.AllowedOrigins[0])
	assert.Len(t, cfg.AllowedOrigins, 4)
}

func TestLoad_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vaani.yaml")
	require.NoError(t, os.WriteFile(path, []byte("jwt_access_secret: from-file\napi_addr: \":7000\"\n"), 0o600))
	t.Setenv("API_ADDR", ":7100")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "from-file", cfg.JWTSecret)
	assert.Equal(t, ":7100", cfg.APIAddr, "environment overrides the file")
}

func TestValidate(t *testing.T) {
	valid := func() Config {
		return Config{
			JWTSecret:       "s",
			JWTExpiry:       time.Minute,
			PresenceBackend: PresenceRedis,
			RedisURL:        "redis://localhost:6379",
			PresenceTimeout: time.Second,
			PingTimeout:     time.Second,
			SendBuffer:      1,
			MaxMessageBytes: 1,
			CallRingTimeout: time.Second,
		}
	}

	tests := []struct {
		name   string
		mutate func(c *Config)
	}{
		{"missing secret", func(c *Config) { c.JWTSecret = "" }},
		{"zero expiry", func(c *Config) { c.JWTExpiry = 0 }},
		{"unknown backend", func(c *Config) { c.PresenceBackend = "memcached" }},
		{"bolt without file", func(c *Config) { c.PresenceBackend = PresenceBolt }},
		{"verify without mongo", func(c *Config) { c.VerifyParticipants = true }},
		{"zero buffer", func(c *Config) { c.SendBuffer = 0 }},
		{"zero presence timeout", func(c *Config) { c.PresenceTimeout = 0 }},
	}

	c := valid()
	require.NoError(t, c.Validate())

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := valid()
			tt.mutate(&c)
			assert.Error(t, c.Validate())
		})
	}
}

func TestOrigins_Explicit(t *testing.T) {
	got := origins(" https://a.example , ,https://b.example", "https://ignored.example")
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, got)
}

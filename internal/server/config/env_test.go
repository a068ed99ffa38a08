package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseEnv(t *testing.T) {
	t.Run("prefixed and bare names", func(t *testing.T) {
		t.Setenv("ADMIN_USER", "boss")
		t.Setenv("ADMIN_PASS", "s3cret")
		t.Setenv("LICENSEKEEPER_HTTP_ADDR", ":7000")
		t.Setenv("LICENSEKEEPER_TOKEN_TTL", "2h")
		t.Setenv("LICENSEKEEPER_REDEEM_CODES", "A1:1,B2:2")
		t.Setenv("LICENSEKEEPER_CORS_ALLOWED_ORIGINS", "https://a,https://b")

		cfg := &Config{}
		cfg.LoadDefaults()
		parseEnv(cfg)

		assert.Equal(t, "boss", cfg.AdminUser)
		assert.Equal(t, "s3cret", cfg.AdminPassword)
		assert.Equal(t, ":7000", cfg.HTTPAddr)
		assert.Equal(t, 2*time.Hour, cfg.TokenTTL)
		assert.Equal(t, map[string]int{"A1": 1, "B2": 2}, cfg.RedeemCodes)
		assert.Equal(t, []string{"https://a", "https://b"}, cfg.CORSAllowedOrigins)
		assert.Equal(t, ":50051", cfg.GRPCAddr)
	})

	t.Run("prefixed name wins", func(t *testing.T) {
		t.Setenv("ADMIN_USER", "bare")
		t.Setenv("LICENSEKEEPER_ADMIN_USER", "prefixed")

		cfg := &Config{}
		cfg.LoadDefaults()
		parseEnv(cfg)

		assert.Equal(t, "prefixed", cfg.AdminUser)
	})

	t.Run("malformed value panics", func(t *testing.T) {
		t.Setenv("LICENSEKEEPER_REDIS_DB", "zero")

		cfg := &Config{}
		require.Panics(t, func() { parseEnv(cfg) })
	})
}

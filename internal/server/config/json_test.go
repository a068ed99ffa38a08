package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTempJSON(t *testing.T, dir, name string, data map[string]any) string {
	t.Helper()
	if dir == "" {
		dir = t.TempDir()
	}
	if name == "" {
		name = "cfg.json"
	}
	path := filepath.Join(dir, name)
	b, err := json.Marshal(data)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, b, 0o600))
	return path
}

func Test_parseJson_SourcesAndPrecedence(t *testing.T) {
	origArgs := os.Args
	t.Cleanup(func() { os.Args = origArgs })

	dir := t.TempDir()
	pathFlag := writeTempJSON(t, dir, "flag.json", map[string]any{
		"http_addr":            "www.example:8000",
		"grpc_addr":            "www.example:9000",
		"storage_backend":      "postgres",
		"database_dsn":         "licenses.db",
		"session_backend":      "redis",
		"redis_db":             2,
		"secret_key":           "my_secret_key",
		"token_ttl":            "12h",
		"admin_user":           "root",
		"admin_password":       "toor",
		"redeem_codes":         map[string]int{"PROMO": 3},
		"rate_limit_rps":       1.5,
		"trust_proxy_headers":  true,
		"cors_allowed_origins": []string{"https://admin.example"},
		"s3_bucket":            "bucket",
	})

	t.Run("loads from json", func(t *testing.T) {
		os.Args = []string{"testbin", "-config", pathFlag}

		cfg := &Config{}
		cfg.LoadDefaults()
		parseJson(cfg)

		assert.Equal(t, "www.example:8000", cfg.HTTPAddr)
		assert.Equal(t, "www.example:9000", cfg.GRPCAddr)
		assert.Equal(t, BackendPostgres, cfg.StorageBackend)
		assert.Equal(t, "licenses.db", cfg.DatabaseDSN)
		assert.Equal(t, BackendRedis, cfg.SessionBackend)
		assert.Equal(t, 2, cfg.RedisDB)
		assert.Equal(t, "my_secret_key", cfg.SecretKey)
		assert.Equal(t, 12*time.Hour, cfg.TokenTTL)
		assert.Equal(t, "root", cfg.AdminUser)
		assert.Equal(t, "toor", cfg.AdminPassword)
		assert.Equal(t, map[string]int{"PROMO": 3}, cfg.RedeemCodes)
		assert.Equal(t, 1.5, cfg.RateLimitRPS)
		assert.True(t, cfg.TrustProxyHeaders)
		assert.Equal(t, []string{"https://admin.example"}, cfg.CORSAllowedOrigins)
		assert.Equal(t, "bucket", cfg.S3Bucket)

		// keys absent from the file keep their defaults
		assert.Equal(t, "users.json", cfg.DataFile)
		assert.Equal(t, 10, cfg.RateLimitBurst)
		assert.Equal(t, "us-east-1", cfg.S3Region)
	})

	t.Run("no CONFIG and no flags → no changes", func(t *testing.T) {
		os.Args = []string{"testbin"}

		cfg := &Config{
			HTTPAddr:    "defaults:1234",
			DatabaseDSN: "vault.db",
			SecretKey:   "key",
			TokenTTL:    2 * time.Minute,
		}
		parseJson(cfg)

		assert.Equal(t, "defaults:1234", cfg.HTTPAddr)
		assert.Equal(t, "vault.db", cfg.DatabaseDSN)
		assert.Equal(t, "key", cfg.SecretKey)
		assert.Equal(t, 2*time.Minute, cfg.TokenTTL)
	})

	t.Run("invalid JSON → panics", func(t *testing.T) {
		bad := filepath.Join(dir, "bad.json")
		require.NoError(t, os.WriteFile(bad, []byte(`{ this is not valid json`), 0o600))

		os.Args = []string{"testbin", "-config", bad}

		cfg := &Config{}
		require.Panics(t, func() { parseJson(cfg) })
	})

	t.Run("missing file → panics", func(t *testing.T) {
		os.Args = []string{"testbin", "-c", filepath.Join(dir, "absent.json")}

		cfg := &Config{}
		require.Panics(t, func() { parseJson(cfg) })
	})
}

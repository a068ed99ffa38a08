package config

import (
	"encoding/json"
	"os"

	"github.com/dmitrijs2005/licensekeeper/internal/flagx"
	"github.com/dmitrijs2005/licensekeeper/internal/timex"
)

// JsonConfig defines a configuration structure tailored for JSON unmarshalling.
// It uses timex.Duration for interval fields, which allows parsing both
// string values such as "24h" and integer nanoseconds.
type JsonConfig struct {
	HTTPAddr           string         `json:"http_addr"`
	GRPCAddr           string         `json:"grpc_addr"`
	StorageBackend     string         `json:"storage_backend"`
	DataFile           string         `json:"data_file"`
	DatabaseDSN        string         `json:"database_dsn"`
	SessionBackend     string         `json:"session_backend"`
	RedisAddr          string         `json:"redis_addr"`
	RedisPassword      string         `json:"redis_password"`
	RedisDB            int            `json:"redis_db"`
	SecretKey          string         `json:"secret_key"`
	TokenTTL           timex.Duration `json:"token_ttl"`
	AdminUser          string         `json:"admin_user"`
	AdminPassword      string         `json:"admin_password"`
	RedeemCodes        map[string]int `json:"redeem_codes"`
	RateLimitRPS       float64        `json:"rate_limit_rps"`
	RateLimitBurst     int            `json:"rate_limit_burst"`
	CORSAllowedOrigins []string       `json:"cors_allowed_origins"`
	TrustProxyHeaders  bool           `json:"trust_proxy_headers"`
	AMQPURL            string         `json:"amqp_url"`
	EventsExchange     string         `json:"events_exchange"`
	S3RootUser         string         `json:"s3_root_user"`
	S3RootPassword     string         `json:"s3_root_password"`
	S3Bucket           string         `json:"s3_bucket"`
	S3Region           string         `json:"s3_region"`
	S3BaseEndpoint     string         `json:"s3_base_endpoint"`
	LogLevel           string         `json:"log_level"`
}

// parseJson loads configuration values from a JSON file into the provided
// Config instance. The path comes from the -c or -config flags, falling back
// to LICENSEKEEPER_CONFIG; without either nothing is loaded. Only keys present
// in the file override the current values. An unreadable or invalid file panics.
func parseJson(config *Config) {

	jsonConfigFile := flagx.ConfigPath(EnvPrefix + "_CONFIG")

	// nothing to load
	if jsonConfigFile == "" {
		return
	}

	c := &JsonConfig{}

	file, err := os.ReadFile(jsonConfigFile)
	if err != nil {
		panic(err)
	}

	err = json.Unmarshal(file, c)
	if err != nil {
		panic(err)
	}

	setString(&config.HTTPAddr, c.HTTPAddr)
	setString(&config.GRPCAddr, c.GRPCAddr)
	setString(&config.StorageBackend, c.StorageBackend)
	setString(&config.DataFile, c.DataFile)
	setString(&config.DatabaseDSN, c.DatabaseDSN)
	setString(&config.SessionBackend, c.SessionBackend)
	setString(&config.RedisAddr, c.RedisAddr)
	setString(&config.RedisPassword, c.RedisPassword)
	setString(&config.SecretKey, c.SecretKey)
	setString(&config.AdminUser, c.AdminUser)
	setString(&config.AdminPassword, c.AdminPassword)
	setString(&config.AMQPURL, c.AMQPURL)
	setString(&config.EventsExchange, c.EventsExchange)
	setString(&config.S3RootUser, c.S3RootUser)
	setString(&config.S3RootPassword, c.S3RootPassword)
	setString(&config.S3Bucket, c.S3Bucket)
	setString(&config.S3Region, c.S3Region)
	setString(&config.S3BaseEndpoint, c.S3BaseEndpoint)
	setString(&config.LogLevel, c.LogLevel)

	if c.RedisDB != 0 {
		config.RedisDB = c.RedisDB
	}
	if c.TokenTTL.Duration != 0 {
		config.TokenTTL = c.TokenTTL.Duration
	}
	if len(c.RedeemCodes) > 0 {
		config.RedeemCodes = c.RedeemCodes
	}
	if c.RateLimitRPS != 0 {
		config.RateLimitRPS = c.RateLimitRPS
	}
	if c.RateLimitBurst != 0 {
		config.RateLimitBurst = c.RateLimitBurst
	}
	if len(c.CORSAllowedOrigins) > 0 {
		config.CORSAllowedOrigins = c.CORSAllowedOrigins
	}
	if c.TrustProxyHeaders {
		config.TrustProxyHeaders = true
	}
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

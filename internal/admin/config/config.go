package config

import (
	"os"
	"path/filepath"
	"time"
)

// EnvPrefix is prepended to every environment variable name.
const EnvPrefix = "LICENSEKEEPER_ADMIN"

// Config holds runtime settings for the admin console.
type Config struct {
	ServerURL string        `envconfig:"SERVER_URL"`
	Retries   int           `envconfig:"RETRIES"`
	Timeout   time.Duration `envconfig:"TIMEOUT"`
	TokenFile string        `envconfig:"TOKEN_FILE"`
}

// userConfigDir is a seam for tests.
var userConfigDir = os.UserConfigDir

func (c *Config) LoadDefaults() {
	c.ServerURL = "http://127.0.0.1:5000"
	c.Retries = 3
	c.Timeout = 10 * time.Second
	c.TokenFile = DefaultTokenFile()
}

// DefaultTokenFile is where the admin token is kept between invocations.
func DefaultTokenFile() string {
	dir, err := userConfigDir()
	if err != nil || dir == "" {
		dir = os.TempDir()
	}
	return filepath.Join(dir, "licensekeeper", "admin_token")
}

// LoadConfig applies defaults, then the JSON file at jsonPath (when set),
// then the environment.
func LoadConfig(jsonPath string) (*Config, error) {
	cfg := &Config{}
	cfg.LoadDefaults()
	if err := parseJson(cfg, jsonPath); err != nil {
		return nil, err
	}
	if err := parseEnv(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

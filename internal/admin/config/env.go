package config

import (
	"fmt"

	"github.com/kelseyhightower/envconfig"
)

func parseEnv(cfg *Config) error {
	if err := envconfig.Process(EnvPrefix, cfg); err != nil {
		return fmt.Errorf("read environment: %w", err)
	}
	return nil
}

package config

import (
	"github.com/kelseyhightower/envconfig"
)

// parseEnv overlays values from the environment. Each field is looked up as
// LICENSEKEEPER_<TAG> first and then as the bare tag, so ADMIN_USER and
// ADMIN_PASS work as in older deployments. Unset variables leave the field
// untouched; malformed values panic.
func parseEnv(config *Config) {
	if err := envconfig.Process(EnvPrefix, config); err != nil {
		panic(err)
	}
}

// Package config loads settings for the licensekeeper admin console.
//
// Sources & precedence
//
//  1. Built-in defaults (see (*Config).LoadDefaults).
//  2. Optional JSON file given with --config.
//  3. Environment variables prefixed with LICENSEKEEPER_ADMIN_.
//  4. Command-line flags, applied by the cli package.
//
// # JSON schema
//
//	{
//	  "server_url": "http://127.0.0.1:5000",
//	  "retries": 3,
//	  "timeout": "10s",
//	  "token_file": "/home/me/.config/licensekeeper/admin_token"
//	}
package config

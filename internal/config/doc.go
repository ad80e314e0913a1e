// ABOUTME: Package config loads xeno-gateway configuration from YAML or TOML
// ABOUTME: Expands environment variables, applies defaults and env overrides, validates

// Package config handles configuration loading for xeno-gateway.
//
// # Overview
//
// Configuration is loaded from a YAML or TOML file with environment variable
// expansion. Anything the file leaves out keeps the value from Default, so a
// missing file is a valid (local, fallback-only) configuration.
//
// # Configuration File
//
// Default locations (in order):
//
//  1. Path from XENO_CONFIG environment variable
//  2. $XDG_CONFIG_HOME/xeno/gateway.yaml
//  3. ~/.config/xeno/gateway.yaml
//
// Files ending in .toml are parsed as TOML; every other extension is YAML.
//
// # Environment Variable Expansion
//
// Configuration values can reference environment variables:
//
//	generation:
//	  api_key: "${OPENAI_API_KEY}"
//
// Unset variables expand to the empty string. Two variables override the
// file after parsing:
//
//	XENO_DB_PATH            database.path
//	MODEL_FALLBACK_ENABLED  generation.force_fallback (any strconv.ParseBool value)
//
// # Duration Parsing
//
// Duration values use Go's time.ParseDuration syntax:
//
//	generation:
//	  timeout: "30s"
//	tasks:
//	  ttl: "24h"
//
// # Configuration Sections
//
//	server:
//	  http_addr: "localhost:8080"
//	  allowed_origins: ["http://localhost:5173"]  # "*" for any origin
//
//	database:
//	  path: "~/.local/share/xeno/xeno.db"  # empty disables persistence
//	  driver: "sqlite"                     # sqlite (pure Go) or sqlite3 (cgo)
//
//	auth:
//	  jwt_secret: "${XENO_JWT_SECRET}"     # empty runs in anonymous mode
//
//	generation:
//	  provider: "openai"                   # openai, anthropic, gemini, none
//	  api_key: "${OPENAI_API_KEY}"
//	  base_url: ""
//	  model: ""                            # overrides every profile's model
//	  force_fallback: false
//	  timeout: "30s"
//
//	tasks:
//	  capacity: 1024
//	  ttl: "24h"
//
//	logging:
//	  level: "info"                        # debug, info, warn, error
//	  format: "text"                       # text, json, color
//
//	profiles:
//	  - role: planner
//	    temperature: 0.5
//	    instructions: "Break the problem into steps."
//
// # Validation
//
// Validate checks:
//
//   - server.http_addr is set
//   - database.driver is sqlite or sqlite3
//   - a non-empty jwt_secret is at least 32 bytes
//   - provider, log level and log format are known values
//   - durations and capacities are not negative
//   - profile overrides name known roles, each at most once
//
// # Usage
//
//	cfg, err := config.LoadOrDefault(config.DefaultPath())
//	if err != nil {
//	    log.Fatal(err)
//	}
//	reg, err := profiles.Default().WithOverrides(cfg.ProfileOverrides())
package config

// Package config handles configuration loading for spawn-relay.
//
// # Overview
//
// Configuration is loaded from YAML files with environment variable expansion.
// The package provides validation and sensible defaults.
//
// # Environment Variable Expansion
//
// Configuration values can reference environment variables:
//
//	auth:
//	  jwt_secret: "${SPAWN_JWT_SECRET}"
//
// Syntax: ${VAR_NAME}
//
// # Duration Parsing
//
// Duration values use Go's time.ParseDuration syntax:
//
//	relay:
//	  write_timeout: "10s"
//	  handshake_timeout: "10s"
//
// Supported units: ns, us, ms, s, m, h
//
// # Configuration Sections
//
// Server settings:
//
//	server:
//	  listen_addr: "0.0.0.0:8080"
//
// Database:
//
//	database:
//	  path: "/var/lib/spawn/relay.db"
//
// Authentication:
//
//	auth:
//	  jwt_secret: "${SPAWN_JWT_SECRET}"   # Required, at least 32 bytes
//	  admin_token: "${SPAWN_ADMIN_TOKEN}" # Empty disables the admin API
//	  token_ttl: "2160h"
//
// Logging:
//
//	logging:
//	  level: "info"   # debug, info, warn, error
//	  format: "text"  # text, json
//
// # Usage
//
// Load configuration:
//
//	cfg, err := config.Load("/etc/spawn/relay.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
package config

// Package config loads server configuration from environment variables.
//
// Every field carries an envconfig tag and a default, so an empty environment
// yields a working server: port 8000, six terminal slots, 32 sessions max.
// Command-line flags in cmd/server override the loaded values.
package config

// Package config loads, validates, and defaults Oculith's TOML configuration.
package config

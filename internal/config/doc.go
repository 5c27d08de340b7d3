// Package config loads and validates the TOML configuration shared by the
// curator daemon and CLI.
package config

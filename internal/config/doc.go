// Package config loads, defaults, and validates the TOML configuration that
// drives the Flywheel daemon and CLI.
//
// Load resolves the config path (explicit flag, ~/.config/flywheel/config.toml,
// or ./flywheel.toml), decodes it over the repository defaults, expands home
// paths, and validates the result so downstream packages never see a partial
// configuration.
package config

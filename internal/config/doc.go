// Package config loads, validates, and defaults the TOML configuration shared
// by the crosspost daemon and CLI. Paths are tilde-expanded and normalized to
// absolute form during Load so downstream code never handles raw user input.
package config

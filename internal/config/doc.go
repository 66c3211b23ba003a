// Package config loads, normalizes, and validates m8flash configuration.
//
// It supplies defaults, expands user paths (including tilde shortcuts), reads
// TOML files, and honours environment fallbacks such as M8FLASH_GITHUB_TOKEN.
// Every knob the serve loop and the CLI need lives on Config so download
// directories, tycmd settings, and bridge credentials are resolved in one
// pass.
package config

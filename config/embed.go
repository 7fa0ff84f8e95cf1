// Package config provides the embedded default configuration file.
package config

import (
	_ "embed"
)

// DefaultConfigYAML contains the commented default configuration written by
// "analyst config create".
//
//go:embed config.default.yaml
var DefaultConfigYAML []byte

// Package config defines the chainstate server configuration.
//
//   - spec.go: ServerConfig struct definition
//   - default.go: default values
//   - verify.go: validation
//   - convert.go: mapping onto storage and chain configs
//
// Configuration is loaded via internal/infra/confloader from a YAML file,
// CHAINSTATE_ environment variables and command-line flags.
package config

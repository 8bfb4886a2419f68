// Package confloader loads configuration with koanf.
//
// Sources, highest priority first:
//
//  1. Command-line flags (LoadMap)
//  2. Environment variables with the CHAINSTATE_ prefix
//  3. The YAML configuration file
//  4. Defaults already present in the target struct
//
// Watcher reports changes to the configuration file so that the server can
// reapply settings that are safe to change at runtime, such as the log level.
package confloader

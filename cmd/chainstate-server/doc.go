// Package main provides the entry point for chainstate-server.
//
// The server owns a storage root of block state dumps and redo logs. It
// reconstructs snapshots on demand, recycles unreferenced dumps on a timer
// and serves the HTTP API used by chainstate-cli and peer nodes.
//
// Usage:
//
//	chainstate-server [flags]
//	chainstate-server -config /etc/chainstate/config.yaml
//	chainstate-server -root /data/chainstate -read-only
//
// Configuration is layered: defaults, then the YAML file, then
// CHAINSTATE_* environment variables, then flags. Changing log.level in
// the file takes effect without a restart.
package main

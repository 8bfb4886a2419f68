// Package main provides the entry point for chainstate-cli.
//
// The CLI talks to a running chainstate-server over HTTP for:
//
//   - listing and recycling dumps
//   - computing block state digests
//   - moving redo logs between nodes
//   - maintaining the header index
//
// Usage:
//
//	chainstate-cli [global flags] <command> [flags] [args]
//	chainstate-cli --server 10.0.0.5:5090 dump list
//	chainstate-cli -o json snapshot digest <block-hash>
//	chainstate-cli redo get -f block.redo <block-hash>
//	chainstate-cli redo decode block.redo
package main

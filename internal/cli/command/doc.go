// Package command defines the chainstate-cli commands on urfave/cli/v2.
//
// Most commands call a running chainstate-server over HTTP:
//
//   - dump: list dumps, trigger recycling
//   - view: list open snapshot views
//   - snapshot: compute a block's state digest
//   - redo: list, fetch, upload redo logs
//   - header: read and write the header index
//   - system: health and readiness checks
//
// "redo decode" works offline on an exported redo log file. Every command
// renders through the output package, so --output selects table, json or
// yaml.
package command

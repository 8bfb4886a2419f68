// Package domain defines the core domain models for chainstate.
//
// Domain models are plain values without IO dependencies:
//
//   - BlockHash and Header: chain identity and parent links
//   - Errors: the error taxonomy shared by every storage layer
package domain

// Package chain stores block headers and answers parent lookups for
// snapshot reconstruction.
//
// Headers live in an embedded KV engine under the key "h/" + hash with the
// value parent(32) || number(8, big endian). Recent lookups are served from
// an LRU cache.
package chain

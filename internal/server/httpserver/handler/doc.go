// Package handler implements the chainstate HTTP API.
//
// Every JSON response uses the Response envelope. Redo logs are exchanged as
// raw encoded bytes so that peers can copy them without re-encoding.
package handler

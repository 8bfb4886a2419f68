// Package connection is the HTTP client chainstate-cli uses to talk to a
// running chainstate-server.
//
// JSON endpoints answer with the server's response envelope; ParseResponse
// unwraps its data field. Redo logs travel as raw octet streams.
package connection

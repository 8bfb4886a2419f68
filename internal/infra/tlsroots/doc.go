// Package tlsroots loads the certificates behind the HTTPS API.
//
//   - roots.go: CA pools and the server and client tls.Config builders
//   - watcher.go: server key pair, reloaded when its files change
//
// The server key pair is served through Watcher.GetCertificate so a renewed
// certificate takes effect without a restart. Peers pulling redo logs and
// the CLI verify the server against a CA file or the system roots.
package tlsroots

// Package buildinfo reports the version of the running binary.
//
// Values are injected at build time via ldflags:
//
//	go build -ldflags "-X github.com/yndnr/chainstate-go/internal/infra/buildinfo.Version=v0.3.0"
//
// Commit and GoVersion fall back to the module build information when not
// injected.
package buildinfo

package storage

import (
	"fmt"
	"time"

	"github.com/yndnr/chainstate-go/internal/storage/memory"
	"github.com/yndnr/chainstate-go/internal/storage/state"
	"github.com/yndnr/chainstate-go/internal/storage/state/boltstate"
)

// Engines lists the storage engine names accepted by NewFactory.
var Engines = []string{boltstate.Engine, memory.Engine}

// NewFactory returns the Storage factory for engine. An empty name selects
// bolt. timeout is the default file lock timeout for bolt.
func NewFactory(engine string, timeout time.Duration) (state.Factory, error) {
	switch engine {
	case "", boltstate.Engine:
		return func(path string, opts state.Options) (state.Storage, error) {
			if opts.Timeout == 0 {
				opts.Timeout = timeout
			}
			return boltstate.New(path, opts)
		}, nil
	case memory.Engine:
		return memory.New, nil
	default:
		return nil, fmt.Errorf("storage: unknown engine %q", engine)
	}
}

package command

import (
	"time"

	"github.com/yndnr/chainstate-go/internal/core/domain"
)

// Rows mirror the server's JSON payloads. Only the fields the CLI renders
// are declared.

type dumpRow struct {
	Hash      domain.BlockHash `json:"hash"`
	Size      int64            `json:"size" table:"bytes"`
	Refs      int              `json:"refs"`
	CreatedAt time.Time        `json:"created_at" table:"wide"`
}

type viewRow struct {
	Hash  domain.BlockHash `json:"hash"`
	Refs  int              `json:"refs"`
	Ready bool             `json:"ready"`
}

type recycleResult struct {
	Removed int `json:"removed"`
}

type digestResult struct {
	Hash   domain.BlockHash `json:"hash"`
	Digest string           `json:"digest"`
}

type redoPutResult struct {
	Hash  domain.BlockHash `json:"hash"`
	Bytes int              `json:"bytes"`
}

type redoStatus struct {
	Hash   domain.BlockHash `json:"hash"`
	Exists bool             `json:"exists"`
}

type headerRow struct {
	Hash         domain.BlockHash `json:"hash"`
	PreBlockHash domain.BlockHash `json:"pre_block_hash"`
	Number       uint64           `json:"number"`
}

type putHeaderRequest struct {
	PreBlockHash domain.BlockHash `json:"pre_block_hash"`
	Number       uint64           `json:"number"`
}

type healthResult struct {
	Status string `json:"status"`
	Mode   string `json:"mode,omitempty"`
	Time   string `json:"time" table:"wide"`
}

// recordRow is one decoded redo record.
type recordRow struct {
	Seq      int    `json:"seq"`
	Op       string `json:"op"`
	Database string `json:"database"`
	Key      string `json:"key"`
	Args     string `json:"args"`
}

package redo

import (
	"context"
	"fmt"
	"sync"

	"github.com/yndnr/chainstate-go/internal/core/domain"
)

// Op is the operation recorded by a Record.
type Op uint8

const (
	OpUnspecified Op = iota
	OpBegin
	OpCommit
	OpRollback
	OpSet
	OpDel
	OpHSet
	OpHMSet
	OpHDel
	OpHClean
	OpLSet
	OpLPush
	OpLPushX
	OpLPop
	OpRPush
	OpRPushX
	OpRPop
	OpLInsert
	OpLRemove

	opMax
)

var opNames = [...]string{
	OpUnspecified: "unspecified",
	OpBegin:       "begin",
	OpCommit:      "commit",
	OpRollback:    "rollback",
	OpSet:         "set",
	OpDel:         "del",
	OpHSet:        "hset",
	OpHMSet:       "hmset",
	OpHDel:        "hdel",
	OpHClean:      "hclean",
	OpLSet:        "lset",
	OpLPush:       "lpush",
	OpLPushX:      "lpushx",
	OpLPop:        "lpop",
	OpRPush:       "rpush",
	OpRPushX:      "rpushx",
	OpRPop:        "rpop",
	OpLInsert:     "linsert",
	OpLRemove:     "lremove",
}

// String returns the lowercase command name.
func (o Op) String() string {
	if o < opMax {
		return opNames[o]
	}
	return fmt.Sprintf("op(%d)", uint8(o))
}

// IsTxMarker reports whether o delimits a transaction.
func (o Op) IsTxMarker() bool {
	return o == OpBegin || o == OpCommit || o == OpRollback
}

// Record is one recorded call. Which fields are set depends on Op:
//
//	set               Values[0]
//	hset              Fields[0], Values[0]
//	hmset             Fields[i], Values[i]
//	hdel              Fields
//	lset              Index, Values[0]
//	l/rpush[x]        Values
//	linsert           Before, Pivot, Values[0]
//	lremove           Index (count), Values[0]
type Record struct {
	Op       Op
	Database string
	Key      string
	Fields   []string
	Values   [][]byte
	Index    int64
	Before   bool
	Pivot    []byte
}

// Validate checks that r carries exactly what its Op needs.
func (r Record) Validate() error {
	bad := func(msg string) error {
		return domain.ErrCorruptedLog.WithDetails(fmt.Sprintf("%s: %s", r.Op, msg))
	}
	if r.Op == OpUnspecified || r.Op >= opMax {
		return bad("unknown op")
	}
	if r.Op.IsTxMarker() {
		if r.Database != "" || r.Key != "" {
			return bad("transaction marker carries a key")
		}
		return nil
	}
	if r.Database == "" {
		return bad("missing database")
	}

	switch r.Op {
	case OpDel, OpHClean, OpLPop, OpRPop:
		if len(r.Values) != 0 || len(r.Fields) != 0 {
			return bad("unexpected arguments")
		}
	case OpSet, OpLSet, OpLRemove:
		if len(r.Values) != 1 {
			return bad("want exactly one value")
		}
	case OpHSet:
		if len(r.Fields) != 1 || len(r.Values) != 1 {
			return bad("want one field and one value")
		}
	case OpHMSet:
		if len(r.Fields) == 0 || len(r.Fields) != len(r.Values) {
			return bad("fields and values differ in length")
		}
	case OpHDel:
		if len(r.Fields) == 0 {
			return bad("want at least one field")
		}
	case OpLPush, OpLPushX, OpRPush, OpRPushX:
		if len(r.Values) == 0 {
			return bad("want at least one value")
		}
	case OpLInsert:
		if len(r.Values) != 1 || r.Pivot == nil {
			return bad("want pivot and one value")
		}
	}
	return nil
}

// clone copies every slice so later changes by the caller do not leak into
// the log.
func (r Record) clone() Record {
	out := r
	if r.Fields != nil {
		out.Fields = append([]string(nil), r.Fields...)
	}
	if r.Values != nil {
		out.Values = make([][]byte, len(r.Values))
		for i, v := range r.Values {
			out.Values[i] = append([]byte(nil), v...)
		}
	}
	if r.Pivot != nil {
		out.Pivot = append([]byte{}, r.Pivot...)
	}
	return out
}

// Log is an ordered list of records. It is appended to by exactly one
// recorder and becomes immutable once Finish is called.
type Log struct {
	mu       sync.RWMutex
	records  []Record
	finished bool
}

// NewLog returns an empty, open log.
func NewLog() *Log {
	return &Log{}
}

// Append adds r to the end of the log.
func (l *Log) Append(r Record) error {
	if err := r.Validate(); err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.finished {
		return ErrLogFinished
	}
	l.records = append(l.records, r.clone())
	return nil
}

// Finish seals the log. It is safe to call more than once.
func (l *Log) Finish() {
	l.mu.Lock()
	l.finished = true
	l.mu.Unlock()
}

// Finished reports whether Finish has been called.
func (l *Log) Finished() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.finished
}

// Len returns the number of records.
func (l *Log) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.records)
}

// Records returns a copy of the record slice. Byte slices are shared.
func (l *Log) Records() []Record {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]Record, len(l.records))
	copy(out, l.records)
	return out
}

// Applier consumes encoded logs. state.Storage implements it.
type Applier interface {
	Redo(ctx context.Context, data []byte) error
}

// ApplyTo encodes the log and hands it to target's Redo.
func (l *Log) ApplyTo(ctx context.Context, target Applier) error {
	data, err := l.Encode()
	if err != nil {
		return err
	}
	return target.Redo(ctx, data)
}

package state

import (
	"context"
	"io"

	"github.com/yndnr/chainstate-go/internal/storage/redo"
)

// Recorder wraps a Storage and appends every successful mutation to a redo
// log, in the order the calls complete. Results are returned unchanged.
// Once the log is finished, mutations fail with redo.ErrLogFinished and the
// storage is left untouched. Handles obtained from the wrapped Storage
// directly are not recorded.
type Recorder struct {
	inner Storage
	log   *redo.Log
}

var _ Storage = (*Recorder)(nil)

// AttachLogger returns s wrapped so that its mutations are appended to l.
// Attaching to a Recorder replaces its log.
func AttachLogger(s Storage, l *redo.Log) *Recorder {
	if r, ok := s.(*Recorder); ok {
		s = r.inner
	}
	return &Recorder{inner: s, log: l}
}

// LoggerOf returns the log attached to s, if s is a Recorder.
func LoggerOf(s Storage) (*redo.Log, bool) {
	r, ok := s.(*Recorder)
	if !ok || r.log == nil {
		return nil, false
	}
	return r.log, true
}

// Unwrap returns s without any Recorder.
func Unwrap(s Storage) Storage {
	if r, ok := s.(*Recorder); ok {
		return r.inner
	}
	return s
}

// Log returns the attached log.
func (r *Recorder) Log() *redo.Log { return r.log }

// Unwrap returns the wrapped Storage.
func (r *Recorder) Unwrap() Storage { return r.inner }

func (r *Recorder) Init(ctx context.Context) error { return r.inner.Init(ctx) }
func (r *Recorder) Uninit() error                  { return r.inner.Uninit() }
func (r *Recorder) Path() string                   { return r.inner.Path() }
func (r *Recorder) ReadOnly() bool                 { return r.inner.ReadOnly() }
func (r *Recorder) InTransaction() bool            { return r.inner.InTransaction() }
func (r *Recorder) Digest() ([]byte, error)        { return r.inner.Digest() }
func (r *Recorder) Reset() error                   { return r.inner.Reset() }
func (r *Recorder) Remove() error                  { return r.inner.Remove() }

func (r *Recorder) WriteTo(w io.Writer) (int64, error) { return r.inner.WriteTo(w) }

// Redo replays into the wrapped storage without recording.
func (r *Recorder) Redo(ctx context.Context, data []byte) error {
	return r.inner.Redo(ctx, data)
}

func (r *Recorder) Begin() error {
	return r.marker(r.inner.Begin, redo.OpBegin)
}

func (r *Recorder) Commit() error {
	return r.marker(r.inner.Commit, redo.OpCommit)
}

func (r *Recorder) Rollback() error {
	return r.marker(r.inner.Rollback, redo.OpRollback)
}

func (r *Recorder) marker(fn func() error, op redo.Op) error {
	if r.log.Finished() {
		return redo.ErrLogFinished
	}
	if err := fn(); err != nil {
		return err
	}
	return r.log.Append(redo.Record{Op: op})
}

// Database returns a recording handle for the named database.
func (r *Recorder) Database(name string) (Database, error) {
	db, err := r.inner.Database(name)
	if err != nil {
		return nil, err
	}
	return &recordingDatabase{Database: db, log: r.log}, nil
}

// recordingDatabase embeds the real handle so reads pass straight through
// and overrides every mutation.
type recordingDatabase struct {
	Database
	log *redo.Log
}

func (d *recordingDatabase) record(rec redo.Record) error {
	rec.Database = d.Name()
	return d.log.Append(rec)
}

// sealed reports redo.ErrLogFinished before a mutation reaches the storage.
func (d *recordingDatabase) sealed() error {
	if d.log.Finished() {
		return redo.ErrLogFinished
	}
	return nil
}

func (d *recordingDatabase) Set(key string, value []byte) error {
	if err := d.sealed(); err != nil {
		return err
	}
	if err := d.Database.Set(key, value); err != nil {
		return err
	}
	return d.record(redo.Record{Op: redo.OpSet, Key: key, Values: [][]byte{value}})
}

func (d *recordingDatabase) Del(key string) error {
	if err := d.sealed(); err != nil {
		return err
	}
	if err := d.Database.Del(key); err != nil {
		return err
	}
	return d.record(redo.Record{Op: redo.OpDel, Key: key})
}

func (d *recordingDatabase) HSet(key, field string, value []byte) error {
	if err := d.sealed(); err != nil {
		return err
	}
	if err := d.Database.HSet(key, field, value); err != nil {
		return err
	}
	return d.record(redo.Record{Op: redo.OpHSet, Key: key, Fields: []string{field}, Values: [][]byte{value}})
}

func (d *recordingDatabase) HMSet(key string, fields map[string][]byte) error {
	if err := d.sealed(); err != nil {
		return err
	}
	if err := d.Database.HMSet(key, fields); err != nil {
		return err
	}
	names := sortedKeys(fields)
	values := make([][]byte, len(names))
	for i, f := range names {
		values[i] = fields[f]
	}
	return d.record(redo.Record{Op: redo.OpHMSet, Key: key, Fields: names, Values: values})
}

func (d *recordingDatabase) HDel(key string, fields ...string) (int64, error) {
	if err := d.sealed(); err != nil {
		return 0, err
	}
	n, err := d.Database.HDel(key, fields...)
	if err != nil {
		return n, err
	}
	return n, d.record(redo.Record{Op: redo.OpHDel, Key: key, Fields: fields})
}

func (d *recordingDatabase) HClean(key string) error {
	if err := d.sealed(); err != nil {
		return err
	}
	if err := d.Database.HClean(key); err != nil {
		return err
	}
	return d.record(redo.Record{Op: redo.OpHClean, Key: key})
}

func (d *recordingDatabase) LSet(key string, index int64, value []byte) error {
	if err := d.sealed(); err != nil {
		return err
	}
	if err := d.Database.LSet(key, index, value); err != nil {
		return err
	}
	return d.record(redo.Record{Op: redo.OpLSet, Key: key, Index: index, Values: [][]byte{value}})
}

func (d *recordingDatabase) LPush(key string, values ...[]byte) (int64, error) {
	if err := d.sealed(); err != nil {
		return 0, err
	}
	n, err := d.Database.LPush(key, values...)
	if err != nil {
		return n, err
	}
	return n, d.record(redo.Record{Op: redo.OpLPush, Key: key, Values: values})
}

func (d *recordingDatabase) LPushX(key string, values ...[]byte) (int64, error) {
	if err := d.sealed(); err != nil {
		return 0, err
	}
	n, err := d.Database.LPushX(key, values...)
	if err != nil {
		return n, err
	}
	return n, d.record(redo.Record{Op: redo.OpLPushX, Key: key, Values: values})
}

func (d *recordingDatabase) LPop(key string) ([]byte, error) {
	if err := d.sealed(); err != nil {
		return nil, err
	}
	v, err := d.Database.LPop(key)
	if err != nil {
		return v, err
	}
	return v, d.record(redo.Record{Op: redo.OpLPop, Key: key})
}

func (d *recordingDatabase) RPush(key string, values ...[]byte) (int64, error) {
	if err := d.sealed(); err != nil {
		return 0, err
	}
	n, err := d.Database.RPush(key, values...)
	if err != nil {
		return n, err
	}
	return n, d.record(redo.Record{Op: redo.OpRPush, Key: key, Values: values})
}

func (d *recordingDatabase) RPushX(key string, values ...[]byte) (int64, error) {
	if err := d.sealed(); err != nil {
		return 0, err
	}
	n, err := d.Database.RPushX(key, values...)
	if err != nil {
		return n, err
	}
	return n, d.record(redo.Record{Op: redo.OpRPushX, Key: key, Values: values})
}

func (d *recordingDatabase) RPop(key string) ([]byte, error) {
	if err := d.sealed(); err != nil {
		return nil, err
	}
	v, err := d.Database.RPop(key)
	if err != nil {
		return v, err
	}
	return v, d.record(redo.Record{Op: redo.OpRPop, Key: key})
}

func (d *recordingDatabase) LInsert(key string, before bool, pivot, value []byte) (int64, error) {
	if err := d.sealed(); err != nil {
		return 0, err
	}
	n, err := d.Database.LInsert(key, before, pivot, value)
	if err != nil {
		return n, err
	}
	if pivot == nil {
		pivot = []byte{}
	}
	return n, d.record(redo.Record{Op: redo.OpLInsert, Key: key, Before: before, Pivot: pivot, Values: [][]byte{value}})
}

func (d *recordingDatabase) LRemove(key string, count int64, value []byte) (int64, error) {
	if err := d.sealed(); err != nil {
		return 0, err
	}
	n, err := d.Database.LRemove(key, count, value)
	if err != nil {
		return n, err
	}
	return n, d.record(redo.Record{Op: redo.OpLRemove, Key: key, Index: count, Values: [][]byte{value}})
}

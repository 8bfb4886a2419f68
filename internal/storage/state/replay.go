package state

import (
	"context"
	"fmt"

	"github.com/yndnr/chainstate-go/internal/core/domain"
	"github.com/yndnr/chainstate-go/internal/storage/redo"
)

// ctxCheckEvery is how many records Replay applies between context checks.
const ctxCheckEvery = 256

// RedoBytes decodes data and replays it into s. Engines implement
// Storage.Redo with it.
func RedoBytes(ctx context.Context, s Storage, data []byte) error {
	l, err := redo.Decode(data)
	if err != nil {
		return err
	}
	return Replay(ctx, s, l)
}

// Replay applies every record of l to s in order. A log that ends inside a
// transaction is rolled back and reported as corrupted. On error the
// content of s is undefined and s should be discarded.
func Replay(ctx context.Context, s Storage, l *redo.Log) error {
	dbs := make(map[string]Database)
	open := func(name string) (Database, error) {
		if db, ok := dbs[name]; ok {
			return db, nil
		}
		db, err := s.Database(name)
		if err != nil {
			return nil, err
		}
		dbs[name] = db
		return db, nil
	}

	for i, rec := range l.Records() {
		if i%ctxCheckEvery == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
		}
		if err := applyRecord(s, open, rec); err != nil {
			return fmt.Errorf("state: replay record %d (%s): %w", i, rec.Op, err)
		}
	}

	if s.InTransaction() {
		_ = s.Rollback()
		return domain.ErrCorruptedLog.WithDetails("state: log ends inside a transaction")
	}
	return nil
}

func applyRecord(s Storage, open func(string) (Database, error), rec redo.Record) error {
	switch rec.Op {
	case redo.OpBegin:
		return s.Begin()
	case redo.OpCommit:
		return s.Commit()
	case redo.OpRollback:
		return s.Rollback()
	}

	db, err := open(rec.Database)
	if err != nil {
		return err
	}

	switch rec.Op {
	case redo.OpSet:
		return db.Set(rec.Key, rec.Values[0])
	case redo.OpDel:
		return db.Del(rec.Key)
	case redo.OpHSet:
		return db.HSet(rec.Key, rec.Fields[0], rec.Values[0])
	case redo.OpHMSet:
		fields := make(map[string][]byte, len(rec.Fields))
		for i, f := range rec.Fields {
			fields[f] = rec.Values[i]
		}
		return db.HMSet(rec.Key, fields)
	case redo.OpHDel:
		_, err = db.HDel(rec.Key, rec.Fields...)
	case redo.OpHClean:
		return db.HClean(rec.Key)
	case redo.OpLSet:
		return db.LSet(rec.Key, rec.Index, rec.Values[0])
	case redo.OpLPush:
		_, err = db.LPush(rec.Key, rec.Values...)
	case redo.OpLPushX:
		_, err = db.LPushX(rec.Key, rec.Values...)
	case redo.OpLPop:
		_, err = db.LPop(rec.Key)
	case redo.OpRPush:
		_, err = db.RPush(rec.Key, rec.Values...)
	case redo.OpRPushX:
		_, err = db.RPushX(rec.Key, rec.Values...)
	case redo.OpRPop:
		_, err = db.RPop(rec.Key)
	case redo.OpLInsert:
		_, err = db.LInsert(rec.Key, rec.Before, rec.Pivot, rec.Values[0])
	case redo.OpLRemove:
		_, err = db.LRemove(rec.Key, rec.Index, rec.Values[0])
	default:
		return domain.ErrCorruptedLog.WithDetails(fmt.Sprintf("state: unknown op %s", rec.Op))
	}
	return err
}

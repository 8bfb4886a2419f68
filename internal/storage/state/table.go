package state

import (
	"sort"

	"github.com/yndnr/chainstate-go/internal/core/domain"
)

// Table implements Database over a Backend. Engines return it from
// Storage.Database.
type Table struct {
	name    string
	backend Backend
}

// NewTable returns the Database named name served by backend.
func NewTable(name string, backend Backend) (*Table, error) {
	if err := ValidateDatabaseName(name); err != nil {
		return nil, err
	}
	return &Table{name: name, backend: backend}, nil
}

// ValidateDatabaseName rejects names no engine can store.
func ValidateDatabaseName(name string) error {
	if name == "" {
		return domain.ErrInvalidParam.WithDetails("state: database name is empty")
	}
	return nil
}

// Name returns the database name.
func (t *Table) Name() string {
	return t.name
}

func (t *Table) view(fn func(Txn) error) error {
	return t.backend.View(fn)
}

func (t *Table) update(key string, fn func(Txn) error) error {
	if key == "" {
		return domain.ErrInvalidParam.WithDetails("state: key is empty")
	}
	if t.backend.ReadOnly() {
		return domain.ErrNotSupported.WithDetails("state: storage is read-only")
	}
	return t.backend.Update(fn)
}

// load returns the value at key, checking its type. A nil value means absent.
func load(tx Txn, db, key string, want ValueType) (*Value, error) {
	v, err := tx.Get(db, key)
	if err != nil {
		return nil, err
	}
	if v != nil && v.Type != want {
		return nil, ErrWrongType
	}
	return v, nil
}

// save stores v or deletes the key when v is an empty container.
func save(tx Txn, db, key string, v *Value) error {
	if v.Empty() {
		return tx.Delete(db, key)
	}
	return tx.Put(db, key, v)
}

func notFound(key string) error {
	return domain.ErrNotFound.WithDetails(key)
}

// Get returns the string stored at key.
func (t *Table) Get(key string) ([]byte, error) {
	var out []byte
	err := t.view(func(tx Txn) error {
		v, err := load(tx, t.name, key, TypeString)
		if err != nil {
			return err
		}
		if v == nil {
			return notFound(key)
		}
		out = v.Str
		return nil
	})
	return out, err
}

// Set stores a string at key, replacing a value of any type.
func (t *Table) Set(key string, value []byte) error {
	return t.update(key, func(tx Txn) error {
		return tx.Put(t.name, key, NewString(value))
	})
}

// Del removes key. Removing an absent key is not an error.
func (t *Table) Del(key string) error {
	return t.update(key, func(tx Txn) error {
		return tx.Delete(t.name, key)
	})
}

// Has reports whether key exists.
func (t *Table) Has(key string) (bool, error) {
	typ, err := t.Type(key)
	return typ != TypeNone, err
}

// Type returns the type of the value at key, TypeNone when absent.
func (t *Table) Type(key string) (ValueType, error) {
	typ := TypeNone
	err := t.view(func(tx Txn) error {
		v, err := tx.Get(t.name, key)
		if err != nil {
			return err
		}
		if v != nil {
			typ = v.Type
		}
		return nil
	})
	return typ, err
}

// Keys returns every key in byte order.
func (t *Table) Keys() ([]string, error) {
	var out []string
	err := t.view(func(tx Txn) error {
		keys, err := tx.Keys(t.name)
		out = keys
		return err
	})
	return out, err
}

// HSet sets one field of the hash at key.
func (t *Table) HSet(key, field string, value []byte) error {
	return t.HMSet(key, map[string][]byte{field: value})
}

// HMSet sets several fields of the hash at key.
func (t *Table) HMSet(key string, fields map[string][]byte) error {
	if len(fields) == 0 {
		return domain.ErrInvalidParam.WithDetails("state: hmset needs at least one field")
	}
	return t.update(key, func(tx Txn) error {
		v, err := load(tx, t.name, key, TypeHash)
		if err != nil {
			return err
		}
		if v == nil {
			v = NewHash()
		}
		for f, b := range fields {
			v.Hash[f] = cloneBytes(b)
		}
		return save(tx, t.name, key, v)
	})
}

// HGet returns one field of the hash at key.
func (t *Table) HGet(key, field string) ([]byte, error) {
	var out []byte
	err := t.view(func(tx Txn) error {
		v, err := load(tx, t.name, key, TypeHash)
		if err != nil {
			return err
		}
		if v == nil {
			return notFound(key)
		}
		b, ok := v.Hash[field]
		if !ok {
			return notFound(key + "." + field)
		}
		out = b
		return nil
	})
	return out, err
}

// HGetAll returns every field of the hash at key. An absent key yields an
// empty map.
func (t *Table) HGetAll(key string) (map[string][]byte, error) {
	out := map[string][]byte{}
	err := t.view(func(tx Txn) error {
		v, err := load(tx, t.name, key, TypeHash)
		if err != nil || v == nil {
			return err
		}
		out = v.Hash
		return nil
	})
	return out, err
}

// HDel removes fields from the hash at key and returns how many existed.
func (t *Table) HDel(key string, fields ...string) (int64, error) {
	if len(fields) == 0 {
		return 0, domain.ErrInvalidParam.WithDetails("state: hdel needs at least one field")
	}
	var removed int64
	err := t.update(key, func(tx Txn) error {
		v, err := load(tx, t.name, key, TypeHash)
		if err != nil || v == nil {
			return err
		}
		for _, f := range fields {
			if _, ok := v.Hash[f]; ok {
				delete(v.Hash, f)
				removed++
			}
		}
		if removed == 0 {
			return nil
		}
		return save(tx, t.name, key, v)
	})
	return removed, err
}

// HClean removes the whole hash at key.
func (t *Table) HClean(key string) error {
	return t.update(key, func(tx Txn) error {
		v, err := load(tx, t.name, key, TypeHash)
		if err != nil || v == nil {
			return err
		}
		return tx.Delete(t.name, key)
	})
}

// LSet replaces the element at index. Negative indexes count from the tail.
func (t *Table) LSet(key string, index int64, value []byte) error {
	return t.update(key, func(tx Txn) error {
		v, err := load(tx, t.name, key, TypeList)
		if err != nil {
			return err
		}
		if v == nil {
			return notFound(key)
		}
		i, ok := normalizeIndex(index, len(v.List))
		if !ok {
			return domain.ErrInvalidParam.WithDetails("state: index out of range")
		}
		v.List[i] = cloneBytes(value)
		return save(tx, t.name, key, v)
	})
}

func (t *Table) push(key string, values [][]byte, left, mustExist bool) (int64, error) {
	if len(values) == 0 {
		return 0, domain.ErrInvalidParam.WithDetails("state: push needs at least one value")
	}
	var length int64
	err := t.update(key, func(tx Txn) error {
		v, err := load(tx, t.name, key, TypeList)
		if err != nil {
			return err
		}
		if v == nil {
			if mustExist {
				return nil
			}
			v = NewList()
		}
		for _, b := range values {
			if left {
				v.List = append([][]byte{cloneBytes(b)}, v.List...)
			} else {
				v.List = append(v.List, cloneBytes(b))
			}
		}
		length = int64(len(v.List))
		return save(tx, t.name, key, v)
	})
	return length, err
}

// LPush prepends values one by one, so the last value ends up first.
// It returns the new length.
func (t *Table) LPush(key string, values ...[]byte) (int64, error) {
	return t.push(key, values, true, false)
}

// LPushX is LPush that does nothing when key is absent.
func (t *Table) LPushX(key string, values ...[]byte) (int64, error) {
	return t.push(key, values, true, true)
}

// RPush appends values and returns the new length.
func (t *Table) RPush(key string, values ...[]byte) (int64, error) {
	return t.push(key, values, false, false)
}

// RPushX is RPush that does nothing when key is absent.
func (t *Table) RPushX(key string, values ...[]byte) (int64, error) {
	return t.push(key, values, false, true)
}

func (t *Table) pop(key string, left bool) ([]byte, error) {
	var out []byte
	err := t.update(key, func(tx Txn) error {
		v, err := load(tx, t.name, key, TypeList)
		if err != nil {
			return err
		}
		if v == nil || len(v.List) == 0 {
			return notFound(key)
		}
		if left {
			out, v.List = v.List[0], v.List[1:]
		} else {
			last := len(v.List) - 1
			out, v.List = v.List[last], v.List[:last]
		}
		return save(tx, t.name, key, v)
	})
	return out, err
}

// LPop removes and returns the first element.
func (t *Table) LPop(key string) ([]byte, error) {
	return t.pop(key, true)
}

// RPop removes and returns the last element.
func (t *Table) RPop(key string) ([]byte, error) {
	return t.pop(key, false)
}

// LInsert inserts value before or after the first occurrence of pivot. It
// returns the new length, 0 when key is absent and -1 when pivot is missing.
func (t *Table) LInsert(key string, before bool, pivot, value []byte) (int64, error) {
	var length int64
	err := t.update(key, func(tx Txn) error {
		v, err := load(tx, t.name, key, TypeList)
		if err != nil || v == nil {
			return err
		}
		pos := -1
		for i, b := range v.List {
			if string(b) == string(pivot) {
				pos = i
				break
			}
		}
		if pos < 0 {
			length = -1
			return nil
		}
		if !before {
			pos++
		}
		v.List = append(v.List, nil)
		copy(v.List[pos+1:], v.List[pos:])
		v.List[pos] = cloneBytes(value)
		length = int64(len(v.List))
		return save(tx, t.name, key, v)
	})
	return length, err
}

// LRemove removes occurrences of value; see listRemove for count rules.
// It returns the number removed.
func (t *Table) LRemove(key string, count int64, value []byte) (int64, error) {
	var removed int64
	err := t.update(key, func(tx Txn) error {
		v, err := load(tx, t.name, key, TypeList)
		if err != nil || v == nil {
			return err
		}
		v.List, removed = listRemove(v.List, count, value)
		if removed == 0 {
			return nil
		}
		return save(tx, t.name, key, v)
	})
	return removed, err
}

// LIndex returns the element at index.
func (t *Table) LIndex(key string, index int64) ([]byte, error) {
	var out []byte
	err := t.view(func(tx Txn) error {
		v, err := load(tx, t.name, key, TypeList)
		if err != nil {
			return err
		}
		if v == nil {
			return notFound(key)
		}
		i, ok := normalizeIndex(index, len(v.List))
		if !ok {
			return notFound(key)
		}
		out = v.List[i]
		return nil
	})
	return out, err
}

// LRange returns elements start through stop inclusive.
func (t *Table) LRange(key string, start, stop int64) ([][]byte, error) {
	out := [][]byte{}
	err := t.view(func(tx Txn) error {
		v, err := load(tx, t.name, key, TypeList)
		if err != nil || v == nil {
			return err
		}
		out = listRange(v.List, start, stop)
		return nil
	})
	return out, err
}

// LLen returns the list length, 0 when absent.
func (t *Table) LLen(key string) (int64, error) {
	var n int64
	err := t.view(func(tx Txn) error {
		v, err := load(tx, t.name, key, TypeList)
		if err != nil || v == nil {
			return err
		}
		n = int64(len(v.List))
		return nil
	})
	return n, err
}

// sortedKeys returns the keys of m in byte order.
func sortedKeys(m map[string][]byte) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

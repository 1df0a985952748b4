package storage

import (
	"errors"
	"sort"
	"sync"

	"github.com/syndtr/goleveldb/leveldb"
	leveldbutil "github.com/syndtr/goleveldb/leveldb/util"
)

// ErrNotFound is returned by Get when the key is absent.
var ErrNotFound = errors.New("storage: key not found")

// Reader is the read side of a key-value store.
type Reader interface {
	Get(key []byte) ([]byte, error)
}

// Database is a generic interface for a key-value store. Every backend applies
// a Batch atomically so a vault operation is committed as one unit.
type Database interface {
	Reader
	Put(key []byte, value []byte) error
	Delete(key []byte) error
	Write(batch *Batch) error
	// Iterate visits every key with the given prefix in key order.
	Iterate(prefix []byte, fn func(key, value []byte) error) error
	Close() error
}

// Batch accumulates writes applied together by Database.Write.
type Batch struct {
	ops []batchOp
}

type batchOp struct {
	key    []byte
	value  []byte
	delete bool
}

func (b *Batch) Put(key, value []byte) {
	b.ops = append(b.ops, batchOp{key: clone(key), value: clone(value)})
}

func (b *Batch) Delete(key []byte) {
	b.ops = append(b.ops, batchOp{key: clone(key), delete: true})
}

// Len reports the number of queued writes.
func (b *Batch) Len() int { return len(b.ops) }

func clone(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

// --- In-Memory DB (for testing) ---

type MemDB struct {
	mu   sync.RWMutex
	data map[string][]byte
}

func NewMemDB() *MemDB {
	return &MemDB{
		data: make(map[string][]byte),
	}
}

func (db *MemDB) Put(key []byte, value []byte) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.data[string(key)] = clone(value)
	return nil
}

func (db *MemDB) Get(key []byte) ([]byte, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	value, ok := db.data[string(key)]
	if !ok {
		return nil, ErrNotFound
	}
	return clone(value), nil
}

func (db *MemDB) Delete(key []byte) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	delete(db.data, string(key))
	return nil
}

func (db *MemDB) Write(batch *Batch) error {
	if batch == nil {
		return nil
	}
	db.mu.Lock()
	defer db.mu.Unlock()
	for _, op := range batch.ops {
		if op.delete {
			delete(db.data, string(op.key))
			continue
		}
		db.data[string(op.key)] = op.value
	}
	return nil
}

func (db *MemDB) Iterate(prefix []byte, fn func(key, value []byte) error) error {
	db.mu.RLock()
	keys := make([]string, 0, len(db.data))
	for k := range db.data {
		if len(k) >= len(prefix) && k[:len(prefix)] == string(prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	snapshot := make([][2][]byte, len(keys))
	for i, k := range keys {
		snapshot[i] = [2][]byte{[]byte(k), clone(db.data[k])}
	}
	db.mu.RUnlock()
	for _, kv := range snapshot {
		if err := fn(kv[0], kv[1]); err != nil {
			return err
		}
	}
	return nil
}

// Close satisfies the Database interface for MemDB.
func (db *MemDB) Close() error { return nil }

// --- Persistent DB ---

// LevelDB is a persistent key-value store using LevelDB.
type LevelDB struct {
	db *leveldb.DB
}

// NewLevelDB creates or opens a LevelDB database at the specified path.
func NewLevelDB(path string) (*LevelDB, error) {
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, err
	}
	return &LevelDB{db: db}, nil
}

// Put inserts or updates a key-value pair.
func (ldb *LevelDB) Put(key []byte, value []byte) error {
	return ldb.db.Put(key, value, nil)
}

// Get retrieves a value for a given key.
func (ldb *LevelDB) Get(key []byte) ([]byte, error) {
	value, err := ldb.db.Get(key, nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return nil, ErrNotFound
	}
	return value, err
}

func (ldb *LevelDB) Delete(key []byte) error {
	return ldb.db.Delete(key, nil)
}

// Write applies the batch atomically through a leveldb batch.
func (ldb *LevelDB) Write(batch *Batch) error {
	if batch == nil || batch.Len() == 0 {
		return nil
	}
	lb := new(leveldb.Batch)
	for _, op := range batch.ops {
		if op.delete {
			lb.Delete(op.key)
			continue
		}
		lb.Put(op.key, op.value)
	}
	return ldb.db.Write(lb, nil)
}

func (ldb *LevelDB) Iterate(prefix []byte, fn func(key, value []byte) error) error {
	it := ldb.db.NewIterator(leveldbutil.BytesPrefix(prefix), nil)
	defer it.Release()
	for it.Next() {
		if err := fn(clone(it.Key()), clone(it.Value())); err != nil {
			return err
		}
	}
	return it.Error()
}

// Close closes the database connection.
func (ldb *LevelDB) Close() error {
	return ldb.db.Close()
}

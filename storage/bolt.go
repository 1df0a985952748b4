package storage

import (
	"bytes"
	"time"

	bolt "go.etcd.io/bbolt"
)

var boltBucket = []byte("vault-state")

// BoltDB is a single-file backend. Every batch runs inside one bolt update
// transaction.
type BoltDB struct {
	db *bolt.DB
}

// NewBoltDB opens (and migrates) the bolt file at path.
func NewBoltDB(path string, options *bolt.Options) (*BoltDB, error) {
	if options == nil {
		options = &bolt.Options{Timeout: time.Second}
	} else if options.Timeout == 0 {
		options.Timeout = time.Second
	}
	db, err := bolt.Open(path, 0o600, options)
	if err != nil {
		return nil, err
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(boltBucket)
		return err
	}); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &BoltDB{db: db}, nil
}

func (b *BoltDB) Get(key []byte) ([]byte, error) {
	var out []byte
	err := b.db.View(func(tx *bolt.Tx) error {
		value := tx.Bucket(boltBucket).Get(key)
		if value == nil {
			return ErrNotFound
		}
		out = clone(value)
		return nil
	})
	return out, err
}

func (b *BoltDB) Put(key, value []byte) error {
	return b.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(boltBucket).Put(key, value)
	})
}

func (b *BoltDB) Delete(key []byte) error {
	return b.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(boltBucket).Delete(key)
	})
}

func (b *BoltDB) Write(batch *Batch) error {
	if batch == nil || batch.Len() == 0 {
		return nil
	}
	return b.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(boltBucket)
		for _, op := range batch.ops {
			var err error
			if op.delete {
				err = bucket.Delete(op.key)
			} else {
				err = bucket.Put(op.key, op.value)
			}
			if err != nil {
				return err
			}
		}
		return nil
	})
}

func (b *BoltDB) Iterate(prefix []byte, fn func(key, value []byte) error) error {
	return b.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(boltBucket).Cursor()
		for k, v := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
			if err := fn(clone(k), clone(v)); err != nil {
				return err
			}
		}
		return nil
	})
}

// Close releases the underlying Bolt database handle.
func (b *BoltDB) Close() error {
	if b == nil || b.db == nil {
		return nil
	}
	return b.db.Close()
}

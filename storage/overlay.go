package storage

import (
	"bytes"
	"errors"
	"sort"
)

// Overlay buffers writes on top of a base database. Reads see the buffered
// writes first. Nothing reaches the base until Commit; Discard drops the
// buffer.
type Overlay struct {
	base    Database
	pending map[string]overlayEntry
}

type overlayEntry struct {
	value   []byte
	deleted bool
}

// NewOverlay starts an empty overlay over base.
func NewOverlay(base Database) *Overlay {
	return &Overlay{base: base, pending: make(map[string]overlayEntry)}
}

func (o *Overlay) Get(key []byte) ([]byte, error) {
	if entry, ok := o.pending[string(key)]; ok {
		if entry.deleted {
			return nil, ErrNotFound
		}
		return clone(entry.value), nil
	}
	return o.base.Get(key)
}

func (o *Overlay) Put(key, value []byte) error {
	o.pending[string(key)] = overlayEntry{value: clone(value)}
	return nil
}

func (o *Overlay) Delete(key []byte) error {
	o.pending[string(key)] = overlayEntry{deleted: true}
	return nil
}

// Iterate merges buffered writes with the base view.
func (o *Overlay) Iterate(prefix []byte, fn func(key, value []byte) error) error {
	merged := make(map[string][]byte)
	if err := o.base.Iterate(prefix, func(key, value []byte) error {
		merged[string(key)] = value
		return nil
	}); err != nil {
		return err
	}
	for k, entry := range o.pending {
		if !bytes.HasPrefix([]byte(k), prefix) {
			continue
		}
		if entry.deleted {
			delete(merged, k)
			continue
		}
		merged[k] = entry.value
	}
	keys := make([]string, 0, len(merged))
	for k := range merged {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if err := fn([]byte(k), clone(merged[k])); err != nil {
			return err
		}
	}
	return nil
}

// Dirty reports whether any write is buffered.
func (o *Overlay) Dirty() bool { return len(o.pending) > 0 }

// Batch renders the buffered writes in key order.
func (o *Overlay) Batch() *Batch {
	keys := make([]string, 0, len(o.pending))
	for k := range o.pending {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	batch := new(Batch)
	for _, k := range keys {
		entry := o.pending[k]
		if entry.deleted {
			batch.Delete([]byte(k))
			continue
		}
		batch.Put([]byte(k), entry.value)
	}
	return batch
}

// Commit writes every buffered change to the base in one batch and resets
// the overlay.
func (o *Overlay) Commit() error {
	if o.base == nil {
		return errors.New("storage: overlay has no base")
	}
	if err := o.base.Write(o.Batch()); err != nil {
		return err
	}
	o.Discard()
	return nil
}

// Discard drops every buffered change.
func (o *Overlay) Discard() {
	o.pending = make(map[string]overlayEntry)
}

// Package store persists Transfer records across restarts (spec C10's
// BoltDB half), and implements the "commit object as a scoped
// resource" design note: a Commit batches every Transfer a mutator
// call touches and flushes them in one BoltDB transaction on release.
package store

import (
	"fmt"
	"log"

	"github.com/FraMan97/kairos/internal/config"
	"github.com/FraMan97/kairos/internal/transfer"
	"github.com/boltdb/bolt"
)

// Store wraps a BoltDB handle dedicated to the transfer-record bucket,
// grounded on the teacher's client/internal/database helpers.
type Store struct {
	db *bolt.DB
}

// Open opens (creating if absent) the BoltDB file at path and ensures
// the transfer bucket exists.
func Open(path string) (*Store, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{})
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", path, err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(config.TransferBucket))
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("store: ensure bucket: %w", err)
	}
	log.Printf("[%s] - BoltDB opened at '%s'\n", config.StoreService, path)
	return &Store{db: db}, nil
}

// Close releases the underlying BoltDB handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// Save writes t's serialised record under t.ID.
func (s *Store) Save(t *transfer.Transfer) error {
	data := t.Serialize()
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(config.TransferBucket))
		if b == nil {
			return fmt.Errorf("store: bucket '%s' not found", config.TransferBucket)
		}
		return b.Put([]byte(t.ID), data)
	})
	if err != nil {
		return fmt.Errorf("store: save %s: %w", t.ID, err)
	}
	log.Printf("[%s] - saved transfer '%s'\n", config.StoreService, t.ID)
	return nil
}

// Load reads and decodes the transfer stored under id.
func (s *Store) Load(id string) (*transfer.Transfer, error) {
	var data []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(config.TransferBucket))
		if b == nil {
			return fmt.Errorf("store: bucket '%s' not found", config.TransferBucket)
		}
		v := b.Get([]byte(id))
		if v == nil {
			return fmt.Errorf("store: transfer '%s' not found", id)
		}
		data = make([]byte, len(v))
		copy(data, v)
		return nil
	})
	if err != nil {
		return nil, err
	}
	t, _, err := transfer.Unserialize(data)
	if err != nil {
		return nil, fmt.Errorf("store: decode %s: %w", id, err)
	}
	t.ID = id
	return t, nil
}

// Delete removes the record stored under id, if any.
func (s *Store) Delete(id string) error {
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(config.TransferBucket))
		if b == nil {
			return fmt.Errorf("store: bucket '%s' not found", config.TransferBucket)
		}
		return b.Delete([]byte(id))
	})
	if err != nil {
		return fmt.Errorf("store: delete %s: %w", id, err)
	}
	log.Printf("[%s] - deleted transfer '%s'\n", config.StoreService, id)
	return nil
}

// LoadAll decodes every record in the bucket, keyed by transfer ID.
// Records that fail to decode are skipped and logged rather than
// failing the whole load — one corrupt record from a prior crash
// should not strand every other queued transfer.
func (s *Store) LoadAll() (map[string]*transfer.Transfer, error) {
	raw := make(map[string][]byte)
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(config.TransferBucket))
		if b == nil {
			return fmt.Errorf("store: bucket '%s' not found", config.TransferBucket)
		}
		return b.ForEach(func(k, v []byte) error {
			raw[string(k)] = append([]byte{}, v...)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	out := make(map[string]*transfer.Transfer, len(raw))
	for id, data := range raw {
		t, _, err := transfer.Unserialize(data)
		if err != nil {
			log.Printf("[%s] - skipping corrupt record '%s': %v\n", config.StoreService, id, err)
			continue
		}
		t.ID = id
		out[id] = t
	}
	log.Printf("[%s] - loaded %d transfer(s) from '%s'\n", config.StoreService, len(out), config.TransferBucket)
	return out, nil
}

package store

import (
	"fmt"

	"github.com/FraMan97/kairos/internal/config"
	"github.com/FraMan97/kairos/internal/transfer"
	"github.com/boltdb/bolt"
)

// Commit implements transfer.Committer: acquired at the entry of a
// single public mutator call (Failed, Complete, NextTransfers...),
// collects every Transfer that call touches, and is flushed once on
// every exit path — typically via defer — so a mutator that dirties
// several transfers costs one BoltDB transaction, not one per field
// write.
type Commit struct {
	store *Store
	dirty map[string]*transfer.Transfer
}

// NewCommit opens a fresh commit scope against s.
func NewCommit(s *Store) *Commit {
	return &Commit{store: s, dirty: make(map[string]*transfer.Transfer)}
}

// MarkDirty records t as touched during this scope.
func (c *Commit) MarkDirty(t *transfer.Transfer) {
	c.dirty[t.ID] = t
}

// Flush persists every transfer marked dirty since NewCommit or the
// last Flush, then clears the scope. Call this on every exit path of
// the mutator that acquired the commit.
func (c *Commit) Flush() error {
	err := c.store.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(config.TransferBucket))
		if b == nil {
			return fmt.Errorf("store: bucket '%s' not found", config.TransferBucket)
		}
		for _, t := range c.dirty {
			if err := b.Put([]byte(t.ID), t.Serialize()); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("store: commit: %w", err)
	}
	c.dirty = make(map[string]*transfer.Transfer)
	return nil
}

// Package boltdb provides the durable checkpoint manager backed by boltdb.
// A checkpoint is only advanced after the data it protects is durably
// committed; on restart the stored cursor is authoritative and progress is
// never inferred from partial output.
package boltdb

import (
	"encoding/json"
	"time"

	"github.com/boltdb/bolt"
	"github.com/lakewing/fpk"
	"github.com/pkg/errors"
)

var checkpointBucket = []byte("checkpoints")

type stored struct {
	Kind   string          `json:"kind"`
	Cursor json.RawMessage `json:"cursor"`
}

// Checkpointer is a fpk.Checkpointer which stores per-source cursors in a
// boltdb file. Writes are synced before Advance returns.
type Checkpointer struct {
	db *bolt.DB
}

var _ fpk.Checkpointer = (*Checkpointer)(nil)

// NewCheckpointer opens (creating if needed) the checkpoint db at filename.
func NewCheckpointer(filename string) (*Checkpointer, error) {
	db, err := bolt.Open(filename, 0600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, errors.Wrapf(err, "opening checkpoint db %q", filename)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(checkpointBucket)
		return errors.Wrap(err, "creating checkpoint bucket")
	})
	if err != nil {
		return nil, err
	}
	return &Checkpointer{db: db}, nil
}

// Close syncs and closes the underlying boltdb.
func (c *Checkpointer) Close() error {
	if err := c.db.Sync(); err != nil {
		return errors.Wrap(err, "syncing checkpoint db")
	}
	return c.db.Close()
}

// Read returns the last committed cursor for the source, or nil if none
// exists (the from-beginning sentinel).
func (c *Checkpointer) Read(sourceID string) (fpk.Cursor, error) {
	var cur fpk.Cursor
	err := c.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket(checkpointBucket).Get([]byte(sourceID))
		if raw == nil {
			return nil
		}
		var s stored
		if err := json.Unmarshal(raw, &s); err != nil {
			return errors.Wrapf(err, "unmarshaling checkpoint for %q", sourceID)
		}
		var err error
		cur, err = fpk.DecodeCursor(s.Kind, s.Cursor)
		return err
	})
	if err != nil {
		return nil, err
	}
	return cur, nil
}

// Advance durably stores newCursor for the source. The cursor must be
// strictly ahead of the stored one; anything else returns ErrStaleCursor,
// which indicates a bug or concurrent double-processing and must be treated
// as fatal by the caller.
func (c *Checkpointer) Advance(sourceID string, newCursor fpk.Cursor) error {
	if newCursor == nil {
		return errors.Wrap(fpk.ErrStaleCursor, "nil cursor")
	}
	return c.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(checkpointBucket)
		if raw := b.Get([]byte(sourceID)); raw != nil {
			var s stored
			if err := json.Unmarshal(raw, &s); err != nil {
				return errors.Wrapf(err, "unmarshaling checkpoint for %q", sourceID)
			}
			prev, err := fpk.DecodeCursor(s.Kind, s.Cursor)
			if err != nil {
				return err
			}
			if !newCursor.After(prev) {
				return errors.Wrapf(fpk.ErrStaleCursor, "source %q", sourceID)
			}
		}
		enc, err := newCursor.Encode()
		if err != nil {
			return errors.Wrap(err, "encoding cursor")
		}
		raw, err := json.Marshal(stored{Kind: newCursor.Kind(), Cursor: enc})
		if err != nil {
			return errors.Wrap(err, "marshaling checkpoint")
		}
		return errors.Wrap(b.Put([]byte(sourceID), raw), "writing checkpoint")
	})
}

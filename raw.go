package fpk

import (
	"encoding/json"
	"sort"
	"time"

	"github.com/pkg/errors"
)

// RawRecord is the common representation of an ingested record before it is
// conformed. The Payload is opaque bytes (typically one JSON object); how it
// is interpreted is the Parser's business. RawRecords are immutable once
// written to the raw layer.
type RawRecord struct {
	// Source identifies the ingest source which produced this record.
	Source string `json:"source"`

	// ID is the record's identity within its source: "<file>#<row>" for
	// batch sources, "<topic>/<partition>@<offset>" for stream sources.
	ID string `json:"id"`

	Payload  []byte    `json:"payload"`
	Ingested time.Time `json:"ingested"`

	// Cursor is the position of this record in its source. Merging the
	// cursors of a micro-batch yields the checkpoint protecting it.
	Cursor Cursor `json:"-"`
}

// Cursor marks a resumable position in an ingest source. Implementations
// must be comparable so the checkpoint manager can enforce monotonicity.
// A nil Cursor is the "from-beginning" sentinel.
type Cursor interface {
	// Kind names the cursor encoding ("files" or "stream").
	Kind() string

	// After reports whether the cursor is strictly ahead of other: ahead in
	// at least one dimension and behind in none. After(nil) is true for any
	// non-empty cursor.
	After(other Cursor) bool

	// Merge combines two cursors of the same kind into the furthest
	// position covered by either.
	Merge(other Cursor) (Cursor, error)

	// Encode serializes the cursor for durable storage.
	Encode() ([]byte, error)
}

// DecodeCursor rebuilds a Cursor of the named kind from Encode output.
func DecodeCursor(kind string, data []byte) (Cursor, error) {
	switch kind {
	case "files":
		fc := FileCursor{}
		if err := json.Unmarshal(data, &fc.Done); err != nil {
			return nil, errors.Wrap(err, "decoding file cursor")
		}
		return fc, nil
	case "stream":
		sc := StreamCursor{}
		if err := json.Unmarshal(data, &sc); err != nil {
			return nil, errors.Wrap(err, "decoding stream cursor")
		}
		return sc, nil
	}
	return nil, errors.Errorf("unknown cursor kind: %q", kind)
}

// FileCursor is the cursor for batch file sources: the set of fully
// processed files. A partially processed file is not in the set, so a
// restart reprocesses it from the top, which is safe because merges are
// idempotent.
type FileCursor struct {
	Done map[string]bool
}

// NewFileCursor returns a FileCursor marking the given files processed.
func NewFileCursor(files ...string) FileCursor {
	fc := FileCursor{Done: make(map[string]bool, len(files))}
	for _, f := range files {
		fc.Done[f] = true
	}
	return fc
}

// Kind implements Cursor.
func (fc FileCursor) Kind() string { return "files" }

// After implements Cursor. A file cursor is after another if it covers every
// file the other does, plus at least one more.
func (fc FileCursor) After(other Cursor) bool {
	if other == nil {
		return len(fc.Done) > 0
	}
	oc, ok := other.(FileCursor)
	if !ok {
		return false
	}
	for f := range oc.Done {
		if !fc.Done[f] {
			return false
		}
	}
	return len(fc.Done) > len(oc.Done)
}

// Merge implements Cursor by unioning the processed sets.
func (fc FileCursor) Merge(other Cursor) (Cursor, error) {
	if other == nil {
		return fc, nil
	}
	oc, ok := other.(FileCursor)
	if !ok {
		return nil, errors.Errorf("can't merge file cursor with %T", other)
	}
	merged := NewFileCursor()
	for f := range fc.Done {
		merged.Done[f] = true
	}
	for f := range oc.Done {
		merged.Done[f] = true
	}
	return merged, nil
}

// Encode implements Cursor.
func (fc FileCursor) Encode() ([]byte, error) {
	return json.Marshal(fc.Done)
}

// Files returns the processed file names in sorted order.
func (fc FileCursor) Files() []string {
	files := make([]string, 0, len(fc.Done))
	for f := range fc.Done {
		files = append(files, f)
	}
	sort.Strings(files)
	return files
}

// StreamCursor is the cursor for stream sources: the next offset to consume
// per partition.
type StreamCursor map[int32]int64

// Kind implements Cursor.
func (sc StreamCursor) Kind() string { return "stream" }

// After implements Cursor. A stream cursor is after another if no partition
// is behind and at least one is ahead (or newly present).
func (sc StreamCursor) After(other Cursor) bool {
	if other == nil {
		return len(sc) > 0
	}
	oc, ok := other.(StreamCursor)
	if !ok {
		return false
	}
	ahead := false
	for part, off := range oc {
		mine, found := sc[part]
		if !found || mine < off {
			return false
		}
		if mine > off {
			ahead = true
		}
	}
	for part := range sc {
		if _, found := oc[part]; !found {
			ahead = true
		}
	}
	return ahead
}

// Merge implements Cursor by taking the furthest offset per partition.
func (sc StreamCursor) Merge(other Cursor) (Cursor, error) {
	if other == nil {
		return sc, nil
	}
	oc, ok := other.(StreamCursor)
	if !ok {
		return nil, errors.Errorf("can't merge stream cursor with %T", other)
	}
	merged := StreamCursor{}
	for part, off := range sc {
		merged[part] = off
	}
	for part, off := range oc {
		if cur, found := merged[part]; !found || off > cur {
			merged[part] = off
		}
	}
	return merged, nil
}

// Encode implements Cursor.
func (sc StreamCursor) Encode() ([]byte, error) {
	return json.Marshal(sc)
}

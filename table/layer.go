// Copyright 2021 Lakewing Corp.
//
// Redistribution and use in source and binary forms, with or without
// modification, are permitted provided that the following conditions
// are met:
//
// 1. Redistributions of source code must retain the above copyright
// notice, this list of conditions and the following disclaimer.
//
// 2. Redistributions in binary form must reproduce the above copyright
// notice, this list of conditions and the following disclaimer in the
// documentation and/or other materials provided with the distribution.
//
// 3. Neither the name of the copyright holder nor the names of its
// contributors may be used to endorse or promote products derived
// from this software without specific prior written permission.
//
// THIS SOFTWARE IS PROVIDED BY THE COPYRIGHT HOLDERS AND
// CONTRIBUTORS "AS IS" AND ANY EXPRESS OR IMPLIED WARRANTIES,
// INCLUDING, BUT NOT LIMITED TO, THE IMPLIED WARRANTIES OF
// MERCHANTABILITY AND FITNESS FOR A PARTICULAR PURPOSE ARE
// DISCLAIMED. IN NO EVENT SHALL THE COPYRIGHT HOLDER OR
// CONTRIBUTORS BE LIABLE FOR ANY DIRECT, INDIRECT, INCIDENTAL,
// SPECIAL, EXEMPLARY, OR CONSEQUENTIAL DAMAGES (INCLUDING,
// BUT NOT LIMITED TO, PROCUREMENT OF SUBSTITUTE GOODS OR
// SERVICES; LOSS OF USE, DATA, OR PROFITS; OR BUSINESS
// INTERRUPTION) HOWEVER CAUSED AND ON ANY THEORY OF LIABILITY,
// WHETHER IN CONTRACT, STRICT LIABILITY, OR TORT (INCLUDING
// NEGLIGENCE OR OTHERWISE) ARISING IN ANY WAY OUT OF THE USE
// OF THIS SOFTWARE, EVEN IF ADVISED OF THE POSSIBILITY OF SUCH
// DAMAGE.

package table

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/lakewing/fpk"
	"github.com/pkg/errors"
	"github.com/syndtr/goleveldb/leveldb"
	ldberrors "github.com/syndtr/goleveldb/leveldb/errors"
	"github.com/syndtr/goleveldb/leveldb/opt"
	"github.com/syndtr/goleveldb/leveldb/util"
)

// Key layout within a layer's leveldb:
//
//	head                  current committed version (8 bytes big-endian)
//	s:schema              layer schema JSON
//	v:<ver8>              commit manifest JSON
//	c:<natkey>            latest pointer JSON {version, event_time}
//	r:<natkey>\x00<ver8>  row JSON as committed at that version
//	a:<ver8><idx4>        appended raw record JSON
//
// Natural keys must not contain NUL bytes.
var (
	headKey   = []byte("head")
	schemaKey = []byte("s:schema")
)

var syncWrites = &opt.WriteOptions{Sync: true}

// Layer is one logical table layer. All writes go through versioned commits;
// history is append-only and any committed version can be read back.
type Layer struct {
	name   string
	db     *leveldb.DB
	natKey func(*fpk.ConformedRow) string

	// cmu serializes the validate-and-commit step of the optimistic write
	// protocol. Delta computation happens outside it.
	cmu sync.Mutex

	log fpk.Logger
}

// LayerOption is a functional option for a Layer.
type LayerOption func(*Layer)

// OptLayerNaturalKey sets the function deriving a row's natural key. The
// default is the entity key alone; curated feature layers key by entity plus
// as-of time.
func OptLayerNaturalKey(fn func(*fpk.ConformedRow) string) LayerOption {
	return func(l *Layer) { l.natKey = fn }
}

// eventKeyTime is fixed-width UTC so event keys sort chronologically within
// an entity prefix.
const eventKeyTime = "20060102T150405.000000000Z"

// EventKey is the natural key for event-grained layers: one row per entity
// per event time per event type. Reprocessing the same event dedupes to a
// no-op, while distinct events for one entity never collapse.
func EventKey(row *fpk.ConformedRow) string {
	return string(row.Entity) + "|" + row.EventTime.UTC().Format(eventKeyTime) + "|" + row.String("event_type")
}

// Commit describes one committed version of a layer.
type Commit struct {
	Version uint64    `json:"version"`
	Time    time.Time `json:"time"`
	Rows    int       `json:"rows"`
	Kind    string    `json:"kind"`
}

type latest struct {
	Version   uint64    `json:"version"`
	EventTime time.Time `json:"event_time"`
}

// Name returns the layer name.
func (l *Layer) Name() string { return l.name }

// Close closes the underlying leveldb.
func (l *Layer) Close() error {
	return errors.Wrapf(l.db.Close(), "closing layer %q", l.name)
}

// Version returns the current committed version, 0 if nothing has been
// committed.
func (l *Layer) Version() (uint64, error) {
	v, err := l.db.Get(headKey, nil)
	if err == ldberrors.ErrNotFound {
		return 0, nil
	}
	if err != nil {
		return 0, errors.Wrap(err, "reading head")
	}
	return binary.BigEndian.Uint64(v), nil
}

// Schema returns the layer schema, nil if none has been set.
func (l *Layer) Schema() (fpk.Schema, error) {
	raw, err := l.db.Get(schemaKey, nil)
	if err == ldberrors.ErrNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "reading schema")
	}
	var s fpk.Schema
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, errors.Wrap(err, "unmarshaling schema")
	}
	return s, nil
}

// EnsureSchema evolves the stored schema to cover next. Additive nullable
// fields are accepted; narrowing or type-incompatible changes are rejected
// with ErrIncompatibleSchemaChange and require an explicit migration.
func (l *Layer) EnsureSchema(next fpk.Schema) (fpk.Schema, error) {
	l.cmu.Lock()
	defer l.cmu.Unlock()
	cur, err := l.Schema()
	if err != nil {
		return nil, err
	}
	evolved, err := cur.Evolve(next)
	if err != nil {
		return nil, err
	}
	raw, err := json.Marshal(evolved)
	if err != nil {
		return nil, errors.Wrap(err, "marshaling schema")
	}
	if err := l.db.Put(schemaKey, raw, syncWrites); err != nil {
		return nil, errors.Wrap(err, "writing schema")
	}
	return evolved, nil
}

// Append commits recs as a pure insert: no dedup, raw-layer semantics.
func (l *Layer) Append(recs []*fpk.RawRecord) (uint64, error) {
	if len(recs) == 0 {
		return l.Version()
	}
	l.cmu.Lock()
	defer l.cmu.Unlock()
	v0, err := l.Version()
	if err != nil {
		return 0, err
	}
	newv := v0 + 1
	batch := new(leveldb.Batch)
	for i, rec := range recs {
		raw, err := json.Marshal(rec)
		if err != nil {
			return 0, errors.Wrapf(err, "marshaling raw record %s", rec.ID)
		}
		batch.Put(appendKey(newv, uint32(i)), raw)
	}
	if err := l.stageCommit(batch, newv, len(recs), "append"); err != nil {
		return 0, err
	}
	if err := l.db.Write(batch, syncWrites); err != nil {
		return 0, errors.Wrap(err, "writing append batch")
	}
	return newv, nil
}

// Merge commits rows as an idempotent upsert: per natural key, a newer event
// time replaces the prior value and a same-or-older event time is a no-op.
// Reprocessing identical input is side-effect free; if nothing changes, no
// new version is created. Merge is optimistic: the delta is computed against
// the version current at entry, and if another writer commits first the
// merge fails with ErrVersionConflict for the caller to retry.
func (l *Layer) Merge(rows []*fpk.ConformedRow) (uint64, error) {
	v0, err := l.Version()
	if err != nil {
		return 0, err
	}

	// Collapse the batch per natural key, last event time winning, then
	// drop rows that would not supersede the committed value.
	type staged struct {
		key string
		row *fpk.ConformedRow
	}
	byKey := make(map[string]*fpk.ConformedRow)
	order := []string{}
	for _, row := range rows {
		nk := l.natKey(row)
		if bytes.IndexByte([]byte(nk), 0) >= 0 {
			return 0, errors.Errorf("natural key %q contains NUL", nk)
		}
		if cur, ok := byKey[nk]; ok {
			if row.EventTime.After(cur.EventTime) {
				byKey[nk] = row
			}
			continue
		}
		byKey[nk] = row
		order = append(order, nk)
	}
	var deltas []staged
	for _, nk := range order {
		row := byKey[nk]
		cur, found, err := l.latestFor(nk)
		if err != nil {
			return 0, err
		}
		if found && !row.EventTime.After(cur.EventTime) {
			continue
		}
		deltas = append(deltas, staged{key: nk, row: row})
	}
	if len(deltas) == 0 {
		return v0, nil
	}

	l.cmu.Lock()
	defer l.cmu.Unlock()
	head, err := l.Version()
	if err != nil {
		return 0, err
	}
	if head != v0 {
		return 0, fpk.ErrVersionConflict
	}
	newv := v0 + 1
	batch := new(leveldb.Batch)
	for _, d := range deltas {
		raw, err := json.Marshal(d.row)
		if err != nil {
			return 0, errors.Wrapf(err, "marshaling row %q", d.key)
		}
		batch.Put(rowKey(d.key, newv), raw)
		ptr, err := json.Marshal(latest{Version: newv, EventTime: d.row.EventTime})
		if err != nil {
			return 0, errors.Wrap(err, "marshaling latest pointer")
		}
		batch.Put(latestKey(d.key), ptr)
	}
	if err := l.stageCommit(batch, newv, len(deltas), "merge"); err != nil {
		return 0, err
	}
	if err := l.db.Write(batch, syncWrites); err != nil {
		return 0, errors.Wrap(err, "writing merge batch")
	}
	l.log.Debugf("layer %s: merged %d/%d rows at version %d", l.name, len(deltas), len(rows), newv)
	return newv, nil
}

func (l *Layer) stageCommit(batch *leveldb.Batch, version uint64, rows int, kind string) error {
	man, err := json.Marshal(Commit{Version: version, Time: time.Now().UTC(), Rows: rows, Kind: kind})
	if err != nil {
		return errors.Wrap(err, "marshaling manifest")
	}
	batch.Put(manifestKey(version), man)
	head := make([]byte, 8)
	binary.BigEndian.PutUint64(head, version)
	batch.Put(headKey, head)
	return nil
}

// Has reports whether the natural key exists in the current layer state.
func (l *Layer) Has(natkey string) (bool, error) {
	_, found, err := l.latestFor(natkey)
	return found, err
}

func (l *Layer) latestFor(natkey string) (latest, bool, error) {
	raw, err := l.db.Get(latestKey(natkey), nil)
	if err == ldberrors.ErrNotFound {
		return latest{}, false, nil
	}
	if err != nil {
		return latest{}, false, errors.Wrapf(err, "reading latest pointer for %q", natkey)
	}
	var cur latest
	if err := json.Unmarshal(raw, &cur); err != nil {
		return latest{}, false, errors.Wrap(err, "unmarshaling latest pointer")
	}
	return cur, true, nil
}

func rowKey(natkey string, version uint64) []byte {
	key := make([]byte, 0, len(natkey)+11)
	key = append(key, 'r', ':')
	key = append(key, natkey...)
	key = append(key, 0)
	var ver [8]byte
	binary.BigEndian.PutUint64(ver[:], version)
	return append(key, ver[:]...)
}

func latestKey(natkey string) []byte {
	return []byte("c:" + natkey)
}

func manifestKey(version uint64) []byte {
	key := make([]byte, 10)
	key[0], key[1] = 'v', ':'
	binary.BigEndian.PutUint64(key[2:], version)
	return key
}

func appendKey(version uint64, idx uint32) []byte {
	key := make([]byte, 14)
	key[0], key[1] = 'a', ':'
	binary.BigEndian.PutUint64(key[2:], version)
	binary.BigEndian.PutUint32(key[10:], idx)
	return key
}

// splitRowKey returns the natural key and version from a row key.
func splitRowKey(key []byte) (string, uint64, error) {
	if len(key) < 11 || key[0] != 'r' {
		return "", 0, fmt.Errorf("malformed row key %q", key)
	}
	sep := len(key) - 9
	if key[sep] != 0 {
		return "", 0, fmt.Errorf("malformed row key %q", key)
	}
	return string(key[2:sep]), binary.BigEndian.Uint64(key[sep+1:]), nil
}

// rowsInRange iterates the row keyspace under prefix and yields, per natural
// key, the greatest version at or below asOf.
func (l *Layer) rowsInRange(prefix string, asOf uint64) ([]*fpk.ConformedRow, error) {
	iter := l.db.NewIterator(util.BytesPrefix([]byte("r:"+prefix)), nil)
	defer iter.Release()

	var out []*fpk.ConformedRow
	var curKey string
	var curRow *fpk.ConformedRow
	flush := func() {
		if curRow != nil {
			out = append(out, curRow)
		}
	}
	for iter.Next() {
		nk, ver, err := splitRowKey(iter.Key())
		if err != nil {
			return nil, err
		}
		if ver > asOf {
			continue
		}
		if nk != curKey {
			flush()
			curKey, curRow = nk, nil
		}
		row := &fpk.ConformedRow{}
		if err := json.Unmarshal(iter.Value(), row); err != nil {
			return nil, errors.Wrapf(err, "unmarshaling row %q@%d", nk, ver)
		}
		curRow = row
	}
	flush()
	if err := iter.Error(); err != nil {
		return nil, errors.Wrap(err, "iterating rows")
	}
	return out, nil
}

package table

import (
	"encoding/json"
	"time"

	"github.com/lakewing/fpk"
	"github.com/pkg/errors"
	"github.com/syndtr/goleveldb/leveldb/util"
)

// ReadAsOf returns the layer's committed state at the given version: for
// every natural key, the row as of that version. Version 0 is empty. This is
// the time-travel read used for reproducible backfills and audits.
func (l *Layer) ReadAsOf(version uint64) ([]*fpk.ConformedRow, error) {
	return l.rowsInRange("", version)
}

// ReadAsOfTime is ReadAsOf against the last version committed at or before t.
func (l *Layer) ReadAsOfTime(t time.Time) ([]*fpk.ConformedRow, error) {
	v, err := l.VersionAt(t)
	if err != nil {
		return nil, err
	}
	return l.ReadAsOf(v)
}

// Latest returns the current committed state.
func (l *Layer) Latest() ([]*fpk.ConformedRow, error) {
	v, err := l.Version()
	if err != nil {
		return nil, err
	}
	return l.ReadAsOf(v)
}

// Get returns the row for a natural key as of the given version (0 means
// current). The second return reports whether the key existed at that
// version.
func (l *Layer) Get(natkey string, version uint64) (*fpk.ConformedRow, bool, error) {
	if version == 0 {
		var err error
		version, err = l.Version()
		if err != nil {
			return nil, false, err
		}
	}
	rows, err := l.rowsInRange(natkey+"\x00", version)
	if err != nil {
		return nil, false, err
	}
	if len(rows) == 0 {
		return nil, false, nil
	}
	return rows[0], true, nil
}

// PrefixAsOf returns, for every natural key starting with prefix, the row as
// of the given version (0 means current). Feature lookups use this with an
// "<entity>|" prefix.
func (l *Layer) PrefixAsOf(prefix string, version uint64) ([]*fpk.ConformedRow, error) {
	if version == 0 {
		var err error
		version, err = l.Version()
		if err != nil {
			return nil, err
		}
	}
	return l.rowsInRange(prefix, version)
}

// VersionAt returns the greatest version committed at or before t, 0 if
// none.
func (l *Layer) VersionAt(t time.Time) (uint64, error) {
	commits, err := l.Versions()
	if err != nil {
		return 0, err
	}
	var v uint64
	for _, c := range commits {
		if !c.Time.After(t) {
			v = c.Version
		}
	}
	return v, nil
}

// Versions returns every commit manifest in version order.
func (l *Layer) Versions() ([]Commit, error) {
	iter := l.db.NewIterator(util.BytesPrefix([]byte("v:")), nil)
	defer iter.Release()
	var out []Commit
	for iter.Next() {
		var c Commit
		if err := json.Unmarshal(iter.Value(), &c); err != nil {
			return nil, errors.Wrap(err, "unmarshaling manifest")
		}
		out = append(out, c)
	}
	if err := iter.Error(); err != nil {
		return nil, errors.Wrap(err, "iterating manifests")
	}
	return out, nil
}

// Appended returns the raw records appended at exactly the given version.
func (l *Layer) Appended(version uint64) ([]*fpk.RawRecord, error) {
	prefix := appendKey(version, 0)[:10]
	iter := l.db.NewIterator(util.BytesPrefix(prefix), nil)
	defer iter.Release()
	var out []*fpk.RawRecord
	for iter.Next() {
		rec := &fpk.RawRecord{}
		if err := json.Unmarshal(iter.Value(), rec); err != nil {
			return nil, errors.Wrap(err, "unmarshaling raw record")
		}
		out = append(out, rec)
	}
	if err := iter.Error(); err != nil {
		return nil, errors.Wrap(err, "iterating appended records")
	}
	return out, nil
}

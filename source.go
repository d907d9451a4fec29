package fpk

// Source is the interface for getting raw records one at a time.
// Implementations should be safe for concurrent use and return io.EOF when a
// bounded source is exhausted. Stream sources block until a record arrives.
type Source interface {
	Record() (*RawRecord, error)
}

// CursorSeeker is implemented by sources which can resume from a checkpoint
// cursor. The Ingester calls Seek before the first Record.
type CursorSeeker interface {
	Seek(c Cursor) error
}

// CursorCommitter is implemented by sources which want to know when a cursor
// has been durably checkpointed (e.g. to mark consumer-group offsets). The
// checkpoint manager remains authoritative; this is advisory.
type CursorCommitter interface {
	CommitCursor(c Cursor) error
}

// Parser turns a raw record into a conformed row. Implementations should be
// safe for concurrent use. A parse error drops the record (counted and
// logged), it does not abort the batch.
type Parser interface {
	Parse(rec *RawRecord) (*ConformedRow, error)
}

// Gate evaluates quality expectations against a micro-batch before it is
// promoted. It returns the passing rows (warn-annotated), all observed
// violations, and a *QualityGateError if a fail-batch rule was violated, in
// which case no row from the batch may be promoted.
type Gate interface {
	Check(rows []*ConformedRow) (passing []*ConformedRow, violations []Violation, err error)
}

// Appender is a table layer accepting pure inserts (the raw layer).
type Appender interface {
	Name() string
	Append(recs []*RawRecord) (version uint64, err error)
}

// Merger is a table layer accepting idempotent upserts keyed by natural key,
// where a newer event time wins and same-or-older is a no-op.
type Merger interface {
	Name() string
	Merge(rows []*ConformedRow) (version uint64, err error)
}

// Checkpointer durably tracks ingestion progress per source. Read returns a
// nil cursor if no checkpoint exists (the from-beginning sentinel). Advance
// must be durable before it returns and must reject cursors that are not
// strictly ahead with ErrStaleCursor.
type Checkpointer interface {
	Read(sourceID string) (Cursor, error)
	Advance(sourceID string, c Cursor) error
}

// Catalog is the external governance/catalog collaborator. The pipeline
// records lineage on every commit and consults access checks at the serving
// boundary; it does not implement authorization itself.
type Catalog interface {
	RecordLineage(layer string, version uint64, inputs []string) error
	CheckAccess(principal, table string) error
}

package fpk

import (
	"context"
	"io"
	"time"

	"github.com/pkg/errors"
)

// Ingester drives one source through the pipeline in micro-batches: append
// to the raw layer, parse, evaluate the quality gate, merge into the
// conformed layer, record lineage, then advance the checkpoint. The data
// commit always happens before the checkpoint advance, so a crash between
// the two causes at-most reprocessing, never data loss; merges are
// idempotent, so reprocessing is safe.
type Ingester struct {
	SourceID     string
	BatchSize    int
	FlushTimeout time.Duration
	MaxRetries   int

	src         Source
	parser      Parser
	raw         Appender
	conformed   Merger
	gate        Gate
	checkpoints Checkpointer
	catalog     Catalog

	stats    Statter
	log      Logger
	reporter Reporter

	cursor Cursor
}

// IngestOption is a functional option for the Ingester.
type IngestOption func(*Ingester)

// OptIngestBatchSize sets the micro-batch size.
func OptIngestBatchSize(n int) IngestOption {
	return func(i *Ingester) { i.BatchSize = n }
}

// OptIngestFlushTimeout sets how long a partial batch waits for more records
// before being promoted. Keeps stream latency bounded.
func OptIngestFlushTimeout(d time.Duration) IngestOption {
	return func(i *Ingester) { i.FlushTimeout = d }
}

// OptIngestMaxRetries bounds merge-conflict and I/O retries before the run
// fails and is reported.
func OptIngestMaxRetries(n int) IngestOption {
	return func(i *Ingester) { i.MaxRetries = n }
}

// OptIngestGate sets the expectation gate applied before promotion.
func OptIngestGate(g Gate) IngestOption {
	return func(i *Ingester) { i.gate = g }
}

// OptIngestCatalog sets the governance catalog which receives lineage events.
func OptIngestCatalog(c Catalog) IngestOption {
	return func(i *Ingester) { i.catalog = c }
}

// OptIngestStats sets the stats collector.
func OptIngestStats(s Statter) IngestOption {
	return func(i *Ingester) { i.stats = s }
}

// OptIngestLogger sets the logger.
func OptIngestLogger(l Logger) IngestOption {
	return func(i *Ingester) { i.log = l }
}

// OptIngestReporter sets the stage-status reporter.
func OptIngestReporter(r Reporter) IngestOption {
	return func(i *Ingester) { i.reporter = r }
}

// NewIngester creates an Ingester for one source. The raw layer, conformed
// layer and checkpoint store are required; the gate and catalog are
// optional.
func NewIngester(sourceID string, src Source, parser Parser, raw Appender, conformed Merger, cp Checkpointer, opts ...IngestOption) *Ingester {
	ing := &Ingester{
		SourceID:     sourceID,
		BatchSize:    500,
		FlushTimeout: 2 * time.Second,
		MaxRetries:   5,
		src:          src,
		parser:       parser,
		raw:          raw,
		conformed:    conformed,
		checkpoints:  cp,
		stats:        NopStatter{},
		log:          NopLogger{},
		reporter:     NopReporter{},
	}
	for _, opt := range opts {
		opt(ing)
	}
	return ing
}

// Run consumes the source until it is exhausted (batch sources) or the
// context is canceled (stream sources). The terminal stage status is
// reported before returning.
func (ing *Ingester) Run(ctx context.Context) error {
	if err := ing.resume(); err != nil {
		return ing.fail(0, 0, err)
	}

	recs := make(chan *RawRecord, ing.BatchSize)
	errc := make(chan error, 1)
	go func() {
		defer close(recs)
		for {
			rec, err := ing.src.Record()
			if err != nil {
				errc <- err
				return
			}
			select {
			case recs <- rec:
			case <-ctx.Done():
				errc <- ctx.Err()
				return
			}
		}
	}()

	var total, violations int
	batch := make([]*RawRecord, 0, ing.BatchSize)
	flush := time.NewTimer(ing.FlushTimeout)
	defer flush.Stop()

	promote := func() error {
		if len(batch) == 0 {
			return nil
		}
		n, err := ing.promote(ctx, batch)
		violations += n
		total += len(batch)
		batch = batch[:0]
		return err
	}

	for {
		select {
		case rec, ok := <-recs:
			if !ok {
				if err := promote(); err != nil {
					return ing.fail(total, violations, err)
				}
				err := <-errc
				if err == nil || err == io.EOF || err == context.Canceled || err == context.DeadlineExceeded {
					return ing.finish(total, violations)
				}
				return ing.fail(total, violations, &IngestionError{Source: ing.SourceID, Err: err})
			}
			batch = append(batch, rec)
			if len(batch) >= ing.BatchSize {
				if err := promote(); err != nil {
					return ing.fail(total, violations, err)
				}
				flush.Reset(ing.FlushTimeout)
			}
		case <-flush.C:
			if err := promote(); err != nil {
				return ing.fail(total, violations, err)
			}
			flush.Reset(ing.FlushTimeout)
		case <-ctx.Done():
			if err := promote(); err != nil {
				return ing.fail(total, violations, err)
			}
			return ing.finish(total, violations)
		}
	}
}

// resume loads the committed checkpoint and, if the source supports it,
// seeks to it. The checkpoint is authoritative; progress is never inferred
// from partial output.
func (ing *Ingester) resume() error {
	cur, err := ing.checkpoints.Read(ing.SourceID)
	if err != nil {
		return errors.Wrap(err, "reading checkpoint")
	}
	ing.cursor = cur
	if seeker, ok := ing.src.(CursorSeeker); ok && cur != nil {
		if err := seeker.Seek(cur); err != nil {
			return errors.Wrap(err, "seeking source to checkpoint")
		}
	}
	return nil
}

// promote pushes one micro-batch through raw append, parse, gate, conformed
// merge, lineage, and checkpoint advance, in that order. It returns the
// number of gate violations observed.
func (ing *Ingester) promote(ctx context.Context, batch []*RawRecord) (int, error) {
	start := time.Now()
	if _, err := ing.raw.Append(batch); err != nil {
		return 0, errors.Wrap(err, "appending raw batch")
	}
	ing.stats.Count("ingest.raw", int64(len(batch)), 1)

	rows := make([]*ConformedRow, 0, len(batch))
	inputs := make([]string, 0, len(batch))
	for _, rec := range batch {
		inputs = append(inputs, rec.ID)
		row, err := ing.parser.Parse(rec)
		if err != nil {
			ing.stats.Count("ingest.parse_errors", 1, 1)
			ing.log.Printf("couldn't parse record %s: %v", rec.ID, err)
			continue
		}
		rows = append(rows, row)
	}

	var violations []Violation
	if ing.gate != nil {
		var err error
		rows, violations, err = ing.gate.Check(rows)
		ing.stats.Count("ingest.violations", int64(len(violations)), 1)
		if err != nil {
			// Fail-batch severity: nothing from this batch is promoted and
			// the conformed layer is left untouched.
			return len(violations), errors.Wrap(err, "quality gate")
		}
	}

	var version uint64
	err := Retry(ctx, ing.MaxRetries, 50*time.Millisecond, func() error {
		var merr error
		version, merr = ing.conformed.Merge(rows)
		if errors.Cause(merr) == ErrVersionConflict {
			ing.stats.Count("ingest.merge_conflicts", 1, 1)
		}
		return merr
	}, func(err error) bool {
		return errors.Cause(err) == ErrVersionConflict
	})
	if err != nil {
		return len(violations), errors.Wrap(err, "merging conformed rows")
	}
	ing.stats.Count("ingest.conformed", int64(len(rows)), 1)

	if ing.catalog != nil {
		if err := ing.catalog.RecordLineage(ing.conformed.Name(), version, inputs); err != nil {
			ing.log.Printf("recording lineage for %s@%d: %v", ing.conformed.Name(), version, err)
		}
	}

	cursor, err := batchCursor(ing.cursor, batch)
	if err != nil {
		return len(violations), errors.Wrap(err, "merging batch cursors")
	}
	if cursor != nil && (ing.cursor == nil || cursor.After(ing.cursor)) {
		if err := ing.checkpoints.Advance(ing.SourceID, cursor); err != nil {
			return len(violations), errors.Wrap(err, "advancing checkpoint")
		}
		ing.cursor = cursor
		if cc, ok := ing.src.(CursorCommitter); ok {
			if err := cc.CommitCursor(cursor); err != nil {
				ing.log.Printf("committing cursor to source: %v", err)
			}
		}
	}

	ing.stats.Timing("ingest.batch", time.Since(start), 1)
	return len(violations), nil
}

func batchCursor(base Cursor, batch []*RawRecord) (Cursor, error) {
	cur := base
	for _, rec := range batch {
		if rec.Cursor == nil {
			continue
		}
		if cur == nil {
			cur = rec.Cursor
			continue
		}
		merged, err := cur.Merge(rec.Cursor)
		if err != nil {
			return nil, err
		}
		cur = merged
	}
	return cur, nil
}

func (ing *Ingester) finish(records, violations int) error {
	outcome := OutcomeSuccess
	if violations > 0 {
		outcome = OutcomeWarning
	}
	ing.reporter.Report(StageStatus{
		Stage:      "ingest:" + ing.SourceID,
		Outcome:    outcome,
		Records:    records,
		Violations: violations,
		At:         time.Now(),
	})
	return nil
}

func (ing *Ingester) fail(records, violations int, err error) error {
	ing.reporter.Report(StageStatus{
		Stage:      "ingest:" + ing.SourceID,
		Outcome:    OutcomeFailure,
		Cause:      err.Error(),
		Records:    records,
		Violations: violations,
		At:         time.Now(),
	})
	return err
}

package feature

import (
	"context"
	"strconv"
	"time"

	"github.com/lakewing/fpk"
	"github.com/lakewing/fpk/table"
	"github.com/pkg/errors"
)

// OnlineWriter receives the latest vector per entity. *online.Store
// satisfies it.
type OnlineWriter interface {
	Put(ctx context.Context, fv fpk.FeatureVector) error
}

// Materializer computes feature vectors from the silver layer and writes the
// gold offline table and the online store from the same computation. Runs
// are idempotent upserts keyed by entity plus as-of time, so overlapping
// runs interleave safely; a rerun over the same as-of with late-arriving
// data supersedes the prior vector as a new version and never mutates it.
type Materializer struct {
	cfg    Config
	silver *table.Layer
	gold   *table.Layer
	online OnlineWriter

	catalog  fpk.Catalog
	stats    fpk.Statter
	log      fpk.Logger
	reporter fpk.Reporter
}

// MatOption is a functional option for the Materializer.
type MatOption func(*Materializer)

// OptMatConfig sets the feature configuration.
func OptMatConfig(cfg Config) MatOption {
	return func(m *Materializer) { m.cfg = cfg }
}

// OptMatOnline sets the online store writer.
func OptMatOnline(w OnlineWriter) MatOption {
	return func(m *Materializer) { m.online = w }
}

// OptMatCatalog sets the governance catalog receiving lineage events.
func OptMatCatalog(c fpk.Catalog) MatOption {
	return func(m *Materializer) { m.catalog = c }
}

// OptMatStats sets the stats collector.
func OptMatStats(s fpk.Statter) MatOption {
	return func(m *Materializer) { m.stats = s }
}

// OptMatLogger sets the logger.
func OptMatLogger(l fpk.Logger) MatOption {
	return func(m *Materializer) { m.log = l }
}

// OptMatReporter sets the stage-status reporter.
func OptMatReporter(r fpk.Reporter) MatOption {
	return func(m *Materializer) { m.reporter = r }
}

// NewMaterializer creates a Materializer reading silver and writing gold.
func NewMaterializer(silver, gold *table.Layer, opts ...MatOption) *Materializer {
	m := &Materializer{
		cfg:      DefaultConfig(),
		silver:   silver,
		gold:     gold,
		catalog:  nil,
		stats:    fpk.NopStatter{},
		log:      fpk.NopLogger{},
		reporter: fpk.NopReporter{},
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Run materializes vectors for every entity with conformed activity visible
// at asOf, returning the vectors it wrote.
func (m *Materializer) Run(ctx context.Context, asOf time.Time) ([]fpk.FeatureVector, error) {
	vectors, err := m.run(ctx, asOf)
	if err != nil {
		m.reporter.Report(fpk.StageStatus{
			Stage:   "materialize",
			Outcome: fpk.OutcomeFailure,
			Cause:   err.Error(),
			At:      time.Now(),
		})
		return nil, err
	}
	m.reporter.Report(fpk.StageStatus{
		Stage:   "materialize",
		Outcome: fpk.OutcomeSuccess,
		Records: len(vectors),
		At:      time.Now(),
	})
	return vectors, nil
}

func (m *Materializer) run(ctx context.Context, asOf time.Time) ([]fpk.FeatureVector, error) {
	start := time.Now()
	silverVersion, err := m.silver.Version()
	if err != nil {
		return nil, errors.Wrap(err, "reading silver version")
	}
	rows, err := m.silver.ReadAsOf(silverVersion)
	if err != nil {
		return nil, errors.Wrap(err, "reading silver layer")
	}

	// The watermark: anything older than the largest open window plus the
	// lateness tolerance can no longer affect any window aggregate at asOf.
	// Expired rows are counted for observability but still feed recency and
	// labels, so long-quiet entities keep getting fresh vectors.
	horizon := asOf.Add(-(m.cfg.maxSpan() + m.cfg.Lateness))
	byEntity := make(map[fpk.EntityKey][]*fpk.ConformedRow)
	expired := 0
	for _, row := range rows {
		if row.EventTime.Before(horizon) {
			expired++
		}
		byEntity[row.Entity] = append(byEntity[row.Entity], row)
	}
	m.stats.Count("materialize.expired", int64(expired), 1)

	written := time.Now().UTC()
	vectors := make([]fpk.FeatureVector, 0, len(byEntity))
	goldRows := make([]*fpk.ConformedRow, 0, len(byEntity))
	for entity, entityRows := range byEntity {
		fv := Compute(entity, entityRows, asOf, m.cfg)
		fv.Written = written
		vectors = append(vectors, fv)
		goldRows = append(goldRows, vectorRow(fv))
	}

	if _, err := m.gold.EnsureSchema(m.cfg.Schema()); err != nil {
		return nil, errors.Wrap(err, "registering gold schema")
	}
	version, err := m.gold.Merge(goldRows)
	if err != nil {
		return nil, errors.Wrap(err, "merging gold rows")
	}
	if m.catalog != nil {
		inputs := []string{m.silver.Name() + "@" + strconv.FormatUint(silverVersion, 10)}
		if err := m.catalog.RecordLineage(m.gold.Name(), version, inputs); err != nil {
			m.log.Printf("recording lineage for %s@%d: %v", m.gold.Name(), version, err)
		}
	}

	if m.online != nil {
		for _, fv := range vectors {
			if err := m.online.Put(ctx, fv); err != nil {
				return nil, errors.Wrapf(err, "writing online vector for %s", fv.Entity)
			}
		}
	}

	m.stats.Count("materialize.vectors", int64(len(vectors)), 1)
	m.stats.Timing("materialize.run", time.Since(start), 1)
	m.log.Debugf("materialized %d vectors as of %s at gold version %d", len(vectors), asOf, version)
	return vectors, nil
}

// vectorRow flattens a feature vector into a curated-layer row. The row's
// event time is the materialization time, so a later run over the same as-of
// supersedes this row (a new version in the chain) while time travel keeps
// the consumed one readable.
func vectorRow(fv fpk.FeatureVector) *fpk.ConformedRow {
	values := make(map[string]interface{}, len(fv.Features)+2)
	for name, val := range fv.Features {
		values[name] = val
	}
	values["as_of"] = fv.AsOf.UTC().Format(keyTimeLayout)
	values["written"] = fv.Written.Format(time.RFC3339Nano)
	return &fpk.ConformedRow{
		Entity:    fv.Entity,
		EventTime: fv.Written,
		Values:    values,
	}
}

// Package score applies the promoted model to feature vectors and emits
// immutable score records, both as a batch job over the offline store and as
// a bounded-latency online call.
package score

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/lakewing/fpk"
	"github.com/lakewing/fpk/feature"
	"github.com/lakewing/fpk/table"
	"github.com/pkg/errors"
)

// Model is the external model collaborator.
type Model interface {
	Version() string
	Predict(fv fpk.FeatureVector) (float64, error)
}

// Registry resolves the currently promoted production model.
type Registry interface {
	Production() (Model, error)
}

// Risk band thresholds. The discretization is deterministic and fixed:
//
//	low      score < 0.30
//	medium   0.30 <= score < 0.60
//	high     0.60 <= score < 0.85
//	critical score >= 0.85
const (
	mediumThreshold   = 0.30
	highThreshold     = 0.60
	criticalThreshold = 0.85
)

// Band discretizes a score into its risk band.
func Band(score float64) string {
	switch {
	case score >= criticalThreshold:
		return "critical"
	case score >= highThreshold:
		return "high"
	case score >= mediumThreshold:
		return "medium"
	}
	return "low"
}

// NextAction maps a risk band to the next best action written alongside
// batch scores.
func NextAction(band string) string {
	switch band {
	case "critical":
		return "account-manager-call"
	case "high":
		return "retention-offer"
	case "medium":
		return "email-campaign"
	}
	return "none"
}

// OnlineGetter is the online feature read path. *online.Store satisfies it.
type OnlineGetter interface {
	Get(ctx context.Context, entity fpk.EntityKey) (fpk.FeatureVector, error)
}

// Scorer runs the scoring engine over both read paths.
type Scorer struct {
	offline *feature.Lookup
	online  OnlineGetter
	reg     Registry
	scores  *table.Layer
	timeout time.Duration

	stats    fpk.Statter
	log      fpk.Logger
	reporter fpk.Reporter
}

// ScorerOption is a functional option for the Scorer.
type ScorerOption func(*Scorer)

// OptScorerOnline sets the online feature read path.
func OptScorerOnline(g OnlineGetter) ScorerOption {
	return func(s *Scorer) { s.online = g }
}

// OptScorerTimeout bounds online scoring latency.
func OptScorerTimeout(d time.Duration) ScorerOption {
	return func(s *Scorer) { s.timeout = d }
}

// OptScorerScores sets the layer score records are persisted to for audit.
func OptScorerScores(l *table.Layer) ScorerOption {
	return func(s *Scorer) { s.scores = l }
}

// OptScorerStats sets the stats collector.
func OptScorerStats(st fpk.Statter) ScorerOption {
	return func(s *Scorer) { s.stats = st }
}

// OptScorerLogger sets the logger.
func OptScorerLogger(l fpk.Logger) ScorerOption {
	return func(s *Scorer) { s.log = l }
}

// OptScorerReporter sets the stage-status reporter.
func OptScorerReporter(r fpk.Reporter) ScorerOption {
	return func(s *Scorer) { s.reporter = r }
}

// NewScorer creates a Scorer using the given offline lookup and model
// registry.
func NewScorer(offline *feature.Lookup, reg Registry, opts ...ScorerOption) *Scorer {
	s := &Scorer{
		offline:  offline,
		reg:      reg,
		timeout:  500 * time.Millisecond,
		stats:    fpk.NopStatter{},
		log:      fpk.NopLogger{},
		reporter: fpk.NopReporter{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ScoreBatch scores entities from the offline store at asOf and persists the
// resulting table. Entities without features at asOf are skipped and
// counted, not failed.
func (s *Scorer) ScoreBatch(ctx context.Context, entities []fpk.EntityKey, asOf time.Time) ([]fpk.ScoreRecord, error) {
	model, err := s.reg.Production()
	if err != nil {
		return nil, errors.Wrap(err, "resolving production model")
	}
	records := make([]fpk.ScoreRecord, 0, len(entities))
	skipped := 0
	for _, entity := range entities {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		fv, err := s.offline.GetOffline(entity, asOf)
		if errors.Cause(err) == fpk.ErrNoFeatures {
			skipped++
			continue
		}
		if err != nil {
			return nil, err
		}
		rec, err := s.apply(model, fv)
		if err != nil {
			return nil, errors.Wrapf(err, "scoring %s", entity)
		}
		records = append(records, rec)
	}
	s.stats.Count("score.batch", int64(len(records)), 1)
	s.stats.Count("score.batch_skipped", int64(skipped), 1)

	if s.scores != nil && len(records) > 0 {
		if _, err := s.scores.Merge(scoreRows(records, asOf)); err != nil {
			return nil, errors.Wrap(err, "persisting score table")
		}
	}
	s.reporter.Report(fpk.StageStatus{
		Stage:   "score-batch",
		Outcome: fpk.OutcomeSuccess,
		Records: len(records),
		At:      time.Now(),
	})
	return records, nil
}

// ScoreOnline scores one entity from the online store within the configured
// timeout. If the store cannot answer in time the call fails with
// ErrScoringUnavailable instead of blocking; staleness and missing-feature
// failures pass through as their own typed errors, never masked as a score.
func (s *Scorer) ScoreOnline(ctx context.Context, entity fpk.EntityKey) (fpk.ScoreRecord, error) {
	if s.online == nil {
		return fpk.ScoreRecord{}, errors.Wrap(fpk.ErrScoringUnavailable, "no online store configured")
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	type result struct {
		rec fpk.ScoreRecord
		err error
	}
	done := make(chan result, 1)
	go func() {
		model, err := s.reg.Production()
		if err != nil {
			done <- result{err: errors.Wrap(err, "resolving production model")}
			return
		}
		fv, err := s.online.Get(ctx, entity)
		if err != nil {
			done <- result{err: err}
			return
		}
		rec, err := s.apply(model, fv)
		done <- result{rec: rec, err: err}
	}()

	select {
	case r := <-done:
		if r.err != nil {
			if errors.Cause(r.err) == context.DeadlineExceeded {
				return fpk.ScoreRecord{}, errors.Wrapf(fpk.ErrScoringUnavailable, "entity %s", entity)
			}
			return fpk.ScoreRecord{}, r.err
		}
		s.stats.Count("score.online", 1, 1)
		return r.rec, nil
	case <-ctx.Done():
		s.stats.Count("score.online_timeouts", 1, 1)
		return fpk.ScoreRecord{}, errors.Wrapf(fpk.ErrScoringUnavailable, "entity %s", entity)
	}
}

func (s *Scorer) apply(model Model, fv fpk.FeatureVector) (fpk.ScoreRecord, error) {
	val, err := model.Predict(fv)
	if err != nil {
		return fpk.ScoreRecord{}, errors.Wrap(err, "predicting")
	}
	band := Band(val)
	return fpk.ScoreRecord{
		ID:           uuid.NewString(),
		Entity:       fv.Entity,
		Score:        val,
		RiskBand:     band,
		NextAction:   NextAction(band),
		ModelVersion: model.Version(),
		ProducedAt:   time.Now().UTC(),
	}, nil
}

// TableKey is the natural key function for the score layer: one row per
// entity per score date, newer runs superseding.
func TableKey(row *fpk.ConformedRow) string {
	if d, ok := row.Values["date"].(string); ok {
		return string(row.Entity) + "|" + d
	}
	return string(row.Entity)
}

func scoreRows(records []fpk.ScoreRecord, asOf time.Time) []*fpk.ConformedRow {
	rows := make([]*fpk.ConformedRow, len(records))
	date := asOf.UTC().Format("2006-01-02")
	for i, rec := range records {
		rows[i] = &fpk.ConformedRow{
			Entity:    rec.Entity,
			EventTime: rec.ProducedAt,
			Values: map[string]interface{}{
				"date":             date,
				"score":            rec.Score,
				"risk_band":        rec.RiskBand,
				"next_best_action": rec.NextAction,
				"model_version":    rec.ModelVersion,
				"produced_at":      rec.ProducedAt.Format(time.RFC3339Nano),
			},
		}
	}
	return rows
}

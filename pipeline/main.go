package pipeline

import (
	"context"
	"encoding/json"
	"os"
	"sort"
	"time"

	"github.com/lakewing/fpk"
	"github.com/lakewing/fpk/feature"
	"github.com/lakewing/fpk/score"
	"github.com/lakewing/fpk/termstat"
	"github.com/pkg/errors"
)

// MaterializeMain holds the options for running feature materialization.
type MaterializeMain struct {
	Config

	AsOf     string        `help:"Materialize features as of this RFC3339 time. Empty uses now."`
	Lateness time.Duration `help:"Watermark tolerance for late events."`
}

// NewMaterializeMain returns a new MaterializeMain.
func NewMaterializeMain() *MaterializeMain {
	return &MaterializeMain{
		Config:   NewConfig(),
		Lateness: time.Hour,
	}
}

// Run materializes feature vectors from the conformed layer into the
// curated layer and the online store.
func (m *MaterializeMain) Run(ctx context.Context) error {
	asOf, err := parseAsOf(m.AsOf)
	if err != nil {
		return err
	}
	p, err := Open(m.Config, termstat.NewCollector(os.Stderr))
	if err != nil {
		return errors.Wrap(err, "opening pipeline")
	}
	defer p.Close()

	cfg := feature.DefaultConfig()
	cfg.Lateness = m.Lateness
	vectors, err := p.Materializer(cfg).Run(ctx, asOf)
	if err != nil {
		return errors.Wrap(err, "materializing features")
	}
	p.Log.Printf("materialized %d vectors as of %s", len(vectors), asOf.Format(time.RFC3339))
	return nil
}

// ScoreMain holds the options for running batch scoring.
type ScoreMain struct {
	Config

	AsOf     string   `help:"Score features as of this RFC3339 time. Empty uses now."`
	Entities []string `help:"Comma separated entities to score. Empty scores every known entity."`
}

// NewScoreMain returns a new ScoreMain.
func NewScoreMain() *ScoreMain {
	return &ScoreMain{Config: NewConfig()}
}

// Run scores the entities against the curated layer and writes the score
// records to stdout and the score table.
func (m *ScoreMain) Run(ctx context.Context) error {
	asOf, err := parseAsOf(m.AsOf)
	if err != nil {
		return err
	}
	p, err := Open(m.Config, termstat.NewCollector(os.Stderr))
	if err != nil {
		return errors.Wrap(err, "opening pipeline")
	}
	defer p.Close()

	entities := make([]fpk.EntityKey, 0, len(m.Entities))
	for _, e := range m.Entities {
		entities = append(entities, fpk.EntityKey(e))
	}
	if len(entities) == 0 {
		if entities, err = knownEntities(p); err != nil {
			return err
		}
	}

	scorer := p.Scorer(score.StaticRegistry{Model: score.DefaultModel()})
	records, err := scorer.ScoreBatch(ctx, entities, asOf)
	if err != nil {
		return errors.Wrap(err, "scoring batch")
	}
	enc := json.NewEncoder(os.Stdout)
	for _, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return errors.Wrap(err, "encoding score record")
		}
	}
	return nil
}

// knownEntities lists every entity present in the conformed layer.
func knownEntities(p *Pipeline) ([]fpk.EntityKey, error) {
	rows, err := p.Silver.Latest()
	if err != nil {
		return nil, errors.Wrap(err, "reading conformed layer")
	}
	seen := map[fpk.EntityKey]bool{}
	for _, row := range rows {
		seen[row.Entity] = true
	}
	entities := make([]fpk.EntityKey, 0, len(seen))
	for e := range seen {
		entities = append(entities, e)
	}
	sort.Slice(entities, func(i, j int) bool { return entities[i] < entities[j] })
	return entities, nil
}

func parseAsOf(s string) (time.Time, error) {
	if s == "" {
		return time.Now().UTC(), nil
	}
	t, err := time.Parse(time.RFC3339, s)
	return t, errors.Wrapf(err, "parsing as-of time %q", s)
}

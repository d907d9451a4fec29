// Package pipeline wires the storage, checkpoint, quality, and governance
// pieces together so commands and tests can stand up a working pipeline from
// one config struct.
package pipeline

import (
	"io/ioutil"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/lakewing/fpk"
	"github.com/lakewing/fpk/boltdb"
	"github.com/lakewing/fpk/expect"
	"github.com/lakewing/fpk/feature"
	"github.com/lakewing/fpk/govern"
	"github.com/lakewing/fpk/online"
	"github.com/lakewing/fpk/score"
	"github.com/lakewing/fpk/table"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

// Config holds the options shared by every pipeline command.
type Config struct {
	DataDir      string        `help:"Directory holding the layered table store and checkpoints."`
	Rules        string        `help:"Path to the expectation rules file. Empty disables the quality gate."`
	EntityField  string        `help:"Payload field holding the entity key."`
	TimeField    string        `help:"Payload field holding the event time."`
	BatchSize    int           `help:"Micro-batch size for ingestion."`
	FlushTimeout time.Duration `help:"How long a partial micro-batch waits before promotion."`
	RedisAddr    string        `help:"Redis address for the online store. Empty disables online writes."`
	Staleness    time.Duration `help:"Online store staleness bound."`
	Verbose      bool          `help:"Enable debug logging."`
}

// NewConfig returns a Config with working local defaults.
func NewConfig() Config {
	return Config{
		DataDir:      "fpk-data",
		EntityField:  "customer_id",
		TimeField:    "event_time",
		BatchSize:    500,
		FlushTimeout: 2 * time.Second,
		Staleness:    15 * time.Minute,
	}
}

// Pipeline is an opened set of pipeline components sharing one data
// directory.
type Pipeline struct {
	Store       *table.Store
	Bronze      *table.Layer
	Silver      *table.Layer
	Gold        *table.Layer
	Scores      *table.Layer
	Checkpoints *boltdb.Checkpointer
	Rules       []expect.Rule
	Catalog     fpk.Catalog
	Online      *online.Store

	Log      fpk.Logger
	Reporter fpk.Reporter
	stats    fpk.Statter
}

// Open opens every component the config names. Callers must Close the
// returned Pipeline.
func Open(cfg Config, stats fpk.Statter) (*Pipeline, error) {
	var logger fpk.Logger = fpk.StdLogger{Logger: log.New(os.Stderr, "", log.LstdFlags)}
	if cfg.Verbose {
		logger = fpk.VerboseLogger{Logger: log.New(os.Stderr, "", log.LstdFlags)}
	}
	if stats == nil {
		stats = fpk.NopStatter{}
	}

	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return nil, errors.Wrapf(err, "creating data dir %s", cfg.DataDir)
	}
	store, err := table.Open(filepath.Join(cfg.DataDir, "tables"), table.OptStoreLogger(logger))
	if err != nil {
		return nil, errors.Wrap(err, "opening table store")
	}
	p := &Pipeline{
		Store:    store,
		Catalog:  govern.LogCatalog{Log: logger},
		Log:      logger,
		Reporter: fpk.LogReporter{Log: logger},
		stats:    stats,
	}
	cleanup := func() { store.Close() }

	if p.Bronze, err = store.Layer(table.Bronze); err != nil {
		cleanup()
		return nil, errors.Wrap(err, "opening bronze layer")
	}
	if p.Silver, err = store.Layer(table.Silver, table.OptLayerNaturalKey(table.EventKey)); err != nil {
		cleanup()
		return nil, errors.Wrap(err, "opening silver layer")
	}
	if p.Gold, err = store.Layer(table.Gold, table.OptLayerNaturalKey(feature.GoldKey)); err != nil {
		cleanup()
		return nil, errors.Wrap(err, "opening gold layer")
	}
	if p.Scores, err = store.Layer(table.Scores, table.OptLayerNaturalKey(score.TableKey)); err != nil {
		cleanup()
		return nil, errors.Wrap(err, "opening scores layer")
	}

	p.Checkpoints, err = boltdb.NewCheckpointer(filepath.Join(cfg.DataDir, "checkpoints.db"))
	if err != nil {
		cleanup()
		return nil, errors.Wrap(err, "opening checkpoint store")
	}

	if cfg.Rules != "" {
		data, err := ioutil.ReadFile(cfg.Rules)
		if err != nil {
			p.Close()
			return nil, errors.Wrapf(err, "reading rules file %s", cfg.Rules)
		}
		p.Rules, err = expect.ParseRules(data)
		if err != nil {
			p.Close()
			return nil, errors.Wrapf(err, "parsing rules file %s", cfg.Rules)
		}
	}

	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		p.Online = online.NewStore(rdb, online.OptStoreStaleness(cfg.Staleness))
	}
	return p, nil
}

// Ingester builds an Ingester running src into the bronze and silver layers
// under the shared gate, catalog, and checkpoint store. The writer's schema
// is registered on the silver layer up front; a writer whose schema would
// narrow the stored one is rejected with ErrIncompatibleSchemaChange before
// it can promote anything.
func (p *Pipeline) Ingester(cfg Config, sourceID string, src fpk.Source) (*fpk.Ingester, error) {
	schema := fpk.Schema{
		{Name: "event_type", Type: fpk.TypeString},
		{Name: "amount", Type: fpk.TypeFloat, Nullable: true},
	}
	if _, err := p.Silver.EnsureSchema(schema); err != nil {
		return nil, errors.Wrap(err, "registering silver schema")
	}
	parser := fpk.NewJSONParser(schema)
	parser.EntityField = cfg.EntityField
	parser.TimeField = cfg.TimeField

	opts := []fpk.IngestOption{
		fpk.OptIngestBatchSize(cfg.BatchSize),
		fpk.OptIngestFlushTimeout(cfg.FlushTimeout),
		fpk.OptIngestCatalog(p.Catalog),
		fpk.OptIngestStats(p.stats),
		fpk.OptIngestLogger(p.Log),
		fpk.OptIngestReporter(p.Reporter),
	}
	if len(p.Rules) > 0 {
		opts = append(opts, fpk.OptIngestGate(&expect.Gater{
			Rules: p.Rules,
			Ctx:   expect.Context{Existing: p.Silver},
		}))
	}
	return fpk.NewIngester(sourceID, src, parser, p.Bronze, p.Silver, p.Checkpoints, opts...), nil
}

// Materializer builds a Materializer from the silver layer into the gold
// layer and, when configured, the online store.
func (p *Pipeline) Materializer(featureCfg feature.Config) *feature.Materializer {
	opts := []feature.MatOption{
		feature.OptMatConfig(featureCfg),
		feature.OptMatCatalog(p.Catalog),
		feature.OptMatStats(p.stats),
		feature.OptMatLogger(p.Log),
		feature.OptMatReporter(p.Reporter),
	}
	if p.Online != nil {
		opts = append(opts, feature.OptMatOnline(p.Online))
	}
	return feature.NewMaterializer(p.Silver, p.Gold, opts...)
}

// Scorer builds a Scorer over the gold layer and, when configured, the
// online store.
func (p *Pipeline) Scorer(reg score.Registry, extra ...score.ScorerOption) *score.Scorer {
	opts := []score.ScorerOption{
		score.OptScorerScores(p.Scores),
		score.OptScorerStats(p.stats),
		score.OptScorerLogger(p.Log),
		score.OptScorerReporter(p.Reporter),
	}
	if p.Online != nil {
		opts = append(opts, score.OptScorerOnline(p.Online))
	}
	opts = append(opts, extra...)
	return score.NewScorer(feature.NewLookup(p.Gold), reg, opts...)
}

// Close releases every component.
func (p *Pipeline) Close() error {
	var errs []error
	if p.Checkpoints != nil {
		if err := p.Checkpoints.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if p.Store != nil {
		if err := p.Store.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return errors.Errorf("closing pipeline: %v", errs)
	}
	return nil
}

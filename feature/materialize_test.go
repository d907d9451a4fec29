package feature

import (
	"context"
	"testing"
	"time"

	"github.com/lakewing/fpk"
	"github.com/lakewing/fpk/mock"
	"github.com/lakewing/fpk/table"
	"github.com/pkg/errors"
)

// memWriter captures online puts keyed by entity.
type memWriter struct {
	puts map[fpk.EntityKey]fpk.FeatureVector
}

func (w *memWriter) Put(_ context.Context, fv fpk.FeatureVector) error {
	if w.puts == nil {
		w.puts = make(map[fpk.EntityKey]fpk.FeatureVector)
	}
	w.puts[fv.Entity] = fv
	return nil
}

func openLayers(t *testing.T) (silver, gold *table.Layer) {
	t.Helper()
	store, err := table.Open(t.TempDir())
	if err != nil {
		t.Fatalf("opening store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	if silver, err = store.Layer(table.Silver, table.OptLayerNaturalKey(table.EventKey)); err != nil {
		t.Fatalf("opening silver: %v", err)
	}
	if gold, err = store.Layer(table.Gold, table.OptLayerNaturalKey(GoldKey)); err != nil {
		t.Fatalf("opening gold: %v", err)
	}
	return silver, gold
}

func TestMaterializerRun(t *testing.T) {
	silver, gold := openLayers(t)
	if _, err := silver.Merge([]*fpk.ConformedRow{
		event("cust-1", asOf.Add(-24*time.Hour), "login"),
		event("cust-1", asOf.Add(-48*time.Hour), "purchase", "amount", 10.0),
		event("cust-2", asOf.Add(-24*time.Hour), "ticket"),
	}); err != nil {
		t.Fatalf("seeding silver: %v", err)
	}

	online := &memWriter{}
	reporter := &mock.RecordingReporter{}
	m := NewMaterializer(silver, gold,
		OptMatOnline(online),
		OptMatReporter(reporter),
	)
	vectors, err := m.Run(context.Background(), asOf)
	if err != nil {
		t.Fatalf("running materializer: %v", err)
	}
	if len(vectors) != 2 {
		t.Fatalf("expected 2 vectors, got %d", len(vectors))
	}
	if last := reporter.Last(); last.Outcome != fpk.OutcomeSuccess || last.Records != 2 {
		t.Fatalf("wrong stage status: %+v", last)
	}

	// Offline and online reads must agree: both derive from the one
	// computation.
	lk := NewLookup(gold)
	for _, want := range vectors {
		got, err := lk.GetOffline(want.Entity, asOf)
		if err != nil {
			t.Fatalf("offline lookup for %s: %v", want.Entity, err)
		}
		for name, val := range want.Features {
			if got.Features[name] != val {
				t.Fatalf("offline %s/%s = %v, want %v", want.Entity, name, got.Features[name], val)
			}
		}
		ov, ok := online.puts[want.Entity]
		if !ok {
			t.Fatalf("no online vector for %s", want.Entity)
		}
		for name, val := range want.Features {
			if ov.Features[name] != val {
				t.Fatalf("online %s/%s = %v, want %v", want.Entity, name, ov.Features[name], val)
			}
		}
	}
}

func TestMaterializerWatermark(t *testing.T) {
	silver, gold := openLayers(t)
	cfg := DefaultConfig()
	horizon := asOf.Add(-(cfg.maxSpan() + cfg.Lateness))
	if _, err := silver.Merge([]*fpk.ConformedRow{
		event("cust-1", horizon.Add(time.Minute), "login"),
		// Older than every open window plus the lateness tolerance: can no
		// longer affect any window aggregate at asOf.
		event("cust-2", horizon.Add(-time.Minute), "login"),
	}); err != nil {
		t.Fatalf("seeding silver: %v", err)
	}

	stats := &mock.RecordingStatter{}
	m := NewMaterializer(silver, gold, OptMatStats(stats))
	vectors, err := m.Run(context.Background(), asOf)
	if err != nil {
		t.Fatalf("running materializer: %v", err)
	}
	// An entity whose whole history predates the horizon still gets a fresh
	// vector; only its window aggregates have expired.
	if len(vectors) != 2 {
		t.Fatalf("expected 2 vectors, got %+v", vectors)
	}
	if stats.Counts["materialize.expired"] != 1 {
		t.Fatalf("expected 1 expired row counted, got %d", stats.Counts["materialize.expired"])
	}
	var quiet fpk.FeatureVector
	for _, fv := range vectors {
		if fv.Entity == "cust-2" {
			quiet = fv
		}
	}
	if quiet.Entity != "cust-2" {
		t.Fatalf("no vector for the long-quiet entity: %+v", vectors)
	}
	if quiet.Features["logins_30d"] != 0 || quiet.Features["logins_7d"] != 0 {
		t.Fatalf("expired row leaked into a window aggregate: %v", quiet.Features)
	}
	if quiet.Features["days_since_activity"] < 30 {
		t.Fatalf("recency lost for the long-quiet entity: %v", quiet.Features["days_since_activity"])
	}
	if quiet.Features["label_inactive"] != 1 {
		t.Fatalf("long-quiet entity not labeled inactive: %v", quiet.Features)
	}
}

func TestMaterializerRegistersGoldSchema(t *testing.T) {
	silver, gold := openLayers(t)
	if _, err := silver.Merge([]*fpk.ConformedRow{
		event("cust-1", asOf.Add(-24*time.Hour), "login"),
	}); err != nil {
		t.Fatalf("seeding silver: %v", err)
	}
	m := NewMaterializer(silver, gold)
	if _, err := m.Run(context.Background(), asOf); err != nil {
		t.Fatalf("running materializer: %v", err)
	}

	schema, err := gold.Schema()
	if err != nil {
		t.Fatalf("reading gold schema: %v", err)
	}
	for _, name := range []string{"as_of", "logins_7d", "label_inactive"} {
		if _, ok := schema.Field(name); !ok {
			t.Fatalf("gold schema missing %q: %+v", name, schema)
		}
	}
}

func TestMaterializerRejectsRetypedGold(t *testing.T) {
	silver, gold := openLayers(t)
	if _, err := silver.Merge([]*fpk.ConformedRow{
		event("cust-1", asOf.Add(-24*time.Hour), "login"),
	}); err != nil {
		t.Fatalf("seeding silver: %v", err)
	}
	// A prior writer registered the column with another type. The run must
	// abort before promoting anything.
	if _, err := gold.EnsureSchema(fpk.Schema{
		{Name: "logins_7d", Type: fpk.TypeString, Nullable: true},
	}); err != nil {
		t.Fatalf("setting conflicting schema: %v", err)
	}

	m := NewMaterializer(silver, gold)
	_, err := m.Run(context.Background(), asOf)
	if errors.Cause(err) != fpk.ErrIncompatibleSchemaChange {
		t.Fatalf("expected ErrIncompatibleSchemaChange, got %v", err)
	}
	v, err := gold.Version()
	if err != nil {
		t.Fatalf("reading gold version: %v", err)
	}
	if v != 0 {
		t.Fatalf("gold advanced despite schema rejection: version %d", v)
	}
}

func TestMaterializerRerunSupersedes(t *testing.T) {
	silver, gold := openLayers(t)
	if _, err := silver.Merge([]*fpk.ConformedRow{
		event("cust-1", asOf.Add(-24*time.Hour), "login"),
	}); err != nil {
		t.Fatalf("seeding silver: %v", err)
	}

	m := NewMaterializer(silver, gold)
	if _, err := m.Run(context.Background(), asOf); err != nil {
		t.Fatalf("first run: %v", err)
	}
	v1, err := gold.Version()
	if err != nil {
		t.Fatalf("reading gold version: %v", err)
	}

	// Late-arriving data lands, then the same as-of is rerun. The new
	// vector supersedes the old one as a new version; the old one stays
	// readable by time travel.
	if _, err := silver.Merge([]*fpk.ConformedRow{
		event("cust-1", asOf.Add(-12*time.Hour), "purchase", "amount", 42.0),
	}); err != nil {
		t.Fatalf("late merge: %v", err)
	}
	if _, err := m.Run(context.Background(), asOf); err != nil {
		t.Fatalf("second run: %v", err)
	}
	v2, err := gold.Version()
	if err != nil {
		t.Fatalf("reading gold version: %v", err)
	}
	if v2 <= v1 {
		t.Fatalf("rerun did not create a new version: %d -> %d", v1, v2)
	}

	cur, err := NewLookup(gold).GetOffline("cust-1", asOf)
	if err != nil {
		t.Fatalf("offline lookup: %v", err)
	}
	if cur.Features["purchases_7d"] != 1 {
		t.Fatalf("rerun vector missing late purchase: %v", cur.Features["purchases_7d"])
	}

	old, err := gold.ReadAsOf(v1)
	if err != nil {
		t.Fatalf("time-travel read: %v", err)
	}
	if len(old) != 1 || old[0].Float("purchases_7d") != 0 {
		t.Fatalf("superseded vector not readable at version %d: %+v", v1, old)
	}
}

func TestLookupPointInTime(t *testing.T) {
	silver, gold := openLayers(t)
	if _, err := silver.Merge([]*fpk.ConformedRow{
		event("cust-1", asOf.Add(-24*time.Hour), "login"),
	}); err != nil {
		t.Fatalf("seeding silver: %v", err)
	}
	m := NewMaterializer(silver, gold)
	for _, at := range []time.Time{asOf, asOf.Add(24 * time.Hour)} {
		if _, err := m.Run(context.Background(), at); err != nil {
			t.Fatalf("materializing at %s: %v", at, err)
		}
	}

	lk := NewLookup(gold)
	// A query between the two as-of times picks the earlier vector, never
	// the later one.
	got, err := lk.GetOffline("cust-1", asOf.Add(time.Hour))
	if err != nil {
		t.Fatalf("offline lookup: %v", err)
	}
	if !got.AsOf.Equal(asOf) {
		t.Fatalf("point-in-time join picked as-of %s, want %s", got.AsOf, asOf)
	}

	// Before any vector exists there are no features.
	_, err = lk.GetOffline("cust-1", asOf.Add(-time.Hour))
	if errors.Cause(err) != fpk.ErrNoFeatures {
		t.Fatalf("expected ErrNoFeatures, got %v", err)
	}
	_, err = lk.GetOffline("cust-9", asOf)
	if errors.Cause(err) != fpk.ErrNoFeatures {
		t.Fatalf("expected ErrNoFeatures for unknown entity, got %v", err)
	}
}

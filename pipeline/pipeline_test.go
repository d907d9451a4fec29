package pipeline

import (
	"io"
	"testing"

	"github.com/lakewing/fpk"
	"github.com/pkg/errors"
)

type emptySource struct{}

func (emptySource) Record() (*fpk.RawRecord, error) { return nil, io.EOF }

func openPipeline(t *testing.T) (*Pipeline, Config) {
	t.Helper()
	cfg := NewConfig()
	cfg.DataDir = t.TempDir()
	p, err := Open(cfg, nil)
	if err != nil {
		t.Fatalf("opening pipeline: %v", err)
	}
	t.Cleanup(func() { p.Close() })
	return p, cfg
}

func TestIngesterRegistersSilverSchema(t *testing.T) {
	p, cfg := openPipeline(t)
	if _, err := p.Ingester(cfg, "files", emptySource{}); err != nil {
		t.Fatalf("building ingester: %v", err)
	}
	schema, err := p.Silver.Schema()
	if err != nil {
		t.Fatalf("reading silver schema: %v", err)
	}
	if _, ok := schema.Field("event_type"); !ok {
		t.Fatalf("silver schema missing event_type: %+v", schema)
	}

	// Building another ingester against the registered schema is fine.
	if _, err := p.Ingester(cfg, "kafka", emptySource{}); err != nil {
		t.Fatalf("building second ingester: %v", err)
	}
}

func TestIngesterRejectsRetypedField(t *testing.T) {
	p, cfg := openPipeline(t)
	// A prior writer registered amount with another type. The new writer must
	// be rejected before it can promote anything.
	if _, err := p.Silver.EnsureSchema(fpk.Schema{
		{Name: "event_type", Type: fpk.TypeString},
		{Name: "amount", Type: fpk.TypeString, Nullable: true},
	}); err != nil {
		t.Fatalf("setting conflicting schema: %v", err)
	}
	_, err := p.Ingester(cfg, "files", emptySource{})
	if errors.Cause(err) != fpk.ErrIncompatibleSchemaChange {
		t.Fatalf("expected ErrIncompatibleSchemaChange, got %v", err)
	}
}

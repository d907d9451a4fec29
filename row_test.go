package fpk

import (
	"testing"

	"github.com/pkg/errors"
)

func TestSchemaEvolveEmptyBaseline(t *testing.T) {
	next := Schema{
		{Name: "event_type", Type: TypeString},
		{Name: "amount", Type: TypeFloat, Nullable: true},
	}
	out, err := Schema(nil).Evolve(next)
	if err != nil {
		t.Fatalf("evolving empty schema: %v", err)
	}
	if len(out) != 2 {
		t.Fatalf("expected baseline taken as-is, got %v", out)
	}
	if f, _ := out.Field("event_type"); f.Nullable {
		t.Fatalf("baseline registration changed nullability: %+v", f)
	}
}

func TestSchemaEvolveAppendsNullable(t *testing.T) {
	s := Schema{
		{Name: "event_type", Type: TypeString},
		{Name: "amount", Type: TypeFloat, Nullable: true},
	}
	next := Schema{
		{Name: "event_type", Type: TypeString},
		{Name: "channel", Type: TypeString, Nullable: true},
	}
	out, err := s.Evolve(next)
	if err != nil {
		t.Fatalf("evolving: %v", err)
	}
	if len(out) != 3 {
		t.Fatalf("expected 3 fields, got %d: %v", len(out), out)
	}
	if _, ok := out.Field("channel"); !ok {
		t.Fatalf("new field missing after evolve")
	}
	// Fields absent from next are retained.
	if _, ok := out.Field("amount"); !ok {
		t.Fatalf("existing field dropped by evolve")
	}
}

func TestSchemaEvolveRejectsNarrowing(t *testing.T) {
	s := Schema{
		{Name: "event_type", Type: TypeString},
		{Name: "amount", Type: TypeFloat, Nullable: true},
	}

	tests := []struct {
		name string
		next Schema
	}{
		{"type change", Schema{{Name: "amount", Type: TypeString, Nullable: true}}},
		{"new non-nullable", Schema{{Name: "plan", Type: TypeString}}},
		{"nullable to non-nullable", Schema{{Name: "amount", Type: TypeFloat}}},
	}
	for _, test := range tests {
		_, err := s.Evolve(test.next)
		if errors.Cause(err) != ErrIncompatibleSchemaChange {
			t.Fatalf("%s: expected ErrIncompatibleSchemaChange, got %v", test.name, err)
		}
	}
}

func TestQualityGateError(t *testing.T) {
	err := &QualityGateError{
		Rule:       "amount-range",
		Violations: 3,
		SampleKeys: []EntityKey{"cust-1", "cust-2"},
	}
	msg := err.Error()
	if msg == "" {
		t.Fatalf("empty error message")
	}
	var qge *QualityGateError
	if !errors.As(err, &qge) {
		t.Fatalf("errors.As failed for QualityGateError")
	}
}

func TestIngestionErrorUnwrap(t *testing.T) {
	inner := errors.New("broken pipe")
	err := &IngestionError{Source: "kafka", Err: inner}
	if errors.Unwrap(err) != inner {
		t.Fatalf("Unwrap did not return inner error")
	}
}

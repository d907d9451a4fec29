package expect

import (
	"strings"
	"testing"
	"time"

	"github.com/lakewing/fpk"
)

var baseTime = time.Date(2024, time.March, 1, 0, 0, 0, 0, time.UTC)

func row(entity string, at time.Time, kv ...interface{}) *fpk.ConformedRow {
	values := make(map[string]interface{})
	for i := 0; i < len(kv); i += 2 {
		values[kv[i].(string)] = kv[i+1]
	}
	return &fpk.ConformedRow{Entity: fpk.EntityKey(entity), EventTime: at, Values: values}
}

// memKeys is a KeySet over a fixed set of strings.
type memKeys map[string]bool

func (m memKeys) Has(key string) (bool, error) { return m[key], nil }

func TestNotNull(t *testing.T) {
	rules := []Rule{{Name: "has-type", Type: NotNull, Field: "event_type", Severity: DropRow}}
	rows := []*fpk.ConformedRow{
		row("cust-1", baseTime, "event_type", "login"),
		row("cust-2", baseTime),
		row("cust-3", baseTime, "event_type", nil),
	}
	res, err := Evaluate(rows, rules, Context{})
	if err != nil {
		t.Fatalf("evaluating: %v", err)
	}
	if len(res.Passing) != 1 || res.Passing[0].Entity != "cust-1" {
		t.Fatalf("wrong passing rows: %+v", res.Passing)
	}
	if len(res.Violations) != 2 {
		t.Fatalf("expected 2 violations, got %d", len(res.Violations))
	}
}

func TestValueRange(t *testing.T) {
	min, max := 0.0, 100.0
	rules := []Rule{{Name: "amount-range", Type: ValueRange, Field: "amount",
		Severity: DropRow, Min: &min, Max: &max}}
	rows := []*fpk.ConformedRow{
		row("cust-1", baseTime, "amount", 50.0),
		row("cust-2", baseTime, "amount", -1.0),
		row("cust-3", baseTime, "amount", 101.0),
		row("cust-4", baseTime), // absent value is not a range violation
	}
	res, err := Evaluate(rows, rules, Context{})
	if err != nil {
		t.Fatalf("evaluating: %v", err)
	}
	if len(res.Passing) != 2 {
		t.Fatalf("expected 2 passing rows, got %d", len(res.Passing))
	}
	if len(res.Violations) != 2 {
		t.Fatalf("expected 2 violations, got %d", len(res.Violations))
	}
}

func TestAllowedSet(t *testing.T) {
	rules := []Rule{{Name: "known-channel", Type: AllowedSet, Field: "channel",
		Severity: Warn, Allowed: []string{"web", "mobile"}}}
	rows := []*fpk.ConformedRow{
		row("cust-1", baseTime, "channel", "web"),
		row("cust-2", baseTime, "channel", "fax"),
	}
	res, err := Evaluate(rows, rules, Context{})
	if err != nil {
		t.Fatalf("evaluating: %v", err)
	}
	// Warn severity keeps both rows but annotates the violator.
	if len(res.Passing) != 2 {
		t.Fatalf("expected 2 passing rows, got %d", len(res.Passing))
	}
	var warned *fpk.ConformedRow
	for _, r := range res.Passing {
		if r.Entity == "cust-2" {
			warned = r
		}
	}
	if len(warned.Warnings) != 1 || !strings.Contains(warned.Warnings[0], "known-channel") {
		t.Fatalf("expected warn annotation, got %v", warned.Warnings)
	}
}

func TestUnique(t *testing.T) {
	rules := []Rule{{Name: "unique-entity", Type: Unique, Severity: DropRow}}
	rows := []*fpk.ConformedRow{
		row("cust-1", baseTime),
		row("cust-1", baseTime.Add(time.Minute)),
		row("cust-2", baseTime),
	}
	ctx := Context{Existing: memKeys{"cust-2": true}}
	res, err := Evaluate(rows, rules, ctx)
	if err != nil {
		t.Fatalf("evaluating: %v", err)
	}
	// Second cust-1 duplicates within the batch; cust-2 already exists in
	// the layer.
	if len(res.Passing) != 1 || res.Passing[0].Entity != "cust-1" {
		t.Fatalf("wrong passing rows: %+v", res.Passing)
	}
}

func TestRefExists(t *testing.T) {
	rules := []Rule{{Name: "known-plan", Type: RefExists, Field: "plan",
		Ref: "plans", Severity: DropRow}}
	rows := []*fpk.ConformedRow{
		row("cust-1", baseTime, "plan", "basic"),
		row("cust-2", baseTime, "plan", "imaginary"),
	}
	ctx := Context{Refs: map[string]KeySet{"plans": memKeys{"basic": true, "pro": true}}}
	res, err := Evaluate(rows, rules, ctx)
	if err != nil {
		t.Fatalf("evaluating: %v", err)
	}
	if len(res.Passing) != 1 || res.Passing[0].Entity != "cust-1" {
		t.Fatalf("wrong passing rows: %+v", res.Passing)
	}

	// A rule naming an unknown ref is a broken rule set, not a violation.
	if _, err := Evaluate(rows, rules, Context{}); err == nil {
		t.Fatalf("expected error for missing ref set")
	}
}

func TestMonotonic(t *testing.T) {
	rules := []Rule{{Name: "time-order", Type: Monotonic, Severity: DropRow}}
	rows := []*fpk.ConformedRow{
		row("cust-1", baseTime),
		row("cust-1", baseTime.Add(time.Minute)),
		row("cust-1", baseTime), // regresses
		row("cust-2", baseTime), // separate group, fine
	}
	res, err := Evaluate(rows, rules, Context{})
	if err != nil {
		t.Fatalf("evaluating: %v", err)
	}
	if len(res.Passing) != 3 {
		t.Fatalf("expected 3 passing rows, got %d", len(res.Passing))
	}
	if len(res.Violations) != 1 || res.Violations[0].Entity != "cust-1" {
		t.Fatalf("wrong violations: %+v", res.Violations)
	}
}

func TestFailBatch(t *testing.T) {
	max := 10.0
	rules := []Rule{{Name: "amount-cap", Type: ValueRange, Field: "amount",
		Severity: FailBatch, Max: &max}}
	rows := make([]*fpk.ConformedRow, 0, 8)
	for i := 0; i < 8; i++ {
		rows = append(rows, row("cust-"+string(rune('a'+i)), baseTime, "amount", 99.0))
	}
	res, err := Evaluate(rows, rules, Context{})
	if err != nil {
		t.Fatalf("evaluating: %v", err)
	}
	if res.Failure == nil {
		t.Fatalf("expected batch failure")
	}
	if res.Failure.Rule != "amount-cap" || res.Failure.Violations != 8 {
		t.Fatalf("wrong failure: %+v", res.Failure)
	}
	// Sample keys are capped so the error stays loggable.
	if len(res.Failure.SampleKeys) != 5 {
		t.Fatalf("expected 5 sample keys, got %d", len(res.Failure.SampleKeys))
	}
	if len(res.Passing) != 0 {
		t.Fatalf("fail-batch must not pass rows, got %d", len(res.Passing))
	}
}

func TestGaterCheck(t *testing.T) {
	max := 10.0
	g := &Gater{Rules: []Rule{{Name: "amount-cap", Type: ValueRange, Field: "amount",
		Severity: FailBatch, Max: &max}}}

	passing, violations, err := g.Check([]*fpk.ConformedRow{row("cust-1", baseTime, "amount", 5.0)})
	if err != nil {
		t.Fatalf("checking clean batch: %v", err)
	}
	if len(passing) != 1 || len(violations) != 0 {
		t.Fatalf("clean batch mishandled: %d passing, %d violations", len(passing), len(violations))
	}

	_, violations, err = g.Check([]*fpk.ConformedRow{row("cust-1", baseTime, "amount", 50.0)})
	if err == nil {
		t.Fatalf("expected gate failure")
	}
	if _, ok := err.(*fpk.QualityGateError); !ok {
		t.Fatalf("expected *fpk.QualityGateError, got %T", err)
	}
	if len(violations) != 1 {
		t.Fatalf("expected violations alongside failure, got %d", len(violations))
	}
}

func TestParseRules(t *testing.T) {
	rules, err := ParseRules([]byte(`
rules:
  - name: amount-range
    type: value-range
    field: amount
    severity: drop-row
    min: 0
    max: 10000
  - name: known-channel
    type: allowed-set
    field: channel
    severity: warn
    allowed: [web, mobile]
`))
	if err != nil {
		t.Fatalf("parsing: %v", err)
	}
	if len(rules) != 2 {
		t.Fatalf("expected 2 rules, got %d", len(rules))
	}
	if rules[0].Min == nil || *rules[0].Min != 0 || *rules[0].Max != 10000 {
		t.Fatalf("range bounds lost: %+v", rules[0])
	}
	if rules[1].Allowed[1] != "mobile" {
		t.Fatalf("allowed set lost: %+v", rules[1])
	}
}

func TestParseRulesRejectsUnknown(t *testing.T) {
	// Unknown YAML keys are typos, not extensions.
	if _, err := ParseRules([]byte("rules:\n  - name: x\n    type: not-null\n    severity: warn\n    wat: 1\n")); err == nil {
		t.Fatalf("expected error for unknown key")
	}
	// Unknown rule types and severities fail validation.
	if _, err := ParseRules([]byte("rules:\n  - name: x\n    type: psychic\n    severity: warn\n")); err == nil {
		t.Fatalf("expected error for unknown type")
	}
	if _, err := ParseRules([]byte("rules:\n  - name: x\n    type: not-null\n    severity: shrug\n")); err == nil {
		t.Fatalf("expected error for unknown severity")
	}
	if _, err := ParseRules([]byte("rules:\n  - name: x\n    type: ref-exists\n    severity: warn\n")); err == nil {
		t.Fatalf("expected error for ref-exists without ref")
	}
}

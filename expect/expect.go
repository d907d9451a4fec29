// Package expect implements the declarative data-quality expectation engine.
// Rules are evaluated as a pure classification pass over a micro-batch;
// severity policy is applied in one place afterwards, and promotion is gated
// on a single explicit check rather than branches in the write path.
package expect

import (
	"fmt"

	"github.com/lakewing/fpk"
	"github.com/pkg/errors"
)

// Severity controls what a rule violation does to the batch.
type Severity string

const (
	// Warn lets the row through with an attached annotation.
	Warn Severity = "warn"
	// DropRow excludes the row from the output and counts it.
	DropRow Severity = "drop-row"
	// FailBatch aborts promotion of the whole ingestion unit.
	FailBatch Severity = "fail-batch"
)

// RuleType names a supported predicate.
type RuleType string

const (
	NotNull    RuleType = "not-null"
	ValueRange RuleType = "value-range"
	AllowedSet RuleType = "allowed-set"
	Unique     RuleType = "unique"
	RefExists  RuleType = "ref-exists"
	Monotonic  RuleType = "monotonic"
)

// Rule is one declarative expectation: a predicate over a field plus the
// severity applied to violations.
type Rule struct {
	Name     string   `yaml:"name"`
	Type     RuleType `yaml:"type"`
	Field    string   `yaml:"field"`
	Severity Severity `yaml:"severity"`

	// ValueRange bounds; nil means unbounded on that side.
	Min *float64 `yaml:"min,omitempty"`
	Max *float64 `yaml:"max,omitempty"`

	// AllowedSet membership.
	Allowed []string `yaml:"allowed,omitempty"`

	// RefExists: the name of the key set (in Context.Refs) the field value
	// must exist in.
	Ref string `yaml:"ref,omitempty"`

	// Monotonic: group rows by this field ("" groups by entity); event time
	// must be non-decreasing within a group in batch order.
	GroupBy string `yaml:"group_by,omitempty"`
}

func (r Rule) validate() error {
	switch r.Type {
	case NotNull, ValueRange, AllowedSet, Unique, RefExists, Monotonic:
	default:
		return errors.Errorf("rule %q: unknown type %q", r.Name, r.Type)
	}
	switch r.Severity {
	case Warn, DropRow, FailBatch:
	default:
		return errors.Errorf("rule %q: unknown severity %q", r.Name, r.Severity)
	}
	if r.Type == RefExists && r.Ref == "" {
		return errors.Errorf("rule %q: ref-exists needs a ref", r.Name)
	}
	return nil
}

// KeySet answers existence queries against a layer's committed keys.
// *table.Layer satisfies it.
type KeySet interface {
	Has(key string) (bool, error)
}

// Context supplies the aggregate state rules evaluate against: the target
// layer's existing keys (for uniqueness) and named reference key sets (for
// referential existence).
type Context struct {
	Existing KeySet
	Refs     map[string]KeySet
}

// Result is the classified outcome of evaluating a rule set over a batch.
type Result struct {
	// Passing are the surviving rows, with warn annotations attached.
	Passing []*fpk.ConformedRow
	// Violations is every violation observed, across all severities.
	Violations []fpk.Violation
	// Failure is non-nil when a fail-batch rule was violated; in that case
	// Passing is empty and nothing from the batch may be promoted.
	Failure *fpk.QualityGateError
}

// Evaluate runs every rule over the batch and classifies the outcome. It
// never mutates the batch order and only annotates rows which pass with
// warnings. An error return means the rule set itself is unusable.
func Evaluate(rows []*fpk.ConformedRow, rules []Rule, ctx Context) (*Result, error) {
	res := &Result{}
	dropped := make([]bool, len(rows))

	for _, rule := range rules {
		if err := rule.validate(); err != nil {
			return nil, err
		}
		hits, err := violators(rows, rule, ctx)
		if err != nil {
			return nil, errors.Wrapf(err, "evaluating rule %q", rule.Name)
		}
		if len(hits) == 0 {
			continue
		}
		for idx, detail := range hits {
			res.Violations = append(res.Violations, fpk.Violation{
				Rule:     rule.Name,
				Severity: string(rule.Severity),
				Entity:   rows[idx].Entity,
				Field:    rule.Field,
				Detail:   detail,
			})
		}
		switch rule.Severity {
		case FailBatch:
			if res.Failure == nil {
				res.Failure = &fpk.QualityGateError{
					Rule:       rule.Name,
					Violations: len(hits),
					SampleKeys: sampleKeys(rows, hits, 5),
				}
			}
		case DropRow:
			for idx := range hits {
				dropped[idx] = true
			}
		case Warn:
			for idx, detail := range hits {
				rows[idx].Warnings = append(rows[idx].Warnings,
					fmt.Sprintf("%s: %s", rule.Name, detail))
			}
		}
	}

	if res.Failure != nil {
		return res, nil
	}
	for i, row := range rows {
		if !dropped[i] {
			res.Passing = append(res.Passing, row)
		}
	}
	return res, nil
}

// violators returns the violating row indices mapped to a human-readable
// detail.
func violators(rows []*fpk.ConformedRow, rule Rule, ctx Context) (map[int]string, error) {
	hits := make(map[int]string)
	switch rule.Type {
	case NotNull:
		for i, row := range rows {
			if v, ok := row.Values[rule.Field]; !ok || v == nil {
				hits[i] = "value is null"
			}
		}
	case ValueRange:
		for i, row := range rows {
			v, ok := row.Values[rule.Field]
			if !ok || v == nil {
				continue
			}
			f := row.Float(rule.Field)
			if rule.Min != nil && f < *rule.Min {
				hits[i] = fmt.Sprintf("%v below minimum %v", f, *rule.Min)
			}
			if rule.Max != nil && f > *rule.Max {
				hits[i] = fmt.Sprintf("%v above maximum %v", f, *rule.Max)
			}
		}
	case AllowedSet:
		allowed := make(map[string]bool, len(rule.Allowed))
		for _, a := range rule.Allowed {
			allowed[a] = true
		}
		for i, row := range rows {
			v, ok := row.Values[rule.Field]
			if !ok || v == nil {
				continue
			}
			if s := row.String(rule.Field); !allowed[s] {
				hits[i] = fmt.Sprintf("%q not in allowed set", s)
			}
		}
	case Unique:
		seen := make(map[string]bool)
		for i, row := range rows {
			key := keyOf(row, rule.Field)
			if key == "" {
				continue
			}
			if seen[key] {
				hits[i] = fmt.Sprintf("duplicate key %q in batch", key)
				continue
			}
			seen[key] = true
			if ctx.Existing == nil {
				continue
			}
			exists, err := ctx.Existing.Has(key)
			if err != nil {
				return nil, errors.Wrap(err, "checking existing keys")
			}
			if exists {
				hits[i] = fmt.Sprintf("key %q already exists in layer", key)
			}
		}
	case RefExists:
		ref, ok := ctx.Refs[rule.Ref]
		if !ok {
			return nil, errors.Errorf("no key set named %q in context", rule.Ref)
		}
		for i, row := range rows {
			key := keyOf(row, rule.Field)
			if key == "" {
				continue
			}
			exists, err := ref.Has(key)
			if err != nil {
				return nil, errors.Wrapf(err, "checking ref %q", rule.Ref)
			}
			if !exists {
				hits[i] = fmt.Sprintf("key %q not found in %s", key, rule.Ref)
			}
		}
	case Monotonic:
		last := make(map[string]int)
		for i, row := range rows {
			group := string(row.Entity)
			if rule.GroupBy != "" {
				group = row.String(rule.GroupBy)
			}
			if j, ok := last[group]; ok && row.EventTime.Before(rows[j].EventTime) {
				hits[i] = fmt.Sprintf("event time regresses within group %q", group)
				continue
			}
			last[group] = i
		}
	}
	return hits, nil
}

func keyOf(row *fpk.ConformedRow, field string) string {
	if field == "" {
		return string(row.Entity)
	}
	return row.String(field)
}

func sampleKeys(rows []*fpk.ConformedRow, hits map[int]string, max int) []fpk.EntityKey {
	keys := make([]fpk.EntityKey, 0, max)
	for i, row := range rows {
		if _, ok := hits[i]; !ok {
			continue
		}
		keys = append(keys, row.Entity)
		if len(keys) == max {
			break
		}
	}
	return keys
}

// Gater applies a rule set as a fpk.Gate.
type Gater struct {
	Rules []Rule
	Ctx   Context
}

// Check implements fpk.Gate.
func (g *Gater) Check(rows []*fpk.ConformedRow) ([]*fpk.ConformedRow, []fpk.Violation, error) {
	res, err := Evaluate(rows, g.Rules, g.Ctx)
	if err != nil {
		return nil, nil, err
	}
	if res.Failure != nil {
		return nil, res.Violations, res.Failure
	}
	return res.Passing, res.Violations, nil
}

package fpk

import (
	"time"

	"github.com/pkg/errors"
)

// EntityKey is the stable customer identifier every conformed and curated
// row is keyed by.
type EntityKey string

// ConformedRow is a RawRecord validated and normalized into a typed schema.
// Rows are superseded by later versions in the table store, never mutated.
type ConformedRow struct {
	Entity    EntityKey              `json:"entity"`
	EventTime time.Time              `json:"event_time"`
	Values    map[string]interface{} `json:"values"`

	// Warnings carries annotations attached by warn-severity expectations.
	Warnings []string `json:"warnings,omitempty"`
}

// String returns the row's string value for field, or "" if absent or not a
// string.
func (r *ConformedRow) String(field string) string {
	s, _ := r.Values[field].(string)
	return s
}

// Float returns the row's numeric value for field. JSON decoding leaves all
// numbers as float64.
func (r *ConformedRow) Float(field string) float64 {
	switch v := r.Values[field].(type) {
	case float64:
		return v
	case int64:
		return float64(v)
	case int:
		return float64(v)
	}
	return 0
}

// FeatureVector is a set of named feature values for an entity, valid as of
// AsOf. Every value is derivable solely from conformed rows with event time
// at or before AsOf.
type FeatureVector struct {
	Entity   EntityKey          `json:"entity_key"`
	AsOf     time.Time          `json:"as_of_time"`
	Features map[string]float64 `json:"features"`

	// Written is when the vector was materialized; the online store uses it
	// to enforce the staleness bound.
	Written time.Time `json:"written,omitempty"`
}

// ScoreRecord is an immutable scoring result. Newer records supersede older
// ones; they are never mutated in place.
type ScoreRecord struct {
	ID           string    `json:"id"`
	Entity       EntityKey `json:"entity_key"`
	Score        float64   `json:"score"`
	RiskBand     string    `json:"risk_band"`
	NextAction   string    `json:"next_best_action,omitempty"`
	ModelVersion string    `json:"model_version"`
	ProducedAt   time.Time `json:"produced_at"`
}

// FieldType enumerates the value types a conformed field may hold.
type FieldType string

const (
	TypeString FieldType = "string"
	TypeInt    FieldType = "int"
	TypeFloat  FieldType = "float"
	TypeBool   FieldType = "bool"
	TypeTime   FieldType = "time"
)

// Field is one column of a layer schema.
type Field struct {
	Name     string    `json:"name"`
	Type     FieldType `json:"type"`
	Nullable bool      `json:"nullable"`
}

// Schema is the ordered set of typed fields a layer accepts.
type Schema []Field

// Field returns the named field and whether it exists.
func (s Schema) Field(name string) (Field, bool) {
	for _, f := range s {
		if f.Name == name {
			return f, true
		}
	}
	return Field{}, false
}

// Evolve merges next into s. An empty s takes next as the baseline; after
// that, new fields must be nullable and are appended, and redefining an
// existing field's type, making it non-nullable, or anything else that would
// narrow the schema returns ErrIncompatibleSchemaChange. Fields absent from
// next are retained: dropping a column is a narrowing change and needs an
// explicit migration.
func (s Schema) Evolve(next Schema) (Schema, error) {
	if len(s) == 0 {
		out := make(Schema, len(next))
		copy(out, next)
		return out, nil
	}
	out := make(Schema, len(s), len(s)+len(next))
	copy(out, s)
	for _, nf := range next {
		cur, exists := s.Field(nf.Name)
		if !exists {
			if !nf.Nullable {
				return nil, errors.Wrapf(ErrIncompatibleSchemaChange,
					"new field %q must be nullable", nf.Name)
			}
			out = append(out, nf)
			continue
		}
		if cur.Type != nf.Type {
			return nil, errors.Wrapf(ErrIncompatibleSchemaChange,
				"field %q: %s -> %s", nf.Name, cur.Type, nf.Type)
		}
		if cur.Nullable && !nf.Nullable {
			return nil, errors.Wrapf(ErrIncompatibleSchemaChange,
				"field %q cannot become non-nullable", nf.Name)
		}
	}
	return out, nil
}

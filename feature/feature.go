// Package feature computes windowed, point-in-time-correct feature vectors
// from the conformed layer and materializes them to the curated offline
// layer and the online store in one pass, so both read paths derive from the
// same computation.
package feature

import (
	"time"

	"github.com/lakewing/fpk"
)

// Window is one trailing aggregation window.
type Window struct {
	Suffix string
	Span   time.Duration
}

// Config controls feature derivation. Lateness is the watermark tolerance:
// how far behind the processing horizon an event may arrive and still be
// included in an open window. It has no universal default that is safe to
// assume, so it is explicit configuration.
type Config struct {
	Windows        []Window
	Lateness       time.Duration
	InactiveAfter  time.Duration
	EventTypeField string
	AmountField    string
}

// DefaultConfig returns the stock configuration: trailing 7 and 30 day
// windows, one hour of lateness tolerance, inactivity at 30 days.
func DefaultConfig() Config {
	return Config{
		Windows: []Window{
			{Suffix: "7d", Span: 7 * 24 * time.Hour},
			{Suffix: "30d", Span: 30 * 24 * time.Hour},
		},
		Lateness:       time.Hour,
		InactiveAfter:  30 * 24 * time.Hour,
		EventTypeField: "event_type",
		AmountField:    "amount",
	}
}

// Schema returns the curated-layer schema of the rows this configuration
// materializes. Feature columns are nullable so that adding a window evolves
// the gold schema instead of breaking it.
func (c Config) Schema() fpk.Schema {
	s := fpk.Schema{
		{Name: "as_of", Type: fpk.TypeString},
		{Name: "written", Type: fpk.TypeString},
	}
	for _, w := range c.Windows {
		for _, prefix := range []string{"logins_", "purchases_", "amount_", "tickets_"} {
			s = append(s, fpk.Field{Name: prefix + w.Suffix, Type: fpk.TypeFloat, Nullable: true})
		}
	}
	return append(s,
		fpk.Field{Name: "days_since_activity", Type: fpk.TypeFloat, Nullable: true},
		fpk.Field{Name: "label_inactive", Type: fpk.TypeFloat, Nullable: true},
		fpk.Field{Name: "label_canceled", Type: fpk.TypeFloat, Nullable: true},
	)
}

func (c Config) maxSpan() time.Duration {
	max := time.Duration(0)
	for _, w := range c.Windows {
		if w.Span > max {
			max = w.Span
		}
	}
	return max
}

// Compute derives the feature vector for one entity from its conformed rows.
// Only rows with event time at or before asOf contribute; the no-look-ahead
// invariant lives here. Labels (inactivity, cancellation) are derived from
// the same rows under the same as-of discipline, so a label never reflects
// information contemporaneous with or after the features it is paired with.
func Compute(entity fpk.EntityKey, rows []*fpk.ConformedRow, asOf time.Time, cfg Config) fpk.FeatureVector {
	features := map[string]float64{}
	for _, w := range cfg.Windows {
		features["logins_"+w.Suffix] = 0
		features["purchases_"+w.Suffix] = 0
		features["amount_"+w.Suffix] = 0
		features["tickets_"+w.Suffix] = 0
	}

	var lastActivity time.Time
	canceled := false
	for _, row := range rows {
		if row.EventTime.After(asOf) {
			continue
		}
		if row.EventTime.After(lastActivity) {
			lastActivity = row.EventTime
		}
		kind := row.String(cfg.EventTypeField)
		if kind == "cancel" {
			canceled = true
		}
		age := asOf.Sub(row.EventTime)
		for _, w := range cfg.Windows {
			if age > w.Span {
				continue
			}
			switch kind {
			case "login":
				features["logins_"+w.Suffix]++
			case "purchase":
				features["purchases_"+w.Suffix]++
				features["amount_"+w.Suffix] += row.Float(cfg.AmountField)
			case "ticket":
				features["tickets_"+w.Suffix]++
			}
		}
	}

	if lastActivity.IsZero() {
		features["days_since_activity"] = -1
	} else {
		features["days_since_activity"] = asOf.Sub(lastActivity).Hours() / 24
	}
	features["label_inactive"] = 0
	if lastActivity.IsZero() || asOf.Sub(lastActivity) >= cfg.InactiveAfter {
		features["label_inactive"] = 1
	}
	features["label_canceled"] = 0
	if canceled {
		features["label_canceled"] = 1
	}

	return fpk.FeatureVector{Entity: entity, AsOf: asOf, Features: features}
}

// keyTimeLayout is fixed-width UTC so natural keys sort chronologically
// within an entity prefix.
const keyTimeLayout = "20060102T150405.000000000Z"

// NatKey is the curated-layer natural key for an entity's vector at asOf.
func NatKey(entity fpk.EntityKey, asOf time.Time) string {
	return string(entity) + "|" + asOf.UTC().Format(keyTimeLayout)
}

// GoldKey derives the natural key from a curated row, for use as the gold
// layer's natural key function.
func GoldKey(row *fpk.ConformedRow) string {
	if s, ok := row.Values["as_of"].(string); ok {
		return string(row.Entity) + "|" + s
	}
	return string(row.Entity)
}

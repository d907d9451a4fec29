package feature

import (
	"time"

	"github.com/lakewing/fpk"
	"github.com/lakewing/fpk/table"
	"github.com/pkg/errors"
)

// Lookup serves offline (point-in-time) feature reads from the gold layer.
// Training-set construction goes through GetOffline so a feature value used
// for time T can never contain information from after T.
type Lookup struct {
	gold *table.Layer
}

// NewLookup creates a Lookup over the gold layer.
func NewLookup(gold *table.Layer) *Lookup {
	return &Lookup{gold: gold}
}

// GetOffline returns the vector whose as-of time is the greatest value at or
// before asOf for the entity (the point-in-time join). ErrNoFeatures if the
// entity has no vector at or before asOf.
func (lk *Lookup) GetOffline(entity fpk.EntityKey, asOf time.Time) (fpk.FeatureVector, error) {
	rows, err := lk.gold.PrefixAsOf(string(entity)+"|", 0)
	if err != nil {
		return fpk.FeatureVector{}, errors.Wrapf(err, "reading gold rows for %s", entity)
	}
	var best *fpk.ConformedRow
	var bestAsOf time.Time
	for _, row := range rows {
		rowAsOf, err := rowAsOfTime(row)
		if err != nil {
			return fpk.FeatureVector{}, err
		}
		if rowAsOf.After(asOf) {
			continue
		}
		if best == nil || rowAsOf.After(bestAsOf) {
			best, bestAsOf = row, rowAsOf
		}
	}
	if best == nil {
		return fpk.FeatureVector{}, errors.Wrapf(fpk.ErrNoFeatures, "entity %s as of %s", entity, asOf)
	}
	return rowVector(best, bestAsOf), nil
}

func rowAsOfTime(row *fpk.ConformedRow) (time.Time, error) {
	s, ok := row.Values["as_of"].(string)
	if !ok {
		return time.Time{}, errors.Errorf("gold row for %s has no as_of", row.Entity)
	}
	t, err := time.Parse(keyTimeLayout, s)
	return t, errors.Wrapf(err, "parsing as_of %q", s)
}

// rowVector reverses vectorRow.
func rowVector(row *fpk.ConformedRow, asOf time.Time) fpk.FeatureVector {
	fv := fpk.FeatureVector{
		Entity:   row.Entity,
		AsOf:     asOf,
		Features: make(map[string]float64, len(row.Values)),
	}
	for name, val := range row.Values {
		if name == "as_of" || name == "written" {
			continue
		}
		if f, ok := val.(float64); ok {
			fv.Features[name] = f
		}
	}
	if s, ok := row.Values["written"].(string); ok {
		if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
			fv.Written = t
		}
	}
	return fv
}

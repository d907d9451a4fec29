// Package govern holds implementations of the external governance/catalog
// collaborator interface. The pipeline records lineage for every layer
// commit and consults access checks at the serving boundary; authorization
// itself is the catalog's problem, not ours.
package govern

import "github.com/lakewing/fpk"

// LogCatalog is a fpk.Catalog which writes lineage events to a logger and
// allows all access. It stands in where no real catalog service is wired.
type LogCatalog struct {
	Log fpk.Logger
}

var _ fpk.Catalog = LogCatalog{}

// RecordLineage implements fpk.Catalog.
func (c LogCatalog) RecordLineage(layer string, version uint64, inputs []string) error {
	c.Log.Debugf("lineage: %s@%d <- %d input(s)", layer, version, len(inputs))
	return nil
}

// CheckAccess implements fpk.Catalog.
func (c LogCatalog) CheckAccess(principal, table string) error {
	c.Log.Debugf("access: %s -> %s", principal, table)
	return nil
}

// NopCatalog discards lineage and allows all access.
type NopCatalog struct{}

var _ fpk.Catalog = NopCatalog{}

// RecordLineage implements fpk.Catalog.
func (NopCatalog) RecordLineage(string, uint64, []string) error { return nil }

// CheckAccess implements fpk.Catalog.
func (NopCatalog) CheckAccess(string, string) error { return nil }

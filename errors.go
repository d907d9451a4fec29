package fpk

import (
	"fmt"
	"strings"
)

// Error is a constant error type for the failure taxonomy of the pipeline.
type Error string

func (e Error) Error() string { return string(e) }

const (
	// ErrStaleCursor is returned by a Checkpointer when an advance is not
	// monotonically ahead of the committed cursor. It indicates a bug or
	// concurrent double-processing and is fatal to the calling job.
	ErrStaleCursor = Error("checkpoint cursor is not ahead of the committed cursor")

	// ErrIncompatibleSchemaChange is returned when a write would narrow or
	// retype an existing field. Such changes require an explicit migration.
	ErrIncompatibleSchemaChange = Error("incompatible schema change")

	// ErrVersionConflict is returned by an optimistic layer commit when the
	// layer version changed between read and commit. Callers retry against
	// the new version.
	ErrVersionConflict = Error("layer version changed since read")

	// ErrFeatureStale is returned by the online store when the latest
	// materialized vector is older than the configured staleness bound.
	ErrFeatureStale = Error("online features exceed staleness bound")

	// ErrNoFeatures is returned when no feature vector exists for an entity
	// at or before the requested time.
	ErrNoFeatures = Error("no features for entity")

	// ErrScoringUnavailable is returned by online scoring when the feature
	// store cannot answer within the request timeout.
	ErrScoringUnavailable = Error("scoring unavailable within deadline")
)

// Violation describes a single expectation failure observed during gate
// evaluation.
type Violation struct {
	Rule     string
	Severity string
	Entity   EntityKey
	Field    string
	Detail   string
}

// QualityGateError is returned when a fail-batch severity rule is violated.
// The entire ingestion unit is aborted and no rows from it are promoted.
type QualityGateError struct {
	Rule       string
	Violations int
	SampleKeys []EntityKey
}

func (e *QualityGateError) Error() string {
	keys := make([]string, len(e.SampleKeys))
	for i, k := range e.SampleKeys {
		keys[i] = string(k)
	}
	return fmt.Sprintf("quality gate failed: rule %q violated by %d row(s), sample keys: %s",
		e.Rule, e.Violations, strings.Join(keys, ", "))
}

// IngestionError wraps a source-level failure (unreachable source, malformed
// file). These are retried with backoff by the caller before escalating.
type IngestionError struct {
	Source string
	Err    error
}

func (e *IngestionError) Error() string {
	return fmt.Sprintf("ingesting from %s: %v", e.Source, e.Err)
}

func (e *IngestionError) Unwrap() error { return e.Err }

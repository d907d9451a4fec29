package fpk

import "time"

// Outcome is the terminal status of a pipeline stage run.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeWarning Outcome = "warning"
	OutcomeFailure Outcome = "failure"
)

// StageStatus is the structured result a stage reports to the orchestrator.
// Scheduling and retry policy live outside this core; stages only report.
type StageStatus struct {
	Stage      string    `json:"stage"`
	Outcome    Outcome   `json:"outcome"`
	Cause      string    `json:"cause,omitempty"`
	Records    int       `json:"records"`
	Violations int       `json:"violations"`
	At         time.Time `json:"at"`
}

// Reporter consumes stage results. Implementations must not block the
// pipeline for long.
type Reporter interface {
	Report(s StageStatus)
}

// LogReporter writes stage results to a Logger.
type LogReporter struct {
	Log Logger
}

// Report implements Reporter.
func (r LogReporter) Report(s StageStatus) {
	r.Log.Printf("stage %s: %s records=%d violations=%d %s",
		s.Stage, s.Outcome, s.Records, s.Violations, s.Cause)
}

// NopReporter discards stage results.
type NopReporter struct{}

// Report implements Reporter.
func (NopReporter) Report(StageStatus) {}

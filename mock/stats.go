package mock

import (
	"time"

	"github.com/lakewing/fpk"
)

// RecordingStatter is used for testing. Not threadsafe.
type RecordingStatter struct {
	Counts map[string]int64
}

// Count implements fpk.Statter.
func (r *RecordingStatter) Count(name string, value int64, rate float64, tags ...string) {
	if r.Counts == nil {
		r.Counts = make(map[string]int64)
	}
	r.Counts[name] += value
}

// Gauge implements fpk.Statter.
func (r *RecordingStatter) Gauge(name string, value float64, rate float64, tags ...string) {}

// Timing implements fpk.Statter.
func (r *RecordingStatter) Timing(name string, value time.Duration, rate float64, tags ...string) {}

// RecordingReporter collects stage statuses for testing. Not threadsafe.
type RecordingReporter struct {
	Statuses []fpk.StageStatus
}

// Report implements fpk.Reporter.
func (r *RecordingReporter) Report(s fpk.StageStatus) {
	r.Statuses = append(r.Statuses, s)
}

// Last returns the most recent status, or a zero status if none were
// reported.
func (r *RecordingReporter) Last() fpk.StageStatus {
	if len(r.Statuses) == 0 {
		return fpk.StageStatus{}
	}
	return r.Statuses[len(r.Statuses)-1]
}

package fake

import (
	"encoding/json"
	"io"
	"time"

	"github.com/lakewing/fpk"
)

// Source is an fpk.Source which generates fake customer events on a
// synthetic single-partition stream cursor. It exists for demos and tests.
type Source struct {
	g      *EventGenerator
	max    int
	offset int64
}

// NewSource creates a Source with the given random seed emitting max events
// (0 means unbounded). The same seed gives the same series of events.
func NewSource(seed int64, max int) *Source {
	return &Source{
		g:   NewEventGenerator(seed, 100, time.Now().UTC().Add(-30*24*time.Hour), time.Minute),
		max: max,
	}
}

// Record implements fpk.Source.
func (s *Source) Record() (*fpk.RawRecord, error) {
	if s.max > 0 && s.offset >= int64(s.max) {
		return nil, io.EOF
	}
	ev := s.g.Event()
	payload, err := json.Marshal(ev)
	if err != nil {
		return nil, err
	}
	rec := &fpk.RawRecord{
		Source:   "fake",
		ID:       ev.ID,
		Payload:  payload,
		Ingested: time.Now().UTC(),
		Cursor:   fpk.StreamCursor{0: s.offset + 1},
	}
	s.offset++
	return rec, nil
}

// Seek implements fpk.CursorSeeker by fast-forwarding the generator, so a
// resumed run continues the same deterministic series.
func (s *Source) Seek(c fpk.Cursor) error {
	sc, ok := c.(fpk.StreamCursor)
	if !ok {
		return nil
	}
	for s.offset < sc[0] {
		s.g.Event()
		s.offset++
	}
	return nil
}

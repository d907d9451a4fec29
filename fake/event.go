package fake

import (
	"encoding/json"
	"fmt"
	"math/rand"
	"time"
)

// Event is a synthetic customer lifecycle event shaped like the JSON the
// pipeline ingests in production.
type Event struct {
	ID         string  `json:"id"`
	CustomerID string  `json:"customer_id"`
	EventType  string  `json:"event_type"`
	EventTime  string  `json:"event_time"`
	Amount     float64 `json:"amount"`
	Channel    string  `json:"channel"`
	Plan       string  `json:"plan"`
}

var channels = []string{"web", "ios", "android", "support"}
var plans = []string{"free", "starter", "pro", "enterprise"}

// EventGenerator produces a deterministic stream of customer events. The
// same seed gives the same series on a given version of Go.
type EventGenerator struct {
	r         *rand.Rand
	customers int
	start     time.Time
	step      time.Duration
	clock     time.Time
	seq       uint64
}

// NewEventGenerator gets a new EventGenerator over the given number of
// customers, emitting events spaced step apart starting at start.
func NewEventGenerator(seed int64, customers int, start time.Time, step time.Duration) *EventGenerator {
	if customers <= 0 {
		customers = 100
	}
	return &EventGenerator{
		r:         rand.New(rand.NewSource(seed)),
		customers: customers,
		start:     start,
		step:      step,
		clock:     start,
	}
}

// Event generates the next event. Event types are weighted: logins dominate,
// purchases and tickets are occasional, cancels are rare.
func (g *EventGenerator) Event() *Event {
	g.seq++
	ev := &Event{
		ID:         fmt.Sprintf("ev-%d", g.seq),
		CustomerID: fmt.Sprintf("cust-%04d", g.r.Intn(g.customers)+1),
		EventTime:  g.clock.Format(time.RFC3339),
		Channel:    channels[g.r.Intn(len(channels))],
		Plan:       plans[g.r.Intn(len(plans))],
	}
	g.clock = g.clock.Add(g.step)
	switch n := g.r.Intn(100); {
	case n < 60:
		ev.EventType = "login"
	case n < 80:
		ev.EventType = "purchase"
		ev.Amount = float64(g.r.Intn(20000)) / 100
	case n < 95:
		ev.EventType = "ticket"
	case n < 98:
		ev.EventType = "signup"
	default:
		ev.EventType = "cancel"
	}
	return ev
}

// Payloads generates n events encoded as JSON payloads.
func (g *EventGenerator) Payloads(n int) [][]byte {
	payloads := make([][]byte, n)
	for i := 0; i < n; i++ {
		raw, _ := json.Marshal(g.Event())
		payloads[i] = raw
	}
	return payloads
}

package fake

import (
	"bytes"
	"encoding/json"
	"io"
	"testing"
	"time"

	"github.com/lakewing/fpk"
)

var start = time.Date(2024, time.March, 1, 0, 0, 0, 0, time.UTC)

func TestGeneratorDeterministic(t *testing.T) {
	g1 := NewEventGenerator(42, 100, start, time.Minute)
	g2 := NewEventGenerator(42, 100, start, time.Minute)
	p1, p2 := g1.Payloads(200), g2.Payloads(200)
	for i := range p1 {
		if !bytes.Equal(p1[i], p2[i]) {
			t.Fatalf("payload %d differs:\n%s\n%s", i, p1[i], p2[i])
		}
	}

	g3 := NewEventGenerator(43, 100, start, time.Minute)
	same := true
	for i, p := range g3.Payloads(200) {
		if !bytes.Equal(p, p1[i]) {
			same = false
			break
		}
	}
	if same {
		t.Fatalf("different seeds produced identical series")
	}
}

func TestGeneratorEventShape(t *testing.T) {
	g := NewEventGenerator(1, 10, start, time.Minute)
	sawPurchase := false
	for i := 0; i < 500; i++ {
		ev := g.Event()
		switch ev.EventType {
		case "login", "ticket", "signup", "cancel":
		case "purchase":
			sawPurchase = true
			if ev.Amount < 0 || ev.Amount >= 200 {
				t.Fatalf("purchase amount out of range: %v", ev.Amount)
			}
		default:
			t.Fatalf("unknown event type %q", ev.EventType)
		}
		if ev.CustomerID == "" || ev.EventTime == "" {
			t.Fatalf("event missing fields: %+v", ev)
		}
		if _, err := time.Parse(time.RFC3339, ev.EventTime); err != nil {
			t.Fatalf("bad event time %q: %v", ev.EventTime, err)
		}
	}
	if !sawPurchase {
		t.Fatalf("500 events with no purchase")
	}
}

func TestSourceBounded(t *testing.T) {
	s := NewSource(1, 5)
	for i := 0; i < 5; i++ {
		rec, err := s.Record()
		if err != nil {
			t.Fatalf("record %d: %v", i, err)
		}
		sc := rec.Cursor.(fpk.StreamCursor)
		if sc[0] != int64(i)+1 {
			t.Fatalf("record %d has cursor %v", i, sc)
		}
	}
	if _, err := s.Record(); err != io.EOF {
		t.Fatalf("expected EOF after max events, got %v", err)
	}
}

func TestSourceSeekResumesSeries(t *testing.T) {
	// The wall-clock anchored event times differ between two sources, but
	// everything seeded must match after a seek.
	key := func(payload []byte) Event {
		var ev Event
		if err := json.Unmarshal(payload, &ev); err != nil {
			t.Fatalf("unmarshaling payload: %v", err)
		}
		ev.EventTime = ""
		return ev
	}

	full := NewSource(7, 10)
	var want []Event
	for {
		rec, err := full.Record()
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("reading: %v", err)
		}
		want = append(want, key(rec.Payload))
	}

	resumed := NewSource(7, 10)
	if err := resumed.Seek(fpk.StreamCursor{0: 4}); err != nil {
		t.Fatalf("seeking: %v", err)
	}
	for i := 4; i < 10; i++ {
		rec, err := resumed.Record()
		if err != nil {
			t.Fatalf("reading resumed: %v", err)
		}
		if got := key(rec.Payload); got != want[i] {
			t.Fatalf("resumed record %d differs:\n%+v\n%+v", i, got, want[i])
		}
	}
}

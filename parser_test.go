package fpk

import (
	"testing"
	"time"
)

func testSchema() Schema {
	return Schema{
		{Name: "event_type", Type: TypeString},
		{Name: "amount", Type: TypeFloat, Nullable: true},
		{Name: "active", Type: TypeBool, Nullable: true},
	}
}

func TestJSONParserParse(t *testing.T) {
	p := NewJSONParser(testSchema())
	rec := &RawRecord{
		ID:      "f.json#0",
		Payload: []byte(`{"customer_id":"cust-1","event_time":"2024-03-01T12:00:00Z","event_type":"purchase","amount":"19.99","active":true}`),
	}
	row, err := p.Parse(rec)
	if err != nil {
		t.Fatalf("parsing: %v", err)
	}
	if row.Entity != "cust-1" {
		t.Fatalf("wrong entity: %s", row.Entity)
	}
	want := time.Date(2024, time.March, 1, 12, 0, 0, 0, time.UTC)
	if !row.EventTime.Equal(want) {
		t.Fatalf("wrong event time: %s", row.EventTime)
	}
	if row.String("event_type") != "purchase" {
		t.Fatalf("wrong event_type: %v", row.Values["event_type"])
	}
	// String amounts coerce to the schema's float type.
	if row.Float("amount") != 19.99 {
		t.Fatalf("wrong amount: %v", row.Values["amount"])
	}
}

func TestJSONParserMissingEntity(t *testing.T) {
	p := NewJSONParser(testSchema())
	rec := &RawRecord{
		ID:      "f.json#1",
		Payload: []byte(`{"event_time":"2024-03-01T12:00:00Z","event_type":"login"}`),
	}
	if _, err := p.Parse(rec); err == nil {
		t.Fatalf("expected error for missing entity field")
	}
}

func TestJSONParserTimeFormats(t *testing.T) {
	p := NewJSONParser(testSchema())
	for _, raw := range []string{
		`"2024-03-01T12:00:00.123Z"`,
		`"2024-03-01 12:00:00"`,
		`"2024-03-01"`,
		`1709294400`,
	} {
		rec := &RawRecord{
			ID:      "f.json#2",
			Payload: []byte(`{"customer_id":"cust-1","event_time":` + raw + `,"event_type":"login"}`),
		}
		row, err := p.Parse(rec)
		if err != nil {
			t.Fatalf("parsing time %s: %v", raw, err)
		}
		if row.EventTime.IsZero() {
			t.Fatalf("zero event time for %s", raw)
		}
		if row.EventTime.Location() != time.UTC {
			t.Fatalf("event time not normalized to UTC for %s", raw)
		}
	}
}

func TestJSONParserBadPayload(t *testing.T) {
	p := NewJSONParser(testSchema())
	if _, err := p.Parse(&RawRecord{ID: "x", Payload: []byte(`not json`)}); err == nil {
		t.Fatalf("expected error for malformed payload")
	}
}

package fpk

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/pkg/errors"
)

// JSONParser conforms raw JSON payloads into typed rows. It resolves the
// entity key and event time, normalizes timestamps to UTC, and coerces the
// remaining fields to the layer schema. Untyped data never propagates past
// this boundary: a field that cannot be coerced fails the record.
type JSONParser struct {
	// EntityField names the payload field holding the entity key.
	EntityField string
	// TimeField names the payload field holding the event time.
	TimeField string
	// Schema are the typed fields to extract. Fields absent from the
	// payload are left unset; the not-null expectation catches the ones
	// that matter.
	Schema Schema
}

// NewJSONParser returns a parser with the conventional field names.
func NewJSONParser(schema Schema) *JSONParser {
	return &JSONParser{
		EntityField: "customer_id",
		TimeField:   "event_time",
		Schema:      schema,
	}
}

// Parse implements Parser.
func (p *JSONParser) Parse(rec *RawRecord) (*ConformedRow, error) {
	var payload map[string]interface{}
	if err := json.Unmarshal(rec.Payload, &payload); err != nil {
		return nil, errors.Wrap(err, "unmarshaling payload")
	}

	entity, err := stringValue(payload[p.EntityField])
	if err != nil || entity == "" {
		return nil, errors.Errorf("record %s has no usable %s", rec.ID, p.EntityField)
	}
	eventTime, err := timeValue(payload[p.TimeField])
	if err != nil {
		return nil, errors.Wrapf(err, "record %s field %s", rec.ID, p.TimeField)
	}

	row := &ConformedRow{
		Entity:    EntityKey(entity),
		EventTime: eventTime.UTC(),
		Values:    make(map[string]interface{}, len(p.Schema)),
	}
	for _, f := range p.Schema {
		raw, ok := payload[f.Name]
		if !ok || raw == nil {
			continue
		}
		val, err := coerce(raw, f.Type)
		if err != nil {
			return nil, errors.Wrapf(err, "field %q", f.Name)
		}
		row.Values[f.Name] = val
	}
	return row, nil
}

func coerce(raw interface{}, typ FieldType) (interface{}, error) {
	switch typ {
	case TypeString:
		return stringValue(raw)
	case TypeInt:
		f, err := floatValue(raw)
		if err != nil {
			return nil, err
		}
		return float64(int64(f)), nil
	case TypeFloat:
		return floatValue(raw)
	case TypeBool:
		if b, ok := raw.(bool); ok {
			return b, nil
		}
		return nil, errors.Errorf("%v (%T) is not a bool", raw, raw)
	case TypeTime:
		t, err := timeValue(raw)
		if err != nil {
			return nil, err
		}
		return t.UTC().Format(time.RFC3339Nano), nil
	}
	return nil, errors.Errorf("unknown field type %q", typ)
}

func stringValue(raw interface{}) (string, error) {
	switch v := raw.(type) {
	case string:
		return v, nil
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64), nil
	case nil:
		return "", nil
	}
	return "", errors.Errorf("%v (%T) is not a string", raw, raw)
}

func floatValue(raw interface{}) (float64, error) {
	switch v := raw.(type) {
	case float64:
		return v, nil
	case string:
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return 0, errors.Wrapf(err, "parsing %q as number", v)
		}
		return f, nil
	}
	return 0, errors.Errorf("%v (%T) is not a number", raw, raw)
}

func timeValue(raw interface{}) (time.Time, error) {
	switch v := raw.(type) {
	case string:
		for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02 15:04:05", "2006-01-02"} {
			if t, err := time.Parse(layout, v); err == nil {
				return t, nil
			}
		}
		return time.Time{}, errors.Errorf("unrecognized time format %q", v)
	case float64:
		// Epoch seconds.
		sec := int64(v)
		nsec := int64((v - float64(sec)) * float64(time.Second))
		return time.Unix(sec, nsec), nil
	case time.Time:
		return v, nil
	}
	return time.Time{}, fmt.Errorf("%v (%T) is not a time", raw, raw)
}

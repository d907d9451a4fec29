package feature

import (
	"testing"
	"time"

	"github.com/lakewing/fpk"
)

var asOf = time.Date(2024, time.March, 31, 0, 0, 0, 0, time.UTC)

func event(entity string, at time.Time, kind string, kv ...interface{}) *fpk.ConformedRow {
	values := map[string]interface{}{"event_type": kind}
	for i := 0; i < len(kv); i += 2 {
		values[kv[i].(string)] = kv[i+1]
	}
	return &fpk.ConformedRow{Entity: fpk.EntityKey(entity), EventTime: at, Values: values}
}

func TestComputeWindows(t *testing.T) {
	rows := []*fpk.ConformedRow{
		event("cust-1", asOf.Add(-2*24*time.Hour), "login"),
		event("cust-1", asOf.Add(-5*24*time.Hour), "purchase", "amount", 19.99),
		event("cust-1", asOf.Add(-20*24*time.Hour), "purchase", "amount", 5.00),
		event("cust-1", asOf.Add(-20*24*time.Hour), "ticket"),
	}
	fv := Compute("cust-1", rows, asOf, DefaultConfig())

	if got := fv.Features["logins_7d"]; got != 1 {
		t.Fatalf("logins_7d = %v", got)
	}
	if got := fv.Features["purchases_7d"]; got != 1 {
		t.Fatalf("purchases_7d = %v", got)
	}
	if got := fv.Features["amount_7d"]; got != 19.99 {
		t.Fatalf("amount_7d = %v", got)
	}
	if got := fv.Features["purchases_30d"]; got != 2 {
		t.Fatalf("purchases_30d = %v", got)
	}
	if got := fv.Features["amount_30d"]; got != 24.99 {
		t.Fatalf("amount_30d = %v", got)
	}
	if got := fv.Features["tickets_30d"]; got != 1 {
		t.Fatalf("tickets_30d = %v", got)
	}
	if got := fv.Features["days_since_activity"]; got != 2 {
		t.Fatalf("days_since_activity = %v", got)
	}
	if got := fv.Features["label_inactive"]; got != 0 {
		t.Fatalf("label_inactive = %v", got)
	}
}

func TestComputeNoLookAhead(t *testing.T) {
	rows := []*fpk.ConformedRow{
		event("cust-1", asOf.Add(-24*time.Hour), "login"),
		// Events after the as-of time must not leak into the vector, not
		// even into labels.
		event("cust-1", asOf.Add(time.Minute), "purchase", "amount", 100.0),
		event("cust-1", asOf.Add(time.Hour), "cancel"),
	}
	fv := Compute("cust-1", rows, asOf, DefaultConfig())
	if got := fv.Features["purchases_7d"]; got != 0 {
		t.Fatalf("future purchase leaked: purchases_7d = %v", got)
	}
	if got := fv.Features["amount_30d"]; got != 0 {
		t.Fatalf("future amount leaked: amount_30d = %v", got)
	}
	if got := fv.Features["label_canceled"]; got != 0 {
		t.Fatalf("future cancel leaked: label_canceled = %v", got)
	}
	if got := fv.Features["days_since_activity"]; got != 1 {
		t.Fatalf("days_since_activity = %v", got)
	}
}

func TestComputeNoActivity(t *testing.T) {
	fv := Compute("cust-1", nil, asOf, DefaultConfig())
	if got := fv.Features["days_since_activity"]; got != -1 {
		t.Fatalf("days_since_activity = %v, want -1 sentinel", got)
	}
	if got := fv.Features["label_inactive"]; got != 1 {
		t.Fatalf("label_inactive = %v", got)
	}
}

func TestComputeLabels(t *testing.T) {
	rows := []*fpk.ConformedRow{
		event("cust-1", asOf.Add(-40*24*time.Hour), "login"),
		event("cust-1", asOf.Add(-35*24*time.Hour), "cancel"),
	}
	fv := Compute("cust-1", rows, asOf, DefaultConfig())
	if got := fv.Features["label_inactive"]; got != 1 {
		t.Fatalf("label_inactive = %v", got)
	}
	if got := fv.Features["label_canceled"]; got != 1 {
		t.Fatalf("label_canceled = %v", got)
	}
}

func TestNatKeySortsChronologically(t *testing.T) {
	k1 := NatKey("cust-1", asOf)
	k2 := NatKey("cust-1", asOf.Add(time.Nanosecond))
	if !(k1 < k2) {
		t.Fatalf("keys do not sort by time: %q >= %q", k1, k2)
	}

	row := vectorRow(fpk.FeatureVector{Entity: "cust-1", AsOf: asOf, Features: map[string]float64{}})
	if got := GoldKey(row); got != k1 {
		t.Fatalf("GoldKey %q != NatKey %q", got, k1)
	}
}

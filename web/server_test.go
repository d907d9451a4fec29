package web

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/lakewing/fpk"
	"github.com/lakewing/fpk/score"
	"github.com/pkg/errors"
)

var asOf = time.Date(2024, time.March, 31, 0, 0, 0, 0, time.UTC)

// stubOffline serves one entity's vector.
type stubOffline struct {
	entity fpk.EntityKey
	fv     fpk.FeatureVector
}

func (s stubOffline) GetOffline(entity fpk.EntityKey, at time.Time) (fpk.FeatureVector, error) {
	if entity != s.entity {
		return fpk.FeatureVector{}, errors.Wrapf(fpk.ErrNoFeatures, "entity %s", entity)
	}
	return s.fv, nil
}

// stubOnline returns a fixed vector or error.
type stubOnline struct {
	fv  fpk.FeatureVector
	err error
}

func (s stubOnline) Get(context.Context, fpk.EntityKey) (fpk.FeatureVector, error) {
	return s.fv, s.err
}

// denyCatalog denies access to one table.
type denyCatalog struct {
	table string
}

func (c denyCatalog) CheckAccess(principal, table string) error {
	if table == c.table {
		return errors.Errorf("principal %q denied on %q", principal, table)
	}
	return nil
}

func (c denyCatalog) RecordLineage(string, uint64, []string) error { return nil }

func testServer(online score.OnlineGetter, opts ...ServerOption) *Server {
	fv := fpk.FeatureVector{
		Entity:   "cust-1",
		AsOf:     asOf,
		Features: map[string]float64{"logins_7d": 3},
	}
	scorer := score.NewScorer(nil, score.StaticRegistry{Model: score.DefaultModel()},
		score.OptScorerOnline(online))
	return NewServer(stubOffline{entity: "cust-1", fv: fv}, online, scorer, opts...)
}

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest("GET", path, nil))
	return w
}

func TestOfflineFeatures(t *testing.T) {
	h := testServer(nil).Handler()

	w := get(t, h, "/features?entity=cust-1")
	if w.Code != http.StatusOK {
		t.Fatalf("status %d: %s", w.Code, w.Body.String())
	}
	var fv fpk.FeatureVector
	if err := json.NewDecoder(w.Body).Decode(&fv); err != nil {
		t.Fatalf("decoding body: %v", err)
	}
	if fv.Entity != "cust-1" || fv.Features["logins_7d"] != 3 {
		t.Fatalf("wrong vector: %+v", fv)
	}

	if w := get(t, h, "/features?entity=cust-9"); w.Code != http.StatusNotFound {
		t.Fatalf("unknown entity: status %d", w.Code)
	}
	if w := get(t, h, "/features"); w.Code != http.StatusBadRequest {
		t.Fatalf("missing entity: status %d", w.Code)
	}
	if w := get(t, h, "/features?entity=cust-1&as_of=yesterday"); w.Code != http.StatusBadRequest {
		t.Fatalf("bad as_of: status %d", w.Code)
	}
}

func TestOnlineFeatures(t *testing.T) {
	fv := fpk.FeatureVector{Entity: "cust-1", Features: map[string]float64{"logins_7d": 3}}
	h := testServer(stubOnline{fv: fv}).Handler()
	if w := get(t, h, "/features/online?entity=cust-1"); w.Code != http.StatusOK {
		t.Fatalf("status %d: %s", w.Code, w.Body.String())
	}

	// Stale vectors are a 503, not a silently served answer.
	h = testServer(stubOnline{err: errors.Wrap(fpk.ErrFeatureStale, "entity cust-1")}).Handler()
	if w := get(t, h, "/features/online?entity=cust-1"); w.Code != http.StatusServiceUnavailable {
		t.Fatalf("stale: status %d", w.Code)
	}

	// No online store configured at all.
	h = testServer(nil).Handler()
	if w := get(t, h, "/features/online?entity=cust-1"); w.Code != http.StatusServiceUnavailable {
		t.Fatalf("no store: status %d", w.Code)
	}
}

func TestScoreEndpoint(t *testing.T) {
	fv := fpk.FeatureVector{Entity: "cust-1", Features: map[string]float64{"days_since_activity": 45}}
	h := testServer(stubOnline{fv: fv}).Handler()

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest("POST", "/score", strings.NewReader(`{"entity_key":"cust-1"}`)))
	if w.Code != http.StatusOK {
		t.Fatalf("status %d: %s", w.Code, w.Body.String())
	}
	var rec fpk.ScoreRecord
	if err := json.NewDecoder(w.Body).Decode(&rec); err != nil {
		t.Fatalf("decoding body: %v", err)
	}
	if rec.Entity != "cust-1" || rec.RiskBand == "" || rec.ModelVersion == "" {
		t.Fatalf("wrong record: %+v", rec)
	}

	w = httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest("POST", "/score", strings.NewReader(`{}`)))
	if w.Code != http.StatusBadRequest {
		t.Fatalf("missing entity_key: status %d", w.Code)
	}

	w = httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest("POST", "/score", strings.NewReader(`not json`)))
	if w.Code != http.StatusBadRequest {
		t.Fatalf("bad body: status %d", w.Code)
	}

	// Missing online features propagate as 404 through the scorer.
	h = testServer(stubOnline{err: errors.Wrap(fpk.ErrNoFeatures, "entity cust-1")}).Handler()
	w = httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest("POST", "/score", strings.NewReader(`{"entity_key":"cust-1"}`)))
	if w.Code != http.StatusNotFound {
		t.Fatalf("no features: status %d", w.Code)
	}
}

func TestHealthz(t *testing.T) {
	if w := get(t, testServer(nil).Handler(), "/healthz"); w.Code != http.StatusOK {
		t.Fatalf("status %d", w.Code)
	}
}

func TestAccessControl(t *testing.T) {
	h := testServer(nil, OptServerCatalog(denyCatalog{table: "gold"})).Handler()
	w := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/features?entity=cust-1", nil)
	req.Header.Set("X-Principal", "intern")
	h.ServeHTTP(w, req)
	if w.Code != http.StatusForbidden {
		t.Fatalf("status %d", w.Code)
	}
	var body map[string]string
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("decoding body: %v", err)
	}
	if !strings.Contains(body["error"], "intern") {
		t.Fatalf("error does not name the principal: %q", body["error"])
	}

	// Other tables stay reachable.
	if w := get(t, h, "/healthz"); w.Code != http.StatusOK {
		t.Fatalf("healthz blocked: status %d", w.Code)
	}
}

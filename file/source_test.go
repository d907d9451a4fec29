package file

import (
	"io"
	"io/ioutil"
	"path/filepath"
	"strings"
	"testing"

	"github.com/lakewing/fpk"
)

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	if err := ioutil.WriteFile(filepath.Join(dir, name), []byte(content), 0644); err != nil {
		t.Fatalf("writing %s: %v", name, err)
	}
}

func drain(t *testing.T, s *Source) []*fpk.RawRecord {
	t.Helper()
	var recs []*fpk.RawRecord
	for {
		rec, err := s.Record()
		if err == io.EOF {
			return recs
		}
		if err != nil {
			t.Fatalf("reading record: %v", err)
		}
		recs = append(recs, rec)
	}
}

func TestSourceReadsFilesInOrder(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "b.jsonl", `{"n":3}`+"\n"+`{"n":4}`+"\n")
	writeFile(t, dir, "a.jsonl", `{"n":1}`+"\n\n"+`{"n":2}`+"\n")

	s, err := NewSource(dir)
	if err != nil {
		t.Fatalf("creating source: %v", err)
	}
	defer s.Close()
	recs := drain(t, s)
	if len(recs) != 4 {
		t.Fatalf("expected 4 records, got %d", len(recs))
	}
	// Files are read in sorted order; record IDs are file#row.
	wantIDs := []string{"a.jsonl#0", "a.jsonl#1", "b.jsonl#0", "b.jsonl#1"}
	for i, rec := range recs {
		if rec.ID != wantIDs[i] {
			t.Fatalf("record %d has ID %q, want %q", i, rec.ID, wantIDs[i])
		}
	}
	if string(recs[0].Payload) != `{"n":1}` {
		t.Fatalf("wrong payload: %s", recs[0].Payload)
	}
}

func TestSourceCursorOnLastRecordOnly(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.jsonl", `{"n":1}`+"\n"+`{"n":2}`+"\n"+`{"n":3}`+"\n")

	s, err := NewSource(dir)
	if err != nil {
		t.Fatalf("creating source: %v", err)
	}
	defer s.Close()
	recs := drain(t, s)
	if len(recs) != 3 {
		t.Fatalf("expected 3 records, got %d", len(recs))
	}
	// A checkpoint taken mid-file must not skip the remainder, so only the
	// file's last record carries a cursor.
	for _, rec := range recs[:2] {
		if rec.Cursor != nil {
			t.Fatalf("record %s carries a cursor", rec.ID)
		}
	}
	fc, ok := recs[2].Cursor.(fpk.FileCursor)
	if !ok {
		t.Fatalf("last record cursor is %T", recs[2].Cursor)
	}
	if !fc.Done["a.jsonl"] {
		t.Fatalf("cursor does not mark a.jsonl done: %v", fc.Done)
	}
}

func TestSourceSeekSkipsDoneFiles(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.jsonl", `{"n":1}`+"\n")
	writeFile(t, dir, "b.jsonl", `{"n":2}`+"\n")

	s, err := NewSource(dir)
	if err != nil {
		t.Fatalf("creating source: %v", err)
	}
	defer s.Close()
	if err := s.Seek(fpk.NewFileCursor("a.jsonl")); err != nil {
		t.Fatalf("seeking: %v", err)
	}
	recs := drain(t, s)
	if len(recs) != 1 || recs[0].ID != "b.jsonl#0" {
		t.Fatalf("seek did not skip processed file: %+v", recs)
	}

	if err := s.Seek(fpk.StreamCursor{0: 1}); err == nil {
		t.Fatalf("expected error seeking with a stream cursor")
	}
}

func TestSourceCSV(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "events.csv",
		"customer_id,event_type,amount\ncust-1,purchase,19.99\ncust-2,login,\n")

	s, err := NewSource(dir, OptSrcCodec(CodecCSV))
	if err != nil {
		t.Fatalf("creating source: %v", err)
	}
	defer s.Close()
	recs := drain(t, s)
	if len(recs) != 2 {
		t.Fatalf("expected 2 records, got %d", len(recs))
	}
	// CSV rows become JSON objects keyed by the header; values stay strings
	// for the schema to coerce.
	if !strings.Contains(string(recs[0].Payload), `"amount":"19.99"`) {
		t.Fatalf("wrong payload: %s", recs[0].Payload)
	}
	if !strings.Contains(string(recs[1].Payload), `"customer_id":"cust-2"`) {
		t.Fatalf("wrong payload: %s", recs[1].Payload)
	}
}

func TestSourceSkipsEmptyFiles(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.jsonl", "")
	writeFile(t, dir, "b.jsonl", `{"n":1}`+"\n")

	s, err := NewSource(dir)
	if err != nil {
		t.Fatalf("creating source: %v", err)
	}
	defer s.Close()
	recs := drain(t, s)
	if len(recs) != 1 || recs[0].ID != "b.jsonl#0" {
		t.Fatalf("empty file mishandled: %+v", recs)
	}
}

func TestDecodeUnknownCodec(t *testing.T) {
	if _, err := Decode(strings.NewReader(""), Codec("xml")); err == nil {
		t.Fatalf("expected error for unknown codec")
	}
}

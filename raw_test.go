package fpk

import (
	"testing"
)

func TestFileCursorAfter(t *testing.T) {
	a := NewFileCursor("one.json")
	b := NewFileCursor("one.json", "two.json")

	if !a.After(nil) {
		t.Fatalf("non-empty cursor should be after nil")
	}
	if !b.After(a) {
		t.Fatalf("superset should be after subset")
	}
	if a.After(b) {
		t.Fatalf("subset should not be after superset")
	}
	if a.After(a) {
		t.Fatalf("cursor should not be after itself")
	}

	c := NewFileCursor("three.json")
	if c.After(a) || a.After(c) {
		t.Fatalf("disjoint cursors should not be ordered")
	}
}

func TestFileCursorMergeAndDecode(t *testing.T) {
	a := NewFileCursor("one.json")
	b := NewFileCursor("two.json")
	merged, err := a.Merge(b)
	if err != nil {
		t.Fatalf("merging: %v", err)
	}
	fc, ok := merged.(FileCursor)
	if !ok {
		t.Fatalf("merged cursor is %T", merged)
	}
	if got := fc.Files(); len(got) != 2 || got[0] != "one.json" || got[1] != "two.json" {
		t.Fatalf("unexpected files: %v", got)
	}

	data, err := fc.Encode()
	if err != nil {
		t.Fatalf("encoding: %v", err)
	}
	decoded, err := DecodeCursor(fc.Kind(), data)
	if err != nil {
		t.Fatalf("decoding: %v", err)
	}
	if !decoded.(FileCursor).Done["two.json"] {
		t.Fatalf("decoded cursor lost a file: %v", decoded)
	}

	if _, err := a.Merge(StreamCursor{0: 1}); err == nil {
		t.Fatalf("expected error merging mismatched cursor kinds")
	}
}

func TestStreamCursorAfter(t *testing.T) {
	a := StreamCursor{0: 10, 1: 5}
	b := StreamCursor{0: 12, 1: 5}

	if !b.After(a) {
		t.Fatalf("advanced cursor should be after older one")
	}
	if a.After(b) {
		t.Fatalf("older cursor should not be after advanced one")
	}
	if a.After(a) {
		t.Fatalf("cursor should not be after itself")
	}

	// Ahead on one partition, behind on another: not ordered.
	c := StreamCursor{0: 12, 1: 4}
	if c.After(a) || a.After(c) {
		t.Fatalf("mixed cursors should not be ordered")
	}

	// A new partition counts as progress.
	d := StreamCursor{0: 10, 1: 5, 2: 1}
	if !d.After(a) {
		t.Fatalf("cursor with new partition should be after")
	}
}

func TestStreamCursorMergeAndDecode(t *testing.T) {
	a := StreamCursor{0: 10, 1: 5}
	b := StreamCursor{1: 7, 2: 3}
	merged, err := a.Merge(b)
	if err != nil {
		t.Fatalf("merging: %v", err)
	}
	sc := merged.(StreamCursor)
	if sc[0] != 10 || sc[1] != 7 || sc[2] != 3 {
		t.Fatalf("unexpected merge result: %v", sc)
	}

	data, err := sc.Encode()
	if err != nil {
		t.Fatalf("encoding: %v", err)
	}
	decoded, err := DecodeCursor(sc.Kind(), data)
	if err != nil {
		t.Fatalf("decoding: %v", err)
	}
	if decoded.(StreamCursor)[1] != 7 {
		t.Fatalf("decoded cursor lost an offset: %v", decoded)
	}

	if _, err := DecodeCursor("bogus", []byte("{}")); err == nil {
		t.Fatalf("expected error for unknown cursor kind")
	}
}

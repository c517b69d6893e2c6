package hnsw

import "testing"

func TestVisitedSet(t *testing.T) {
	v := newVisitedSet(100)
	if v.seen(0) || v.seen(63) || v.seen(64) {
		t.Fatal("fresh set reports visited bits")
	}

	v.visit(0)
	v.visit(63)
	v.visit(64)
	for _, id := range []uint32{0, 63, 64} {
		if !v.seen(id) {
			t.Fatalf("id %d not marked after visit", id)
		}
	}
	if v.seen(1) || v.seen(65) {
		t.Fatal("unvisited ids report as seen")
	}

	v.reset()
	if v.seen(0) || v.seen(64) {
		t.Fatal("reset did not clear bits")
	}
}

func TestVisitedSetGrows(t *testing.T) {
	v := newVisitedSet(8)
	v.visit(100000)
	if !v.seen(100000) {
		t.Fatal("id beyond initial capacity not tracked after growth")
	}
	if v.seen(99999) {
		t.Fatal("growth marked an unvisited id")
	}
}

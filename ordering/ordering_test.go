package ordering

import (
	"testing"

	"boardsync/domain"
)

func cards(ids ...string) []*domain.Card {
	out := make([]*domain.Card, len(ids))
	for i, id := range ids {
		out[i] = &domain.Card{ID: id, Position: domain.Position(i)}
	}
	return out
}

func assertOrder(t *testing.T, seq []*domain.Card, want ...string) {
	t.Helper()
	if len(seq) != len(want) {
		t.Fatalf("expected %d cards, got %d", len(want), len(seq))
	}
	for i, c := range seq {
		if c.ID != want[i] {
			t.Fatalf("index %d: expected %s, got %s", i, want[i], c.ID)
		}
		if c.Position != domain.Position(i) {
			t.Fatalf("card %s: expected position %d, got %d", c.ID, i, c.Position)
		}
	}
}

func TestReorderToFront(t *testing.T) {
	seq := cards("c1", "c2", "c3")
	seq = Reorder(seq, seq[2], 0)
	assertOrder(t, seq, "c3", "c1", "c2")
}

func TestReorderIdempotent(t *testing.T) {
	seq := cards("c1", "c2", "c3")
	seq[0].Position = 7
	seq[1].Position = 9
	seq[2].Position = 42
	seq = Reorder(seq, seq[1], 1)
	assertOrder(t, seq, "c1", "c2", "c3")
}

func TestReorderClampsIndex(t *testing.T) {
	seq := cards("c1", "c2", "c3")
	seq = Reorder(seq, seq[0], 99)
	assertOrder(t, seq, "c2", "c3", "c1")

	seq = Reorder(seq, seq[2], -5)
	assertOrder(t, seq, "c1", "c2", "c3")
}

func TestReorderInsertsUnknownItem(t *testing.T) {
	seq := cards("c1", "c2")
	item := &domain.Card{ID: "c9"}
	seq = Reorder(seq, item, 1)
	assertOrder(t, seq, "c1", "c9", "c2")
}

func TestMoveAcrossConservation(t *testing.T) {
	src := cards("c1", "c2")
	dst := cards("c3")
	moved := src[0]

	newSrc, newDst := MoveAcross(src, dst, moved, 1)
	assertOrder(t, newSrc, "c2")
	assertOrder(t, newDst, "c3", "c1")
	if len(newSrc)+len(newDst) != len(src)+len(dst) {
		t.Fatalf("item count changed: %d+%d", len(newSrc), len(newDst))
	}
	for _, c := range newSrc {
		if c.ID == moved.ID {
			t.Fatal("moved card still present in source")
		}
	}
}

func TestMoveAcrossIntoEmpty(t *testing.T) {
	src := cards("c1")
	var dst []*domain.Card
	newSrc, newDst := MoveAcross(src, dst, src[0], 3)
	if len(newSrc) != 0 {
		t.Fatalf("expected empty source, got %d", len(newSrc))
	}
	assertOrder(t, newDst, "c1")
}

func TestAppend(t *testing.T) {
	var seq []*domain.Card
	first := &domain.Card{ID: "c1", Position: 99}
	Append(seq, first)
	if first.Position != 0 {
		t.Fatalf("expected position 0, got %d", first.Position)
	}
	seq = append(seq, first)
	second := &domain.Card{ID: "c2"}
	Append(seq, second)
	if second.Position != 1 {
		t.Fatalf("expected position 1, got %d", second.Position)
	}
}

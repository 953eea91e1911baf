package recon

import "testing"

func TestIntersectAcceptsSingleLegalCandidate(t *testing.T) {
	v := NewValidator(NewOracle())
	pos := startPos()

	cands := []MoveCandidate{
		{From: mustSq(t, "e2"), To: mustSq(t, "e4"), Tag: 5, Kind: KindQuiet, Rule: 1},
	}
	matches := v.Intersect(pos, cands)
	if len(matches) != 1 {
		t.Fatalf("matches = %d, want 1", len(matches))
	}
	if matches[0].Move.S1() != mustSq(t, "e2") || matches[0].Move.S2() != mustSq(t, "e4") {
		t.Fatalf("matched %s%s", matches[0].Move.S1(), matches[0].Move.S2())
	}
}

// Two hypotheses that each correspond to a distinct legal move are both
// returned in candidate order; the caller must not guess between them.
func TestIntersectKeepsAllLegalCandidates(t *testing.T) {
	v := NewValidator(NewOracle())
	pos := startPos()

	cands := []MoveCandidate{
		{From: mustSq(t, "g1"), To: mustSq(t, "f3"), Tag: 15, Kind: KindQuiet, Rule: 1},
		{From: mustSq(t, "b1"), To: mustSq(t, "c3"), Tag: 10, Kind: KindQuiet, Rule: 1},
	}
	matches := v.Intersect(pos, cands)
	if len(matches) != 2 {
		t.Fatalf("matches = %d, want 2", len(matches))
	}
	if matches[0].Candidate.From != mustSq(t, "g1") || matches[1].Candidate.From != mustSq(t, "b1") {
		t.Fatalf("candidate order not preserved: %+v", matches)
	}
}

// A hypothesis whose kind disagrees with the legal move must not match on
// coordinates alone.
func TestIntersectRejectsKindMismatch(t *testing.T) {
	v := NewValidator(NewOracle())
	pos := startPos()

	cands := []MoveCandidate{
		{From: mustSq(t, "e2"), To: mustSq(t, "e4"), Tag: 5, CapturedTag: 21, Kind: KindCapture, Rule: 2},
	}
	if matches := v.Intersect(pos, cands); len(matches) != 0 {
		t.Fatalf("capture hypothesis matched a quiet move: %+v", matches)
	}
}

func TestIntersectMatchesEachLegalMoveOnce(t *testing.T) {
	v := NewValidator(NewOracle())
	pos := startPos()

	c := MoveCandidate{From: mustSq(t, "e2"), To: mustSq(t, "e4"), Tag: 5, Kind: KindQuiet, Rule: 1}
	matches := v.Intersect(pos, []MoveCandidate{c, c})
	if len(matches) != 1 {
		t.Fatalf("duplicate hypothesis matched twice: %+v", matches)
	}
}

package recon

import (
	"testing"

	nchess "github.com/corentings/chess/v2"

	"github.com/otbreview/otbrecon/internal/tagmap"
)

func testTable(t *testing.T) *tagmap.Table {
	t.Helper()
	tbl, err := tagmap.Load("")
	if err != nil {
		t.Fatalf("tagmap.Load: %v", err)
	}
	return tbl
}

func gridOf(t *testing.T, cells map[string]int) *Grid {
	t.Helper()
	g := &Grid{Margin: 1}
	for name, tag := range cells {
		g.Cells[mustSq(t, name)] = tag
	}
	return g
}

func classify(t *testing.T, prev, curr *Grid, pos *nchess.Position) []MoveCandidate {
	t.Helper()
	c := NewClassifier(testTable(t))
	return c.Classify(DiffGrids(prev, curr), pos, prev, curr)
}

func startPos() *nchess.Position { return nchess.NewGame().Position() }

func TestClassifyQuietPush(t *testing.T) {
	prev := gridOf(t, map[string]int{"e2": 5})
	curr := gridOf(t, map[string]int{"e4": 5})

	cands := classify(t, prev, curr, startPos())
	if len(cands) != 1 {
		t.Fatalf("candidates = %+v, want exactly one", cands)
	}
	c := cands[0]
	if c.Kind != KindQuiet || c.From != mustSq(t, "e2") || c.To != mustSq(t, "e4") || c.Tag != 5 {
		t.Fatalf("unexpected candidate: %+v", c)
	}
}

func TestClassifyCapture(t *testing.T) {
	prev := gridOf(t, map[string]int{"e4": 5, "d5": 20})
	curr := gridOf(t, map[string]int{"d5": 5})

	cands := classify(t, prev, curr, startPos())
	if len(cands) != 1 {
		t.Fatalf("candidates = %+v, want exactly one", cands)
	}
	c := cands[0]
	if c.Kind != KindCapture || c.CapturedTag != 20 {
		t.Fatalf("unexpected candidate: %+v", c)
	}
}

func TestClassifyCaptureRequiresVictimGone(t *testing.T) {
	// Tag 20 reappears elsewhere: the destination occupant was a
	// misdetection, not a capture victim.
	prev := gridOf(t, map[string]int{"e4": 5, "d5": 20})
	curr := gridOf(t, map[string]int{"d5": 5, "d6": 20})

	cands := classify(t, prev, curr, startPos())
	for _, c := range cands {
		if c.Kind == KindCapture {
			t.Fatalf("capture proposed although victim survived: %+v", c)
		}
	}
}

func TestClassifyShortCastle(t *testing.T) {
	prev := gridOf(t, map[string]int{"e1": 13, "h1": 16})
	curr := gridOf(t, map[string]int{"g1": 13, "f1": 16})

	cands := classify(t, prev, curr, startPos())
	if len(cands) != 1 || cands[0].Kind != KindShortCastle {
		t.Fatalf("candidates = %+v, want one short castle", cands)
	}
	if cands[0].From != mustSq(t, "e1") || cands[0].To != mustSq(t, "g1") {
		t.Fatalf("unexpected king path: %+v", cands[0])
	}
}

func TestClassifyLongCastleBlack(t *testing.T) {
	prev := gridOf(t, map[string]int{"e8": 29, "a8": 25})
	curr := gridOf(t, map[string]int{"c8": 29, "d8": 25})

	cands := classify(t, prev, curr, startPos())
	if len(cands) != 1 || cands[0].Kind != KindLongCastle {
		t.Fatalf("candidates = %+v, want one long castle", cands)
	}
}

func TestClassifyFourChangeGlitchIsNotACastle(t *testing.T) {
	// Two pieces moved between samples; four cells changed but not in a
	// castle shape.
	prev := gridOf(t, map[string]int{"a3": 1, "c3": 3})
	curr := gridOf(t, map[string]int{"a4": 1, "c4": 3})

	if cands := classify(t, prev, curr, startPos()); len(cands) != 0 {
		t.Fatalf("candidates = %+v, want none", cands)
	}
}

func TestClassifyEnPassantCarriedVictim(t *testing.T) {
	// The captured pawn was not freshly detected, so its cell carries
	// over and only two cells change.
	prev := gridOf(t, map[string]int{"e5": 5, "f5": 22})
	curr := gridOf(t, map[string]int{"f6": 5, "f5": 22})
	curr.Carried[mustSq(t, "f5")] = true

	cands := classify(t, prev, curr, startPos())
	var ep *MoveCandidate
	for i := range cands {
		if cands[i].Kind == KindEnPassant {
			ep = &cands[i]
		}
	}
	if ep == nil {
		t.Fatalf("no en passant candidate in %+v", cands)
	}
	if ep.CapturedTag != 22 || ep.To != mustSq(t, "f6") {
		t.Fatalf("unexpected en passant candidate: %+v", ep)
	}
}

func TestClassifyEnPassantFullSignature(t *testing.T) {
	prev := gridOf(t, map[string]int{"e5": 5, "f5": 22})
	curr := gridOf(t, map[string]int{"f6": 5})

	cands := classify(t, prev, curr, startPos())
	if len(cands) != 1 || cands[0].Kind != KindEnPassant || cands[0].CapturedTag != 22 {
		t.Fatalf("candidates = %+v, want one en passant", cands)
	}
}

func TestClassifyPromotionSameTagAssumesQueen(t *testing.T) {
	prev := gridOf(t, map[string]int{"e7": 5})
	curr := gridOf(t, map[string]int{"e8": 5})

	cands := classify(t, prev, curr, startPos())
	var promo *MoveCandidate
	for i := range cands {
		if cands[i].Kind == KindPromotion {
			promo = &cands[i]
		}
	}
	if promo == nil {
		t.Fatalf("no promotion candidate in %+v", cands)
	}
	if promo.Promo != nchess.Queen || !promo.AssumedPromo {
		t.Fatalf("unexpected promotion candidate: %+v", promo)
	}
}

func TestClassifyPromotionRetaggedPiece(t *testing.T) {
	// The promoted piece got a fresh knight tag of the same color; the
	// piece type is known and nothing is assumed.
	prev := gridOf(t, map[string]int{"e7": 5})
	curr := gridOf(t, map[string]int{"e8": 10})

	cands := classify(t, prev, curr, startPos())
	if len(cands) != 1 {
		t.Fatalf("candidates = %+v, want exactly one", cands)
	}
	c := cands[0]
	if c.Kind != KindPromotion || c.Promo != nchess.Knight || c.AssumedPromo {
		t.Fatalf("unexpected candidate: %+v", c)
	}
}

func TestClassifyWrongColorRetagRejected(t *testing.T) {
	// A black piece tag arriving where a white pawn left cannot be a
	// promotion.
	prev := gridOf(t, map[string]int{"e7": 5})
	curr := gridOf(t, map[string]int{"e8": 26})

	if cands := classify(t, prev, curr, startPos()); len(cands) != 0 {
		t.Fatalf("candidates = %+v, want none", cands)
	}
}

func TestClassifySingleOrManyChangesYieldNothing(t *testing.T) {
	base := gridOf(t, map[string]int{"e2": 5, "d2": 4, "c2": 3})

	one := gridOf(t, map[string]int{"e2": 5, "d2": 4, "c2": 3, "b2": 2})
	if cands := classify(t, base, one, startPos()); len(cands) != 0 {
		t.Fatalf("single change produced %+v", cands)
	}

	storm := gridOf(t, map[string]int{"e3": 5, "d3": 4, "c3": 3, "b3": 2, "a3": 1})
	if cands := classify(t, base, storm, startPos()); len(cands) != 0 {
		t.Fatalf("change storm produced %+v", cands)
	}
}

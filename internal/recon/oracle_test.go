package recon

import (
	"strings"
	"testing"

	nchess "github.com/corentings/chess/v2"
)

func TestOracleEnumeratesStartPosition(t *testing.T) {
	oracle := NewOracle()
	legal := oracle.LegalMoves(startPos())
	if len(legal) != 20 {
		t.Fatalf("legal moves from start = %d, want 20", len(legal))
	}
	seen := make(map[string]bool, len(legal))
	for _, mv := range legal {
		if mv == nil {
			t.Fatalf("nil move in legal list")
		}
		key := mv.S1().String() + mv.S2().String()
		if seen[key] {
			t.Fatalf("move %s listed twice", key)
		}
		seen[key] = true
	}
}

func TestOracleApplyAdvancesPosition(t *testing.T) {
	oracle := NewOracle()
	pos := startPos()
	mv, err := decodeLegal(oracle, pos, "e2e4")
	if err != nil {
		t.Fatalf("decodeLegal: %v", err)
	}
	next, err := oracle.Apply(pos, mv)
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if !strings.HasPrefix(next.String(), "rnbqkbnr/pppppppp/8/8/4P3/8/8/RNBQKBNR b") {
		t.Fatalf("position after e4 = %q", next.String())
	}
	// The original position is a value snapshot and must not move.
	if !strings.HasPrefix(pos.String(), "rnbqkbnr/pppppppp/8/8/8/8/PPPPPPPP/RNBQKBNR w") {
		t.Fatalf("start position mutated: %q", pos.String())
	}
}

func TestOracleApplyRejectsForeignMove(t *testing.T) {
	oracle := NewOracle()
	pos := startPos()
	after, err := oracle.Apply(pos, mustLegal(t, oracle, pos, "e2e4"))
	if err != nil {
		t.Fatalf("Apply e2e4: %v", err)
	}
	// A black reply is legal in the new position, not the old one.
	reply := mustLegal(t, oracle, after, "e7e5")
	if _, err := oracle.Apply(pos, reply); err == nil {
		t.Fatalf("foreign move accepted")
	}
	if _, err := oracle.Apply(pos, nil); err == nil {
		t.Fatalf("nil move accepted")
	}
}

func mustLegal(t *testing.T, oracle Oracle, pos *nchess.Position, uci string) *nchess.Move {
	t.Helper()
	mv, err := decodeLegal(oracle, pos, uci)
	if err != nil {
		t.Fatalf("decodeLegal %s: %v", uci, err)
	}
	return mv
}

package recon

import (
	nchess "github.com/corentings/chess/v2"
)

// Match pairs a classifier hypothesis with the legal move it explains.
type Match struct {
	Candidate MoveCandidate
	Move      *nchess.Move
}

// Validator intersects hypotheses with the oracle's legal move set. It is
// the only gate through which the board position advances.
type Validator struct {
	oracle Oracle
}

func NewValidator(oracle Oracle) *Validator {
	return &Validator{oracle: oracle}
}

// Intersect returns the hypotheses that correspond to a legal move in the
// given position, preserving candidate order. Each legal move is matched
// at most once.
func (v *Validator) Intersect(pos *nchess.Position, cands []MoveCandidate) []Match {
	legal := v.oracle.LegalMoves(pos)
	used := make(map[int]bool, len(legal))

	var matches []Match
	for _, c := range cands {
		for i, mv := range legal {
			if used[i] {
				continue
			}
			if matchesCandidate(c, mv) {
				matches = append(matches, Match{Candidate: c, Move: mv})
				used[i] = true
				break
			}
		}
	}
	return matches
}

// matchesCandidate requires coordinate and kind agreement: a quiet
// hypothesis never explains a capture, and vice versa. Mismatched kinds
// come from detection noise and must not slip through on coordinates
// alone.
func matchesCandidate(c MoveCandidate, mv *nchess.Move) bool {
	if c.From != mv.S1() || c.To != mv.S2() {
		return false
	}
	switch c.Kind {
	case KindQuiet:
		return !mv.HasTag(nchess.Capture) && !mv.HasTag(nchess.EnPassant) &&
			!mv.HasTag(nchess.KingSideCastle) && !mv.HasTag(nchess.QueenSideCastle) &&
			mv.Promo() == nchess.NoPieceType
	case KindCapture:
		return mv.HasTag(nchess.Capture) && !mv.HasTag(nchess.EnPassant) &&
			mv.Promo() == nchess.NoPieceType
	case KindShortCastle:
		return mv.HasTag(nchess.KingSideCastle)
	case KindLongCastle:
		return mv.HasTag(nchess.QueenSideCastle)
	case KindEnPassant:
		return mv.HasTag(nchess.EnPassant)
	case KindPromotion:
		return mv.Promo() != nchess.NoPieceType && mv.Promo() == c.Promo
	}
	return false
}

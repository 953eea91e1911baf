package recon

import (
	"sort"

	nchess "github.com/corentings/chess/v2"

	"github.com/otbreview/otbrecon/internal/tagmap"
)

// Classifier turns a change-set into ordered move hypotheses. It never
// decides legality; incompatible hypotheses are cheap and the validator
// discards them.
type Classifier struct {
	tags *tagmap.Table
}

func NewClassifier(tags *tagmap.Table) *Classifier {
	return &Classifier{tags: tags}
}

// Classify maps a change-set to candidates, best-first by rule number:
// 1 quiet, 2 capture, 3 castle, 4 en passant, 5 promotion. All compatible
// hypotheses are emitted; the legality gate disambiguates.
func (c *Classifier) Classify(changes []Change, pos *nchess.Position, prev, curr *Grid) []MoveCandidate {
	var cands []MoveCandidate
	switch len(changes) {
	case 0:
		return nil
	case 2:
		cands = append(cands, c.pairCandidates(changes[0], changes[1], pos, prev, curr)...)
		cands = append(cands, c.pairCandidates(changes[1], changes[0], pos, prev, curr)...)
	case 3:
		cands = c.enPassantFull(changes, pos, prev, curr)
	case 4:
		cands = c.castles(changes, prev, curr)
	default:
		// 1 change or 5+ changes cannot be a single move; the
		// validator turns the empty list into a correction.
		return nil
	}

	cands = dedupe(cands)
	sort.SliceStable(cands, func(i, j int) bool { return cands[i].Rule < cands[j].Rule })
	return cands
}

// pairCandidates reads (from, to) as origin and destination and emits
// every rule compatible with that orientation.
func (c *Classifier) pairCandidates(from, to Change, pos *nchess.Position, prev, curr *Grid) []MoveCandidate {
	if from.Before == 0 || from.After != 0 || to.After == 0 {
		return nil
	}
	mover := from.Before
	arrived := to.After

	var out []MoveCandidate
	if arrived == mover {
		switch {
		case to.Before == 0:
			out = append(out, MoveCandidate{
				From: from.Square, To: to.Square, Tag: mover, Kind: KindQuiet, Rule: 1,
			})
			if ep, ok := c.enPassantShort(from.Square, to.Square, mover, pos, prev); ok {
				out = append(out, ep)
			}
		case curr.Find(to.Before) == nchess.NoSquare:
			out = append(out, MoveCandidate{
				From: from.Square, To: to.Square, Tag: mover,
				CapturedTag: to.Before, Kind: KindCapture, Rule: 2,
			})
		}
		// A pawn that kept its own tag on the back rank still
		// promoted; the tag sheet encodes the home piece, not the
		// current one, so the piece type defaults to queen.
		if c.isPawnReachingBackRank(mover, to.Square, pos, from.Square) {
			promo := MoveCandidate{
				From: from.Square, To: to.Square, Tag: mover,
				Kind: KindPromotion, Promo: nchess.Queen, AssumedPromo: true, Rule: 5,
			}
			if to.Before != 0 && curr.Find(to.Before) == nchess.NoSquare {
				promo.CapturedTag = to.Before
			}
			out = append(out, promo)
		}
		return out
	}

	// Different tag on the destination: only explainable as a promotion
	// under a tag scheme that re-tags the promoted piece.
	if prev.Find(arrived) != nchess.NoSquare {
		return nil
	}
	moverEntry, ok := c.tags.Lookup(mover)
	if !ok || moverEntry.Type != nchess.Pawn {
		return nil
	}
	arrivedEntry, ok := c.tags.Lookup(arrived)
	if !ok || arrivedEntry.Color != moverEntry.Color {
		return nil
	}
	switch arrivedEntry.Type {
	case nchess.Knight, nchess.Bishop, nchess.Rook, nchess.Queen:
	default:
		return nil
	}
	if to.Square.Rank() != backRank(moverEntry.Color) {
		return nil
	}
	promo := MoveCandidate{
		From: from.Square, To: to.Square, Tag: mover,
		Kind: KindPromotion, Promo: arrivedEntry.Type, Rule: 5,
	}
	if to.Before != 0 && curr.Find(to.Before) == nchess.NoSquare {
		promo.CapturedTag = to.Before
	}
	return []MoveCandidate{promo}
}

// enPassantShort covers the two-cell en passant signature: the captured
// pawn was not freshly detected, so its cell carries over and only the
// capturing pawn's diagonal step shows in the diff.
func (c *Classifier) enPassantShort(from, to nchess.Square, mover int, pos *nchess.Position, prev *Grid) (MoveCandidate, bool) {
	color, ok := c.moverColor(mover, from, pos)
	if !ok || !c.isPawnTag(mover, from, pos) {
		return MoveCandidate{}, false
	}
	if !diagonalStep(from, to, color) {
		return MoveCandidate{}, false
	}
	victimSq := nchess.NewSquare(to.File(), from.Rank())
	return MoveCandidate{
		From: from, To: to, Tag: mover,
		CapturedTag: prev.Tag(victimSq), Kind: KindEnPassant, Rule: 4,
	}, true
}

// enPassantFull covers the three-cell signature: capturing pawn departs
// and arrives, and the captured pawn's cell is vacated.
func (c *Classifier) enPassantFull(changes []Change, pos *nchess.Position, prev, curr *Grid) []MoveCandidate {
	var out []MoveCandidate
	for i, from := range changes {
		if from.Before == 0 || from.After != 0 {
			continue
		}
		for j, to := range changes {
			if j == i || to.After != from.Before {
				continue
			}
			color, ok := c.moverColor(from.Before, from.Square, pos)
			if !ok || !c.isPawnTag(from.Before, from.Square, pos) || !diagonalStep(from.Square, to.Square, color) {
				continue
			}
			victimSq := nchess.NewSquare(to.Square.File(), from.Square.Rank())
			for k, victim := range changes {
				if k == i || k == j {
					continue
				}
				if victim.Square == victimSq && victim.Before != 0 && victim.After == 0 {
					out = append(out, MoveCandidate{
						From: from.Square, To: to.Square, Tag: from.Before,
						CapturedTag: victim.Before, Kind: KindEnPassant, Rule: 4,
					})
				}
			}
		}
	}
	return out
}

// castlePattern is one canonical king+rook displacement.
type castlePattern struct {
	kind             MoveKind
	kingFrom, kingTo nchess.Square
	rookFrom, rookTo nchess.Square
}

var castlePatterns = []castlePattern{
	{KindShortCastle,
		nchess.NewSquare(nchess.FileE, nchess.Rank1), nchess.NewSquare(nchess.FileG, nchess.Rank1),
		nchess.NewSquare(nchess.FileH, nchess.Rank1), nchess.NewSquare(nchess.FileF, nchess.Rank1)},
	{KindLongCastle,
		nchess.NewSquare(nchess.FileE, nchess.Rank1), nchess.NewSquare(nchess.FileC, nchess.Rank1),
		nchess.NewSquare(nchess.FileA, nchess.Rank1), nchess.NewSquare(nchess.FileD, nchess.Rank1)},
	{KindShortCastle,
		nchess.NewSquare(nchess.FileE, nchess.Rank8), nchess.NewSquare(nchess.FileG, nchess.Rank8),
		nchess.NewSquare(nchess.FileH, nchess.Rank8), nchess.NewSquare(nchess.FileF, nchess.Rank8)},
	{KindLongCastle,
		nchess.NewSquare(nchess.FileE, nchess.Rank8), nchess.NewSquare(nchess.FileC, nchess.Rank8),
		nchess.NewSquare(nchess.FileA, nchess.Rank8), nchess.NewSquare(nchess.FileD, nchess.Rank8)},
}

// castles matches a four-cell change-set against the canonical castle
// displacements. Anything else with four changes is a glitch and yields
// no candidate.
func (c *Classifier) castles(changes []Change, prev, curr *Grid) []MoveCandidate {
	touched := make(map[nchess.Square]bool, 4)
	for _, ch := range changes {
		touched[ch.Square] = true
	}
	var out []MoveCandidate
	for _, p := range castlePatterns {
		if !touched[p.kingFrom] || !touched[p.kingTo] || !touched[p.rookFrom] || !touched[p.rookTo] {
			continue
		}
		kingTag := prev.Tag(p.kingFrom)
		rookTag := prev.Tag(p.rookFrom)
		if kingTag == 0 || rookTag == 0 {
			continue
		}
		if curr.Tag(p.kingTo) != kingTag || curr.Tag(p.rookTo) != rookTag {
			continue
		}
		if curr.Tag(p.kingFrom) != 0 || curr.Tag(p.rookFrom) != 0 {
			continue
		}
		out = append(out, MoveCandidate{
			From: p.kingFrom, To: p.kingTo, Tag: kingTag, Kind: p.kind, Rule: 3,
		})
	}
	return out
}

func (c *Classifier) isPawnReachingBackRank(tag int, to nchess.Square, pos *nchess.Position, from nchess.Square) bool {
	color, ok := c.moverColor(tag, from, pos)
	if !ok || !c.isPawnTag(tag, from, pos) {
		return false
	}
	return to.Rank() == backRank(color)
}

// moverColor resolves a tag's side, falling back to the piece standing on
// the origin square when the tag is not in the table.
func (c *Classifier) moverColor(tag int, from nchess.Square, pos *nchess.Position) (nchess.Color, bool) {
	if e, ok := c.tags.Lookup(tag); ok {
		return e.Color, true
	}
	if piece := pos.Board().Piece(from); piece != nchess.NoPiece {
		return piece.Color(), true
	}
	return nchess.NoColor, false
}

func (c *Classifier) isPawnTag(tag int, from nchess.Square, pos *nchess.Position) bool {
	if e, ok := c.tags.Lookup(tag); ok {
		return e.Type == nchess.Pawn
	}
	piece := pos.Board().Piece(from)
	return piece != nchess.NoPiece && piece.Type() == nchess.Pawn
}

func backRank(color nchess.Color) nchess.Rank {
	if color == nchess.White {
		return nchess.Rank8
	}
	return nchess.Rank1
}

func diagonalStep(from, to nchess.Square, color nchess.Color) bool {
	df := int(to.File()) - int(from.File())
	dr := int(to.Rank()) - int(from.Rank())
	if df != 1 && df != -1 {
		return false
	}
	if color == nchess.White {
		return dr == 1
	}
	return dr == -1
}

func dedupe(cands []MoveCandidate) []MoveCandidate {
	type key struct {
		from, to nchess.Square
		kind     MoveKind
		promo    nchess.PieceType
	}
	seen := make(map[key]bool, len(cands))
	out := cands[:0]
	for _, c := range cands {
		k := key{c.From, c.To, c.Kind, c.Promo}
		if seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, c)
	}
	return out
}

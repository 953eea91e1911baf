package recon

import (
	"fmt"

	nchess "github.com/corentings/chess/v2"
)

// Oracle enumerates legal moves from a position and applies one to
// produce the next position. The engine never mutates a position any
// other way.
type Oracle interface {
	LegalMoves(pos *nchess.Position) []*nchess.Move
	Apply(pos *nchess.Position, mv *nchess.Move) (*nchess.Position, error)
}

// libraryOracle backs the Oracle with the chess library's move
// generation.
type libraryOracle struct{}

// NewOracle returns the production legality oracle.
func NewOracle() Oracle { return libraryOracle{} }

func (libraryOracle) LegalMoves(pos *nchess.Position) []*nchess.Move {
	// ValidMoves hands out values; the rest of the engine passes moves by
	// pointer, so convert once at this boundary.
	legal := pos.ValidMoves()
	out := make([]*nchess.Move, len(legal))
	for i := range legal {
		out[i] = &legal[i]
	}
	return out
}

func (o libraryOracle) Apply(pos *nchess.Position, mv *nchess.Move) (*nchess.Position, error) {
	if mv == nil {
		return nil, fmt.Errorf("nil move")
	}
	for _, legal := range o.LegalMoves(pos) {
		if sameMove(legal, mv) {
			return pos.Update(legal), nil
		}
	}
	return nil, fmt.Errorf("move %s%s is not legal here", mv.S1(), mv.S2())
}

// sameMove compares moves by coordinates and promotion piece, the
// identity the rest of the engine works in.
func sameMove(a, b *nchess.Move) bool {
	return a.S1() == b.S1() && a.S2() == b.S2() && a.Promo() == b.Promo()
}

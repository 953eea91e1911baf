package recon

import (
	nchess "github.com/corentings/chess/v2"
)

// sequenceBuilder owns the game record and the board position. A position
// snapshot is stored before every move, so a correction rewind is a slice
// truncation, not a replay from the start. chess positions are immutable
// values; snapshots share structure for free.
type sequenceBuilder struct {
	initial *nchess.Position
	current *nchess.Position
	moves   []ValidatedMove
	// snaps[i] is the position before moves[i].
	snaps []*nchess.Position
}

func newSequenceBuilder(initial *nchess.Position) *sequenceBuilder {
	return &sequenceBuilder{initial: initial, current: initial}
}

func (b *sequenceBuilder) Position() *nchess.Position { return b.current }

// Append records an accepted move and the position that follows it.
func (b *sequenceBuilder) Append(vm ValidatedMove, next *nchess.Position) {
	b.snaps = append(b.snaps, b.current)
	b.moves = append(b.moves, vm)
	b.current = next
}

// Record returns a copy of the move list.
func (b *sequenceBuilder) Record() []ValidatedMove {
	out := make([]ValidatedMove, len(b.moves))
	copy(out, b.moves)
	return out
}

func (b *sequenceBuilder) Len() int { return len(b.moves) }

// truncIndexForFrame returns the index of the first move derived from
// frame or any later frame.
func (b *sequenceBuilder) truncIndexForFrame(frame int) int {
	for i, mv := range b.moves {
		if mv.Frame >= frame {
			return i
		}
	}
	return len(b.moves)
}

// PositionBeforeFrame returns the position in force before the given
// frame's transition was considered.
func (b *sequenceBuilder) PositionBeforeFrame(frame int) *nchess.Position {
	idx := b.truncIndexForFrame(frame)
	if idx == len(b.moves) {
		return b.current
	}
	return b.snaps[idx]
}

// TruncateFromFrame drops every move derived from the given frame onward
// and rewinds the position to the snapshot preceding it. Returns the
// number of moves dropped.
func (b *sequenceBuilder) TruncateFromFrame(frame int) int {
	idx := b.truncIndexForFrame(frame)
	dropped := len(b.moves) - idx
	if dropped == 0 {
		return 0
	}
	b.current = b.snaps[idx]
	b.moves = b.moves[:idx]
	b.snaps = b.snaps[:idx]
	return dropped
}

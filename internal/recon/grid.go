package recon

import (
	"sort"

	nchess "github.com/corentings/chess/v2"

	"github.com/otbreview/otbrecon/internal/domain"
)

// Grid is one frame's normalized occupancy snapshot: at most one tag per
// cell and each tag on at most one cell.
type Grid struct {
	// Cells holds the occupying tag per square (0 = empty).
	Cells [64]int
	// Carried marks cells whose occupant was not freshly detected this
	// frame and was carried over from the previous grid.
	Carried [64]bool
	// Areas holds the bounding area of the winning detection per cell.
	Areas [64]float64
	// Margin is the smallest relative area gap among conflicts resolved
	// while building this grid (1 when there was no conflict).
	Margin float64
}

// Tag returns the occupying tag of a square (0 = empty).
func (g *Grid) Tag(sq nchess.Square) int { return g.Cells[sq] }

// Find returns the square a tag occupies, or NoSquare.
func (g *Grid) Find(tag int) nchess.Square {
	for sq, t := range g.Cells {
		if t == tag {
			return nchess.Square(sq)
		}
	}
	return nchess.NoSquare
}

// conflictKind labels a normalization conflict for logging.
type conflictKind string

const (
	conflictCell      conflictKind = "cell-claimed-twice"
	conflictDuplicate conflictKind = "tag-seen-twice"
	conflictMissing   conflictKind = "tag-missing"
)

// Conflict records one normalization decision. Conflicts are absorbed into
// the grid and logged, never surfaced as errors.
type Conflict struct {
	Kind    conflictKind
	Square  nchess.Square
	KeptTag int
	LostTag int
}

// NormalizeFrame reduces a frame's raw detections to a clean grid. It is a
// pure function of the detection list and the previous confirmed grid:
// identical inputs always yield identical grids regardless of detection
// order.
//
// Policy: when two detections claim one cell, or one tag appears on two
// cells, the larger bounding area wins. Exactly equal areas break the tie
// on the lower tag, then the lower cell index. A tag present in prev but
// absent from the detections keeps its last cell, flagged carried, unless
// a surviving detection claims that cell.
func NormalizeFrame(dets []domain.Detection, prev *Grid) (*Grid, []Conflict) {
	g := &Grid{Margin: 1}
	var conflicts []Conflict

	ordered := make([]domain.Detection, len(dets))
	copy(ordered, dets)
	sort.Slice(ordered, func(i, j int) bool {
		if ordered[i].Tag != ordered[j].Tag {
			return ordered[i].Tag < ordered[j].Tag
		}
		return ordered[i].Square < ordered[j].Square
	})

	// Pass 1: one winner per tag.
	byTag := make(map[int]domain.Detection)
	for _, d := range ordered {
		if d.Tag < 1 || d.Square < 0 || d.Square > 63 {
			continue
		}
		cur, seen := byTag[d.Tag]
		if !seen {
			byTag[d.Tag] = d
			continue
		}
		keep, lose := pickByArea(cur, d)
		byTag[d.Tag] = keep
		g.noteMargin(keep.Area, lose.Area)
		conflicts = append(conflicts, Conflict{
			Kind: conflictDuplicate, Square: lose.Square, KeptTag: keep.Tag, LostTag: lose.Tag,
		})
	}

	// Pass 2: one winner per cell, deterministic order over tags.
	tags := make([]int, 0, len(byTag))
	for tag := range byTag {
		tags = append(tags, tag)
	}
	sort.Ints(tags)
	for _, tag := range tags {
		d := byTag[tag]
		sq := int(d.Square)
		if g.Cells[sq] == 0 {
			g.Cells[sq] = d.Tag
			g.Areas[sq] = d.Area
			continue
		}
		held := domain.Detection{Tag: g.Cells[sq], Square: d.Square, Area: g.Areas[sq]}
		keep, lose := pickByArea(held, d)
		g.Cells[sq] = keep.Tag
		g.Areas[sq] = keep.Area
		g.noteMargin(keep.Area, lose.Area)
		conflicts = append(conflicts, Conflict{
			Kind: conflictCell, Square: d.Square, KeptTag: keep.Tag, LostTag: lose.Tag,
		})
	}

	// Pass 3: carry forward tags that vanished. A missing detection is
	// not evidence of removal; captures reveal themselves through the
	// capturing piece landing on the cell.
	if prev != nil {
		for sq, tag := range prev.Cells {
			if tag == 0 {
				continue
			}
			if _, detected := byTag[tag]; detected {
				continue
			}
			if g.Cells[sq] != 0 {
				continue
			}
			g.Cells[sq] = tag
			g.Carried[sq] = true
			g.Areas[sq] = prev.Areas[sq]
			conflicts = append(conflicts, Conflict{
				Kind: conflictMissing, Square: nchess.Square(sq), KeptTag: tag,
			})
		}
	}

	return g, conflicts
}

// pickByArea keeps the larger-area detection; ties break on the lower tag
// and then the lower cell index so normalization stays deterministic.
func pickByArea(a, b domain.Detection) (keep, lose domain.Detection) {
	if a.Area != b.Area {
		if a.Area > b.Area {
			return a, b
		}
		return b, a
	}
	if a.Tag != b.Tag {
		if a.Tag < b.Tag {
			return a, b
		}
		return b, a
	}
	if a.Square <= b.Square {
		return a, b
	}
	return b, a
}

func (g *Grid) noteMargin(kept, lost float64) {
	if kept <= 0 {
		return
	}
	m := (kept - lost) / kept
	if m < 0 {
		m = 0
	}
	if m < g.Margin {
		g.Margin = m
	}
}

// Change is one cell whose occupant differs between consecutive grids.
type Change struct {
	Square nchess.Square
	Before int
	After  int
}

// DiffGrids returns the minimal change-set between two grids in square
// order. An empty result is valid: no move happened between the samples.
func DiffGrids(prev, curr *Grid) []Change {
	var changes []Change
	for sq := 0; sq < 64; sq++ {
		if prev.Cells[sq] != curr.Cells[sq] {
			changes = append(changes, Change{
				Square: nchess.Square(sq),
				Before: prev.Cells[sq],
				After:  curr.Cells[sq],
			})
		}
	}
	return changes
}

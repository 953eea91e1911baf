package render

import (
	"fmt"
	"os"
	"path/filepath"

	nchess "github.com/corentings/chess/v2"

	"github.com/otbreview/otbrecon/internal/recon"
	"github.com/otbreview/otbrecon/internal/tagmap"
)

// DirSink writes debug artifacts under a base directory, one subdirectory
// per artifact kind. Replay overwrites files for revisited frames, which
// keeps the directory consistent with the final record.
type DirSink struct {
	occupancyDir string
	diffDir      string
	boardDir     string
	tags         *tagmap.Table
}

// NewDirSink creates the artifact directories under base.
func NewDirSink(base string, tags *tagmap.Table) (*DirSink, error) {
	s := &DirSink{
		occupancyDir: filepath.Join(base, "occupancy_maps"),
		diffDir:      filepath.Join(base, "diff_heatmaps"),
		boardDir:     filepath.Join(base, "boards"),
		tags:         tags,
	}
	for _, dir := range []string{s.occupancyDir, s.diffDir, s.boardDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create artifact dir: %w", err)
		}
	}
	return s, nil
}

func (s *DirSink) SaveOccupancy(frame int, g *recon.Grid) error {
	data, err := OccupancyPNG(g, s.tags)
	if err != nil {
		return err
	}
	name := filepath.Join(s.occupancyDir, fmt.Sprintf("occupancy_map_%04d.png", frame))
	return os.WriteFile(name, data, 0o644)
}

func (s *DirSink) SaveDiff(frame int, prev, curr *recon.Grid, changes []recon.Change) error {
	data, err := DiffPNG(prev, curr, changes, s.tags)
	if err != nil {
		return err
	}
	name := filepath.Join(s.diffDir, fmt.Sprintf("diff_heatmap_%04d.png", frame))
	return os.WriteFile(name, data, 0o644)
}

func (s *DirSink) SaveBoard(frame int, pos *nchess.Position, lastSAN string) error {
	data, err := BoardPNG(pos, lastSAN)
	if err != nil {
		return err
	}
	name := filepath.Join(s.boardDir, fmt.Sprintf("board_%04d.png", frame))
	return os.WriteFile(name, data, 0o644)
}

// Package tagmap maps detected marker tags to chess pieces. The default
// table for tags 1..32 is embedded; deployments with a different tag sheet
// can override individual tags from a yaml file.
package tagmap

import (
	"embed"
	"fmt"
	"io/fs"
	"os"
	"strings"

	nchess "github.com/corentings/chess/v2"
	yaml "gopkg.in/yaml.v3"
)

//go:embed tags.yaml
var defaultFiles embed.FS

// MinTag and MaxTag bound the valid tag range.
const (
	MinTag = 1
	MaxTag = 32
)

// Entry describes one marker tag.
type Entry struct {
	Tag   int
	Color nchess.Color
	Type  nchess.PieceType
	Home  nchess.Square
}

// Table is an immutable tag→piece lookup table.
type Table struct {
	entries map[int]Entry
}

type yamlEntry struct {
	Color string `yaml:"color"`
	Piece string `yaml:"piece"`
	Home  string `yaml:"home"`
}

type yamlFile struct {
	Tags map[int]yamlEntry `yaml:"tags"`
}

// Load builds the table from the embedded defaults, then applies per-tag
// overrides from overridePath when it is non-empty.
func Load(overridePath string) (*Table, error) {
	raw, err := fs.ReadFile(defaultFiles, "tags.yaml")
	if err != nil {
		return nil, fmt.Errorf("read embedded tag table: %w", err)
	}
	t := &Table{entries: make(map[int]Entry, MaxTag)}
	if err := t.applyYAML(raw); err != nil {
		return nil, err
	}
	if strings.TrimSpace(overridePath) != "" {
		raw, err := os.ReadFile(overridePath)
		if err != nil {
			return nil, fmt.Errorf("read tag table override: %w", err)
		}
		if err := t.applyYAML(raw); err != nil {
			return nil, err
		}
	}
	return t, nil
}

func (t *Table) applyYAML(raw []byte) error {
	var f yamlFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return fmt.Errorf("parse tag table: %w", err)
	}
	for tag, ye := range f.Tags {
		if tag < MinTag || tag > MaxTag {
			return fmt.Errorf("tag %d out of range %d..%d", tag, MinTag, MaxTag)
		}
		entry, err := parseEntry(tag, ye)
		if err != nil {
			return err
		}
		t.entries[tag] = entry
	}
	return nil
}

// Lookup returns the entry for a tag.
func (t *Table) Lookup(tag int) (Entry, bool) {
	e, ok := t.entries[tag]
	return e, ok
}

// IsColor reports whether the tag belongs to the given side.
func (t *Table) IsColor(tag int, color nchess.Color) bool {
	e, ok := t.entries[tag]
	return ok && e.Color == color
}

// IsPawn reports whether the tag's home piece is a pawn.
func (t *Table) IsPawn(tag int) bool {
	e, ok := t.entries[tag]
	return ok && e.Type == nchess.Pawn
}

func parseEntry(tag int, ye yamlEntry) (Entry, error) {
	color, err := parseColor(ye.Color)
	if err != nil {
		return Entry{}, fmt.Errorf("tag %d: %w", tag, err)
	}
	pt, err := parsePieceType(ye.Piece)
	if err != nil {
		return Entry{}, fmt.Errorf("tag %d: %w", tag, err)
	}
	sq, err := ParseSquare(ye.Home)
	if err != nil {
		return Entry{}, fmt.Errorf("tag %d: %w", tag, err)
	}
	return Entry{Tag: tag, Color: color, Type: pt, Home: sq}, nil
}

func parseColor(s string) (nchess.Color, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "white", "w":
		return nchess.White, nil
	case "black", "b":
		return nchess.Black, nil
	}
	return nchess.NoColor, fmt.Errorf("unknown color %q", s)
}

func parsePieceType(s string) (nchess.PieceType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "pawn", "p":
		return nchess.Pawn, nil
	case "knight", "n":
		return nchess.Knight, nil
	case "bishop", "b":
		return nchess.Bishop, nil
	case "rook", "r":
		return nchess.Rook, nil
	case "queen", "q":
		return nchess.Queen, nil
	case "king", "k":
		return nchess.King, nil
	}
	return nchess.NoPieceType, fmt.Errorf("unknown piece type %q", s)
}

// ParseSquare parses algebraic cell names like "e4".
func ParseSquare(s string) (nchess.Square, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if len(s) != 2 || s[0] < 'a' || s[0] > 'h' || s[1] < '1' || s[1] > '8' {
		return nchess.NoSquare, fmt.Errorf("invalid square %q", s)
	}
	return nchess.NewSquare(nchess.File(s[0]-'a'), nchess.Rank(s[1]-'1')), nil
}

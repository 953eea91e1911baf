package tagmap

import (
	"os"
	"path/filepath"
	"testing"

	nchess "github.com/corentings/chess/v2"
)

func TestLoadDefaultTable(t *testing.T) {
	tbl, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	for tag := MinTag; tag <= MaxTag; tag++ {
		if _, ok := tbl.Lookup(tag); !ok {
			t.Fatalf("tag %d missing from default table", tag)
		}
	}

	e, _ := tbl.Lookup(13)
	if e.Color != nchess.White || e.Type != nchess.King || e.Home.String() != "e1" {
		t.Fatalf("tag 13 = %+v", e)
	}
	if !tbl.IsColor(26, nchess.Black) || tbl.IsColor(26, nchess.White) {
		t.Fatalf("tag 26 color lookup broken")
	}
	if !tbl.IsPawn(20) || tbl.IsPawn(29) {
		t.Fatalf("pawn lookup broken")
	}
}

func TestLoadOverrideReplacesSingleTag(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tags.yaml")
	override := "tags:\n  5: {color: white, piece: queen, home: d4}\n"
	if err := os.WriteFile(path, []byte(override), 0o644); err != nil {
		t.Fatalf("write override: %v", err)
	}

	tbl, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	e, _ := tbl.Lookup(5)
	if e.Type != nchess.Queen || e.Home.String() != "d4" {
		t.Fatalf("override not applied: %+v", e)
	}
	// Untouched tags keep their defaults.
	e, _ = tbl.Lookup(6)
	if e.Type != nchess.Pawn || e.Home.String() != "f2" {
		t.Fatalf("default entry lost: %+v", e)
	}
}

func TestLoadRejectsOutOfRangeTag(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tags.yaml")
	override := "tags:\n  40: {color: white, piece: pawn, home: a2}\n"
	if err := os.WriteFile(path, []byte(override), 0o644); err != nil {
		t.Fatalf("write override: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Fatalf("out-of-range tag accepted")
	}
}

func TestParseSquare(t *testing.T) {
	sq, err := ParseSquare("e4")
	if err != nil {
		t.Fatalf("ParseSquare: %v", err)
	}
	if sq.String() != "e4" {
		t.Fatalf("sq = %v", sq)
	}
	for _, bad := range []string{"", "e", "i4", "e9", "44"} {
		if _, err := ParseSquare(bad); err == nil {
			t.Fatalf("ParseSquare(%q) accepted", bad)
		}
	}
}

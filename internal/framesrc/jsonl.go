// Package framesrc reads recorded board observations. The only supported
// container is JSON Lines: one frame object per line, detections keyed by
// cell name.
package framesrc

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/otbreview/otbrecon/internal/domain"
	"github.com/otbreview/otbrecon/internal/tagmap"
)

// maxLineBytes bounds a single frame line; a full board with generous
// per-detection metadata stays far below this.
const maxLineBytes = 1 << 20

type detLine struct {
	Tag  int     `json:"tag"`
	Cell string  `json:"cell"`
	Area float64 `json:"area"`
	Conf float64 `json:"conf"`
}

type frameLine struct {
	Index      int       `json:"index"`
	TS         time.Time `json:"ts"`
	Detections []detLine `json:"detections"`
}

// JSONL streams frames lazily from a JSON Lines document. It never holds
// more than one line in memory.
type JSONL struct {
	rc   io.ReadCloser
	sc   *bufio.Scanner
	line int
}

// Open opens a JSONL frame recording on disk.
func Open(path string) (*JSONL, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open frame recording: %w", err)
	}
	return New(f), nil
}

// New wraps an already-open stream. The source takes ownership of rc.
func New(rc io.ReadCloser) *JSONL {
	sc := bufio.NewScanner(rc)
	sc.Buffer(make([]byte, 64*1024), maxLineBytes)
	return &JSONL{rc: rc, sc: sc}
}

// Next returns the next frame, or io.EOF when the recording ends. Blank
// lines are skipped.
func (s *JSONL) Next(ctx context.Context) (*domain.Frame, error) {
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if !s.sc.Scan() {
			if err := s.sc.Err(); err != nil {
				return nil, fmt.Errorf("read frame line %d: %w", s.line+1, err)
			}
			return nil, io.EOF
		}
		s.line++
		raw := strings.TrimSpace(s.sc.Text())
		if raw == "" {
			continue
		}

		var fl frameLine
		if err := json.Unmarshal([]byte(raw), &fl); err != nil {
			return nil, fmt.Errorf("parse frame line %d: %w", s.line, err)
		}
		frame, err := fl.toDomain()
		if err != nil {
			return nil, fmt.Errorf("frame line %d: %w", s.line, err)
		}
		return frame, nil
	}
}

func (fl frameLine) toDomain() (*domain.Frame, error) {
	dets := make([]domain.Detection, 0, len(fl.Detections))
	for _, d := range fl.Detections {
		sq, err := tagmap.ParseSquare(d.Cell)
		if err != nil {
			return nil, fmt.Errorf("detection tag %d: %w", d.Tag, err)
		}
		dets = append(dets, domain.Detection{
			Tag:    d.Tag,
			Square: sq,
			Area:   d.Area,
			Conf:   d.Conf,
		})
	}
	return &domain.Frame{Index: fl.Index, Timestamp: fl.TS, Detections: dets}, nil
}

func (s *JSONL) Close() error { return s.rc.Close() }

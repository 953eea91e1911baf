package framesrc

import (
	"context"
	"io"
	"strings"
	"testing"
)

func source(t *testing.T, doc string) *JSONL {
	t.Helper()
	s := New(io.NopCloser(strings.NewReader(doc)))
	t.Cleanup(func() { s.Close() })
	return s
}

func TestNextParsesFrames(t *testing.T) {
	doc := `{"index":0,"detections":[{"tag":5,"cell":"e2","area":880,"conf":0.98}]}

{"index":1,"detections":[{"tag":5,"cell":"e4","area":876,"conf":0.97},{"tag":13,"cell":"e1","area":910,"conf":0.99}]}
`
	s := source(t, doc)
	ctx := context.Background()

	f0, err := s.Next(ctx)
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if f0.Index != 0 || len(f0.Detections) != 1 || f0.Detections[0].Tag != 5 {
		t.Fatalf("frame 0 = %+v", f0)
	}

	f1, err := s.Next(ctx)
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if f1.Index != 1 || len(f1.Detections) != 2 {
		t.Fatalf("frame 1 = %+v", f1)
	}
	if f1.Detections[0].Square.String() != "e4" {
		t.Fatalf("square = %v", f1.Detections[0].Square)
	}

	if _, err := s.Next(ctx); err != io.EOF {
		t.Fatalf("want io.EOF, got %v", err)
	}
}

func TestNextRejectsBadCell(t *testing.T) {
	s := source(t, `{"index":0,"detections":[{"tag":5,"cell":"z9","area":1,"conf":1}]}`)
	if _, err := s.Next(context.Background()); err == nil {
		t.Fatalf("invalid cell accepted")
	}
}

func TestNextRejectsBadJSON(t *testing.T) {
	s := source(t, `{"index":0,`)
	if _, err := s.Next(context.Background()); err == nil {
		t.Fatalf("truncated line accepted")
	}
}

func TestNextHonorsContext(t *testing.T) {
	s := source(t, `{"index":0,"detections":[]}`)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := s.Next(ctx); err != context.Canceled {
		t.Fatalf("want context.Canceled, got %v", err)
	}
}

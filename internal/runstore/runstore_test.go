package runstore

import (
	"context"
	"fmt"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
)

func newTestStore(t *testing.T) (*Store, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(func() { mr.Close() })

	s, err := NewStore(fmt.Sprintf("redis://%s/0", mr.Addr()))
	if err != nil {
		t.Fatalf("runstore.NewStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s, mr
}

func snap(id string) *Snapshot {
	return &Snapshot{
		RunID:      id,
		Source:     "frames.jsonl",
		State:      "running",
		FEN:        "rnbqkbnr/pppppppp/8/8/4P3/8/PPPP1PPP/RNBQKBNR b KQkq - 0 1",
		MovesUCI:   []string{"e2e4"},
		MovesSAN:   []string{"e4"},
		FrameCount: 2,
		Pending:    []int{5},
		UpdatedAt:  time.Now(),
	}
}

func TestSaveAndLoadSnapshot(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	if err := s.SaveSnapshot(ctx, snap("run-1")); err != nil {
		t.Fatalf("SaveSnapshot: %v", err)
	}

	got, err := s.LoadSnapshot(ctx, "run-1")
	if err != nil {
		t.Fatalf("LoadSnapshot: %v", err)
	}
	if got == nil || got.State != "running" || len(got.MovesUCI) != 1 || got.Pending[0] != 5 {
		t.Fatalf("snapshot = %+v", got)
	}

	missing, err := s.LoadSnapshot(ctx, "nope")
	if err != nil || missing != nil {
		t.Fatalf("missing snapshot: %v, %v", missing, err)
	}
}

func TestListPrunesExpiredRuns(t *testing.T) {
	s, mr := newTestStore(t)
	ctx := context.Background()

	for _, id := range []string{"a", "b"} {
		if err := s.SaveSnapshot(ctx, snap(id)); err != nil {
			t.Fatalf("SaveSnapshot %s: %v", id, err)
		}
	}

	// Expire one snapshot; the index entry should be pruned on list.
	mr.Del(runKey("a"))

	ids, err := s.ListRunIDs(ctx)
	if err != nil {
		t.Fatalf("ListRunIDs: %v", err)
	}
	if len(ids) != 1 || ids[0] != "b" {
		t.Fatalf("ids = %v", ids)
	}
}

func TestDeleteRun(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	if err := s.SaveSnapshot(ctx, snap("run-1")); err != nil {
		t.Fatalf("SaveSnapshot: %v", err)
	}
	if err := s.DeleteRun(ctx, "run-1"); err != nil {
		t.Fatalf("DeleteRun: %v", err)
	}
	got, err := s.LoadSnapshot(ctx, "run-1")
	if err != nil || got != nil {
		t.Fatalf("snapshot survived delete: %v, %v", got, err)
	}
	ids, err := s.ListRunIDs(ctx)
	if err != nil || len(ids) != 0 {
		t.Fatalf("ids = %v, %v", ids, err)
	}
}

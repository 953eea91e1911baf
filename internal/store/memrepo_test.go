package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/otbreview/otbrecon/internal/domain"
)

func sampleRun(uuid string) *domain.ReconRun {
	now := time.Now()
	return &domain.ReconRun{
		RunUUID:        uuid,
		Source:         "frames.jsonl",
		MovesUCI:       []string{"e2e4", "e7e5"},
		MovesSAN:       []string{"e4", "e5"},
		PGN:            "1. e4 e5 *",
		FrameCount:     3,
		MoveCount:      2,
		MeanConfidence: 0.97,
		StartedAt:      now.Add(-time.Minute),
		EndedAt:        now,
		Duration:       time.Minute,
	}
}

func TestMemRepoInsertAndGet(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()

	id, err := repo.InsertRun(ctx, sampleRun("run-1"))
	if err != nil {
		t.Fatalf("InsertRun: %v", err)
	}
	if id == 0 {
		t.Fatalf("id = 0")
	}

	got, err := repo.GetRun(ctx, "run-1")
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if got == nil || got.MoveCount != 2 || got.MovesSAN[1] != "e5" {
		t.Fatalf("run = %+v", got)
	}

	missing, err := repo.GetRun(ctx, "nope")
	if err != nil || missing != nil {
		t.Fatalf("missing run: %v, %v", missing, err)
	}
}

func TestMemRepoRejectsDuplicate(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()

	if _, err := repo.InsertRun(ctx, sampleRun("run-1")); err != nil {
		t.Fatalf("InsertRun: %v", err)
	}
	if _, err := repo.InsertRun(ctx, sampleRun("run-1")); !errors.Is(err, ErrDuplicateRun) {
		t.Fatalf("duplicate insert: %v", err)
	}
}

func TestMemRepoRecentRunsNewestFirst(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()

	for _, uuid := range []string{"a", "b", "c"} {
		if _, err := repo.InsertRun(ctx, sampleRun(uuid)); err != nil {
			t.Fatalf("InsertRun %s: %v", uuid, err)
		}
	}

	runs, err := repo.GetRecentRuns(ctx, 2)
	if err != nil {
		t.Fatalf("GetRecentRuns: %v", err)
	}
	if len(runs) != 2 || runs[0].RunUUID != "c" || runs[1].RunUUID != "b" {
		t.Fatalf("runs = %+v", runs)
	}
}

// Package store archives finished reconstruction runs.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/otbreview/otbrecon/internal/domain"
)

var ErrDuplicateRun = errors.New("reconstruction run already archived")

type Repository interface {
	InsertRun(ctx context.Context, run *domain.ReconRun) (int64, error)
	GetRun(ctx context.Context, runUUID string) (*domain.ReconRun, error)
	GetRecentRuns(ctx context.Context, limit int) ([]*domain.ReconRun, error)
}

type repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) Repository {
	return &repository{db: db}
}

func (r *repository) InsertRun(ctx context.Context, run *domain.ReconRun) (int64, error) {
	if run == nil {
		return 0, fmt.Errorf("nil run payload")
	}

	movesUCI, err := json.Marshal(run.MovesUCI)
	if err != nil {
		return 0, fmt.Errorf("marshal moves_uci: %w", err)
	}
	movesSAN, err := json.Marshal(run.MovesSAN)
	if err != nil {
		return 0, fmt.Errorf("marshal moves_san: %w", err)
	}

	const query = `
		INSERT INTO recon_runs (
			run_uuid,
			source,
			moves_uci,
			moves_san,
			pgn,
			frame_count,
			move_count,
			correction_count,
			soft_review_count,
			mean_confidence,
			started_at,
			ended_at,
			duration_ms
		)
		VALUES ($1, $2, $3::jsonb, $4::jsonb, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (run_uuid) DO NOTHING
		RETURNING id`

	var id sql.NullInt64
	err = r.db.QueryRowContext(
		ctx,
		query,
		run.RunUUID,
		run.Source,
		movesUCI,
		movesSAN,
		run.PGN,
		run.FrameCount,
		run.MoveCount,
		run.CorrectionCount,
		run.SoftReviewCount,
		run.MeanConfidence,
		run.StartedAt,
		run.EndedAt,
		run.Duration.Milliseconds(),
	).Scan(&id)
	if err == sql.ErrNoRows || (err == nil && !id.Valid) {
		return 0, ErrDuplicateRun
	}
	if err != nil {
		return 0, fmt.Errorf("insert recon run: %w", err)
	}
	return id.Int64, nil
}

const runColumns = `
		id,
		run_uuid,
		source,
		moves_uci,
		moves_san,
		pgn,
		frame_count,
		move_count,
		correction_count,
		soft_review_count,
		mean_confidence,
		started_at,
		ended_at,
		duration_ms`

func (r *repository) GetRun(ctx context.Context, runUUID string) (*domain.ReconRun, error) {
	query := `SELECT` + runColumns + `
		FROM recon_runs
		WHERE run_uuid = $1
		LIMIT 1`

	run, err := scanRun(r.db.QueryRowContext(ctx, query, runUUID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("select recon run: %w", err)
	}
	return run, nil
}

func (r *repository) GetRecentRuns(ctx context.Context, limit int) ([]*domain.ReconRun, error) {
	if limit <= 0 {
		limit = 10
	}
	query := `SELECT` + runColumns + `
		FROM recon_runs
		ORDER BY ended_at DESC
		LIMIT $1`

	rows, err := r.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("select recon runs: %w", err)
	}
	defer rows.Close()

	runs := make([]*domain.ReconRun, 0, limit)
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan recon run: %w", err)
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (*domain.ReconRun, error) {
	var (
		run          domain.ReconRun
		movesUCIJSON []byte
		movesSANJSON []byte
		durationMS   sql.NullInt64
	)
	if err := row.Scan(
		&run.ID,
		&run.RunUUID,
		&run.Source,
		&movesUCIJSON,
		&movesSANJSON,
		&run.PGN,
		&run.FrameCount,
		&run.MoveCount,
		&run.CorrectionCount,
		&run.SoftReviewCount,
		&run.MeanConfidence,
		&run.StartedAt,
		&run.EndedAt,
		&durationMS,
	); err != nil {
		return nil, err
	}
	if durationMS.Valid {
		run.Duration = time.Duration(durationMS.Int64) * time.Millisecond
	}
	if err := json.Unmarshal(movesUCIJSON, &run.MovesUCI); err != nil {
		return nil, fmt.Errorf("unmarshal moves_uci: %w", err)
	}
	if err := json.Unmarshal(movesSANJSON, &run.MovesSAN); err != nil {
		return nil, fmt.Errorf("unmarshal moves_san: %w", err)
	}
	return &run, nil
}

// Package runstore keeps live reconstruction run snapshots in redis so
// operators can inspect in-flight runs and resume the review UI after a
// process restart.
package runstore

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// snapshotTTL bounds how long an abandoned run stays visible.
const snapshotTTL = 24 * time.Hour

// Snapshot is the externally visible state of one run.
type Snapshot struct {
	RunID       string    `json:"run_id"`
	Source      string    `json:"source"`
	State       string    `json:"state"`
	FEN         string    `json:"fen"`
	MovesUCI    []string  `json:"moves_uci"`
	MovesSAN    []string  `json:"moves_san"`
	FrameCount  int       `json:"frame_count"`
	Pending     []int     `json:"pending_frames"`
	SoftReviews int       `json:"soft_reviews"`
	UpdatedAt   time.Time `json:"updated_at"`
}

type Store struct {
	rdb *redis.Client
}

func NewStore(redisURL string) (*Store, error) {
	if strings.TrimSpace(redisURL) == "" {
		return nil, fmt.Errorf("redis url required for run store")
	}
	opts, err := parseRedisURL(redisURL)
	if err != nil {
		return nil, err
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &Store{rdb: rdb}, nil
}

func (s *Store) Close() error {
	if s == nil || s.rdb == nil {
		return nil
	}
	return s.rdb.Close()
}

// SaveSnapshot overwrites the run snapshot and refreshes its TTL and the
// run index.
func (s *Store) SaveSnapshot(ctx context.Context, snap *Snapshot) error {
	if snap == nil || strings.TrimSpace(snap.RunID) == "" {
		return fmt.Errorf("snapshot without run id")
	}
	raw, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}
	if err := s.rdb.Set(ctx, runKey(snap.RunID), raw, snapshotTTL).Err(); err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}
	if err := s.rdb.SAdd(ctx, indexKey, snap.RunID).Err(); err != nil {
		return fmt.Errorf("index run: %w", err)
	}
	_ = s.rdb.Expire(ctx, indexKey, snapshotTTL).Err()
	return nil
}

// LoadSnapshot returns the snapshot, or nil when the run is unknown.
func (s *Store) LoadSnapshot(ctx context.Context, runID string) (*Snapshot, error) {
	raw, err := s.rdb.Get(ctx, runKey(runID)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load snapshot: %w", err)
	}
	var snap Snapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}
	return &snap, nil
}

// ListRunIDs returns the known run ids. Expired snapshots may linger in
// the index until pruned here.
func (s *Store) ListRunIDs(ctx context.Context) ([]string, error) {
	ids, err := s.rdb.SMembers(ctx, indexKey).Result()
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	alive := ids[:0]
	for _, id := range ids {
		n, err := s.rdb.Exists(ctx, runKey(id)).Result()
		if err != nil {
			return nil, fmt.Errorf("check run %s: %w", id, err)
		}
		if n == 0 {
			_ = s.rdb.SRem(ctx, indexKey, id).Err()
			continue
		}
		alive = append(alive, id)
	}
	return alive, nil
}

// DeleteRun removes a snapshot and its index entry.
func (s *Store) DeleteRun(ctx context.Context, runID string) error {
	if err := s.rdb.Del(ctx, runKey(runID)).Err(); err != nil {
		return fmt.Errorf("delete snapshot: %w", err)
	}
	return s.rdb.SRem(ctx, indexKey, runID).Err()
}

const indexKey = "recon:runs"

func runKey(id string) string { return "recon:run:" + strings.TrimSpace(id) }

func parseRedisURL(raw string) (*redis.Options, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, err
	}
	if u.Scheme != "redis" && u.Scheme != "rediss" {
		return nil, fmt.Errorf("unsupported scheme: %s", u.Scheme)
	}
	db := 0
	if p := strings.TrimPrefix(u.Path, "/"); p != "" {
		if n, err := strconv.Atoi(p); err == nil {
			db = n
		}
	}
	pass, _ := u.User.Password()
	return &redis.Options{Addr: u.Host, Password: pass, DB: db}, nil
}

package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"
	"go.uber.org/zap"

	appcfg "github.com/otbreview/otbrecon/internal/config"
	"github.com/otbreview/otbrecon/internal/domain"
	"github.com/otbreview/otbrecon/internal/framesrc"
	"github.com/otbreview/otbrecon/internal/httpapi"
	"github.com/otbreview/otbrecon/internal/notify"
	"github.com/otbreview/otbrecon/internal/obslog"
	"github.com/otbreview/otbrecon/internal/recon"
	"github.com/otbreview/otbrecon/internal/render"
	"github.com/otbreview/otbrecon/internal/runstore"
	"github.com/otbreview/otbrecon/internal/store"
	"github.com/otbreview/otbrecon/internal/tagmap"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	cfg, err := appcfg.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}
	if err := obslog.InitFromEnv(); err != nil {
		log.Fatalf("logger init error: %v", err)
	}
	logger := obslog.L()
	defer func() { _ = logger.Sync() }()

	tags, err := tagmap.Load(cfg.TagMapFile)
	if err != nil {
		log.Fatalf("tag table error: %v", err)
	}

	switch os.Args[1] {
	case "decode":
		if len(os.Args) < 3 {
			usage()
			os.Exit(2)
		}
		if err := runDecode(cfg, tags, logger, os.Args[2]); err != nil {
			logger.Error("decode failed", zap.Error(err))
			os.Exit(1)
		}
	case "serve":
		if err := runServe(cfg, tags, logger); err != nil {
			logger.Error("serve failed", zap.Error(err))
			os.Exit(1)
		}
	default:
		usage()
		os.Exit(2)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: otbrecon decode <frames.jsonl> | otbrecon serve")
}

// runDecode reconstructs a single recording and prints the result. The
// run is archived when a database is configured and a final snapshot is
// written when redis is configured.
func runDecode(cfg *appcfg.AppConfig, tags *tagmap.Table, logger *zap.Logger, path string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	artifacts, err := openArtifacts(cfg, tags)
	if err != nil {
		return err
	}

	engine, err := recon.New(recon.Options{
		InitialFEN:          cfg.InitialFEN,
		ConfidenceThreshold: cfg.ConfidenceThreshold,
		Prefetch:            cfg.Prefetch,
		Tags:                tags,
		Artifacts:           artifacts,
		Logger:              logger,
	})
	if err != nil {
		return err
	}

	runID := uuid.NewString()
	if wh := buildWebhook(cfg); wh != nil {
		engine.AddListener(wh.EngineListener(runID))
	}

	src, err := framesrc.Open(path)
	if err != nil {
		return err
	}
	defer src.Close()

	started := time.Now()
	runErr := engine.Run(ctx, src)
	ended := time.Now()

	printRecord(engine)
	if runErr != nil {
		return runErr
	}

	if cfg.RedisURL != "" {
		if err := saveSnapshot(ctx, cfg, engine, runID, path); err != nil {
			logger.Warn("save run snapshot", zap.Error(err))
		}
	}
	if cfg.DatabaseURL != "" {
		if err := archiveRun(ctx, cfg, engine, runID, path, started, ended); err != nil {
			logger.Warn("archive run", zap.Error(err))
		}
	}
	return nil
}

func printRecord(engine *recon.Engine) {
	for _, m := range engine.Record() {
		flags := ""
		if m.Resolved {
			flags += " (resolved)"
		}
		if m.Provisional {
			flags += " (provisional)"
		}
		fmt.Printf("frame %4d  %-8s %-6s conf=%.2f%s\n", m.Frame, m.SAN, m.UCI, m.Confidence, flags)
	}
	for _, c := range engine.Pending() {
		fmt.Printf("frame %4d  NEEDS CORRECTION (%s)\n", c.Frame, c.Reason)
		for _, cand := range c.Candidates {
			fmt.Printf("            candidate %s conf=%.2f\n", cand.UCI, cand.Confidence)
		}
	}
	for _, s := range engine.SoftReviews() {
		fmt.Printf("frame %4d  soft review %s conf=%.2f\n", s.Frame, s.SAN, s.Confidence)
	}
	fmt.Printf("final position: %s\n", engine.CurrentFEN())
	if pgn, err := engine.PGN(); err == nil {
		fmt.Println(pgn)
	}
}

func saveSnapshot(ctx context.Context, cfg *appcfg.AppConfig, engine *recon.Engine, runID, source string) error {
	rs, err := runstore.NewStore(cfg.RedisURL)
	if err != nil {
		return err
	}
	defer rs.Close()

	record := engine.Record()
	uci := make([]string, 0, len(record))
	san := make([]string, 0, len(record))
	for _, m := range record {
		uci = append(uci, m.UCI)
		san = append(san, m.SAN)
	}
	pending := engine.Pending()
	frames := make([]int, 0, len(pending))
	for _, c := range pending {
		frames = append(frames, c.Frame)
	}
	state := "done"
	if len(pending) > 0 {
		state = "needs-review"
	}
	return rs.SaveSnapshot(ctx, &runstore.Snapshot{
		RunID:       runID,
		Source:      source,
		State:       state,
		FEN:         engine.CurrentFEN(),
		MovesUCI:    uci,
		MovesSAN:    san,
		FrameCount:  engine.FrameCount(),
		Pending:     frames,
		SoftReviews: len(engine.SoftReviews()),
		UpdatedAt:   time.Now(),
	})
}

func archiveRun(ctx context.Context, cfg *appcfg.AppConfig, engine *recon.Engine, runID, source string, started, ended time.Time) error {
	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer db.Close()
	if err := db.PingContext(ctx); err != nil {
		return err
	}
	repo := store.NewRepository(db)

	record := engine.Record()
	uci := make([]string, 0, len(record))
	san := make([]string, 0, len(record))
	var confSum float64
	for _, m := range record {
		uci = append(uci, m.UCI)
		san = append(san, m.SAN)
		confSum += m.Confidence
	}
	mean := 0.0
	if len(record) > 0 {
		mean = confSum / float64(len(record))
	}
	pgn, _ := engine.PGN()

	_, err = repo.InsertRun(ctx, &domain.ReconRun{
		RunUUID:         runID,
		Source:          source,
		MovesUCI:        uci,
		MovesSAN:        san,
		PGN:             pgn,
		FrameCount:      engine.FrameCount(),
		MoveCount:       len(record),
		CorrectionCount: len(engine.Resolved()) + len(engine.Pending()),
		SoftReviewCount: len(engine.SoftReviews()),
		MeanConfidence:  mean,
		StartedAt:       started,
		EndedAt:         ended,
		Duration:        ended.Sub(started),
	})
	if errors.Is(err, store.ErrDuplicateRun) {
		return nil
	}
	return err
}

// runServe exposes the engine over HTTP until the process is signalled.
func runServe(cfg *appcfg.AppConfig, tags *tagmap.Table, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	artifacts, err := openArtifacts(cfg, tags)
	if err != nil {
		return err
	}

	opts := httpapi.Options{
		Tags:                tags,
		ConfidenceThreshold: cfg.ConfidenceThreshold,
		Prefetch:            cfg.Prefetch,
		DefaultFEN:          cfg.InitialFEN,
		Artifacts:           artifacts,
		Logger:              logger,
	}

	if wh := buildWebhook(cfg); wh != nil {
		opts.ExtraListeners = func(runID string) []recon.Listener {
			return []recon.Listener{wh.EngineListener(runID)}
		}
	}
	if cfg.RedisURL != "" {
		rs, err := runstore.NewStore(cfg.RedisURL)
		if err != nil {
			return err
		}
		defer rs.Close()
		opts.Snapshots = rs
	}
	if cfg.DatabaseURL != "" {
		db, err := sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			return err
		}
		defer db.Close()
		if err := db.PingContext(ctx); err != nil {
			return err
		}
		opts.Archive = store.NewRepository(db)
	} else {
		opts.Archive = store.NewMemoryRepository()
	}

	srv, err := httpapi.NewServer(opts)
	if err != nil {
		return err
	}

	httpSrv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", zap.String("addr", cfg.ListenAddr))
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return httpSrv.Shutdown(shutdownCtx)
}

func openArtifacts(cfg *appcfg.AppConfig, tags *tagmap.Table) (recon.ArtifactSink, error) {
	if cfg.DebugDir == "" {
		return nil, nil
	}
	sink, err := render.NewDirSink(cfg.DebugDir, tags)
	if err != nil {
		return nil, err
	}
	return sink, nil
}

func buildWebhook(cfg *appcfg.AppConfig) *notify.Webhook {
	if cfg.WebhookURL == "" {
		return nil
	}
	opts := []notify.Option{}
	if len(cfg.WebhookHeaders) > 0 {
		headers := cfg.WebhookHeaders
		opts = append(opts, notify.WithHeaderProvider(func() map[string]string { return headers }))
	}
	return notify.NewWebhook(cfg.WebhookURL, opts...)
}

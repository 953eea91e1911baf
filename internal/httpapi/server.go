// Package httpapi exposes the reconstruction engine over REST plus a
// websocket live feed, for the review UI and automation.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/otbreview/otbrecon/internal/domain"
	"github.com/otbreview/otbrecon/internal/framesrc"
	"github.com/otbreview/otbrecon/internal/recon"
	"github.com/otbreview/otbrecon/internal/runstore"
	"github.com/otbreview/otbrecon/internal/store"
	"github.com/otbreview/otbrecon/internal/tagmap"
	"github.com/otbreview/otbrecon/pkg/recondto"
)

// FrameStream is a closeable frame source.
type FrameStream interface {
	recon.FrameSource
	Close() error
}

// SnapshotStore persists live run snapshots, redis in production.
type SnapshotStore interface {
	SaveSnapshot(ctx context.Context, snap *runstore.Snapshot) error
}

// Options wires the server's engine factory.
type Options struct {
	Tags                *tagmap.Table
	ConfidenceThreshold float64
	Prefetch            int
	DefaultFEN          string
	// OpenSource opens a named frame recording; defaults to JSONL files
	// on disk.
	OpenSource func(source string) (FrameStream, error)
	// Artifacts, when non-nil, is attached to every engine.
	Artifacts recon.ArtifactSink
	// ExtraListeners are attached to every run, webhook delivery for
	// example.
	ExtraListeners func(runID string) []recon.Listener
	// Snapshots, when non-nil, receives a run snapshot whenever a run
	// settles or a correction is resolved.
	Snapshots SnapshotStore
	// Archive, when non-nil, receives completed runs.
	Archive store.Repository
	Logger  *zap.Logger
}

type Server struct {
	opts   Options
	runs   *registry
	logger *zap.Logger
	router chi.Router
}

func NewServer(opts Options) (*Server, error) {
	if opts.Tags == nil {
		return nil, fmt.Errorf("tag table is required")
	}
	if opts.OpenSource == nil {
		opts.OpenSource = func(source string) (FrameStream, error) {
			src, err := framesrc.Open(source)
			if err != nil {
				return nil, err
			}
			return src, nil
		}
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &Server{
		opts:   opts,
		runs:   newRegistry(),
		logger: logger,
	}

	r := chi.NewRouter()
	r.Route("/api/runs", func(r chi.Router) {
		r.Get("/", s.handleListRuns)
		r.Post("/", s.handleStartRun)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/record", s.handleRecord)
			r.Get("/corrections", s.handleCorrections)
			r.Post("/corrections/{frame}/resolve", s.handleResolve)
			r.Get("/events", s.handleEvents)
		})
	})
	s.router = r
	return s, nil
}

func (s *Server) Handler() http.Handler { return s.router }

// StartRun builds an engine for the source and drives it on its own
// goroutine. The returned run is immediately visible in the listing.
func (s *Server) StartRun(req recondto.StartRunRequest) (*Run, error) {
	source := strings.TrimSpace(req.Source)
	if source == "" {
		return nil, recondto.DomainError{Code: "bad_request", Message: "source is required"}
	}
	fen := req.InitialFEN
	if fen == "" {
		fen = s.opts.DefaultFEN
	}

	engine, err := recon.New(recon.Options{
		InitialFEN:          fen,
		ConfidenceThreshold: s.opts.ConfidenceThreshold,
		Prefetch:            s.opts.Prefetch,
		Tags:                s.opts.Tags,
		Artifacts:           s.opts.Artifacts,
		Logger:              s.logger,
	})
	if err != nil {
		return nil, recondto.DomainError{Code: "bad_request", Message: err.Error()}
	}

	stream, err := s.opts.OpenSource(source)
	if err != nil {
		return nil, recondto.DomainError{Code: "source_unavailable", Message: err.Error()}
	}

	run := newRun(newRunID(), source, engine)
	engine.AddListener(run.eventListener())
	if s.opts.ExtraListeners != nil {
		for _, l := range s.opts.ExtraListeners(run.ID) {
			engine.AddListener(l)
		}
	}
	s.runs.add(run)

	go func() {
		defer stream.Close()
		err := engine.Run(context.Background(), stream)
		switch {
		case err != nil:
			s.logger.Error("run failed", zap.String("run_id", run.ID), zap.Error(err))
			run.setState(StateFailed, err)
		case len(engine.Pending()) > 0:
			run.setState(StateNeedsReview, nil)
		default:
			run.setState(StateDone, nil)
		}
		s.persist(run)
	}()

	s.logger.Info("run started", zap.String("run_id", run.ID), zap.String("source", source))
	return run, nil
}

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	runs := s.runs.list()
	out := make([]recondto.RunSummary, 0, len(runs))
	for _, run := range runs {
		out = append(out, run.summary())
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleStartRun(w http.ResponseWriter, r *http.Request) {
	var req recondto.StartRunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, recondto.DomainError{Code: "bad_request", Message: "invalid json body"})
		return
	}
	run, err := s.StartRun(req)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, recondto.StartRunResponse{RunID: run.ID})
}

func (s *Server) handleRecord(w http.ResponseWriter, r *http.Request) {
	run, ok := s.runs.get(chi.URLParam(r, "id"))
	if !ok {
		writeError(w, http.StatusNotFound, recondto.DomainError{Code: "not_found", Message: "unknown run"})
		return
	}
	writeJSON(w, http.StatusOK, s.recordResponse(run))
}

func (s *Server) handleCorrections(w http.ResponseWriter, r *http.Request) {
	run, ok := s.runs.get(chi.URLParam(r, "id"))
	if !ok {
		writeError(w, http.StatusNotFound, recondto.DomainError{Code: "not_found", Message: "unknown run"})
		return
	}
	pending := run.engine.Pending()
	out := make([]recondto.CorrectionDTO, 0, len(pending))
	for _, c := range pending {
		out = append(out, correctionDTO(c))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleResolve(w http.ResponseWriter, r *http.Request) {
	run, ok := s.runs.get(chi.URLParam(r, "id"))
	if !ok {
		writeError(w, http.StatusNotFound, recondto.DomainError{Code: "not_found", Message: "unknown run"})
		return
	}
	frame, err := strconv.Atoi(chi.URLParam(r, "frame"))
	if err != nil {
		writeError(w, http.StatusBadRequest, recondto.DomainError{Code: "bad_request", Message: "invalid frame index"})
		return
	}
	var req recondto.ResolveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, recondto.DomainError{Code: "bad_request", Message: "invalid json body"})
		return
	}

	switch err := run.engine.Resolve(frame, req.UCI); {
	case errors.Is(err, recon.ErrNoCorrection):
		writeError(w, http.StatusNotFound, recondto.DomainError{Code: "no_correction", Message: err.Error()})
		return
	case errors.Is(err, recon.ErrIllegalResolution):
		writeError(w, http.StatusUnprocessableEntity, recondto.DomainError{Code: "illegal_move", Message: err.Error()})
		return
	case err != nil:
		writeError(w, http.StatusInternalServerError, recondto.DomainError{Code: "internal", Message: err.Error()})
		return
	}

	run.touchState()
	s.persist(run)
	writeJSON(w, http.StatusOK, s.recordResponse(run))
}

// persist pushes the run's current state to the snapshot store and, once
// the run completes cleanly, to the archive. Both sinks are optional and
// failures are logged rather than surfaced to API clients.
func (s *Server) persist(run *Run) {
	state, updated := run.snapshotState()

	if s.opts.Snapshots != nil {
		record := run.engine.Record()
		uci := make([]string, 0, len(record))
		san := make([]string, 0, len(record))
		for _, m := range record {
			uci = append(uci, m.UCI)
			san = append(san, m.SAN)
		}
		pending := run.engine.Pending()
		frames := make([]int, 0, len(pending))
		for _, c := range pending {
			frames = append(frames, c.Frame)
		}
		snap := &runstore.Snapshot{
			RunID:       run.ID,
			Source:      run.Source,
			State:       state,
			FEN:         run.engine.CurrentFEN(),
			MovesUCI:    uci,
			MovesSAN:    san,
			FrameCount:  run.engine.FrameCount(),
			Pending:     frames,
			SoftReviews: len(run.engine.SoftReviews()),
			UpdatedAt:   updated,
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := s.opts.Snapshots.SaveSnapshot(ctx, snap); err != nil {
			s.logger.Warn("save run snapshot", zap.String("run_id", run.ID), zap.Error(err))
		}
		cancel()
	}

	if s.opts.Archive == nil || state != StateDone {
		return
	}
	rr := archivedRun(run, updated)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if _, err := s.opts.Archive.InsertRun(ctx, rr); err != nil && !errors.Is(err, store.ErrDuplicateRun) {
		s.logger.Warn("archive run", zap.String("run_id", run.ID), zap.Error(err))
	}
}

func archivedRun(run *Run, endedAt time.Time) *domain.ReconRun {
	record := run.engine.Record()
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
	pgn, _ := run.engine.PGN()

	return &domain.ReconRun{
		RunUUID:         run.ID,
		Source:          run.Source,
		MovesUCI:        uci,
		MovesSAN:        san,
		PGN:             pgn,
		FrameCount:      run.engine.FrameCount(),
		MoveCount:       len(record),
		CorrectionCount: len(run.engine.Resolved()) + len(run.engine.Pending()),
		SoftReviewCount: len(run.engine.SoftReviews()),
		MeanConfidence:  mean,
		StartedAt:       run.createdAt,
		EndedAt:         endedAt,
		Duration:        endedAt.Sub(run.createdAt),
	}
}

func (s *Server) recordResponse(run *Run) recondto.RecordResponse {
	record := run.engine.Record()
	moves := make([]recondto.MoveDTO, 0, len(record))
	for _, m := range record {
		moves = append(moves, moveDTO(m))
	}
	pending := run.engine.Pending()
	corrections := make([]recondto.CorrectionDTO, 0, len(pending))
	for _, c := range pending {
		corrections = append(corrections, correctionDTO(c))
	}
	soft := run.engine.SoftReviews()
	reviews := make([]recondto.SoftReviewDTO, 0, len(soft))
	for _, sr := range soft {
		reviews = append(reviews, recondto.SoftReviewDTO{
			Frame: sr.Frame, UCI: sr.UCI, SAN: sr.SAN, Confidence: sr.Confidence,
		})
	}

	state, _ := run.snapshotState()
	resp := recondto.RecordResponse{
		RunID:       run.ID,
		State:       state,
		FEN:         run.engine.CurrentFEN(),
		Moves:       moves,
		Pending:     corrections,
		SoftReviews: reviews,
		FrameCount:  run.engine.FrameCount(),
	}
	if pgn, err := run.engine.PGN(); err == nil {
		resp.PGN = pgn
	}
	return resp
}

func moveDTO(m recon.ValidatedMove) recondto.MoveDTO {
	return recondto.MoveDTO{
		Frame:       m.Frame,
		UCI:         m.UCI,
		SAN:         m.SAN,
		Confidence:  m.Confidence,
		Provisional: m.Provisional,
		Resolved:    m.Resolved,
	}
}

func correctionDTO(c recon.CorrectionRequest) recondto.CorrectionDTO {
	out := recondto.CorrectionDTO{
		ID:          c.ID,
		Frame:       c.Frame,
		Reason:      string(c.Reason),
		State:       string(c.State),
		CreatedAt:   c.CreatedAt,
		ResolvedUCI: c.ResolvedUCI,
	}
	for _, cand := range c.Candidates {
		out.Candidates = append(out.Candidates, recondto.CandidateDTO{
			UCI:        cand.UCI,
			SAN:        cand.SAN,
			Kind:       string(cand.Kind),
			Confidence: cand.Confidence,
		})
	}
	return out
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, derr recondto.DomainError) {
	writeJSON(w, status, derr)
}

func writeDomainError(w http.ResponseWriter, err error) {
	var derr recondto.DomainError
	if !errors.As(err, &derr) {
		derr = recondto.DomainError{Code: "internal", Message: err.Error()}
	}
	status := http.StatusInternalServerError
	switch derr.Code {
	case "bad_request":
		status = http.StatusBadRequest
	case "not_found":
		status = http.StatusNotFound
	case "source_unavailable":
		status = http.StatusUnprocessableEntity
	}
	writeError(w, status, derr)
}

package recon

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"

	nchess "github.com/corentings/chess/v2"
	"go.uber.org/zap"

	"github.com/otbreview/otbrecon/internal/domain"
	"github.com/otbreview/otbrecon/internal/tagmap"
)

// FrameSource produces the finite, non-restartable frame sequence. Next
// returns io.EOF when the stream ends.
type FrameSource interface {
	Next(ctx context.Context) (*domain.Frame, error)
}

// ArtifactSink receives optional debug artifacts as the engine advances.
// Implementations must tolerate being called again for the same frame
// during replay.
type ArtifactSink interface {
	SaveOccupancy(frame int, g *Grid) error
	SaveDiff(frame int, prev, curr *Grid, changes []Change) error
	SaveBoard(frame int, pos *nchess.Position, lastSAN string) error
}

// Options configures an Engine.
type Options struct {
	// InitialFEN declares the starting position; empty means the
	// standard start.
	InitialFEN string
	// ConfidenceThreshold is the soft-review cutoff.
	ConfidenceThreshold float64
	// Prefetch bounds the normalization read-ahead queue used by Run.
	// Zero disables the pipeline and normalizes inline.
	Prefetch int
	Tags     *tagmap.Table
	Oracle   Oracle
	// Artifacts receives debug renders; nil disables them.
	Artifacts ArtifactSink
	Logger    *zap.Logger
}

// Engine reconstructs a legal move sequence from normalized occupancy
// grids. Grids are cached per frame so a correction can rewind to a
// snapshot and deterministically replay the tail.
type Engine struct {
	mu sync.Mutex

	oracle     Oracle
	classifier *Classifier
	validator  *Validator
	builder    *sequenceBuilder
	corr       *corrections
	artifacts  ArtifactSink
	logger     *zap.Logger

	initialFEN string
	threshold  float64
	prefetch   int

	baseIndex int
	grids     []*Grid
	// resolutions maps frame index to the manually chosen move, making
	// replay a pure function of grids and resolutions.
	resolutions map[int]string
	// deferred lists frames whose transition could not be explained
	// while an earlier correction was still pending.
	deferred []int

	listeners []Listener
}

// New builds an engine. Tags and a positive threshold are required;
// Oracle defaults to the chess library.
func New(opts Options) (*Engine, error) {
	if opts.Tags == nil {
		return nil, fmt.Errorf("tag table is required")
	}
	if opts.ConfidenceThreshold <= 0 || opts.ConfidenceThreshold > 1 {
		return nil, fmt.Errorf("confidence threshold must be in (0,1]")
	}
	oracle := opts.Oracle
	if oracle == nil {
		oracle = NewOracle()
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	initial, err := positionFromFEN(opts.InitialFEN)
	if err != nil {
		return nil, err
	}

	return &Engine{
		oracle:      oracle,
		classifier:  NewClassifier(opts.Tags),
		validator:   NewValidator(oracle),
		builder:     newSequenceBuilder(initial),
		corr:        newCorrections(),
		artifacts:   opts.Artifacts,
		logger:      logger,
		initialFEN:  strings.TrimSpace(opts.InitialFEN),
		threshold:   opts.ConfidenceThreshold,
		prefetch:    opts.Prefetch,
		resolutions: make(map[int]string),
	}, nil
}

func positionFromFEN(fen string) (*nchess.Position, error) {
	fen = strings.TrimSpace(fen)
	if fen == "" {
		return nchess.NewGame().Position(), nil
	}
	opt, err := nchess.FEN(fen)
	if err != nil {
		return nil, fmt.Errorf("parse initial FEN: %w", err)
	}
	return nchess.NewGame(opt).Position(), nil
}

// AddListener registers an event listener. Listeners are invoked under
// the engine lock and must return quickly without re-entering the engine.
func (e *Engine) AddListener(l Listener) {
	if l == nil {
		return
	}
	e.mu.Lock()
	e.listeners = append(e.listeners, l)
	e.mu.Unlock()
}

func (e *Engine) emit(ev Event) {
	for _, l := range e.listeners {
		l(ev)
	}
}

// Run drives the engine over a frame source. With Prefetch > 0 the grid
// normalization runs ahead in its own goroutine; validation always
// applies strictly in frame order.
func (e *Engine) Run(ctx context.Context, src FrameSource) error {
	if e.prefetch <= 0 {
		for {
			f, err := src.Next(ctx)
			if err == io.EOF {
				return nil
			}
			if err != nil {
				return err
			}
			if err := e.ProcessFrame(*f); err != nil {
				return err
			}
		}
	}

	type normalized struct {
		frame     domain.Frame
		grid      *Grid
		conflicts []Conflict
	}
	ch := make(chan normalized, e.prefetch)
	errCh := make(chan error, 1)

	go func() {
		defer close(ch)
		var prev *Grid
		for {
			f, err := src.Next(ctx)
			if err == io.EOF {
				return
			}
			if err != nil {
				errCh <- err
				return
			}
			// Normalization chains on the previous grid but never on
			// validation state, so it can run ahead safely.
			g, conflicts := NormalizeFrame(f.Detections, prev)
			prev = g
			select {
			case ch <- normalized{frame: *f, grid: g, conflicts: conflicts}:
			case <-ctx.Done():
				errCh <- ctx.Err()
				return
			}
		}
	}()

	for item := range ch {
		e.mu.Lock()
		err := e.ingestLocked(item.frame, item.grid, item.conflicts)
		e.mu.Unlock()
		if err != nil {
			// Unblock the producer before bailing out.
			go func() {
				for range ch {
				}
			}()
			return err
		}
	}
	select {
	case err := <-errCh:
		return err
	default:
		return nil
	}
}

// ProcessFrame ingests a single frame, normalizing inline.
func (e *Engine) ProcessFrame(f domain.Frame) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.ingestLocked(f, nil, nil)
}

func (e *Engine) ingestLocked(f domain.Frame, pre *Grid, preConflicts []Conflict) error {
	if len(e.grids) == 0 {
		g := pre
		conflicts := preConflicts
		if g == nil {
			g, conflicts = NormalizeFrame(f.Detections, nil)
		}
		e.baseIndex = f.Index
		e.grids = append(e.grids, g)
		e.logConflicts(f.Index, conflicts)
		e.saveOccupancy(f.Index, g)
		return nil
	}

	expected := e.baseIndex + len(e.grids)
	if f.Index != expected {
		return fmt.Errorf("%w: got frame %d, want %d", ErrIngestionGap, f.Index, expected)
	}

	prev := e.grids[len(e.grids)-1]
	g := pre
	conflicts := preConflicts
	if g == nil {
		g, conflicts = NormalizeFrame(f.Detections, prev)
	} else {
		// Prefetched grids chain on the producer's local copy, which
		// never sees validation-time scrubs of captured tags.
		reconcileCarry(prev, g)
	}
	e.grids = append(e.grids, g)
	e.logConflicts(f.Index, conflicts)
	e.saveOccupancy(f.Index, g)

	e.processTransition(f.Index, prev, g)
	return nil
}

// processTransition explains one grid transition. It is shared between
// live ingestion and correction replay, which keeps replay deterministic:
// the outcome depends only on the grids and the resolutions map.
func (e *Engine) processTransition(frame int, prev, curr *Grid) {
	changes := DiffGrids(prev, curr)
	e.saveDiff(frame, prev, curr, changes)
	if len(changes) == 0 {
		return
	}

	if uci, ok := e.resolutions[frame]; ok {
		e.applyResolution(frame, uci)
		return
	}

	pos := e.builder.Position()
	cands := e.classifier.Classify(changes, pos, prev, curr)
	matches := e.validator.Intersect(pos, cands)

	switch len(matches) {
	case 1:
		e.accept(frame, matches[0], len(cands), prev, curr)
	case 0:
		if e.corr.hasPendingBefore(frame) {
			e.deferFrame(frame)
			return
		}
		req := e.corr.open(frame, domain.ReasonNoLegalMatch, rankRaw(cands))
		e.logger.Info("correction opened",
			zap.Int("frame", frame),
			zap.String("reason", string(req.Reason)),
			zap.Int("changes", len(changes)),
		)
		e.emit(Event{Kind: EventCorrectionOpened, Frame: frame, Correction: copyRequest(req)})
	default:
		if e.corr.hasPendingBefore(frame) {
			e.deferFrame(frame)
			return
		}
		req := e.corr.open(frame, domain.ReasonAmbiguous, e.rankMatches(frame, matches, prev, curr))
		e.logger.Info("correction opened",
			zap.Int("frame", frame),
			zap.String("reason", string(req.Reason)),
			zap.Int("candidates", len(req.Candidates)),
		)
		e.emit(Event{Kind: EventCorrectionOpened, Frame: frame, Correction: copyRequest(req)})
	}
}

func (e *Engine) accept(frame int, m Match, hypotheses int, prev, curr *Grid) {
	pos := e.builder.Position()
	conf := scoreConfidence(confidenceInputs{
		gridMargin:      curr.Margin,
		carriedInvolved: carriedInvolved(m.Candidate, prev, curr),
		hypotheses:      hypotheses,
		assumedPromo:    m.Candidate.AssumedPromo,
	})

	next, err := e.oracle.Apply(pos, m.Move)
	if err != nil {
		// The oracle just listed this move as legal; a failure here is
		// a bug, not an observation problem.
		e.logger.Error("apply validated move", zap.Error(err), zap.Int("frame", frame))
		return
	}

	san := nchess.AlgebraicNotation{}.Encode(pos, m.Move)
	vm := ValidatedMove{
		Candidate:   m.Candidate,
		UCI:         strings.ToLower(nchess.UCINotation{}.Encode(pos, m.Move)),
		SAN:         san,
		Confidence:  conf,
		Frame:       frame,
		Provisional: e.corr.hasPendingBefore(frame),
	}
	e.builder.Append(vm, next)
	scrubCapturedCarry(m.Move, curr)

	if conf < e.threshold {
		e.corr.addSoft(SoftReview{Frame: frame, UCI: vm.UCI, SAN: vm.SAN, Confidence: conf})
	}
	e.logger.Debug("move validated",
		zap.Int("frame", frame),
		zap.String("san", san),
		zap.Float64("confidence", conf),
		zap.Bool("provisional", vm.Provisional),
	)
	e.emit(Event{Kind: EventMoveValidated, Frame: frame, Move: &vm})
	e.saveBoard(frame, next, san)
}

// applyResolution replays a manually chosen move during rewind-replay.
func (e *Engine) applyResolution(frame int, uci string) {
	pos := e.builder.Position()
	mv, err := decodeLegal(e.oracle, pos, uci)
	if err != nil {
		// A stored resolution can only become stale if an earlier
		// resolution changed; surface it as a fresh correction.
		e.logger.Warn("stored resolution no longer legal",
			zap.Int("frame", frame), zap.String("uci", uci), zap.Error(err))
		delete(e.resolutions, frame)
		req := e.corr.open(frame, domain.ReasonNoLegalMatch, nil)
		e.emit(Event{Kind: EventCorrectionOpened, Frame: frame, Correction: copyRequest(req)})
		return
	}

	san := nchess.AlgebraicNotation{}.Encode(pos, mv)
	next, err := e.oracle.Apply(pos, mv)
	if err != nil {
		e.logger.Error("apply resolved move", zap.Error(err), zap.Int("frame", frame))
		return
	}
	vm := ValidatedMove{
		Candidate: MoveCandidate{From: mv.S1(), To: mv.S2()},
		UCI:       strings.ToLower(nchess.UCINotation{}.Encode(pos, mv)),
		SAN:       san,
		// Manually confirmed moves carry full confidence.
		Confidence:  1,
		Frame:       frame,
		Provisional: e.corr.hasPendingBefore(frame),
		Resolved:    true,
	}
	e.builder.Append(vm, next)
	scrubCapturedCarry(mv, e.gridAt(frame))
	e.emit(Event{Kind: EventMoveValidated, Frame: frame, Move: &vm})
	e.saveBoard(frame, next, san)
}

// Resolve applies a manual resolution for a pending correction, or
// overrides a low-confidence accepted move flagged for soft review, and
// replays all later frames from their cached grids. Resolving the same
// frame with the same move twice is a no-op.
func (e *Engine) Resolve(frame int, uci string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	uci = strings.ToLower(strings.TrimSpace(uci))
	_, hard := e.corr.get(frame)
	if !hard {
		if stored, done := e.resolutions[frame]; done && stored == uci {
			return nil
		}
		if !e.corr.hasSoft(frame) {
			return fmt.Errorf("%w: frame %d", ErrNoCorrection, frame)
		}
	}

	pos := e.builder.PositionBeforeFrame(frame)
	mv, err := decodeLegal(e.oracle, pos, uci)
	if err != nil {
		return fmt.Errorf("%w: %s at frame %d", ErrIllegalResolution, uci, frame)
	}
	canonical := strings.ToLower(nchess.UCINotation{}.Encode(pos, mv))

	e.resolutions[frame] = canonical
	if hard {
		e.corr.markResolved(frame, canonical)
	} else {
		e.corr.resolveSoft(frame, canonical)
	}
	if req := e.resolvedRequest(frame); req != nil {
		e.emit(Event{Kind: EventCorrectionResolved, Frame: frame, Correction: copyRequest(req)})
	}
	e.logger.Info("correction resolved", zap.Int("frame", frame), zap.String("uci", canonical))

	e.rewindReplay(frame)
	return nil
}

// rewindReplay truncates the record to the snapshot before the frame and
// re-runs every cached transition from there. The engine lock is held for
// the whole rewind, so no partial state is observable.
func (e *Engine) rewindReplay(frame int) {
	dropped := e.builder.TruncateFromFrame(frame)
	e.corr.dropFrom(frame)
	kept := e.deferred[:0]
	for _, f := range e.deferred {
		if f < frame {
			kept = append(kept, f)
		}
	}
	e.deferred = kept

	if dropped > 0 {
		e.emit(Event{Kind: EventRecordInvalidated, Frame: frame})
	}

	last := e.baseIndex + len(e.grids) - 1
	for fi := frame; fi <= last; fi++ {
		if fi <= e.baseIndex {
			continue
		}
		e.processTransition(fi, e.gridAt(fi-1), e.gridAt(fi))
	}
}

func (e *Engine) gridAt(frame int) *Grid { return e.grids[frame-e.baseIndex] }

func (e *Engine) deferFrame(frame int) {
	e.deferred = append(e.deferred, frame)
	e.logger.Debug("transition deferred behind pending correction", zap.Int("frame", frame))
}

func (e *Engine) resolvedRequest(frame int) *CorrectionRequest {
	for _, req := range e.corr.resolved {
		if req.Frame == frame {
			return req
		}
	}
	return nil
}

// Record returns a copy of the validated move list.
func (e *Engine) Record() []ValidatedMove {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.builder.Record()
}

// Pending returns the open correction requests in frame order.
func (e *Engine) Pending() []CorrectionRequest {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.corr.pendingList()
}

// Resolved returns the corrections already answered manually.
func (e *Engine) Resolved() []CorrectionRequest {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]CorrectionRequest, 0, len(e.corr.resolved))
	for _, req := range e.corr.resolved {
		out = append(out, *req)
	}
	return out
}

// SoftReviews returns accepted moves flagged for optional review.
func (e *Engine) SoftReviews() []SoftReview {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.corr.softList()
}

// Deferred returns frames skipped behind an unresolved correction.
func (e *Engine) Deferred() []int {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]int, len(e.deferred))
	copy(out, e.deferred)
	return out
}

// FrameCount returns how many frames have been ingested.
func (e *Engine) FrameCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.grids)
}

// CurrentFEN returns the position after the last validated move. Readers
// get a serialized snapshot, never the live position.
func (e *Engine) CurrentFEN() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.builder.Position().String()
}

// PGN renders the record by replaying it through a fresh game.
func (e *Engine) PGN() (string, error) {
	e.mu.Lock()
	moves := e.builder.Record()
	fen := e.initialFEN
	e.mu.Unlock()

	var game *nchess.Game
	if fen == "" {
		game = nchess.NewGame()
	} else {
		opt, err := nchess.FEN(fen)
		if err != nil {
			return "", err
		}
		game = nchess.NewGame(opt)
	}
	for _, vm := range moves {
		if err := game.PushNotationMove(vm.UCI, nchess.UCINotation{}, nil); err != nil {
			return "", fmt.Errorf("replay %s: %w", vm.UCI, err)
		}
	}
	return game.String(), nil
}

func decodeLegal(oracle Oracle, pos *nchess.Position, uci string) (*nchess.Move, error) {
	mv, err := nchess.UCINotation{}.Decode(pos, uci)
	if err != nil {
		return nil, err
	}
	for _, legal := range oracle.LegalMoves(pos) {
		if sameMove(legal, mv) {
			return legal, nil
		}
	}
	return nil, fmt.Errorf("move %s not legal", uci)
}

// rankMatches scores each ambiguous legal candidate so the correction
// feed can present them best-first.
func (e *Engine) rankMatches(frame int, matches []Match, prev, curr *Grid) []RankedCandidate {
	pos := e.builder.Position()
	out := make([]RankedCandidate, 0, len(matches))
	for _, m := range matches {
		conf := scoreConfidence(confidenceInputs{
			gridMargin:      curr.Margin,
			carriedInvolved: carriedInvolved(m.Candidate, prev, curr),
			hypotheses:      len(matches),
			assumedPromo:    m.Candidate.AssumedPromo,
		})
		out = append(out, RankedCandidate{
			UCI:        strings.ToLower(nchess.UCINotation{}.Encode(pos, m.Move)),
			SAN:        nchess.AlgebraicNotation{}.Encode(pos, m.Move),
			Kind:       m.Candidate.Kind,
			Confidence: conf,
		})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Confidence > out[j].Confidence })
	return out
}

// rankRaw lists hypotheses that matched no legal move; there is nothing
// to encode as SAN, so only coordinates are carried.
func rankRaw(cands []MoveCandidate) []RankedCandidate {
	out := make([]RankedCandidate, 0, len(cands))
	for _, c := range cands {
		out = append(out, RankedCandidate{UCI: c.UCI(), Kind: c.Kind})
	}
	return out
}

func carriedInvolved(c MoveCandidate, prev, curr *Grid) bool {
	if prev.Carried[c.From] || curr.Carried[c.To] {
		return true
	}
	if c.Kind == KindEnPassant {
		victim := nchess.NewSquare(c.To.File(), c.From.Rank())
		if prev.Carried[victim] || curr.Carried[victim] {
			return true
		}
	}
	return false
}

// scrubCapturedCarry clears an en passant victim's tag from the cached
// grid when the capture frame never observed the square emptying. Left
// in place, the carry pass would re-assert the tag every frame and a
// later move onto the square would misread as a capture.
func scrubCapturedCarry(mv *nchess.Move, curr *Grid) {
	if mv == nil || !mv.HasTag(nchess.EnPassant) {
		return
	}
	victim := nchess.NewSquare(mv.S2().File(), mv.S1().Rank())
	if !curr.Carried[victim] {
		return
	}
	curr.Cells[victim] = 0
	curr.Carried[victim] = false
	curr.Areas[victim] = 0
}

// reconcileCarry drops carried cells that disagree with the grid they
// were supposedly carried from. A carried cell is by definition a copy of
// the previous grid's cell; any mismatch means the carry source was stale.
func reconcileCarry(prev, g *Grid) {
	for sq := range g.Cells {
		if !g.Carried[sq] || prev.Cells[sq] == g.Cells[sq] {
			continue
		}
		g.Cells[sq] = 0
		g.Carried[sq] = false
		g.Areas[sq] = 0
	}
}

func copyRequest(req *CorrectionRequest) *CorrectionRequest {
	cp := *req
	cp.Candidates = append([]RankedCandidate(nil), req.Candidates...)
	return &cp
}

func (e *Engine) logConflicts(frame int, conflicts []Conflict) {
	for _, c := range conflicts {
		e.logger.Debug("normalization conflict",
			zap.Int("frame", frame),
			zap.String("kind", string(c.Kind)),
			zap.String("square", c.Square.String()),
			zap.Int("kept_tag", c.KeptTag),
			zap.Int("lost_tag", c.LostTag),
		)
	}
}

func (e *Engine) saveOccupancy(frame int, g *Grid) {
	if e.artifacts == nil {
		return
	}
	if err := e.artifacts.SaveOccupancy(frame, g); err != nil {
		e.logger.Warn("save occupancy artifact", zap.Error(err), zap.Int("frame", frame))
	}
}

func (e *Engine) saveDiff(frame int, prev, curr *Grid, changes []Change) {
	if e.artifacts == nil {
		return
	}
	if err := e.artifacts.SaveDiff(frame, prev, curr, changes); err != nil {
		e.logger.Warn("save diff artifact", zap.Error(err), zap.Int("frame", frame))
	}
}

func (e *Engine) saveBoard(frame int, pos *nchess.Position, san string) {
	if e.artifacts == nil {
		return
	}
	if err := e.artifacts.SaveBoard(frame, pos, san); err != nil {
		e.logger.Warn("save board artifact", zap.Error(err), zap.Int("frame", frame))
	}
}

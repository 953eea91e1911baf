package httpapi

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/otbreview/otbrecon/internal/recon"
	"github.com/otbreview/otbrecon/pkg/recondto"
)

// Run states. A run that hit EOF with open corrections is not done: it
// waits for manual resolutions.
const (
	StateRunning     = "running"
	StateNeedsReview = "needs-review"
	StateDone        = "done"
	StateFailed      = "failed"
)

// Run is one in-flight or finished reconstruction.
type Run struct {
	ID     string
	Source string

	engine *recon.Engine

	mu        sync.Mutex
	state     string
	err       error
	createdAt time.Time
	updatedAt time.Time
	subs      map[int]chan recondto.EventDTO
	nextSub   int
}

func newRun(id, source string, engine *recon.Engine) *Run {
	now := time.Now()
	return &Run{
		ID:        id,
		Source:    source,
		engine:    engine,
		state:     StateRunning,
		createdAt: now,
		updatedAt: now,
		subs:      make(map[int]chan recondto.EventDTO),
	}
}

func (r *Run) setState(state string, err error) {
	r.mu.Lock()
	r.state = state
	r.err = err
	r.updatedAt = time.Now()
	r.mu.Unlock()
}

// touchState recomputes the review state after a resolution.
func (r *Run) touchState() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state == StateRunning || r.state == StateFailed {
		return
	}
	if len(r.engine.Pending()) > 0 {
		r.state = StateNeedsReview
	} else {
		r.state = StateDone
	}
	r.updatedAt = time.Now()
}

func (r *Run) snapshotState() (string, time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state, r.updatedAt
}

// subscribe returns a buffered event channel; slow consumers lose events
// rather than block the engine.
func (r *Run) subscribe() (int, <-chan recondto.EventDTO) {
	ch := make(chan recondto.EventDTO, 64)
	r.mu.Lock()
	r.nextSub++
	id := r.nextSub
	r.subs[id] = ch
	r.mu.Unlock()
	return id, ch
}

func (r *Run) unsubscribe(id int) {
	r.mu.Lock()
	if ch, ok := r.subs[id]; ok {
		delete(r.subs, id)
		close(ch)
	}
	r.mu.Unlock()
}

func (r *Run) broadcast(ev recondto.EventDTO) {
	r.mu.Lock()
	for _, ch := range r.subs {
		select {
		case ch <- ev:
		default:
		}
	}
	r.updatedAt = time.Now()
	r.mu.Unlock()
}

func (r *Run) eventListener() recon.Listener {
	return func(ev recon.Event) {
		dto := recondto.EventDTO{
			RunID: r.ID,
			Event: string(ev.Kind),
			Frame: ev.Frame,
			At:    time.Now(),
		}
		if ev.Move != nil {
			m := moveDTO(*ev.Move)
			dto.Move = &m
		}
		if ev.Correction != nil {
			c := correctionDTO(*ev.Correction)
			dto.Correction = &c
		}
		r.broadcast(dto)
	}
}

func (r *Run) summary() recondto.RunSummary {
	state, updated := r.snapshotState()
	return recondto.RunSummary{
		RunID:      r.ID,
		Source:     r.Source,
		State:      state,
		MoveCount:  len(r.engine.Record()),
		FrameCount: r.engine.FrameCount(),
		Pending:    len(r.engine.Pending()),
		UpdatedAt:  updated,
	}
}

// registry tracks runs by id.
type registry struct {
	mu   sync.RWMutex
	runs map[string]*Run
}

func newRegistry() *registry {
	return &registry{runs: make(map[string]*Run)}
}

func (g *registry) add(r *Run) {
	g.mu.Lock()
	g.runs[r.ID] = r
	g.mu.Unlock()
}

func (g *registry) get(id string) (*Run, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	r, ok := g.runs[id]
	return r, ok
}

func (g *registry) list() []*Run {
	g.mu.RLock()
	out := make([]*Run, 0, len(g.runs))
	for _, r := range g.runs {
		out = append(out, r)
	}
	g.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].createdAt.After(out[j].createdAt) })
	return out
}

func newRunID() string { return uuid.NewString() }

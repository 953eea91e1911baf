package recon

import (
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/otbreview/otbrecon/internal/domain"
)

// corrections tracks pending requests and soft-review items. All access
// happens under the engine lock.
type corrections struct {
	pending  map[int]*CorrectionRequest
	resolved []*CorrectionRequest
	soft     []SoftReview
}

func newCorrections() *corrections {
	return &corrections{pending: make(map[int]*CorrectionRequest)}
}

func (c *corrections) open(frame int, reason domain.CorrectionReason, cands []RankedCandidate) *CorrectionRequest {
	if existing, ok := c.pending[frame]; ok {
		// Replay can revisit a frame; refresh the candidate set but
		// keep the request identity stable for consumers.
		existing.Reason = reason
		existing.Candidates = cands
		return existing
	}
	req := &CorrectionRequest{
		ID:         uuid.NewString(),
		Frame:      frame,
		Reason:     reason,
		State:      domain.CorrectionPending,
		Candidates: cands,
		CreatedAt:  time.Now(),
	}
	c.pending[frame] = req
	return req
}

func (c *corrections) get(frame int) (*CorrectionRequest, bool) {
	req, ok := c.pending[frame]
	return req, ok
}

// hasPendingBefore reports whether any unresolved request precedes the
// frame. Moves validated behind one are provisional.
func (c *corrections) hasPendingBefore(frame int) bool {
	for f := range c.pending {
		if f < frame {
			return true
		}
	}
	return false
}

// hasSoft reports whether the frame carries a soft-review item.
func (c *corrections) hasSoft(frame int) bool {
	for _, s := range c.soft {
		if s.Frame == frame {
			return true
		}
	}
	return false
}

func (c *corrections) markResolved(frame int, uci string) {
	req, ok := c.pending[frame]
	if !ok {
		return
	}
	req.State = domain.CorrectionResolved
	req.ResolvedUCI = uci
	delete(c.pending, frame)
	c.resolved = append(c.resolved, req)
}

// resolveSoft records the manual override of a low-confidence accepted
// move so it surfaces alongside resolved correction requests.
func (c *corrections) resolveSoft(frame int, uci string) *CorrectionRequest {
	req := &CorrectionRequest{
		ID:          uuid.NewString(),
		Frame:       frame,
		Reason:      domain.ReasonLowConfidence,
		State:       domain.CorrectionResolved,
		ResolvedUCI: uci,
		CreatedAt:   time.Now(),
	}
	c.resolved = append(c.resolved, req)
	return req
}

// dropFrom clears pending requests and soft reviews for the given frame
// and everything after it; replay rebuilds them.
func (c *corrections) dropFrom(frame int) {
	for f := range c.pending {
		if f >= frame {
			delete(c.pending, f)
		}
	}
	kept := c.soft[:0]
	for _, s := range c.soft {
		if s.Frame < frame {
			kept = append(kept, s)
		}
	}
	c.soft = kept
}

func (c *corrections) addSoft(item SoftReview) {
	c.soft = append(c.soft, item)
}

func (c *corrections) pendingList() []CorrectionRequest {
	out := make([]CorrectionRequest, 0, len(c.pending))
	for _, req := range c.pending {
		out = append(out, *req)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Frame < out[j].Frame })
	return out
}

func (c *corrections) softList() []SoftReview {
	out := make([]SoftReview, len(c.soft))
	copy(out, c.soft)
	return out
}

// Package recondto holds the wire types of the reconstruction API.
package recondto

import "time"

type DomainError struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable,omitempty"`
}

func (e DomainError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	if e.Code != "" {
		return e.Code
	}
	return "reconstruction service error"
}

// MoveDTO is one accepted move of the record.
type MoveDTO struct {
	Frame       int     `json:"frame"`
	UCI         string  `json:"uci"`
	SAN         string  `json:"san"`
	Confidence  float64 `json:"confidence"`
	Provisional bool    `json:"provisional,omitempty"`
	Resolved    bool    `json:"resolved,omitempty"`
}

// CandidateDTO is one proposed resolution of a correction.
type CandidateDTO struct {
	UCI        string  `json:"uci"`
	SAN        string  `json:"san,omitempty"`
	Kind       string  `json:"kind"`
	Confidence float64 `json:"confidence"`
}

// CorrectionDTO is one pending or resolved correction request.
type CorrectionDTO struct {
	ID          string         `json:"id"`
	Frame       int            `json:"frame"`
	Reason      string         `json:"reason"`
	State       string         `json:"state"`
	Candidates  []CandidateDTO `json:"candidates,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
	ResolvedUCI string         `json:"resolved_uci,omitempty"`
}

// SoftReviewDTO flags an accepted low-confidence move.
type SoftReviewDTO struct {
	Frame      int     `json:"frame"`
	UCI        string  `json:"uci"`
	SAN        string  `json:"san"`
	Confidence float64 `json:"confidence"`
}

// RecordResponse is the full state of a run's reconstruction.
type RecordResponse struct {
	RunID       string          `json:"run_id"`
	State       string          `json:"state"`
	FEN         string          `json:"fen"`
	PGN         string          `json:"pgn,omitempty"`
	Moves       []MoveDTO       `json:"moves"`
	Pending     []CorrectionDTO `json:"pending_corrections"`
	SoftReviews []SoftReviewDTO `json:"soft_reviews"`
	FrameCount  int             `json:"frame_count"`
}

// RunSummary is one entry of the run listing.
type RunSummary struct {
	RunID      string    `json:"run_id"`
	Source     string    `json:"source"`
	State      string    `json:"state"`
	MoveCount  int       `json:"move_count"`
	FrameCount int       `json:"frame_count"`
	Pending    int       `json:"pending_corrections"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// StartRunRequest starts a reconstruction over a recorded frame file.
type StartRunRequest struct {
	Source     string `json:"source"`
	InitialFEN string `json:"initial_fen,omitempty"`
}

// StartRunResponse acknowledges an accepted run.
type StartRunResponse struct {
	RunID string `json:"run_id"`
}

// ResolveRequest supplies the manual move for a pending correction.
type ResolveRequest struct {
	UCI string `json:"uci"`
}

// EventDTO is one live-feed message.
type EventDTO struct {
	RunID      string         `json:"run_id"`
	Event      string         `json:"event"`
	Frame      int            `json:"frame"`
	Move       *MoveDTO       `json:"move,omitempty"`
	Correction *CorrectionDTO `json:"correction,omitempty"`
	At         time.Time      `json:"at"`
}

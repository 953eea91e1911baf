package domain

import (
	"time"

	nchess "github.com/corentings/chess/v2"
)

// Detection is one raw marker read on a frame. Several detections may claim
// the same cell or the same tag; the normalizer sorts that out.
type Detection struct {
	Tag    int           `json:"tag"`
	Square nchess.Square `json:"square"`
	Area   float64       `json:"area"`
	Conf   float64       `json:"conf"`
}

// Frame is one sampled board observation. Immutable once ingested.
type Frame struct {
	Index      int         `json:"index"`
	Timestamp  time.Time   `json:"ts"`
	Detections []Detection `json:"detections"`
}

// CorrectionReason explains why a frame transition needs manual input.
type CorrectionReason string

const (
	ReasonNoLegalMatch  CorrectionReason = "no-legal-match"
	ReasonAmbiguous     CorrectionReason = "ambiguous"
	ReasonLowConfidence CorrectionReason = "low-confidence"
)

// CorrectionState tracks the lifecycle of a correction request.
type CorrectionState string

const (
	CorrectionPending  CorrectionState = "pending"
	CorrectionResolved CorrectionState = "resolved"
)

// ReconRun is the archived result of one finished reconstruction run.
type ReconRun struct {
	ID              int64
	RunUUID         string
	Source          string
	MovesUCI        []string
	MovesSAN        []string
	PGN             string
	FrameCount      int
	MoveCount       int
	CorrectionCount int
	SoftReviewCount int
	MeanConfidence  float64
	StartedAt       time.Time
	EndedAt         time.Time
	Duration        time.Duration
}

package recon

import "errors"

var (
	// ErrIngestionGap means a frame index was skipped. Sequence
	// integrity cannot be guaranteed past a gap, so the run stops.
	ErrIngestionGap = errors.New("frame index gap in ingestion stream")

	// ErrIllegalResolution means a manual resolution was not a legal
	// move at the corrected position. State is left unchanged.
	ErrIllegalResolution = errors.New("correction resolution is not a legal move")

	// ErrNoCorrection means the frame index has no pending correction.
	ErrNoCorrection = errors.New("no pending correction for frame")
)

package recon

import (
	"time"

	nchess "github.com/corentings/chess/v2"

	"github.com/otbreview/otbrecon/internal/domain"
)

// MoveKind is the closed set of move shapes the classifier can propose.
// Every consumer switching on it must handle all six.
type MoveKind string

const (
	KindQuiet       MoveKind = "quiet"
	KindCapture     MoveKind = "capture"
	KindShortCastle MoveKind = "short-castle"
	KindLongCastle  MoveKind = "long-castle"
	KindEnPassant   MoveKind = "en-passant"
	KindPromotion   MoveKind = "promotion"
)

// MoveCandidate is one hypothesis about what happened between two grids.
type MoveCandidate struct {
	From        nchess.Square
	To          nchess.Square
	Tag         int
	CapturedTag int
	Kind        MoveKind
	// Promo is set for KindPromotion. AssumedPromo marks the queen
	// fallback used when the tag scheme gave no piece-type hint.
	Promo        nchess.PieceType
	AssumedPromo bool
	// Rule is the classification rule number that produced the
	// candidate (1..5); candidates are ordered by it, best first.
	Rule int
}

// UCI renders the candidate in coordinate notation, promotion suffix
// included. Used for correction feeds where no legal move exists to
// encode as SAN.
func (c MoveCandidate) UCI() string {
	s := c.From.String() + c.To.String()
	if c.Kind == KindPromotion && c.Promo != nchess.NoPieceType {
		s += c.Promo.String()
	}
	return s
}

// ValidatedMove is a candidate accepted by the legality gate.
type ValidatedMove struct {
	Candidate  MoveCandidate
	UCI        string
	SAN        string
	Confidence float64
	Frame      int
	// Provisional marks moves validated downstream of an unresolved
	// correction; they are invalidated and replayed on resolution.
	Provisional bool
	// Resolved marks moves applied from a manual correction.
	Resolved bool
}

// RankedCandidate is one entry of a correction request's candidate list.
type RankedCandidate struct {
	UCI        string
	SAN        string
	Kind       MoveKind
	Confidence float64
}

// CorrectionRequest asks for manual input on a frame transition the
// engine could not uniquely explain.
type CorrectionRequest struct {
	ID          string
	Frame       int
	Reason      domain.CorrectionReason
	State       domain.CorrectionState
	Candidates  []RankedCandidate
	CreatedAt   time.Time
	ResolvedUCI string
}

// SoftReview flags an accepted but low-confidence move for optional
// review. Unlike a CorrectionRequest it never blocks the record.
type SoftReview struct {
	Frame      int
	UCI        string
	SAN        string
	Confidence float64
}

// EventKind enumerates engine notifications.
type EventKind string

const (
	EventMoveValidated      EventKind = "move-validated"
	EventCorrectionOpened   EventKind = "correction-opened"
	EventCorrectionResolved EventKind = "correction-resolved"
	EventRecordInvalidated  EventKind = "record-invalidated"
)

// Event is pushed to listeners as the engine advances. Listeners run
// under the engine lock and must not call back into the engine.
type Event struct {
	Kind       EventKind
	Frame      int
	Move       *ValidatedMove
	Correction *CorrectionRequest
}

// Listener receives engine events.
type Listener func(Event)

package recon

// confidenceInputs collects everything the scorer looks at for one
// accepted move.
type confidenceInputs struct {
	// gridMargin is the worst relative area gap among normalization
	// conflicts in the destination grid (1 = clean frame).
	gridMargin float64
	// carriedInvolved is true when any cell of the move (origin,
	// destination, capture victim) was carried rather than detected.
	carriedInvolved bool
	// hypotheses is the classifier's pre-disambiguation candidate
	// count. Ambiguity lowers confidence even once resolved.
	hypotheses int
	// assumedPromo marks the queen fallback for promotions the tag
	// scheme could not identify.
	assumedPromo bool
}

const (
	carriedPenalty    = 0.2
	hypothesisPenalty = 0.15
	assumedPromoCap   = 0.4
	minConfidence     = 0.05
)

// scoreConfidence maps the inputs to [0,1]. The formula is deliberately
// simple and monotone: each independent doubt subtracts, an unidentified
// promotion caps the result low enough to always hit soft review.
func scoreConfidence(in confidenceInputs) float64 {
	margin := in.gridMargin
	if margin < 0 {
		margin = 0
	}
	if margin > 1 {
		margin = 1
	}

	score := 0.5 + 0.5*margin
	if in.carriedInvolved {
		score -= carriedPenalty
	}
	if in.hypotheses > 1 {
		score -= hypothesisPenalty * float64(in.hypotheses-1)
	}
	if in.assumedPromo && score > assumedPromoCap {
		score = assumedPromoCap
	}
	if score < minConfidence {
		score = minConfidence
	}
	if score > 1 {
		score = 1
	}
	return score
}

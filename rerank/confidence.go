package rerank

// DefaultThreshold is the minimum top rerank score for which the answer is
// considered well-supported.
const DefaultThreshold = 0.6

// Level classifies how well the top-ranked evidence supports an answer.
type Level string

const (
	LevelHigh         Level = "high"
	LevelMedium       Level = "medium"
	LevelLow          Level = "low"
	LevelInsufficient Level = "insufficient"
)

// LevelFor maps the top rerank score onto a confidence level. The bands are
// contract: [0.8, 1] high, [0.6, 0.8) medium, [0.4, 0.6) low, [0, 0.4)
// insufficient.
func LevelFor(topScore float64) Level {
	switch {
	case topScore >= 0.8:
		return LevelHigh
	case topScore >= 0.6:
		return LevelMedium
	case topScore >= 0.4:
		return LevelLow
	default:
		return LevelInsufficient
	}
}

// InsufficientEvidence reports whether the top score falls below the
// confidence threshold.
func InsufficientEvidence(topScore, threshold float64) bool {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	return topScore < threshold
}

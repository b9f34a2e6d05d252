package extract

import (
	"math"
	"strings"
	"unicode/utf8"
)

const (
	shortTextLength  = 50
	shortTextPenalty = 0.8
	markerPenalty    = 0.1
	markerFloor      = 0.3

	// DuplicateThreshold is the similarity at or above which two questions
	// are flagged as possible duplicates.
	DuplicateThreshold = 0.7
)

var uncertaintyMarkers = []string{"[", "]", "?", "unclear", "illegible"}

// EstimateConfidence adjusts the recognizer's raw confidence using the raw
// transcription: short text is penalised, and each distinct uncertainty
// marker present removes 10% down to a floor of 30% of the current value.
func EstimateConfidence(raw float64, text string) float64 {
	confidence := raw

	if utf8.RuneCountInString(text) < shortTextLength {
		confidence *= shortTextPenalty
	}

	lower := strings.ToLower(text)
	markers := 0
	for _, m := range uncertaintyMarkers {
		if strings.Contains(lower, m) {
			markers++
		}
	}
	if markers > 0 {
		confidence *= max(markerFloor, 1-float64(markers)*markerPenalty)
	}

	return clamp01(confidence)
}

func clamp01(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

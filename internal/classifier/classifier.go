package classifier

import (
	"math"

	"sales-insights-go/internal/config"
	"sales-insights-go/internal/types"
)

// Grade band floors on the 0-100 score scale.
const (
	bandA = 85.0
	bandB = 70.0
	bandC = 50.0
)

// Classify applies the scoring rubric to one insight record. Pure and
// deterministic: identical input and weights always yield the same
// grade and score, with no external calls.
func Classify(rec types.InsightRecord, w config.Weights, degradedCap float64) types.ClassifiedCall {
	score := sentimentScore(rec)*w.Sentiment +
		conversionScore(rec)*w.Conversion +
		recommendationScore(rec)*w.Recommendations +
		objectionScore(rec)*w.ObjectionHandling

	score = clamp(score, 0, 100)

	// Neutral-default records must never look like excellent calls:
	// a degraded record stays below the A band no matter the weights.
	if rec.Confidence == types.ConfidenceDegraded && score > degradedCap {
		score = degradedCap
	}

	return types.ClassifiedCall{
		InsightRecord: rec,
		Grade:         gradeFor(score),
		Score:         math.Round(score*10) / 10,
	}
}

// sentimentScore maps -1..1 onto 0..1.
func sentimentScore(rec types.InsightRecord) float64 {
	return clamp((rec.SentimentScore+1)/2, 0, 1)
}

func conversionScore(rec types.InsightRecord) float64 {
	switch rec.Conversion {
	case types.Converted:
		return 1
	case types.Ambiguous:
		return 0.5
	default:
		return 0
	}
}

func recommendationScore(rec types.InsightRecord) float64 {
	if len(rec.Recommendations) > 0 {
		return 1
	}
	return 0
}

// objectionScore rewards calls with no objections or with objections the
// salesperson actually addressed; unresolved objections score zero.
func objectionScore(rec types.InsightRecord) float64 {
	if len(rec.Objections) == 0 {
		return 1
	}
	if rec.ObjectionsHandled {
		return 1
	}
	return 0
}

func gradeFor(score float64) types.Grade {
	switch {
	case score >= bandA:
		return types.GradeA
	case score >= bandB:
		return types.GradeB
	case score >= bandC:
		return types.GradeC
	default:
		return types.GradeD
	}
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

package aggregator

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"sales-insights-go/internal/config"
	"sales-insights-go/internal/types"
)

// Aggregate groups classified calls by attributed vendor and computes
// the per-vendor metrics plus the team ranking and summary. It runs only
// on a completed batch: the inputs are read-only and the result is a
// pure function of them, independent of call completion order.
//
// Unknown-attribution calls form their own bucket, excluded from the
// ranking but included in team-wide totals.
func Aggregate(calls []types.ClassifiedCall, failed []types.CallFailure, cfg config.Aggregation) ([]types.VendorAggregate, []string, types.TeamSummary) {
	buckets := map[string][]types.ClassifiedCall{}
	for _, c := range calls {
		id := c.Vendor.BucketID()
		buckets[id] = append(buckets[id], c)
	}

	var vendors []types.VendorAggregate
	for id, group := range buckets {
		vendors = append(vendors, finalizeVendor(id, group, cfg))
	}

	// Ranking: score desc, conversion desc, volume desc, id asc. The
	// chain is a total order, so input permutation cannot change it.
	sort.Slice(vendors, func(i, j int) bool {
		a, b := vendors[i], vendors[j]
		if a.OverallScore != b.OverallScore {
			return a.OverallScore > b.OverallScore
		}
		if a.ConversionRate != b.ConversionRate {
			return a.ConversionRate > b.ConversionRate
		}
		if len(a.Calls) != len(b.Calls) {
			return len(a.Calls) > len(b.Calls)
		}
		return a.VendorID < b.VendorID
	})

	ranking := make([]string, 0, len(vendors))
	for _, v := range vendors {
		if v.VendorID != types.UnknownVendorID {
			ranking = append(ranking, v.VendorID)
		}
	}

	// Unknown bucket sinks to the end of the aggregate list.
	sort.SliceStable(vendors, func(i, j int) bool {
		return vendors[i].VendorID != types.UnknownVendorID && vendors[j].VendorID == types.UnknownVendorID
	})

	return vendors, ranking, teamSummary(calls, failed, ranking, cfg)
}

func finalizeVendor(id string, group []types.ClassifiedCall, cfg config.Aggregation) types.VendorAggregate {
	var scoreSum float64
	converted, decided, positive, goodGrades := 0, 0, 0, 0
	var strengths, improvements []string

	for _, c := range group {
		scoreSum += c.Score
		switch c.Conversion {
		case types.Converted:
			converted++
			decided++
		case types.NotConverted:
			decided++
		}
		if c.SentimentScore > cfg.PositiveSentimentThreshold {
			positive++
		}
		if c.Grade == types.GradeA || c.Grade == types.GradeB {
			goodGrades++
		}
		strengths = append(strengths, c.Strengths...)
		improvements = append(improvements, c.ImprovementAreas...)
		improvements = append(improvements, unresolvedObjections(c)...)
	}

	n := len(group)
	agg := types.VendorAggregate{
		VendorID:              id,
		Calls:                 group,
		OverallScore:          round1(scoreSum / float64(n) / 10),
		ConversionRate:        ratio(converted, decided),
		PositiveSentimentRate: ratio(positive, n),
		Strengths:             topItems(strengths, cfg.TopK),
		ImprovementAreas:      topItems(improvements, cfg.TopK),
	}
	agg.TrainingPriorities = trainingPriorities(agg, ratio(goodGrades, n), cfg)
	agg.NextSteps = nextSteps(agg, cfg)
	return agg
}

// unresolvedObjections feeds a vendor's unhandled objections into their
// improvement areas, so repeated unaddressed pushback surfaces in the
// rollup.
func unresolvedObjections(c types.ClassifiedCall) []string {
	if c.ObjectionsHandled || len(c.Objections) == 0 {
		return nil
	}
	out := make([]string, 0, len(c.Objections))
	for _, o := range c.Objections {
		out = append(out, "handle objection: "+o)
	}
	return out
}

// topItems frequency-counts normalized short-text items and keeps the
// top-k, breaking frequency ties by first-seen order.
func topItems(items []string, k int) []types.RankedItem {
	counts := map[string]int{}
	firstSeen := map[string]int{}
	display := map[string]string{}
	for i, raw := range items {
		norm := strings.ToLower(strings.TrimSpace(raw))
		if norm == "" {
			continue
		}
		if _, ok := counts[norm]; !ok {
			firstSeen[norm] = i
			display[norm] = titleCase(norm)
		}
		counts[norm]++
	}

	keys := make([]string, 0, len(counts))
	for key := range counts {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool {
		if counts[keys[i]] != counts[keys[j]] {
			return counts[keys[i]] > counts[keys[j]]
		}
		return firstSeen[keys[i]] < firstSeen[keys[j]]
	})

	if len(keys) > k {
		keys = keys[:k]
	}
	out := make([]types.RankedItem, 0, len(keys))
	for _, key := range keys {
		out = append(out, types.RankedItem{Item: display[key], Count: counts[key]})
	}
	return out
}

func trainingPriorities(v types.VendorAggregate, goodShare float64, cfg config.Aggregation) []string {
	out := []string{}
	if v.ConversionRate < cfg.LowConversionRate {
		out = append(out, "Closing techniques")
	}
	if v.PositiveSentimentRate < cfg.LowPositiveSentimentRate {
		out = append(out, "Customer rapport")
	}
	if goodShare < cfg.LowQualityShare {
		out = append(out, "Overall call quality")
	}
	return out
}

func nextSteps(v types.VendorAggregate, cfg config.Aggregation) []string {
	out := []string{}
	if v.ConversionRate < cfg.LowConversionRate {
		out = append(out, "Attend closing-techniques training")
	}
	if v.PositiveSentimentRate < cfg.LowPositiveSentimentRate {
		out = append(out, "Practice active listening and empathy with customers")
	}
	if len(v.ImprovementAreas) > 0 {
		out = append(out, fmt.Sprintf("Work specifically on: %s", v.ImprovementAreas[0].Item))
	}
	if v.OverallScore >= 7 {
		out = append(out, "Share best practices with the team")
	}
	if len(out) == 0 {
		out = append(out, "Maintain current performance")
	}
	if len(out) > 4 {
		out = out[:4]
	}
	return out
}

func teamSummary(calls []types.ClassifiedCall, failed []types.CallFailure, ranking []string, cfg config.Aggregation) types.TeamSummary {
	grades := map[string]int{"A": 0, "B": 0, "C": 0, "D": 0}
	var scoreSum float64
	converted, decided, positive := 0, 0, 0
	for _, c := range calls {
		grades[string(c.Grade)]++
		scoreSum += c.Score
		switch c.Conversion {
		case types.Converted:
			converted++
			decided++
		case types.NotConverted:
			decided++
		}
		if c.SentimentScore > cfg.PositiveSentimentThreshold {
			positive++
		}
	}

	ts := types.TeamSummary{
		TotalCalls:            len(calls) + len(failed),
		AnalyzedCalls:         len(calls),
		FailedCalls:           len(failed),
		GradeCounts:           grades,
		ConversionRate:        ratio(converted, decided),
		PositiveSentimentRate: ratio(positive, len(calls)),
	}
	if len(calls) > 0 {
		ts.AverageScore = round1(scoreSum / float64(len(calls)))
	}
	if len(ranking) > 0 {
		ts.TopVendor = ranking[0]
	}
	if len(ranking) > 1 {
		ts.NeedsAttention = ranking[len(ranking)-1]
	}
	return ts
}

// ratio returns a fraction in [0,1]; an empty denominator yields 0.
func ratio(num, den int) float64 {
	if den == 0 {
		return 0
	}
	return float64(num) / float64(den)
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}

func titleCase(s string) string {
	words := strings.Fields(s)
	for i, w := range words {
		r := []rune(w)
		words[i] = strings.ToUpper(string(r[0])) + string(r[1:])
	}
	return strings.Join(words, " ")
}

package types

type Grade string

const (
	GradeA Grade = "A"
	GradeB Grade = "B"
	GradeC Grade = "C"
	GradeD Grade = "D"
)

// ClassifiedCall is an InsightRecord with its rubric result attached.
// Immutable after classification.
type ClassifiedCall struct {
	InsightRecord
	Grade Grade   `json:"grade"`
	Score float64 `json:"score"` // 0 .. 100
}

// RankedItem is a short-text insight with its observed frequency across
// a vendor's calls.
type RankedItem struct {
	Item  string `json:"item"`
	Count int    `json:"count"`
}

// VendorAggregate is the per-salesperson rollup of their classified
// calls. Finalized only after every call in the batch is terminal.
type VendorAggregate struct {
	VendorID              string           `json:"vendor_id"`
	Calls                 []ClassifiedCall `json:"calls"`
	OverallScore          float64          `json:"overall_score"` // 1 .. 10 scale
	ConversionRate        float64          `json:"conversion_rate"`
	PositiveSentimentRate float64          `json:"positive_sentiment_rate"`
	Strengths             []RankedItem     `json:"strengths"`
	ImprovementAreas      []RankedItem     `json:"improvement_areas"`
	TrainingPriorities    []string         `json:"training_priorities"`
	NextSteps             []string         `json:"next_steps"`
}

// FailureKind enumerates the terminal error states a call can land in.
type FailureKind string

const (
	FailureTranscription   FailureKind = "transcription_failed"
	FailureExtractionFatal FailureKind = "extraction_fatal"
	FailureCancelled       FailureKind = "cancelled"
)

type CallFailure struct {
	CallID  string      `json:"call_id"`
	Kind    FailureKind `json:"kind"`
	Message string      `json:"message"`
}

// TeamSummary is the team-wide rollup, counting every requested call
// including unknown-attribution ones.
type TeamSummary struct {
	TotalCalls            int            `json:"total_calls"`
	AnalyzedCalls         int            `json:"analyzed_calls"`
	FailedCalls           int            `json:"failed_calls"`
	AverageScore          float64        `json:"average_score"`
	GradeCounts           map[string]int `json:"grade_counts"`
	ConversionRate        float64        `json:"conversion_rate"`
	PositiveSentimentRate float64        `json:"positive_sentiment_rate"`
	TopVendor             string         `json:"top_vendor,omitempty"`
	NeedsAttention        string         `json:"needs_attention,omitempty"`
}

// BatchRun is the completed result of one pipeline execution. Every
// requested call appears exactly once, in Succeeded or Failed.
type BatchRun struct {
	RunID          string            `json:"run_id"`
	RequestedCount int               `json:"requested_count"`
	Succeeded      []ClassifiedCall  `json:"succeeded"`
	Failed         []CallFailure     `json:"failed"`
	Vendors        []VendorAggregate `json:"vendor_aggregates"`
	TeamRanking    []string          `json:"team_ranking"`
	Team           TeamSummary       `json:"team_summary"`
}

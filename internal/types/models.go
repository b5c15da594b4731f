package types

// Utterance is one diarized turn of a call transcript.
type Utterance struct {
	Speaker string `json:"speaker"`
	StartMS int64  `json:"start_ms"`
	EndMS   int64  `json:"end_ms"`
	Text    string `json:"text"`
}

// Transcript is the immutable output of the transcription collaborator
// for a single call.
type Transcript struct {
	CallID          string      `json:"call_id"`
	SourceFile      string      `json:"source_file,omitempty"`
	AudioDurationMS int64       `json:"audio_duration_ms,omitempty"`
	Text            string      `json:"text"`
	Utterances      []Utterance `json:"utterances"`
}

// UnknownVendorID is the reserved bucket for calls whose salesperson
// could not be attributed.
const UnknownVendorID = "unknown"

// Attribution is the tagged result of speaker attribution. Consumers
// must branch on Known rather than compare against a sentinel string.
type Attribution struct {
	Known  bool   `json:"known"`
	Vendor string `json:"vendor"`
}

func AttributedTo(vendor string) Attribution {
	return Attribution{Known: true, Vendor: vendor}
}

func UnknownVendor() Attribution {
	return Attribution{Known: false, Vendor: UnknownVendorID}
}

// BucketID returns the aggregation key for this attribution.
func (a Attribution) BucketID() string {
	if !a.Known {
		return UnknownVendorID
	}
	return a.Vendor
}

type ConversionSignal string

const (
	Converted    ConversionSignal = "converted"
	NotConverted ConversionSignal = "not_converted"
	Ambiguous    ConversionSignal = "ambiguous"
)

// Confidence records whether the extraction step had to fall back to
// neutral defaults.
type Confidence string

const (
	ConfidenceFull     Confidence = "full"
	ConfidenceDegraded Confidence = "degraded"
)

// InsightRecord is the normalized per-call analysis payload. Every field
// defaults to an empty or neutral value; downstream aggregation never
// branches on missing keys.
type InsightRecord struct {
	CallID            string           `json:"call_id"`
	Vendor            Attribution      `json:"vendor"`
	Summary           string           `json:"summary"`
	Objections        []string         `json:"objections"`
	ObjectionsHandled bool             `json:"objections_handled"`
	ProductsMentioned []string         `json:"products_mentioned"`
	Strengths         []string         `json:"strengths"`
	ImprovementAreas  []string         `json:"improvement_areas"`
	Recommendations   []string         `json:"recommendations"`
	SentimentScore    float64          `json:"sentiment_score"` // -1.0 .. 1.0
	Conversion        ConversionSignal `json:"conversion"`
	Confidence        Confidence       `json:"confidence"`
}

// NeutralInsightRecord builds the degraded fallback record for a call
// whose extraction payload could not be validated.
func NeutralInsightRecord(callID string, vendor Attribution) InsightRecord {
	return InsightRecord{
		CallID:            callID,
		Vendor:            vendor,
		Summary:           "Automated analysis unavailable for this call.",
		Objections:        []string{},
		ProductsMentioned: []string{},
		Strengths:         []string{},
		ImprovementAreas:  []string{},
		Recommendations:   []string{},
		SentimentScore:    0,
		Conversion:        Ambiguous,
		Confidence:        ConfidenceDegraded,
	}
}

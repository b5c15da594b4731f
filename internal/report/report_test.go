package report

import (
	"path/filepath"
	"testing"

	"github.com/xuri/excelize/v2"

	"sales-insights-go/internal/types"
)

func sampleRun() types.BatchRun {
	ana := types.ClassifiedCall{
		InsightRecord: types.InsightRecord{
			CallID:         "c1",
			Vendor:         types.AttributedTo("Ana"),
			Summary:        "Customer agreed to a demo.",
			SentimentScore: 0.6,
			Conversion:     types.Converted,
			Confidence:     types.ConfidenceFull,
		},
		Grade: types.GradeA,
		Score: 90,
	}
	stray := types.ClassifiedCall{
		InsightRecord: types.InsightRecord{
			CallID:     "c2",
			Vendor:     types.UnknownVendor(),
			Summary:    "Automated analysis unavailable for this call.",
			Conversion: types.Ambiguous,
			Confidence: types.ConfidenceDegraded,
		},
		Grade: types.GradeC,
		Score: 52.5,
	}
	return types.BatchRun{
		RunID:          "run-1",
		RequestedCount: 3,
		Succeeded:      []types.ClassifiedCall{ana, stray},
		Failed: []types.CallFailure{
			{CallID: "c3", Kind: types.FailureTranscription, Message: "upload rejected"},
		},
		Vendors: []types.VendorAggregate{
			{
				VendorID:              "Ana",
				Calls:                 []types.ClassifiedCall{ana},
				OverallScore:          9.0,
				ConversionRate:        1.0,
				PositiveSentimentRate: 1.0,
				Strengths:             []types.RankedItem{{Item: "Clear Pricing", Count: 1}},
				ImprovementAreas:      []types.RankedItem{},
				TrainingPriorities:    []string{},
				NextSteps:             []string{"Share best practices with the team"},
			},
			{
				VendorID: types.UnknownVendorID,
				Calls:    []types.ClassifiedCall{stray},
			},
		},
		TeamRanking: []string{"Ana"},
		Team: types.TeamSummary{
			TotalCalls:    3,
			AnalyzedCalls: 2,
			FailedCalls:   1,
			AverageScore:  71.3,
			GradeCounts:   map[string]int{"A": 1, "B": 0, "C": 1, "D": 0},
			TopVendor:     "Ana",
		},
	}
}

func TestWrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "report.xlsx")
	if err := Write(sampleRun(), path); err != nil {
		t.Fatalf("Write: %v", err)
	}

	f, err := excelize.OpenFile(path)
	if err != nil {
		t.Fatalf("reopen report: %v", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	want := map[string]bool{"Overview": true, "Ranking": true, "Calls": true, "Failures": true}
	for _, s := range sheets {
		if !want[s] {
			t.Errorf("unexpected sheet %q", s)
		}
		delete(want, s)
	}
	for s := range want {
		t.Errorf("missing sheet %q", s)
	}

	cell := func(sheet, ref string) string {
		t.Helper()
		v, err := f.GetCellValue(sheet, ref)
		if err != nil {
			t.Fatalf("GetCellValue(%s!%s): %v", sheet, ref, err)
		}
		return v
	}

	if got := cell("Overview", "B1"); got != "run-1" {
		t.Errorf("Overview B1: got %q", got)
	}
	if got := cell("Overview", "B2"); got != "3" {
		t.Errorf("Overview requested calls: got %q", got)
	}
	if got := cell("Overview", "B8"); got != "Ana" {
		t.Errorf("Overview top vendor: got %q", got)
	}

	if got := cell("Ranking", "B2"); got != "Ana" {
		t.Errorf("Ranking first vendor: got %q", got)
	}
	if got := cell("Ranking", "A2"); got != "1" {
		t.Errorf("Ranking first rank: got %q", got)
	}
	// unattributed bucket listed unranked after the ranked rows
	if got := cell("Ranking", "A3"); got != "-" {
		t.Errorf("Ranking unknown rank marker: got %q", got)
	}
	if got := cell("Ranking", "B3"); got != types.UnknownVendorID {
		t.Errorf("Ranking unknown vendor: got %q", got)
	}
	if got := cell("Ranking", "G2"); got != "Clear Pricing (1)" {
		t.Errorf("Ranking strengths: got %q", got)
	}

	if got := cell("Calls", "A2"); got != "c1" {
		t.Errorf("Calls first row: got %q", got)
	}
	if got := cell("Calls", "C2"); got != "A" {
		t.Errorf("Calls grade: got %q", got)
	}

	if got := cell("Failures", "A2"); got != "c3" {
		t.Errorf("Failures call id: got %q", got)
	}
	if got := cell("Failures", "B2"); got != string(types.FailureTranscription) {
		t.Errorf("Failures kind: got %q", got)
	}
}

func TestWriteEmptyRun(t *testing.T) {
	run := types.BatchRun{
		RunID:     "run-2",
		Succeeded: []types.ClassifiedCall{},
		Failed:    []types.CallFailure{},
		Vendors:   []types.VendorAggregate{},
		Team:      types.TeamSummary{GradeCounts: map[string]int{"A": 0, "B": 0, "C": 0, "D": 0}},
	}
	path := filepath.Join(t.TempDir(), "empty.xlsx")
	if err := Write(run, path); err != nil {
		t.Fatalf("Write: %v", err)
	}
	f, err := excelize.OpenFile(path)
	if err != nil {
		t.Fatalf("reopen report: %v", err)
	}
	defer f.Close()
	if got, _ := f.GetCellValue("Ranking", "A1"); got != "Rank" {
		t.Errorf("Ranking header: got %q", got)
	}
}

func TestJoinRanked(t *testing.T) {
	got := joinRanked([]types.RankedItem{{Item: "Demo", Count: 3}, {Item: "Pricing", Count: 1}})
	if want := "Demo (3); Pricing (1)"; got != want {
		t.Errorf("joinRanked: got %q, want %q", got, want)
	}
	if got := joinRanked(nil); got != "" {
		t.Errorf("joinRanked(nil): got %q", got)
	}
}

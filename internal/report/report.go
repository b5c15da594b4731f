package report

import (
	"fmt"
	"strings"

	"github.com/xuri/excelize/v2"

	"sales-insights-go/internal/types"
)

// Write renders a completed BatchRun into a spreadsheet at path. The
// coordinator guarantees the run is fully populated, so no sheet has to
// handle partial aggregates.
func Write(run types.BatchRun, path string) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := writeOverview(f, run); err != nil {
		return err
	}
	if err := writeRanking(f, run); err != nil {
		return err
	}
	if err := writeCalls(f, run); err != nil {
		return err
	}
	if err := writeFailures(f, run); err != nil {
		return err
	}

	// excelize starts every workbook with a default sheet
	if err := f.DeleteSheet("Sheet1"); err != nil {
		return fmt.Errorf("delete default sheet: %w", err)
	}
	if err := f.SaveAs(path); err != nil {
		return fmt.Errorf("save report: %w", err)
	}
	return nil
}

func writeOverview(f *excelize.File, run types.BatchRun) error {
	const sheet = "Overview"
	if _, err := f.NewSheet(sheet); err != nil {
		return err
	}
	rows := [][]any{
		{"Run ID", run.RunID},
		{"Requested calls", run.RequestedCount},
		{"Analyzed calls", run.Team.AnalyzedCalls},
		{"Failed calls", run.Team.FailedCalls},
		{"Average score", run.Team.AverageScore},
		{"Conversion rate", run.Team.ConversionRate},
		{"Positive sentiment rate", run.Team.PositiveSentimentRate},
		{"Top vendor", run.Team.TopVendor},
		{"Needs attention", run.Team.NeedsAttention},
		{},
		{"Grade", "Count"},
	}
	for _, g := range []string{"A", "B", "C", "D"} {
		rows = append(rows, []any{g, run.Team.GradeCounts[g]})
	}
	return writeRows(f, sheet, rows)
}

func writeRanking(f *excelize.File, run types.BatchRun) error {
	const sheet = "Ranking"
	if _, err := f.NewSheet(sheet); err != nil {
		return err
	}
	rows := [][]any{{
		"Rank", "Vendor", "Calls", "Overall Score (1-10)", "Conversion Rate",
		"Positive Sentiment Rate", "Strengths", "Improvement Areas",
		"Training Priorities", "Next Steps",
	}}

	byID := map[string]types.VendorAggregate{}
	for _, v := range run.Vendors {
		byID[v.VendorID] = v
	}
	for i, id := range run.TeamRanking {
		v := byID[id]
		rows = append(rows, []any{
			i + 1, v.VendorID, len(v.Calls), v.OverallScore, v.ConversionRate,
			v.PositiveSentimentRate, joinRanked(v.Strengths), joinRanked(v.ImprovementAreas),
			strings.Join(v.TrainingPriorities, "; "), strings.Join(v.NextSteps, "; "),
		})
	}
	// unattributed calls sit outside the ranking but stay visible
	if v, ok := byID[types.UnknownVendorID]; ok {
		rows = append(rows, []any{
			"-", v.VendorID, len(v.Calls), v.OverallScore, v.ConversionRate,
			v.PositiveSentimentRate, joinRanked(v.Strengths), joinRanked(v.ImprovementAreas),
			"", "",
		})
	}
	return writeRows(f, sheet, rows)
}

func writeCalls(f *excelize.File, run types.BatchRun) error {
	const sheet = "Calls"
	if _, err := f.NewSheet(sheet); err != nil {
		return err
	}
	rows := [][]any{{
		"Call ID", "Vendor", "Grade", "Score", "Sentiment", "Conversion",
		"Confidence", "Summary",
	}}
	for _, c := range run.Succeeded {
		rows = append(rows, []any{
			c.CallID, c.Vendor.BucketID(), string(c.Grade), c.Score,
			c.SentimentScore, string(c.Conversion), string(c.Confidence), c.Summary,
		})
	}
	return writeRows(f, sheet, rows)
}

func writeFailures(f *excelize.File, run types.BatchRun) error {
	const sheet = "Failures"
	if _, err := f.NewSheet(sheet); err != nil {
		return err
	}
	rows := [][]any{{"Call ID", "Kind", "Message"}}
	for _, fl := range run.Failed {
		rows = append(rows, []any{fl.CallID, string(fl.Kind), fl.Message})
	}
	return writeRows(f, sheet, rows)
}

func writeRows(f *excelize.File, sheet string, rows [][]any) error {
	for i, row := range rows {
		if len(row) == 0 {
			continue
		}
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(sheet, cell, &row); err != nil {
			return fmt.Errorf("write %s row %d: %w", sheet, i+1, err)
		}
	}
	return nil
}

func joinRanked(items []types.RankedItem) string {
	parts := make([]string, 0, len(items))
	for _, it := range items {
		parts = append(parts, fmt.Sprintf("%s (%d)", it.Item, it.Count))
	}
	return strings.Join(parts, "; ")
}

// Package report renders accumulated validation issues or job item errors
// into a downloadable workbook: one sheet with a row per issue, one summary
// sheet with counts by severity, code, and field.
package report

import (
	"fmt"
	"sort"
	"strconv"

	"github.com/xuri/excelize/v2"

	"bulk-import-pipeline/internal/models"
)

// topN bounds the "most frequent" groupings on the summary sheet.
const topN = 10

const (
	errorsSheet  = "Errors"
	summarySheet = "Summary"
)

var errorsHeader = []any{"Row", "Field", "Severity", "Code", "Message", "Value", "Suggested Value", "Suggestion"}

// Workbook builds the two-sheet error report. An empty issue list yields a
// valid workbook with zero counts, never an error.
func Workbook(issues []models.ValidationIssue) (*excelize.File, error) {
	f := excelize.NewFile()
	if err := f.SetSheetName(f.GetSheetName(0), errorsSheet); err != nil {
		return nil, fmt.Errorf("rename sheet: %w", err)
	}
	if _, err := f.NewSheet(summarySheet); err != nil {
		return nil, fmt.Errorf("add summary sheet: %w", err)
	}

	if err := writeErrorsSheet(f, issues); err != nil {
		return nil, err
	}
	if err := writeSummarySheet(f, issues); err != nil {
		return nil, err
	}
	return f, nil
}

// Bytes renders the workbook to xlsx bytes.
func Bytes(issues []models.ValidationIssue) ([]byte, error) {
	f, err := Workbook(issues)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("write workbook: %w", err)
	}
	return buf.Bytes(), nil
}

// IssuesFromItems converts failed job items into the issue shape so a
// completed job's errors reuse the same report.
func IssuesFromItems(items []models.ImportJobItem) []models.ValidationIssue {
	var issues []models.ValidationIssue
	for _, it := range items {
		if it.Status != models.ItemError {
			continue
		}
		msg := "row failed during processing"
		if it.ErrorMessage != nil {
			msg = *it.ErrorMessage
		}
		issues = append(issues, models.ValidationIssue{
			RowNumber: it.RowNumber,
			Severity:  models.SeverityError,
			Code:      "processing_error",
			Message:   msg,
			Value:     it.EntityKey,
		})
	}
	return issues
}

func writeErrorsSheet(f *excelize.File, issues []models.ValidationIssue) error {
	if err := f.SetSheetRow(errorsSheet, "A1", &errorsHeader); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	for i, is := range issues {
		row := []any{is.RowNumber, is.Field, string(is.Severity), is.Code, is.Message, is.Value, is.Suggested, is.Suggestion}
		cell := "A" + strconv.Itoa(i+2)
		if err := f.SetSheetRow(errorsSheet, cell, &row); err != nil {
			return fmt.Errorf("write issue row %d: %w", i, err)
		}
	}
	return nil
}

func writeSummarySheet(f *excelize.File, issues []models.ValidationIssue) error {
	total := len(issues)
	bySeverity := map[models.Severity]int{}
	byCode := map[string]int{}
	byField := map[string]int{}
	for _, is := range issues {
		bySeverity[is.Severity]++
		byCode[is.Code]++
		if is.Field != "" {
			byField[is.Field]++
		}
	}

	rows := [][]any{
		{"Total issues", total},
		{},
		{"Severity", "Count", "Percent"},
	}
	for _, sev := range []models.Severity{models.SeverityError, models.SeverityWarning, models.SeverityInfo} {
		rows = append(rows, []any{string(sev), bySeverity[sev], percent(bySeverity[sev], total)})
	}

	rows = append(rows, []any{}, []any{"Top error codes", "Count", "Percent"})
	for _, kv := range topCounts(byCode, topN) {
		rows = append(rows, []any{kv.key, kv.count, percent(kv.count, total)})
	}

	rows = append(rows, []any{}, []any{"Top fields", "Count", "Percent"})
	for _, kv := range topCounts(byField, topN) {
		rows = append(rows, []any{kv.key, kv.count, percent(kv.count, total)})
	}

	for i := range rows {
		cell := "A" + strconv.Itoa(i+1)
		if err := f.SetSheetRow(summarySheet, cell, &rows[i]); err != nil {
			return fmt.Errorf("write summary row %d: %w", i, err)
		}
	}
	return nil
}

type keyCount struct {
	key   string
	count int
}

func topCounts(m map[string]int, n int) []keyCount {
	out := make([]keyCount, 0, len(m))
	for k, c := range m {
		out = append(out, keyCount{k, c})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].count != out[j].count {
			return out[i].count > out[j].count
		}
		return out[i].key < out[j].key
	})
	if len(out) > n {
		out = out[:n]
	}
	return out
}

func percent(count, total int) string {
	if total == 0 {
		return "0.0%"
	}
	return fmt.Sprintf("%.1f%%", float64(count)/float64(total)*100)
}

package report

import (
	"bytes"
	"testing"

	"github.com/xuri/excelize/v2"

	"bulk-import-pipeline/internal/models"
)

func sampleIssues() []models.ValidationIssue {
	return []models.ValidationIssue{
		{RowNumber: 2, Field: "progress", Severity: models.SeverityError, Code: "exceeds_maximum", Message: "exceeds maximum 100", Value: "150", Suggested: "100"},
		{RowNumber: 5, Field: "email", Severity: models.SeverityError, Code: "invalid_email", Message: "invalid email address", Value: "nope"},
		{RowNumber: 7, Severity: models.SeverityWarning, Code: "duplicate_in_file", Message: "row duplicates row 3"},
	}
}

func TestWorkbookSheets(t *testing.T) {
	f, err := Workbook(sampleIssues())
	if err != nil {
		t.Fatalf("Workbook: %v", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) != 2 || sheets[0] != "Errors" || sheets[1] != "Summary" {
		t.Fatalf("sheets = %v", sheets)
	}

	rows, err := f.GetRows("Errors")
	if err != nil {
		t.Fatalf("GetRows: %v", err)
	}
	if len(rows) != 4 {
		t.Fatalf("error rows = %d, want header + 3", len(rows))
	}
	if rows[0][0] != "Row" || rows[0][3] != "Code" {
		t.Fatalf("header = %v", rows[0])
	}
	if rows[1][0] != "2" || rows[1][3] != "exceeds_maximum" || rows[1][6] != "100" {
		t.Fatalf("first issue row = %v", rows[1])
	}
}

func TestBytesRoundTrip(t *testing.T) {
	data, err := Bytes(sampleIssues())
	if err != nil {
		t.Fatalf("Bytes: %v", err)
	}
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer f.Close()
	rows, err := f.GetRows("Summary")
	if err != nil {
		t.Fatalf("summary rows: %v", err)
	}
	if len(rows) == 0 {
		t.Fatal("summary sheet is empty")
	}
}

func TestEmptyIssueListStillRenders(t *testing.T) {
	data, err := Bytes(nil)
	if err != nil {
		t.Fatalf("Bytes(nil): %v", err)
	}
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer f.Close()
	rows, err := f.GetRows("Errors")
	if err != nil {
		t.Fatalf("GetRows: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("rows = %d, want header only", len(rows))
	}
}

func TestIssuesFromItems(t *testing.T) {
	msg := "destination write refused"
	items := []models.ImportJobItem{
		{RowNumber: 1, Status: models.ItemSuccess},
		{RowNumber: 2, Status: models.ItemError, ErrorMessage: &msg, EntityKey: "operations"},
		{RowNumber: 3, Status: models.ItemError},
	}
	issues := IssuesFromItems(items)
	if len(issues) != 2 {
		t.Fatalf("issues = %d, want 2", len(issues))
	}
	if issues[0].RowNumber != 2 || issues[0].Message != msg || issues[0].Value != "operations" {
		t.Fatalf("issue = %+v", issues[0])
	}
	if issues[1].Message == "" {
		t.Fatal("items without messages need a fallback")
	}
}

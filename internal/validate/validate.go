// Package validate runs the non-committing validation pass over an uploaded
// file: parse, file-level checks, then per-row checks in a fixed order. It
// never writes to the destination store.
package validate

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"bulk-import-pipeline/internal/models"
	"bulk-import-pipeline/internal/parse"
	"bulk-import-pipeline/internal/schema"
)

// ReferenceResolver answers existence lookups against the destination store.
// Lookups are read-only; names are matched on their normalized form.
type ReferenceResolver interface {
	AreaByName(ctx context.Context, tenantID, name string) (id string, ok bool, err error)
	InitiativeByTitle(ctx context.Context, tenantID, title string) (id string, ok bool, err error)
	ObjectiveByTitle(ctx context.Context, tenantID, title string) (id string, ok bool, err error)
}

// Authorizer is the black-box permission check for area-scoped writes.
type Authorizer interface {
	AreaPermitted(ctx context.Context, caller Caller, areaID string) (bool, error)
}

// AllowAll permits every caller; the product's role service replaces it in
// deployments that scope managers to their own areas.
type AllowAll struct{}

func (AllowAll) AreaPermitted(context.Context, Caller, string) (bool, error) { return true, nil }

// Caller identifies who is running the validation.
type Caller struct {
	TenantID string
	UserID   string
	Role     string
}

// Summary aggregates the issue set for the preview response.
type Summary struct {
	TotalRows      int  `json:"total_rows"`
	ErrorCount     int  `json:"error_count"`
	WarningCount   int  `json:"warning_count"`
	InfoCount      int  `json:"info_count"`
	RowsWithErrors int  `json:"rows_with_errors"`
	Valid          bool `json:"valid"`
}

// Result is the outcome of one validation pass.
type Result struct {
	EntityType models.EntityType        `json:"entity_type"`
	Rows       []models.Row             `json:"rows"`
	Issues     []models.ValidationIssue `json:"issues"`
	Summary    Summary                  `json:"summary"`
}

// BlockingRows returns the set of row numbers carrying at least one
// error-severity issue. Those rows are never committed, override or not.
func (r *Result) BlockingRows() map[int]bool {
	blocked := make(map[int]bool)
	for _, is := range r.Issues {
		if is.Severity == models.SeverityError && is.RowNumber > 0 {
			blocked[is.RowNumber] = true
		}
	}
	return blocked
}

// FileBlocked reports whether a file-level error prevents any commit.
func (r *Result) FileBlocked() bool {
	for _, is := range r.Issues {
		if is.RowNumber == 0 && is.Severity == models.SeverityError {
			return true
		}
	}
	return false
}

// Engine is the preview & validation engine.
type Engine struct {
	refs ReferenceResolver
	auth Authorizer
}

// New builds an engine. A nil authorizer defaults to AllowAll.
func New(refs ReferenceResolver, auth Authorizer) *Engine {
	if auth == nil {
		auth = AllowAll{}
	}
	return &Engine{refs: refs, auth: auth}
}

// Validate parses the payload and runs every row through the schema's
// checks. Identical input yields an identical issue set and row count.
func (e *Engine) Validate(ctx context.Context, caller Caller, entityType models.EntityType, data []byte, contentType string) (*Result, error) {
	sch, err := schema.SchemaFor(entityType)
	if err != nil {
		return nil, err
	}

	res := &Result{EntityType: entityType}

	table, err := parse.Parse(data, contentType)
	if err != nil {
		if errors.Is(err, parse.ErrUnreadableFile) {
			res.addIssue(models.ValidationIssue{
				Severity: models.SeverityError,
				Code:     CodeFileUnreadable,
				Message:  err.Error(),
			})
			res.finish()
			return res, nil
		}
		return nil, err
	}

	colIdx := headerIndex(sch, table.Header)
	missing := false
	for _, name := range sch.RequiredColumns() {
		if _, ok := colIdx[name]; !ok {
			missing = true
			res.addIssue(models.ValidationIssue{
				Severity: models.SeverityError,
				Code:     CodeMissingRequiredColumn,
				Field:    name,
				Message:  fmt.Sprintf("required column %q is missing from the header", name),
			})
		}
	}
	if missing {
		res.finish()
		return res, nil
	}

	if len(table.Records) == 0 {
		res.addIssue(models.ValidationIssue{
			Severity: models.SeverityError,
			Code:     CodeEmptyFile,
			Message:  "file contains a header but no data rows",
		})
		res.finish()
		return res, nil
	}

	res.Rows = buildRows(sch, colIdx, table.Records)

	seenKeys := make(map[string]int)       // natural key -> first row number
	weightSums := make(map[string]float64) // activities: initiative -> weight sum
	for _, row := range res.Rows {
		e.checkRequired(sch, row, res)
		e.checkFormats(sch, row, res)
		dup := e.checkDuplicate(entityType, row, seenKeys, res)
		e.checkBusinessRules(entityType, row, dup, weightSums, res)
		if err := e.checkReferences(ctx, caller, entityType, row, res); err != nil {
			return nil, err
		}
	}

	res.finish()
	return res, nil
}

func (e *Engine) checkRequired(sch schema.EntitySchema, row models.Row, res *Result) {
	for _, spec := range sch.Columns {
		if spec.Required && strings.TrimSpace(row.Cells[spec.Name]) == "" {
			res.addIssue(models.ValidationIssue{
				RowNumber: row.Number,
				Field:     spec.Name,
				Severity:  models.SeverityError,
				Code:      CodeMissingRequiredField,
				Message:   fmt.Sprintf("required field %q is empty", spec.Name),
			})
		}
	}
}

func (e *Engine) checkFormats(sch schema.EntitySchema, row models.Row, res *Result) {
	for _, spec := range sch.Columns {
		v := strings.TrimSpace(row.Cells[spec.Name])
		if v == "" {
			continue
		}
		err := schema.CheckValue(v, spec)
		if err == nil {
			continue
		}
		issue := models.ValidationIssue{
			RowNumber: row.Number,
			Field:     spec.Name,
			Severity:  models.SeverityError,
			Message:   err.Error(),
			Value:     v,
		}
		belowMin, aboveMax := schema.BoundsExceeded(v, spec)
		switch {
		case aboveMax:
			issue.Code = CodeExceedsMaximum
			issue.Suggested = strconv.FormatFloat(*spec.Max, 'f', -1, 64)
		case belowMin:
			issue.Code = CodeBelowMinimum
			issue.Suggested = strconv.FormatFloat(*spec.Min, 'f', -1, 64)
		case spec.Type == schema.FieldNumeric:
			issue.Code = CodeInvalidNumber
		case spec.Type == schema.FieldCurrency:
			issue.Code = CodeInvalidCurrency
		case spec.Type == schema.FieldDate:
			issue.Code = CodeInvalidDate
			issue.Suggestion = "use ISO format, e.g. 2026-12-31"
		case spec.Type == schema.FieldEmail:
			issue.Code = CodeInvalidEmail
		default:
			issue.Code = CodeValueNotAllowed
			issue.Suggestion = "allowed values: " + strings.Join(spec.Enum, ", ")
		}
		res.addIssue(issue)
	}
}

// checkBusinessRules applies cross-field rules. For activities the weights
// of all rows under one initiative must not sum past 100; the row that
// crosses the limit gets the issue. Duplicate rows are skipped on commit,
// so they never contribute weight.
func (e *Engine) checkBusinessRules(entityType models.EntityType, row models.Row, dup bool, weightSums map[string]float64, res *Result) {
	switch entityType {
	case models.EntityActivities:
		if dup {
			return
		}
		w, err := schema.ParseNumeric(row.Cells["weight"])
		if err != nil {
			return
		}
		key := strings.ToLower(strings.TrimSpace(row.Cells["initiative"]))
		weightSums[key] += w
		if weightSums[key] > 100 {
			res.addIssue(models.ValidationIssue{
				RowNumber: row.Number,
				Field:     "weight",
				Severity:  models.SeverityError,
				Code:      CodeWeightsExceedLimit,
				Message:   fmt.Sprintf("activity weights for initiative %q sum to %.1f, exceeding 100", strings.TrimSpace(row.Cells["initiative"]), weightSums[key]),
				Value:     row.Cells["weight"],
			})
		}
	case models.EntityInitiatives:
		budget, errB := schema.ParseNumeric(row.Cells["budget"])
		cost, errC := schema.ParseNumeric(row.Cells["actual_cost"])
		if errB == nil && errC == nil && cost > budget {
			res.addIssue(models.ValidationIssue{
				RowNumber: row.Number,
				Field:     "actual_cost",
				Severity:  models.SeverityWarning,
				Code:      CodeCostExceedsBudget,
				Message:   fmt.Sprintf("actual cost %.2f exceeds budget %.2f", cost, budget),
				Value:     row.Cells["actual_cost"],
			})
		}
	}
}

func (e *Engine) checkDuplicate(entityType models.EntityType, row models.Row, seen map[string]int, res *Result) bool {
	key, err := schema.NaturalKey(entityType, row.Cells)
	if err != nil || key == "" {
		return false
	}
	if first, dup := seen[key]; dup {
		res.addIssue(models.ValidationIssue{
			RowNumber:  row.Number,
			Severity:   models.SeverityWarning,
			Code:       CodeDuplicateInFile,
			Message:    fmt.Sprintf("row duplicates the natural key of row %d", first),
			Value:      key,
			Suggestion: "the duplicate row will be skipped on commit",
		})
		return true
	}
	seen[key] = row.Number
	return false
}

func (e *Engine) checkReferences(ctx context.Context, caller Caller, entityType models.EntityType, row models.Row, res *Result) error {
	switch entityType {
	case models.EntityUsers, models.EntityObjectives, models.EntityInitiatives:
		area := strings.TrimSpace(row.Cells["area"])
		if area == "" {
			return nil // required-field check already fired
		}
		id, ok, err := e.refs.AreaByName(ctx, caller.TenantID, area)
		if err != nil {
			return fmt.Errorf("resolve area %q: %w", area, err)
		}
		if !ok {
			res.addIssue(models.ValidationIssue{
				RowNumber: row.Number,
				Field:     "area",
				Severity:  models.SeverityError,
				Code:      CodeAreaNotFound,
				Message:   fmt.Sprintf("area %q does not exist", area),
				Value:     area,
			})
			return nil
		}
		permitted, err := e.auth.AreaPermitted(ctx, caller, id)
		if err != nil {
			return fmt.Errorf("check area permission: %w", err)
		}
		if !permitted {
			res.addIssue(models.ValidationIssue{
				RowNumber: row.Number,
				Field:     "area",
				Severity:  models.SeverityError,
				Code:      CodeAreaNotPermitted,
				Message:   fmt.Sprintf("caller is not permitted to import into area %q", area),
				Value:     area,
			})
		}
		if entityType == models.EntityInitiatives {
			if obj := strings.TrimSpace(row.Cells["objective"]); obj != "" {
				_, ok, err := e.refs.ObjectiveByTitle(ctx, caller.TenantID, obj)
				if err != nil {
					return fmt.Errorf("resolve objective %q: %w", obj, err)
				}
				if !ok {
					res.addIssue(models.ValidationIssue{
						RowNumber: row.Number,
						Field:     "objective",
						Severity:  models.SeverityWarning,
						Code:      CodeObjectiveNotFound,
						Message:   fmt.Sprintf("objective %q does not exist; the initiative will be imported unlinked", obj),
						Value:     obj,
					})
				}
			}
		}
	case models.EntityActivities:
		title := strings.TrimSpace(row.Cells["initiative"])
		if title == "" {
			return nil
		}
		_, ok, err := e.refs.InitiativeByTitle(ctx, caller.TenantID, title)
		if err != nil {
			return fmt.Errorf("resolve initiative %q: %w", title, err)
		}
		if !ok {
			res.addIssue(models.ValidationIssue{
				RowNumber: row.Number,
				Field:     "initiative",
				Severity:  models.SeverityError,
				Code:      CodeInitiativeNotFound,
				Message:   fmt.Sprintf("initiative %q does not exist", title),
				Value:     title,
			})
		}
	}
	return nil
}

func (r *Result) addIssue(is models.ValidationIssue) {
	r.Issues = append(r.Issues, is)
}

func (r *Result) finish() {
	rowsWithErrors := make(map[int]bool)
	for _, is := range r.Issues {
		switch is.Severity {
		case models.SeverityError:
			r.Summary.ErrorCount++
			if is.RowNumber > 0 {
				rowsWithErrors[is.RowNumber] = true
			}
		case models.SeverityWarning:
			r.Summary.WarningCount++
		case models.SeverityInfo:
			r.Summary.InfoCount++
		}
	}
	r.Summary.TotalRows = len(r.Rows)
	r.Summary.RowsWithErrors = len(rowsWithErrors)
	r.Summary.Valid = r.Summary.ErrorCount == 0
}

// headerIndex maps schema column names to their position in the file
// header, matched case-insensitively. Unknown columns are ignored.
func headerIndex(sch schema.EntitySchema, header []string) map[string]int {
	idx := make(map[string]int)
	for pos, h := range header {
		if spec, ok := sch.Column(h); ok {
			if _, dup := idx[spec.Name]; !dup {
				idx[spec.Name] = pos
			}
		}
	}
	return idx
}

func buildRows(sch schema.EntitySchema, colIdx map[string]int, records [][]string) []models.Row {
	rows := make([]models.Row, 0, len(records))
	for i, rec := range records {
		cells := make(map[string]string, len(colIdx))
		for name, pos := range colIdx {
			if pos < len(rec) {
				cells[name] = strings.TrimSpace(rec[pos])
			}
		}
		rows = append(rows, models.Row{Number: i + 1, Cells: cells})
	}
	return rows
}

package validate

// Stable machine codes attached to validation issues. Codes are part of the
// API contract: clients and the error report group by them, so renaming one
// is a breaking change.
const (
	// File-level (row_number 0); these block the entire preview.
	CodeFileUnreadable        = "file_unreadable"
	CodeEmptyFile             = "empty_file"
	CodeMissingRequiredColumn = "missing_required_column"

	// Row-level.
	CodeMissingRequiredField = "missing_required_field"
	CodeInvalidNumber        = "invalid_number"
	CodeInvalidCurrency      = "invalid_currency"
	CodeInvalidDate          = "invalid_date"
	CodeInvalidEmail         = "invalid_email"
	CodeValueNotAllowed      = "value_not_allowed"
	CodeBelowMinimum         = "below_minimum"
	CodeExceedsMaximum       = "exceeds_maximum"
	CodeDuplicateInFile      = "duplicate_in_file"
	CodeWeightsExceedLimit   = "weights_exceed_limit"
	CodeCostExceedsBudget    = "cost_exceeds_budget"
	CodeAreaNotFound         = "area_not_found"
	CodeAreaNotPermitted     = "area_not_permitted"
	CodeInitiativeNotFound   = "initiative_not_found"
	CodeObjectiveNotFound    = "objective_not_found"
)

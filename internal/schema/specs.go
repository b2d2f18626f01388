package schema

import "bulk-import-pipeline/internal/models"

func f64(v float64) *float64 { return &v }

// areaFieldSpecs defines the expected columns for organizational areas.
var areaFieldSpecs = []FieldSpec{
	{Name: "name", Type: FieldText, Required: true, Example: "Operations"},
	{Name: "description", Type: FieldText, Example: "Plant and logistics"},
}

// userFieldSpecs defines the expected columns for platform users.
var userFieldSpecs = []FieldSpec{
	{Name: "email", Type: FieldEmail, Required: true, Example: "ana.silva@example.com"},
	{Name: "full_name", Type: FieldText, Required: true, Example: "Ana Silva"},
	{Name: "role", Type: FieldText, Required: true, Enum: []string{"admin", "manager", "contributor", "viewer"}, Example: "manager"},
	{Name: "area", Type: FieldText, Required: true, Example: "Operations"},
}

// objectiveFieldSpecs defines the expected columns for strategic objectives.
var objectiveFieldSpecs = []FieldSpec{
	{Name: "title", Type: FieldText, Required: true, Example: "Reduce churn"},
	{Name: "description", Type: FieldText},
	{Name: "area", Type: FieldText, Required: true, Example: "Customer Success"},
	{Name: "status", Type: FieldText, Enum: []string{"draft", "active", "on_hold", "completed", "cancelled"}, Example: "active"},
	{Name: "progress", Type: FieldNumeric, Min: f64(0), Max: f64(100), Example: "40"},
	{Name: "weight", Type: FieldNumeric, Min: f64(0), Max: f64(100), Example: "25"},
	{Name: "target_date", Type: FieldDate, Example: "2026-12-31"},
}

// initiativeFieldSpecs defines the expected columns for initiatives.
var initiativeFieldSpecs = []FieldSpec{
	{Name: "title", Type: FieldText, Required: true, Example: "Self-service onboarding"},
	{Name: "description", Type: FieldText},
	{Name: "area", Type: FieldText, Required: true, Example: "Product"},
	{Name: "objective", Type: FieldText, Example: "Reduce churn"},
	{Name: "status", Type: FieldText, Enum: []string{"draft", "active", "on_hold", "completed", "cancelled"}, Example: "active"},
	{Name: "priority", Type: FieldText, Enum: []string{"low", "medium", "high", "critical"}, Example: "high"},
	{Name: "progress", Type: FieldNumeric, Min: f64(0), Max: f64(100), Example: "55"},
	{Name: "budget", Type: FieldCurrency, Min: f64(0), Example: "120000.00"},
	{Name: "actual_cost", Type: FieldCurrency, Min: f64(0), Example: "80000.00"},
	{Name: "start_date", Type: FieldDate, Example: "2026-01-15"},
	{Name: "target_date", Type: FieldDate, Example: "2026-09-30"},
}

// activityFieldSpecs defines the expected columns for initiative activities.
var activityFieldSpecs = []FieldSpec{
	{Name: "title", Type: FieldText, Required: true, Example: "Ship signup wizard"},
	{Name: "description", Type: FieldText},
	{Name: "initiative", Type: FieldText, Required: true, Example: "Self-service onboarding"},
	{Name: "status", Type: FieldText, Enum: []string{"pending", "in_progress", "completed", "blocked"}, Example: "in_progress"},
	{Name: "weight", Type: FieldNumeric, Required: true, Min: f64(0), Max: f64(100), Example: "30"},
	{Name: "progress", Type: FieldNumeric, Min: f64(0), Max: f64(100), Example: "70"},
	{Name: "due_date", Type: FieldDate, Example: "2026-06-30"},
}

var registry = map[models.EntityType]EntitySchema{
	models.EntityAreas: {
		Type:       models.EntityAreas,
		Columns:    areaFieldSpecs,
		KeyColumns: []string{"name"},
		Roles:      []string{"admin"},
	},
	models.EntityUsers: {
		Type:       models.EntityUsers,
		Columns:    userFieldSpecs,
		KeyColumns: []string{"email"},
		Roles:      []string{"admin"},
	},
	models.EntityObjectives: {
		Type:       models.EntityObjectives,
		Columns:    objectiveFieldSpecs,
		KeyColumns: []string{"title", "area"},
		Roles:      []string{"admin", "manager"},
	},
	models.EntityInitiatives: {
		Type:       models.EntityInitiatives,
		Columns:    initiativeFieldSpecs,
		KeyColumns: []string{"title", "area"},
		Roles:      []string{"admin", "manager"},
	},
	models.EntityActivities: {
		Type:       models.EntityActivities,
		Columns:    activityFieldSpecs,
		KeyColumns: []string{"title", "initiative"},
		Roles:      []string{"admin", "manager", "contributor"},
	},
}

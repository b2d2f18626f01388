package schema

import (
	"fmt"
	"strings"
	"time"

	"bulk-import-pipeline/internal/models"
)

// Decode maps a validated row into the typed record for its entity type.
// Cells are expected to have passed validation already; decode failures on
// optional fields fall back to zero values rather than erroring.
func Decode(entityType models.EntityType, row models.Row) (models.EntityRecord, error) {
	switch entityType {
	case models.EntityAreas:
		return models.AreaRecord{
			Name:        cell(row, "name"),
			Description: cell(row, "description"),
		}, nil
	case models.EntityUsers:
		return models.UserRecord{
			Email:    strings.ToLower(cell(row, "email")),
			FullName: cell(row, "full_name"),
			Role:     strings.ToLower(cell(row, "role")),
			AreaName: cell(row, "area"),
		}, nil
	case models.EntityObjectives:
		return models.ObjectiveRecord{
			Title:       cell(row, "title"),
			Description: cell(row, "description"),
			AreaName:    cell(row, "area"),
			Status:      strings.ToLower(cell(row, "status")),
			Progress:    numericCell(row, "progress"),
			Weight:      numericCell(row, "weight"),
			TargetDate:  dateCell(row, "target_date"),
		}, nil
	case models.EntityInitiatives:
		return models.InitiativeRecord{
			Title:          cell(row, "title"),
			Description:    cell(row, "description"),
			AreaName:       cell(row, "area"),
			ObjectiveTitle: cell(row, "objective"),
			Status:         strings.ToLower(cell(row, "status")),
			Priority:       strings.ToLower(cell(row, "priority")),
			Progress:       numericCell(row, "progress"),
			Budget:         optNumericCell(row, "budget"),
			ActualCost:     optNumericCell(row, "actual_cost"),
			StartDate:      dateCell(row, "start_date"),
			TargetDate:     dateCell(row, "target_date"),
		}, nil
	case models.EntityActivities:
		return models.ActivityRecord{
			Title:           cell(row, "title"),
			Description:     cell(row, "description"),
			InitiativeTitle: cell(row, "initiative"),
			Status:          strings.ToLower(cell(row, "status")),
			Weight:          numericCell(row, "weight"),
			Progress:        numericCell(row, "progress"),
			DueDate:         dateCell(row, "due_date"),
		}, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownEntityType, entityType)
}

func cell(row models.Row, name string) string {
	return strings.TrimSpace(row.Cells[name])
}

func numericCell(row models.Row, name string) float64 {
	f, err := ParseNumeric(cell(row, name))
	if err != nil {
		return 0
	}
	return f
}

func optNumericCell(row models.Row, name string) *float64 {
	v := cell(row, name)
	if v == "" {
		return nil
	}
	f, err := ParseNumeric(v)
	if err != nil {
		return nil
	}
	return &f
}

func dateCell(row models.Row, name string) *time.Time {
	v := cell(row, name)
	if v == "" {
		return nil
	}
	t, err := ParseDate(v)
	if err != nil {
		return nil
	}
	return &t
}

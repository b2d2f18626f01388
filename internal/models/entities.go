package models

import "time"

// EntityType names a destination record type importable from a spreadsheet.
type EntityType string

const (
	EntityAreas       EntityType = "areas"
	EntityUsers       EntityType = "users"
	EntityObjectives  EntityType = "objectives"
	EntityInitiatives EntityType = "initiatives"
	EntityActivities  EntityType = "activities"
)

// EntityRecord is a decoded, schema-validated row ready for the destination
// store. Concrete types carry the typed fields per entity.
type EntityRecord interface {
	Kind() EntityType
}

// AreaRecord is an organizational area (division/department).
type AreaRecord struct {
	Name        string
	Description string
}

func (AreaRecord) Kind() EntityType { return EntityAreas }

// UserRecord is a platform user row. Email is the natural key.
type UserRecord struct {
	Email    string
	FullName string
	Role     string
	AreaName string
}

func (UserRecord) Kind() EntityType { return EntityUsers }

// ObjectiveRecord is a strategic objective scoped to an area.
type ObjectiveRecord struct {
	Title       string
	Description string
	AreaName    string
	Status      string
	Progress    float64
	Weight      float64
	TargetDate  *time.Time
}

func (ObjectiveRecord) Kind() EntityType { return EntityObjectives }

// InitiativeRecord is an initiative under an area, optionally tied to an
// objective by title.
type InitiativeRecord struct {
	Title          string
	Description    string
	AreaName       string
	ObjectiveTitle string
	Status         string
	Priority       string
	Progress       float64
	Budget         *float64
	ActualCost     *float64
	StartDate      *time.Time
	TargetDate     *time.Time
}

func (InitiativeRecord) Kind() EntityType { return EntityInitiatives }

// ActivityRecord is a weighted sub-item of an initiative.
type ActivityRecord struct {
	Title           string
	Description     string
	InitiativeTitle string
	Status          string
	Weight          float64
	Progress        float64
	DueDate         *time.Time
}

func (ActivityRecord) Kind() EntityType { return EntityActivities }

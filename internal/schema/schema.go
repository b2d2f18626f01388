// Package schema declares, per entity type, the expected column set,
// per-field validation rules, and the natural-key definition used to match
// existing destination records.
package schema

import (
	"errors"
	"fmt"
	"strings"

	"bulk-import-pipeline/internal/models"
)

// ErrUnknownEntityType is returned for entity types the registry does not know.
var ErrUnknownEntityType = errors.New("unknown entity type")

// FieldType drives per-cell format validation.
type FieldType int

const (
	FieldText FieldType = iota
	FieldNumeric
	FieldCurrency
	FieldDate
	FieldEmail
)

func (t FieldType) String() string {
	switch t {
	case FieldNumeric:
		return "numeric"
	case FieldCurrency:
		return "currency"
	case FieldDate:
		return "date"
	case FieldEmail:
		return "email"
	default:
		return "text"
	}
}

// FieldSpec describes one expected column.
type FieldSpec struct {
	Name     string
	Type     FieldType
	Required bool
	Min      *float64 // numeric lower bound, inclusive
	Max      *float64 // numeric upper bound, inclusive
	Enum     []string // allowed values, case-insensitive; empty means any
	Example  string
}

// EntitySchema is the full column contract for one entity type.
type EntitySchema struct {
	Type       models.EntityType
	Columns    []FieldSpec
	KeyColumns []string // natural-key columns, in key order
	// Roles allowed to import this entity type. Empty means any role.
	Roles []string
}

// Column returns the spec for a column name, matched case-insensitively.
func (s EntitySchema) Column(name string) (FieldSpec, bool) {
	for _, c := range s.Columns {
		if strings.EqualFold(c.Name, name) {
			return c, true
		}
	}
	return FieldSpec{}, false
}

// RequiredColumns lists the columns that must be present in the file header.
func (s EntitySchema) RequiredColumns() []string {
	var out []string
	for _, c := range s.Columns {
		if c.Required {
			out = append(out, c.Name)
		}
	}
	return out
}

// entityOrder fixes the ordered set reported by AvailableEntityTypes and
// used for template listings.
var entityOrder = []models.EntityType{
	models.EntityAreas,
	models.EntityUsers,
	models.EntityObjectives,
	models.EntityInitiatives,
	models.EntityActivities,
}

// AvailableEntityTypes returns the supported entity types in stable order.
func AvailableEntityTypes() []models.EntityType {
	out := make([]models.EntityType, len(entityOrder))
	copy(out, entityOrder)
	return out
}

// SchemaFor resolves the schema for an entity type.
func SchemaFor(entityType models.EntityType) (EntitySchema, error) {
	s, ok := registry[entityType]
	if !ok {
		return EntitySchema{}, fmt.Errorf("%w: %q", ErrUnknownEntityType, entityType)
	}
	return s, nil
}

// RoleAllowed reports whether a caller role may import the entity type.
func RoleAllowed(entityType models.EntityType, role string) bool {
	s, ok := registry[entityType]
	if !ok {
		return false
	}
	if len(s.Roles) == 0 {
		return true
	}
	for _, r := range s.Roles {
		if strings.EqualFold(r, role) {
			return true
		}
	}
	return false
}

// NaturalKey derives the dedup key for a row. The derivation is pure and
// case/whitespace-insensitive so that cosmetic differences in the source
// file do not create spurious duplicates.
func NaturalKey(entityType models.EntityType, cells map[string]string) (string, error) {
	s, err := SchemaFor(entityType)
	if err != nil {
		return "", err
	}
	parts := make([]string, 0, len(s.KeyColumns))
	for _, col := range s.KeyColumns {
		parts = append(parts, normalizeKeyPart(cells[col]))
	}
	return strings.Join(parts, "|"), nil
}

func normalizeKeyPart(v string) string {
	fields := strings.Fields(strings.ToLower(v))
	return strings.Join(fields, " ")
}

// NormalizeName applies the same normalization used for natural-key parts,
// so name-based lookups match what was stored.
func NormalizeName(v string) string {
	return normalizeKeyPart(v)
}

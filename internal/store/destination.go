package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"bulk-import-pipeline/internal/models"
	"bulk-import-pipeline/internal/schema"
)

// entityTables maps entity types to their destination tables. The map is
// the only source of table names used in destination queries.
var entityTables = map[models.EntityType]string{
	models.EntityAreas:       "areas",
	models.EntityUsers:       "platform_users",
	models.EntityObjectives:  "objectives",
	models.EntityInitiatives: "initiatives",
	models.EntityActivities:  "activities",
}

// FindEntityID resolves a natural key to an existing destination record.
// Every destination table carries a (tenant_id, natural_key) unique index,
// so this is a point lookup, not a scan.
func (s *Store) FindEntityID(ctx context.Context, tenantID string, entityType models.EntityType, naturalKey string) (string, bool, error) {
	table, ok := entityTables[entityType]
	if !ok {
		return "", false, fmt.Errorf("%w: %q", schema.ErrUnknownEntityType, entityType)
	}
	var id string
	err := s.pool.QueryRow(ctx,
		`SELECT id FROM `+table+` WHERE tenant_id = $1 AND natural_key = $2`,
		tenantID, naturalKey).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("find %s by key: %w", entityType, err)
	}
	return id, true, nil
}

// AreaByName implements validate.ReferenceResolver.
func (s *Store) AreaByName(ctx context.Context, tenantID, name string) (string, bool, error) {
	return s.FindEntityID(ctx, tenantID, models.EntityAreas, schema.NormalizeName(name))
}

// InitiativeByTitle resolves an initiative by its normalized title alone.
// Initiative natural keys are title|area, so this matches on the first key
// part; ambiguous titles resolve to an arbitrary area's initiative.
func (s *Store) InitiativeByTitle(ctx context.Context, tenantID, title string) (string, bool, error) {
	return s.findByTitlePart(ctx, "initiatives", tenantID, title)
}

// ObjectiveByTitle resolves an objective by its normalized title alone.
func (s *Store) ObjectiveByTitle(ctx context.Context, tenantID, title string) (string, bool, error) {
	return s.findByTitlePart(ctx, "objectives", tenantID, title)
}

func (s *Store) findByTitlePart(ctx context.Context, table, tenantID, title string) (string, bool, error) {
	var id string
	err := s.pool.QueryRow(ctx,
		`SELECT id FROM `+table+` WHERE tenant_id = $1 AND split_part(natural_key, '|', 1) = $2 LIMIT 1`,
		tenantID, schema.NormalizeName(title)).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("find in %s by title: %w", table, err)
	}
	return id, true, nil
}

// createEntity inserts a destination record inside the row transaction and
// returns the new id.
func (s *Store) createEntity(ctx context.Context, tx pgx.Tx, tenantID, naturalKey string, rec models.EntityRecord) (string, error) {
	id := uuid.New().String()
	switch r := rec.(type) {
	case models.AreaRecord:
		_, err := tx.Exec(ctx, `
			INSERT INTO areas (id, tenant_id, natural_key, name, description, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, NOW(), NOW())
		`, id, tenantID, naturalKey, r.Name, r.Description)
		return id, err
	case models.UserRecord:
		areaID, err := lookupAreaID(ctx, tx, tenantID, r.AreaName)
		if err != nil {
			return "", err
		}
		_, err = tx.Exec(ctx, `
			INSERT INTO platform_users (id, tenant_id, natural_key, email, full_name, role, area_id, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, NOW(), NOW())
		`, id, tenantID, naturalKey, r.Email, r.FullName, r.Role, areaID)
		return id, err
	case models.ObjectiveRecord:
		areaID, err := lookupAreaID(ctx, tx, tenantID, r.AreaName)
		if err != nil {
			return "", err
		}
		_, err = tx.Exec(ctx, `
			INSERT INTO objectives (id, tenant_id, natural_key, title, description, area_id, status, progress, weight, target_date, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, NOW(), NOW())
		`, id, tenantID, naturalKey, r.Title, r.Description, areaID, defaultTo(r.Status, "active"), r.Progress, r.Weight, r.TargetDate)
		return id, err
	case models.InitiativeRecord:
		areaID, err := lookupAreaID(ctx, tx, tenantID, r.AreaName)
		if err != nil {
			return "", err
		}
		objectiveID, err := lookupTitlePart(ctx, tx, "objectives", tenantID, r.ObjectiveTitle)
		if err != nil {
			return "", err
		}
		_, err = tx.Exec(ctx, `
			INSERT INTO initiatives (id, tenant_id, natural_key, title, description, area_id, objective_id, status, priority, progress, budget, actual_cost, start_date, target_date, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, NOW(), NOW())
		`, id, tenantID, naturalKey, r.Title, r.Description, areaID, objectiveID, defaultTo(r.Status, "active"), defaultTo(r.Priority, "medium"), r.Progress, r.Budget, r.ActualCost, r.StartDate, r.TargetDate)
		return id, err
	case models.ActivityRecord:
		initiativeID, err := lookupTitlePart(ctx, tx, "initiatives", tenantID, r.InitiativeTitle)
		if err != nil {
			return "", err
		}
		if initiativeID == nil {
			return "", fmt.Errorf("initiative %q no longer exists", r.InitiativeTitle)
		}
		_, err = tx.Exec(ctx, `
			INSERT INTO activities (id, tenant_id, natural_key, title, description, initiative_id, status, weight, progress, due_date, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, NOW(), NOW())
		`, id, tenantID, naturalKey, r.Title, r.Description, *initiativeID, defaultTo(r.Status, "pending"), r.Weight, r.Progress, r.DueDate)
		return id, err
	}
	return "", fmt.Errorf("unsupported record type %T", rec)
}

// updateEntity overwrites the mutable fields of an existing record. Tenant
// scoping in the WHERE clause is mandatory: ids alone never cross tenants.
func (s *Store) updateEntity(ctx context.Context, tx pgx.Tx, tenantID, id string, rec models.EntityRecord) error {
	switch r := rec.(type) {
	case models.AreaRecord:
		return execUpdate(ctx, tx, `
			UPDATE areas SET name = $3, description = $4, updated_at = NOW()
			WHERE id = $1 AND tenant_id = $2
		`, id, tenantID, r.Name, r.Description)
	case models.UserRecord:
		areaID, err := lookupAreaID(ctx, tx, tenantID, r.AreaName)
		if err != nil {
			return err
		}
		return execUpdate(ctx, tx, `
			UPDATE platform_users SET full_name = $3, role = $4, area_id = $5, updated_at = NOW()
			WHERE id = $1 AND tenant_id = $2
		`, id, tenantID, r.FullName, r.Role, areaID)
	case models.ObjectiveRecord:
		areaID, err := lookupAreaID(ctx, tx, tenantID, r.AreaName)
		if err != nil {
			return err
		}
		return execUpdate(ctx, tx, `
			UPDATE objectives SET description = $3, area_id = $4, status = $5, progress = $6, weight = $7, target_date = $8, updated_at = NOW()
			WHERE id = $1 AND tenant_id = $2
		`, id, tenantID, r.Description, areaID, defaultTo(r.Status, "active"), r.Progress, r.Weight, r.TargetDate)
	case models.InitiativeRecord:
		areaID, err := lookupAreaID(ctx, tx, tenantID, r.AreaName)
		if err != nil {
			return err
		}
		objectiveID, err := lookupTitlePart(ctx, tx, "objectives", tenantID, r.ObjectiveTitle)
		if err != nil {
			return err
		}
		return execUpdate(ctx, tx, `
			UPDATE initiatives SET description = $3, area_id = $4, objective_id = $5, status = $6, priority = $7, progress = $8, budget = $9, actual_cost = $10, start_date = $11, target_date = $12, updated_at = NOW()
			WHERE id = $1 AND tenant_id = $2
		`, id, tenantID, r.Description, areaID, objectiveID, defaultTo(r.Status, "active"), defaultTo(r.Priority, "medium"), r.Progress, r.Budget, r.ActualCost, r.StartDate, r.TargetDate)
	case models.ActivityRecord:
		return execUpdate(ctx, tx, `
			UPDATE activities SET description = $3, status = $4, weight = $5, progress = $6, due_date = $7, updated_at = NOW()
			WHERE id = $1 AND tenant_id = $2
		`, id, tenantID, r.Description, defaultTo(r.Status, "pending"), r.Weight, r.Progress, r.DueDate)
	}
	return fmt.Errorf("unsupported record type %T", rec)
}

func execUpdate(ctx context.Context, tx pgx.Tx, sql string, args ...any) error {
	tag, err := tx.Exec(ctx, sql, args...)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		// Record deleted between preview and commit.
		return fmt.Errorf("destination record no longer exists")
	}
	return nil
}

func lookupAreaID(ctx context.Context, tx pgx.Tx, tenantID, name string) (*string, error) {
	if name == "" {
		return nil, nil
	}
	var id string
	err := tx.QueryRow(ctx,
		`SELECT id FROM areas WHERE tenant_id = $1 AND natural_key = $2`,
		tenantID, schema.NormalizeName(name)).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("area %q no longer exists", name)
	}
	if err != nil {
		return nil, fmt.Errorf("lookup area: %w", err)
	}
	return &id, nil
}

func lookupTitlePart(ctx context.Context, tx pgx.Tx, table, tenantID, title string) (*string, error) {
	if title == "" {
		return nil, nil
	}
	var id string
	err := tx.QueryRow(ctx,
		`SELECT id FROM `+table+` WHERE tenant_id = $1 AND split_part(natural_key, '|', 1) = $2 LIMIT 1`,
		tenantID, schema.NormalizeName(title)).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("lookup %s: %w", table, err)
	}
	return &id, nil
}

func defaultTo(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

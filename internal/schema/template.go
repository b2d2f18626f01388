package schema

import (
	"bytes"
	"encoding/csv"
	"fmt"

	"bulk-import-pipeline/internal/models"
)

// Template produces a blank CSV for the entity type: exactly the header row
// declared by the schema, no data rows. Deterministic and side-effect-free.
func Template(entityType models.EntityType) ([]byte, error) {
	s, err := SchemaFor(entityType)
	if err != nil {
		return nil, err
	}
	header := make([]string, 0, len(s.Columns))
	for _, c := range s.Columns {
		header = append(header, c.Name)
	}
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(header); err != nil {
		return nil, fmt.Errorf("write template header: %w", err)
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, fmt.Errorf("flush template: %w", err)
	}
	return buf.Bytes(), nil
}

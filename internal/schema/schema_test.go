package schema

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"bulk-import-pipeline/internal/models"
)

func TestSchemaForUnknownType(t *testing.T) {
	if _, err := SchemaFor("widgets"); !errors.Is(err, ErrUnknownEntityType) {
		t.Fatalf("err = %v, want ErrUnknownEntityType", err)
	}
}

func TestAvailableEntityTypesStableOrder(t *testing.T) {
	a := AvailableEntityTypes()
	b := AvailableEntityTypes()
	if len(a) != 5 {
		t.Fatalf("types = %d, want 5", len(a))
	}
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("order not stable: %v vs %v", a, b)
		}
	}
	if a[0] != models.EntityAreas {
		t.Fatalf("first type = %s", a[0])
	}
}

func TestNaturalKeyNormalization(t *testing.T) {
	cases := []struct {
		cells map[string]string
		want  string
	}{
		{map[string]string{"name": "Operations"}, "operations"},
		{map[string]string{"name": "  OPERATIONS  "}, "operations"},
		{map[string]string{"name": "North   Region"}, "north region"},
	}
	for _, tc := range cases {
		got, err := NaturalKey(models.EntityAreas, tc.cells)
		if err != nil {
			t.Fatalf("NaturalKey(%v): %v", tc.cells, err)
		}
		if got != tc.want {
			t.Fatalf("NaturalKey(%v) = %q, want %q", tc.cells, got, tc.want)
		}
	}
}

func TestNaturalKeyCompound(t *testing.T) {
	got, err := NaturalKey(models.EntityObjectives, map[string]string{
		"title": "Reduce Churn",
		"area":  "Customer Success",
	})
	if err != nil {
		t.Fatalf("NaturalKey: %v", err)
	}
	if got != "reduce churn|customer success" {
		t.Fatalf("key = %q", got)
	}
}

func TestRoleAllowed(t *testing.T) {
	cases := []struct {
		entity models.EntityType
		role   string
		want   bool
	}{
		{models.EntityAreas, "admin", true},
		{models.EntityAreas, "manager", false},
		{models.EntityUsers, "contributor", false},
		{models.EntityObjectives, "manager", true},
		{models.EntityActivities, "contributor", true},
		{models.EntityActivities, "viewer", false},
	}
	for _, tc := range cases {
		if got := RoleAllowed(tc.entity, tc.role); got != tc.want {
			t.Fatalf("RoleAllowed(%s, %s) = %t, want %t", tc.entity, tc.role, got, tc.want)
		}
	}
}

func TestTemplateHeaderOnly(t *testing.T) {
	data, err := Template(models.EntityUsers)
	if err != nil {
		t.Fatalf("Template: %v", err)
	}
	lines := strings.Split(strings.TrimRight(string(data), "\n"), "\n")
	if len(lines) != 1 {
		t.Fatalf("template has %d lines, want header only", len(lines))
	}
	if lines[0] != "email,full_name,role,area" {
		t.Fatalf("header = %q", lines[0])
	}
}

func TestTemplateDeterministic(t *testing.T) {
	a, _ := Template(models.EntityInitiatives)
	b, _ := Template(models.EntityInitiatives)
	if !bytes.Equal(a, b) {
		t.Fatal("template output not deterministic")
	}
}

func TestParseNumeric(t *testing.T) {
	cases := []struct {
		in      string
		want    float64
		wantErr bool
	}{
		{"42", 42, false},
		{" 42.5 ", 42.5, false},
		{"$120,000.00", 120000, false},
		{"€1,500", 1500, false},
		{"", 0, true},
		{"abc", 0, true},
	}
	for _, tc := range cases {
		got, err := ParseNumeric(tc.in)
		if tc.wantErr != (err != nil) {
			t.Fatalf("ParseNumeric(%q) err = %v", tc.in, err)
		}
		if !tc.wantErr && got != tc.want {
			t.Fatalf("ParseNumeric(%q) = %v, want %v", tc.in, got, tc.want)
		}
	}
}

func TestParseDateLayouts(t *testing.T) {
	for _, in := range []string{"2026-12-31", "2026/12/31", "31/12/2026", "2 Jan 2026"} {
		if _, err := ParseDate(in); err != nil {
			t.Fatalf("ParseDate(%q): %v", in, err)
		}
	}
	if _, err := ParseDate("eventually"); err == nil {
		t.Fatal("expected error for junk date")
	}
}

func TestValidEmail(t *testing.T) {
	if !ValidEmail("ana.silva@example.com") {
		t.Fatal("valid address rejected")
	}
	for _, in := range []string{"nope", "a@b", "two@@example.com", ""} {
		if ValidEmail(in) {
			t.Fatalf("invalid address %q accepted", in)
		}
	}
}

func TestCheckValueBoundsAndEnum(t *testing.T) {
	sch, err := SchemaFor(models.EntityObjectives)
	if err != nil {
		t.Fatalf("SchemaFor: %v", err)
	}
	progress, _ := sch.Column("progress")
	if err := CheckValue("150", progress); err == nil {
		t.Fatal("150 should exceed the progress maximum")
	}
	if err := CheckValue("75", progress); err != nil {
		t.Fatalf("CheckValue(75): %v", err)
	}
	_, aboveMax := BoundsExceeded("150", progress)
	if !aboveMax {
		t.Fatal("BoundsExceeded should flag 150")
	}

	status, _ := sch.Column("status")
	if err := CheckValue("paused", status); err == nil {
		t.Fatal("paused is not an allowed status")
	}
	if err := CheckValue("Active", status); err != nil {
		t.Fatalf("enum match should be case-insensitive: %v", err)
	}
}

func TestDecodeInitiative(t *testing.T) {
	row := models.Row{Number: 1, Cells: map[string]string{
		"title":       "Self-service onboarding",
		"area":        "Product",
		"status":      "ACTIVE",
		"priority":    "High",
		"progress":    "55",
		"budget":      "$120,000.00",
		"actual_cost": "",
		"start_date":  "2026-01-15",
	}}
	rec, err := Decode(models.EntityInitiatives, row)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	init, ok := rec.(models.InitiativeRecord)
	if !ok {
		t.Fatalf("record type = %T", rec)
	}
	if init.Status != "active" || init.Priority != "high" {
		t.Fatalf("record = %+v", init)
	}
	if init.Budget == nil || *init.Budget != 120000 {
		t.Fatalf("budget = %v", init.Budget)
	}
	if init.ActualCost != nil {
		t.Fatal("empty cost should decode to nil")
	}
	if init.StartDate == nil {
		t.Fatal("start date should decode")
	}
}

func TestDecodeUnknownType(t *testing.T) {
	if _, err := Decode("widgets", models.Row{}); !errors.Is(err, ErrUnknownEntityType) {
		t.Fatalf("err = %v", err)
	}
}

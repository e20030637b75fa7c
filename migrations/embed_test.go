package main

import (
	"strings"
	"testing"
	"testing/fstest"
)

func migrationFS(names ...string) fstest.MapFS {
	fsys := fstest.MapFS{}
	for _, name := range names {
		fsys[name] = &fstest.MapFile{Data: []byte("SELECT 1;")}
	}

	return fsys
}

func TestMigrationSource_FilesFiltersAndOrders(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	source := NewMigrationSource(migrationFS(
		"002_add_indexes.up.sql",
		"002_add_indexes.down.sql",
		"001_base.up.sql",
		"001_base.down.sql",
		"notes.md",
		"seed-data.sql",
	))

	files, err := source.Files()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := []string{
		"001_base.down.sql",
		"001_base.up.sql",
		"002_add_indexes.down.sql",
		"002_add_indexes.up.sql",
	}

	if len(files) != len(want) {
		t.Fatalf("Files() = %v, want %v", files, want)
	}

	for i, name := range want {
		if files[i] != name {
			t.Errorf("Files()[%d] = %q, want %q", i, files[i], name)
		}
	}
}

func TestMigrationSource_Validate(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	tests := []struct {
		name    string
		files   []string
		wantErr string
	}{
		{
			name:  "paired gapless set passes",
			files: []string{"001_base.up.sql", "001_base.down.sql", "002_next.up.sql", "002_next.down.sql"},
		},
		{
			name:    "empty set is rejected",
			files:   nil,
			wantErr: "no embedded migration files",
		},
		{
			name:    "orphaned up migration",
			files:   []string{"001_base.up.sql"},
			wantErr: "missing down migration",
		},
		{
			name:    "orphaned down migration",
			files:   []string{"001_base.up.sql", "001_base.down.sql", "002_next.down.sql"},
			wantErr: "missing up migration",
		},
		{
			name:    "gap in sequence",
			files:   []string{"001_base.up.sql", "001_base.down.sql", "003_next.up.sql", "003_next.down.sql"},
			wantErr: "gap in migration sequence",
		},
		{
			name:    "sequence must start at one",
			files:   []string{"002_base.up.sql", "002_base.down.sql"},
			wantErr: "should start with 001",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := NewMigrationSource(migrationFS(tt.files...)).Validate()

			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}

				return
			}

			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("error = %v, want it to mention %q", err, tt.wantErr)
			}
		})
	}
}

func TestMigrationSource_ParseFilename(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	source := NewMigrationSource(migrationFS())

	migration, err := source.parseFilename("002_create_curated_tables.down.sql")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if migration.Sequence != 2 || migration.Name != "create_curated_tables" || migration.Direction != "down" {
		t.Errorf("parsed = %+v", migration)
	}

	for _, bad := range []string{"2_short_prefix.up.sql", "001_no_direction.sql", "001_bad.sideways.sql"} {
		if _, err := source.parseFilename(bad); err == nil {
			t.Errorf("parseFilename(%q) accepted an invalid name", bad)
		}
	}
}

// The real embedded set must stay valid and carry exactly the control-plane
// and curated-table migrations.
func TestEmbeddedSchema(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	source := NewMigrationSource(nil)

	if err := source.Validate(); err != nil {
		t.Fatalf("embedded schema does not validate: %v", err)
	}

	files, err := source.Files()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := []string{
		"001_create_control_tables.down.sql",
		"001_create_control_tables.up.sql",
		"002_create_curated_tables.down.sql",
		"002_create_curated_tables.up.sql",
	}

	if len(files) != len(want) {
		t.Fatalf("Files() = %v, want %v", files, want)
	}

	for i, name := range want {
		if files[i] != name {
			t.Errorf("Files()[%d] = %q, want %q", i, files[i], name)
		}
	}

	if got := source.MaxVersion(); got != 2 {
		t.Errorf("MaxVersion() = %d, want 2", got)
	}

	content, err := source.Content("002_create_curated_tables.up.sql")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	for _, table := range []string{
		"sipsa_ciudad",
		"sipsa_parcial",
		"sipsa_mayoristas_semanal",
		"sipsa_mayoristas_mensual",
		"sipsa_abastecimientos_mensual",
	} {
		if !strings.Contains(string(content), table) {
			t.Errorf("curated migration misses table %s", table)
		}
	}
}

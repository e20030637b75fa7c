package main

import (
	"embed"
	"fmt"
	"io/fs"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
)

// The control-plane and curated-table SQL ships inside the migrator binary,
// so a deployment never depends on migration files being present on disk.
//
//go:embed *.sql
var embeddedSchema embed.FS

// Migration filenames follow 001_name.up.sql / 001_name.down.sql.
var migrationNameRegex = regexp.MustCompile(`^(\d{3})_([a-zA-Z0-9_]+)\.(up|down)\.sql$`)

type (
	// MigrationSource exposes the embedded schema files and validates them
	// before any state-changing operation runs against the database.
	MigrationSource struct {
		fs fs.FS
	}

	// MigrationFile is the parsed form of one schema file name.
	MigrationFile struct {
		Sequence  int
		Name      string
		Direction string
		Filename  string
	}
)

// NewMigrationSource wraps the given filesystem, or the embedded schema when
// filesystem is nil.
func NewMigrationSource(filesystem fs.FS) *MigrationSource {
	if filesystem == nil {
		filesystem = embeddedSchema
	}

	return &MigrationSource{fs: filesystem}
}

// FS returns the underlying migration filesystem for the migrate source driver.
func (s *MigrationSource) FS() fs.FS {
	return s.fs
}

// Files lists the schema files that match the naming standard, in apply
// order. Files with nonconforming names are ignored rather than applied.
func (s *MigrationSource) Files() ([]string, error) {
	entries, err := fs.ReadDir(s.fs, ".")
	if err != nil {
		return nil, fmt.Errorf("failed to read migration filesystem: %w", err)
	}

	var files []string

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}

		name := entry.Name()
		if filepath.Ext(name) == ".sql" && migrationNameRegex.MatchString(name) {
			files = append(files, name)
		}
	}

	// Lexicographic order matches apply order under the zero-padded
	// sequence prefix.
	sort.Strings(files)

	return files, nil
}

// Validate checks the embedded schema set: every file parses, every up has a
// matching down, and the sequence starts at 001 without gaps.
func (s *MigrationSource) Validate() error {
	files, err := s.Files()
	if err != nil {
		return err
	}

	if len(files) == 0 {
		return fmt.Errorf("no embedded migration files found")
	}

	parsed := make([]*MigrationFile, 0, len(files))

	for _, name := range files {
		migration, err := s.parseFilename(name)
		if err != nil {
			return err
		}

		if _, err := s.Content(name); err != nil {
			return fmt.Errorf("failed to read migration file %s: %w", name, err)
		}

		parsed = append(parsed, migration)
	}

	if err := validatePairing(parsed); err != nil {
		return err
	}

	return validateSequence(parsed)
}

// Content returns the SQL of one embedded schema file.
func (s *MigrationSource) Content(filename string) ([]byte, error) {
	return fs.ReadFile(s.fs, filename)
}

// MaxVersion returns the highest sequence number among the embedded schema
// files, or 0 when none can be read.
func (s *MigrationSource) MaxVersion() int {
	files, err := s.Files()
	if err != nil {
		return 0
	}

	maxSequence := 0

	for _, name := range files {
		if migration, err := s.parseFilename(name); err == nil && migration.Sequence > maxSequence {
			maxSequence = migration.Sequence
		}
	}

	return maxSequence
}

func (s *MigrationSource) parseFilename(filename string) (*MigrationFile, error) {
	matches := migrationNameRegex.FindStringSubmatch(filename)
	if len(matches) != 4 {
		return nil, fmt.Errorf(
			"invalid migration filename %s (expected 001_name.up.sql or 001_name.down.sql)",
			filename,
		)
	}

	sequence, err := strconv.Atoi(matches[1])
	if err != nil {
		return nil, fmt.Errorf("invalid sequence number in filename %s: %w", filename, err)
	}

	return &MigrationFile{
		Sequence:  sequence,
		Name:      matches[2],
		Direction: matches[3],
		Filename:  filename,
	}, nil
}

// validatePairing requires a down file for every up file and vice versa. A
// half-paired migration would make rollbacks impossible.
func validatePairing(migrations []*MigrationFile) error {
	directions := make(map[string]map[string]bool)

	for _, migration := range migrations {
		key := fmt.Sprintf("%03d_%s", migration.Sequence, migration.Name)
		if directions[key] == nil {
			directions[key] = make(map[string]bool)
		}

		directions[key][migration.Direction] = true
	}

	for key, seen := range directions {
		if !seen["up"] {
			return fmt.Errorf("orphaned down migration: missing up migration for %s", key)
		}

		if !seen["down"] {
			return fmt.Errorf("orphaned up migration: missing down migration for %s", key)
		}
	}

	return nil
}

// validateSequence requires sequence numbers 001..N with no gaps.
func validateSequence(migrations []*MigrationFile) error {
	seen := make(map[int]bool)
	for _, migration := range migrations {
		seen[migration.Sequence] = true
	}

	sequences := make([]int, 0, len(seen))
	for sequence := range seen {
		sequences = append(sequences, sequence)
	}

	sort.Ints(sequences)

	if len(sequences) == 0 {
		return nil
	}

	if sequences[0] != 1 {
		return fmt.Errorf("migration sequence should start with 001, but found %03d", sequences[0])
	}

	for i := 1; i < len(sequences); i++ {
		if sequences[i] != sequences[i-1]+1 {
			return fmt.Errorf(
				"gap in migration sequence: expected %03d, found %03d",
				sequences[i-1]+1,
				sequences[i],
			)
		}
	}

	return nil
}

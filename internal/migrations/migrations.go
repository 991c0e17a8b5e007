package migrations

import (
	"embed"
	"fmt"
	"os"
	"path/filepath"
)

const initialSchemaFile = "001_initial_schema.sql"

//go:embed sql/*.sql
var schemaFS embed.FS

var (
	// MigrationsDir, when set, is searched for a schema file that replaces the
	// embedded one. Tests and local overrides use it.
	MigrationsDir = os.Getenv("JEROSYNC_MIGRATIONS_DIR")
)

// GetInitialSchema returns the initial database schema
func GetInitialSchema() (string, error) {
	if MigrationsDir != "" {
		schemaContent, err := os.ReadFile(filepath.Join(MigrationsDir, initialSchemaFile))
		if err != nil {
			return "", fmt.Errorf("could not read schema override: %w", err)
		}
		return string(schemaContent), nil
	}

	schemaContent, err := schemaFS.ReadFile("sql/" + initialSchemaFile)
	if err != nil {
		return "", fmt.Errorf("could not read embedded schema: %w", err)
	}
	return string(schemaContent), nil
}

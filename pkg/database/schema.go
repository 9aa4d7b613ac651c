package database

import (
	"fmt"
	"sort"

	sqlassets "clipworks/api_orchestrator/pkg/database/sql"

	"clipworks/api_orchestrator/pkg/logging"
)

// ApplySchema executes the embedded DDL files in lexical order. The DDL
// is written with IF NOT EXISTS guards, so reapplying on boot is safe.
func ApplySchema(db PostgresConn, logger logging.Logger) error {
	entries, err := sqlassets.Content.ReadDir("schema")
	if err != nil {
		return fmt.Errorf("read embedded schema: %w", err)
	}

	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if !entry.IsDir() {
			names = append(names, entry.Name())
		}
	}
	sort.Strings(names)

	for _, name := range names {
		ddl, err := sqlassets.Content.ReadFile("schema/" + name)
		if err != nil {
			return fmt.Errorf("read schema file %s: %w", name, err)
		}
		if _, err := db.Exec(string(ddl)); err != nil {
			return fmt.Errorf("apply schema file %s: %w", name, err)
		}
		logger.WithField("file", name).Debug("Applied schema file")
	}

	return nil
}

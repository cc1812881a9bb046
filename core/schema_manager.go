package core

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
)

//go:embed sql/*.sql
var schemaFiles embed.FS

// CoreTables lists the tables the admin portal cannot run without.
var CoreTables = []string{
	"profiles",
	"sessions",
	"admin_sessions",
	"system_activities",
}

type schemaDialect struct {
	file        string
	tableExists string
	listTables  string
	columnCount string
}

var schemaDialects = map[string]schemaDialect{
	"sqlite": {
		file:        "sql/sqlite_core.sql",
		tableExists: `SELECT count(*) FROM sqlite_master WHERE type = 'table' AND name = ?`,
		listTables:  `SELECT name FROM sqlite_master WHERE type = 'table' AND name NOT LIKE 'sqlite_%' ORDER BY name`,
		columnCount: `SELECT count(*) FROM pragma_table_info(?)`,
	},
	"postgres": {
		file:        "sql/postgres_core.sql",
		tableExists: `SELECT count(*) FROM information_schema.tables WHERE table_schema = current_schema() AND table_name = $1`,
		listTables:  `SELECT table_name FROM information_schema.tables WHERE table_schema = current_schema() ORDER BY table_name`,
		columnCount: `SELECT count(*) FROM information_schema.columns WHERE table_schema = current_schema() AND table_name = $1`,
	},
}

// SchemaManager applies and inspects the embedded core schema.
type SchemaManager struct {
	db      *sql.DB
	dbType  string
	dialect schemaDialect
}

// NewSchemaManager creates a schema manager for the given database type
// ("sqlite" or "postgres").
func NewSchemaManager(db *sql.DB, dbType string) (*SchemaManager, error) {
	dialect, ok := schemaDialects[dbType]
	if !ok {
		return nil, fmt.Errorf("unsupported database type: %s", dbType)
	}
	return &SchemaManager{db: db, dbType: dbType, dialect: dialect}, nil
}

// EnsureCoreSchema creates any missing core tables and indexes, then checks
// that every table in CoreTables is present. Safe to call on every start.
func (sm *SchemaManager) EnsureCoreSchema(ctx context.Context) error {
	schemaSQL, err := schemaFiles.ReadFile(sm.dialect.file)
	if err != nil {
		return fmt.Errorf("failed to read schema file %s: %w", sm.dialect.file, err)
	}

	for _, statement := range splitStatements(string(schemaSQL)) {
		if _, err := sm.db.ExecContext(ctx, statement); err != nil {
			return fmt.Errorf("failed to execute core schema: %w", err)
		}
	}

	missing, err := sm.MissingTables(ctx)
	if err != nil {
		return err
	}
	if len(missing) > 0 {
		return fmt.Errorf("schema validation failed: missing tables %s", strings.Join(missing, ", "))
	}

	slog.Debug("Core schema ready", "database_type", sm.dbType)
	return nil
}

// MissingTables returns the entries of CoreTables that do not exist.
func (sm *SchemaManager) MissingTables(ctx context.Context) ([]string, error) {
	var missing []string
	for _, table := range CoreTables {
		var count int
		if err := sm.db.QueryRowContext(ctx, sm.dialect.tableExists, table).Scan(&count); err != nil {
			return nil, fmt.Errorf("failed to check table %s: %w", table, err)
		}
		if count == 0 {
			missing = append(missing, table)
		}
	}
	return missing, nil
}

// splitStatements splits a schema file on statement terminators, dropping
// comment-only fragments.
func splitStatements(schema string) []string {
	var statements []string
	for _, part := range strings.Split(schema, ";") {
		var lines []string
		for _, line := range strings.Split(part, "\n") {
			if trimmed := strings.TrimSpace(line); trimmed != "" && !strings.HasPrefix(trimmed, "--") {
				lines = append(lines, line)
			}
		}
		if len(lines) > 0 {
			statements = append(statements, strings.Join(lines, "\n"))
		}
	}
	return statements
}

// SchemaInfo describes the tables found in the database.
type SchemaInfo struct {
	DatabaseType string                `json:"database_type"`
	Tables       map[string]*TableInfo `json:"tables"`
}

// TableInfo describes a single table.
type TableInfo struct {
	Name    string `json:"name"`
	Columns int    `json:"columns"`
	Core    bool   `json:"core"`
}

// GetSchemaInfo lists every table with its column count.
func (sm *SchemaManager) GetSchemaInfo(ctx context.Context) (*SchemaInfo, error) {
	rows, err := sm.db.QueryContext(ctx, sm.dialect.listTables)
	if err != nil {
		return nil, fmt.Errorf("failed to query tables: %w", err)
	}

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan table name: %w", err)
		}
		names = append(names, name)
	}
	// Close before issuing more queries; in-memory SQLite runs on one connection.
	if err := errors.Join(rows.Err(), rows.Close()); err != nil {
		return nil, fmt.Errorf("failed to list tables: %w", err)
	}

	info := &SchemaInfo{DatabaseType: sm.dbType, Tables: make(map[string]*TableInfo, len(names))}
	for _, name := range names {
		table := &TableInfo{Name: name, Core: slices.Contains(CoreTables, name)}
		if err := sm.db.QueryRowContext(ctx, sm.dialect.columnCount, name).Scan(&table.Columns); err != nil {
			return nil, fmt.Errorf("failed to count columns of %s: %w", name, err)
		}
		info.Tables[name] = table
	}
	return info, nil
}

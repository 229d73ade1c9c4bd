package pgstore

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// SQLDefault wraps a literal SQL expression for Column.DefaultSQLExpr.
func SQLDefault(expr string) *string { return &expr }

func DefaultNow() *string   { return SQLDefault("CURRENT_TIMESTAMP") }
func DefaultTrue() *string  { return SQLDefault("TRUE") }
func DefaultFalse() *string { return SQLDefault("FALSE") }
func DefaultEmpty() *string { return SQLDefault("''") }

func DefaultEmptyArray() *string {
	return SQLDefault("'{}'")
}

type ColumnType int

const (
	ColumnString ColumnType = iota
	ColumnText
	ColumnInt
	ColumnBool
	ColumnTimestamp
	ColumnIntArray
	ColumnTextArray
)

type Column struct {
	Name           string
	Type           ColumnType
	PrimaryKey     bool
	Nullable       bool
	DefaultSQLExpr *string // nil = no default
}

// Index is a plain btree index over one or more columns.
type Index struct {
	Name    string
	Columns []string
}

type Schema struct {
	Name    string
	Columns []Column
	Indexes []Index
}

func columnTypeToString(colType ColumnType) string {
	switch colType {
	case ColumnString:
		return "varchar(255)"
	case ColumnText:
		return "text"
	case ColumnInt:
		return "integer"
	case ColumnBool:
		return "boolean"
	case ColumnTimestamp:
		return "timestamptz"
	case ColumnIntArray:
		return "integer[]"
	case ColumnTextArray:
		return "text[]"
	default:
		return "varchar(255)"
	}
}

func columnToString(col Column) string {
	parts := []string{col.Name, columnTypeToString(col.Type)}

	if col.PrimaryKey {
		parts = append(parts, "PRIMARY KEY")
	}
	if !col.Nullable {
		parts = append(parts, "NOT NULL")
	}
	if col.DefaultSQLExpr != nil {
		parts = append(parts, "DEFAULT "+*col.DefaultSQLExpr)
	}
	return strings.Join(parts, " ")
}

func schemaToCreationString(schema Schema) string {
	cols := make([]string, 0, len(schema.Columns))
	for _, col := range schema.Columns {
		cols = append(cols, columnToString(col))
	}
	return "CREATE TABLE IF NOT EXISTS " + schema.Name + " (" + strings.Join(cols, ", ") + ");"
}

func indexToCreationString(table string, idx Index) string {
	return "CREATE INDEX IF NOT EXISTS " + idx.Name + " ON " + table + " (" + strings.Join(idx.Columns, ", ") + ");"
}

// CreateSchema creates the table and its indexes if they do not exist.
func CreateSchema(ctx context.Context, db *sql.DB, schema Schema) error {
	if db == nil {
		return fmt.Errorf("db is nil")
	}
	if schema.Name == "" {
		return fmt.Errorf("schema name is empty")
	}

	sqlStr := schemaToCreationString(schema)
	if _, err := db.ExecContext(ctx, sqlStr); err != nil {
		return fmt.Errorf("create schema %q failed: %w\nSQL: %s", schema.Name, err, sqlStr)
	}
	for _, idx := range schema.Indexes {
		sqlStr := indexToCreationString(schema.Name, idx)
		if _, err := db.ExecContext(ctx, sqlStr); err != nil {
			return fmt.Errorf("create index %q failed: %w", idx.Name, err)
		}
	}
	return nil
}

const tableName = "calendar_events"

// EventSchema is the calendar_events table. Recurrence patterns are
// flattened into rec_* columns.
func EventSchema() Schema {
	cols := []Column{
		{Name: "id", Type: ColumnText, PrimaryKey: true},
		{Name: "title", Type: ColumnString},
		{Name: "description", Type: ColumnText, DefaultSQLExpr: DefaultEmpty()},
		{Name: "event_type", Type: ColumnString},
		{Name: "start_datetime", Type: ColumnTimestamp},
		{Name: "duration_minutes", Type: ColumnInt, DefaultSQLExpr: SQLDefault("60")},
		{Name: "timezone", Type: ColumnString, DefaultSQLExpr: SQLDefault("'America/Los_Angeles'")},
		{Name: "meeting_link", Type: ColumnText, DefaultSQLExpr: DefaultEmpty()},
		{Name: "meeting_provider", Type: ColumnString, DefaultSQLExpr: SQLDefault("'zoom'")},
		{Name: "is_recurring", Type: ColumnBool, DefaultSQLExpr: DefaultFalse()},
		{Name: "rec_frequency", Type: ColumnString, Nullable: true},
		{Name: "rec_interval", Type: ColumnInt, Nullable: true},
		{Name: "rec_days_of_week", Type: ColumnIntArray, Nullable: true},
		{Name: "rec_end_type", Type: ColumnString, Nullable: true},
		{Name: "rec_occurrences", Type: ColumnInt, Nullable: true},
		{Name: "rec_end_date", Type: ColumnTimestamp, Nullable: true},
		{Name: "cancelled_dates", Type: ColumnTextArray, DefaultSQLExpr: DefaultEmptyArray()},
		{Name: "parent_event_id", Type: ColumnText, Nullable: true},
		{Name: "created_by_admin_id", Type: ColumnString, Nullable: true},
		{Name: "is_active", Type: ColumnBool, DefaultSQLExpr: DefaultTrue()},
		{Name: "deleted_at", Type: ColumnTimestamp, Nullable: true},
		{Name: "created_at", Type: ColumnTimestamp, DefaultSQLExpr: DefaultNow()},
		{Name: "updated_at", Type: ColumnTimestamp, DefaultSQLExpr: DefaultNow()},
	}

	return Schema{
		Name:    tableName,
		Columns: cols,
		Indexes: []Index{
			{Name: "calendar_events_start_idx", Columns: []string{"start_datetime"}},
			{Name: "calendar_events_recurring_idx", Columns: []string{"is_recurring", "is_active"}},
			{Name: "calendar_events_parent_idx", Columns: []string{"parent_event_id"}},
		},
	}
}

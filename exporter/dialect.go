package exporter

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
)

// The log2timeline table, in the column order of the 4n6time schema.
var Columns = []string{
	"timezone", "MACB", "source", "sourcetype", "type", "user", "host",
	"desc", "filename", "inode", "notes", "format", "extra", "datetime",
	"reportnotes", "inreport", "tag", "color", "offset", "store_number",
	"store_index", "vss_store_number", "URL", "record_number",
	"event_identifier", "event_type", "source_name", "user_sid",
	"computer_name", "bookmark",
}

var integer_columns = map[string]bool{
	"offset": true, "store_number": true, "store_index": true,
	"vss_store_number": true, "bookmark": true,
}

// Columns with a frequency table (l2t_<column>s) used by timeline
// viewers for their filter lists.
var MetadataColumns = []string{"sourcetype", "source", "MACB", "type", "host"}

var DefaultIndexColumns = []string{"datetime", "source", "sourcetype", "type", "inode"}

// Dialect hides the SQL differences between the database backends.
type Dialect interface {
	// The database/sql driver name.
	DriverName() string
	Placeholder(index int) string
	QuoteColumn(name string) string
	DatetimeType() string
	IDColumnSQL() string
}

type SQLiteDialect struct{}

func (self SQLiteDialect) DriverName() string           { return "sqlite" }
func (self SQLiteDialect) Placeholder(index int) string { return "?" }
func (self SQLiteDialect) DatetimeType() string         { return "DATETIME" }
func (self SQLiteDialect) IDColumnSQL() string          { return "" }

func (self SQLiteDialect) QuoteColumn(name string) string {
	return quoteReserved(name)
}

type PostgresDialect struct{}

func (self PostgresDialect) DriverName() string { return "pgx" }
func (self PostgresDialect) Placeholder(index int) string {
	return fmt.Sprintf("$%d", index)
}
func (self PostgresDialect) DatetimeType() string { return "TIMESTAMP" }
func (self PostgresDialect) IDColumnSQL() string  { return "id SERIAL PRIMARY KEY, " }

func (self PostgresDialect) QuoteColumn(name string) string {
	return quoteReserved(name)
}

// user, desc and offset are keywords in both databases.
func quoteReserved(name string) string {
	switch name {
	case "user", "desc", "offset":
		return `"` + name + `"`
	}
	return name
}

func NewDialect(driver string) (Dialect, error) {
	switch driver {
	case "sqlite", "sqlite3":
		return SQLiteDialect{}, nil
	case "postgres", "pgx":
		return PostgresDialect{}, nil
	}
	return nil, errors.Errorf("Unsupported database driver %v", driver)
}

func createTableSQL(d Dialect) string {
	columns := make([]string, 0, len(Columns))
	for _, c := range Columns {
		column_type := "TEXT"
		switch {
		case c == "datetime":
			column_type = d.DatetimeType()
		case c == "bookmark":
			column_type = "INT DEFAULT 0"
		case integer_columns[c]:
			column_type = "INT"
		}
		columns = append(columns, d.QuoteColumn(c)+" "+column_type)
	}

	return "CREATE TABLE IF NOT EXISTS log2timeline (" + d.IDColumnSQL() +
		strings.Join(columns, ", ") + ")"
}

func insertEventSQL(d Dialect) string {
	columns := make([]string, 0, len(Columns))
	placeholders := make([]string, 0, len(Columns))
	for idx, c := range Columns {
		columns = append(columns, d.QuoteColumn(c))
		placeholders = append(placeholders, d.Placeholder(idx+1))
	}
	return "INSERT INTO log2timeline (" + strings.Join(columns, ", ") +
		") VALUES (" + strings.Join(placeholders, ", ") + ")"
}

func selectEventsSQL(d Dialect) string {
	columns := make([]string, 0, len(Columns))
	for _, c := range Columns {
		columns = append(columns, d.QuoteColumn(c))
	}
	return "SELECT " + strings.Join(columns, ", ") + " FROM log2timeline"
}

func createIndexSQL(d Dialect, column string) string {
	return fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s_idx ON log2timeline (%s)",
		strings.ToLower(column), d.QuoteColumn(column))
}

func createMetadataTableSQL(d Dialect, column string) string {
	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS l2t_%ss (%s TEXT, frequency INT)",
		strings.ToLower(column), d.QuoteColumn(column))
}

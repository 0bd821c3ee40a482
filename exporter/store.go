package exporter

import (
	"context"
	"database/sql"
	"strings"

	"github.com/pkg/errors"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"
)

// Store is a log2timeline timeline database, readable by 4n6time
// style viewers. SQLite takes a file path, PostgreSQL a connection
// string for an existing database.
type Store struct {
	dsn     string
	conn    *sql.DB
	dialect Dialect
}

func openConn(driver, dsn string) (*Store, error) {
	dialect, err := NewDialect(driver)
	if err != nil {
		return nil, err
	}

	conn, err := sql.Open(dialect.DriverName(), dsn)
	if err != nil {
		return nil, errors.Wrap(err, "opening database")
	}

	return &Store{dsn: dsn, conn: conn, dialect: dialect}, nil
}

// OpenStore opens an existing timeline database.
func OpenStore(ctx context.Context, driver, dsn string) (*Store, error) {
	self, err := openConn(driver, dsn)
	if err != nil {
		return nil, err
	}

	err = self.conn.PingContext(ctx)
	if err != nil {
		self.conn.Close()
		return nil, errors.Wrap(err, "connecting to database")
	}
	return self, nil
}

// CreateStore creates the schema. Existing tables are kept.
func CreateStore(ctx context.Context, driver, dsn string,
	index_columns []string) (*Store, error) {
	self, err := openConn(driver, dsn)
	if err != nil {
		return nil, err
	}

	err = self.createSchema(ctx, index_columns)
	if err != nil {
		self.conn.Close()
		return nil, errors.Wrap(err, "creating schema")
	}
	return self, nil
}

func (self *Store) createSchema(ctx context.Context, index_columns []string) error {
	if index_columns == nil {
		index_columns = DefaultIndexColumns
	}

	tx, err := self.conn.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, createTableSQL(self.dialect))
	if err != nil {
		return errors.Wrap(err, "creating log2timeline table")
	}

	for _, column := range MetadataColumns {
		_, err = tx.ExecContext(ctx, createMetadataTableSQL(self.dialect, column))
		if err != nil {
			return errors.Wrapf(err, "creating metadata table for %v", column)
		}
	}

	for _, column := range index_columns {
		_, err = tx.ExecContext(ctx, createIndexSQL(self.dialect, column))
		if err != nil {
			return errors.Wrapf(err, "creating index on %v", column)
		}
	}

	return tx.Commit()
}

func (self *Store) Close() error {
	if self.conn != nil {
		return self.conn.Close()
	}
	return nil
}

func (self *Store) DSN() string {
	return self.dsn
}

// InsertEvents inserts all events in one transaction. on_progress is
// called every 10000 events and may be nil.
func (self *Store) InsertEvents(ctx context.Context, events []*Event,
	on_progress func(count int)) (int, error) {
	tx, err := self.conn.BeginTx(ctx, nil)
	if err != nil {
		return 0, errors.Wrap(err, "beginning transaction")
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, insertEventSQL(self.dialect))
	if err != nil {
		return 0, errors.Wrap(err, "preparing insert statement")
	}
	defer stmt.Close()

	inserted := 0
	for _, e := range events {
		_, err := stmt.ExecContext(ctx, e.values()...)
		if err != nil {
			return inserted, errors.Wrapf(err, "inserting event %d", inserted+1)
		}
		inserted++
		if on_progress != nil && inserted%10000 == 0 {
			on_progress(inserted)
		}
	}

	err = tx.Commit()
	if err != nil {
		return inserted, errors.Wrap(err, "committing transaction")
	}
	return inserted, nil
}

func (self *Store) CountEvents(ctx context.Context) (int64, error) {
	var count int64
	err := self.conn.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM log2timeline").Scan(&count)
	return count, errors.WithStack(err)
}

// SearchEvents finds events whose description, file name or extra
// details contain keyword, ignoring case. A limit of 0 returns all
// matches.
func (self *Store) SearchEvents(ctx context.Context, keyword string,
	limit int) ([]*Event, error) {
	d := self.dialect
	clauses := []string{}
	args := []interface{}{}
	for _, column := range []string{"desc", "filename", "extra"} {
		args = append(args, "%"+strings.ToLower(keyword)+"%")
		clauses = append(clauses, "lower("+d.QuoteColumn(column)+") LIKE "+
			d.Placeholder(len(args)))
	}

	query := selectEventsSQL(d) + " WHERE " + strings.Join(clauses, " OR ") +
		" ORDER BY datetime"
	if limit > 0 {
		args = append(args, limit)
		query += " LIMIT " + d.Placeholder(len(args))
	}

	rows, err := self.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "searching events")
	}
	defer rows.Close()

	result := []*Event{}
	for rows.Next() {
		event := &Event{}
		var datetime sql.NullString
		pointers := event.pointers()
		pointers[13] = &datetime

		err = rows.Scan(pointers...)
		if err != nil {
			return nil, errors.Wrap(err, "scanning event")
		}
		event.Datetime = normalizeDatetime(datetime.String)
		result = append(result, event)
	}
	return result, errors.WithStack(rows.Err())
}

// Drivers return timestamps in RFC 3339 form.
func normalizeDatetime(datetime string) string {
	datetime = strings.Replace(datetime, "T", " ", 1)
	if len(datetime) > len(L2T_DATETIME_FORMAT) {
		datetime = datetime[:len(L2T_DATETIME_FORMAT)]
	}
	return datetime
}

// UpdateMetadata rebuilds the frequency tables.
func (self *Store) UpdateMetadata(ctx context.Context) error {
	tx, err := self.conn.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, column := range MetadataColumns {
		table := "l2t_" + strings.ToLower(column) + "s"
		quoted := self.dialect.QuoteColumn(column)

		_, err = tx.ExecContext(ctx, "DELETE FROM "+table)
		if err != nil {
			return errors.Wrapf(err, "clearing %v", table)
		}

		_, err = tx.ExecContext(ctx, "INSERT INTO "+table+" ("+quoted+
			", frequency) SELECT "+quoted+", COUNT("+quoted+
			") FROM log2timeline GROUP BY "+quoted)
		if err != nil {
			return errors.Wrapf(err, "updating %v", table)
		}
	}

	return tx.Commit()
}

// Frequencies returns the distinct values of a metadata column.
func (self *Store) Frequencies(ctx context.Context,
	column string) (map[string]int64, error) {
	table := "l2t_" + strings.ToLower(column) + "s"
	quoted := self.dialect.QuoteColumn(column)

	rows, err := self.conn.QueryContext(ctx,
		"SELECT "+quoted+", frequency FROM "+table)
	if err != nil {
		return nil, errors.Wrapf(err, "reading %v", table)
	}
	defer rows.Close()

	result := make(map[string]int64)
	for rows.Next() {
		var value sql.NullString
		var count int64
		err = rows.Scan(&value, &count)
		if err != nil {
			return nil, errors.WithStack(err)
		}
		result[value.String] = count
	}
	return result, errors.WithStack(rows.Err())
}

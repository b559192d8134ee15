package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/aanand-mishra/records-api/internal/schema"
	"github.com/aanand-mishra/records-api/internal/storage"
)

// Table stores records of type T in one SQLite table whose columns follow
// the schema's declared fields.
type Table[T any] struct {
	db     *sql.DB
	schema *schema.Schema[T]
	name   string   // quoted table name
	cols   []string // quoted column names, declaration order
	pkCol  string
}

var _ storage.Store[struct{}] = (*Table[struct{}])(nil)

// NewTable creates the table for sch if it does not exist yet and returns a
// store for it.
func NewTable[T any](s *SQLite, sch *schema.Schema[T]) (*Table[T], error) {
	t := &Table[T]{
		db:     s.Db,
		schema: sch,
		name:   quote(sch.Table()),
		pkCol:  quote(sch.PrimaryKey().Name),
	}

	defs := make([]string, 0, len(sch.Fields()))
	for _, f := range sch.Fields() {
		t.cols = append(t.cols, quote(f.Name))
		defs = append(defs, quote(f.Name)+" "+columnDef(f))
	}

	// CREATE TABLE IF NOT EXISTS is idempotent, so it is safe on every start.
	ddl := fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (\n\t%s\n)", t.name, strings.Join(defs, ",\n\t"))
	if _, err := s.Db.Exec(ddl); err != nil {
		return nil, fmt.Errorf("sqlite.NewTable: create table %s: %w", sch.Table(), err)
	}

	return t, nil
}

// GetAll returns the rows matching where, ordered by primary key.
func (t *Table[T]) GetAll(ctx context.Context, where storage.Filter) ([]T, error) {
	clause, args, err := t.where(where)
	if err != nil {
		return nil, storage.Wrap("GetAll", err)
	}

	stmt, err := t.db.PrepareContext(ctx, t.selectSQL()+clause+" ORDER BY "+t.pkCol)
	if err != nil {
		return nil, storage.Wrap("GetAll: prepare", err)
	}
	defer stmt.Close()

	rows, err := stmt.QueryContext(ctx, args...)
	if err != nil {
		return nil, storage.Wrap("GetAll: query", err)
	}
	defer rows.Close()

	// Non-nil so an empty result encodes as [] rather than null.
	records := make([]T, 0)
	for rows.Next() {
		var rec T
		if err := rows.Scan(t.schema.Pointers(&rec)...); err != nil {
			return nil, storage.Wrap("GetAll: scan row", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, storage.Wrap("GetAll: rows iteration", err)
	}

	return records, nil
}

// GetOne returns the first row matching where, or storage.ErrNotFound.
func (t *Table[T]) GetOne(ctx context.Context, where storage.Filter) (T, error) {
	var rec T

	clause, args, err := t.where(where)
	if err != nil {
		return rec, storage.Wrap("GetOne", err)
	}

	stmt, err := t.db.PrepareContext(ctx, t.selectSQL()+clause+" ORDER BY "+t.pkCol+" LIMIT 1")
	if err != nil {
		return rec, storage.Wrap("GetOne: prepare", err)
	}
	defer stmt.Close()

	err = stmt.QueryRowContext(ctx, args...).Scan(t.schema.Pointers(&rec)...)
	if errors.Is(err, sql.ErrNoRows) {
		return rec, storage.ErrNotFound
	}
	if err != nil {
		return rec, storage.Wrap("GetOne: scan", err)
	}

	return rec, nil
}

// Save inserts rec, or updates the row that already has rec's key.
func (t *Table[T]) Save(ctx context.Context, rec *T) error {
	if !t.schema.HasKey(rec) {
		if t.schema.PrimaryKey().Kind() != reflect.String {
			return t.insert(ctx, rec)
		}
		if err := t.schema.SetKey(rec, storage.NewStringKey()); err != nil {
			return storage.Wrap("Save: assign key", err)
		}
	}
	return t.upsert(ctx, rec)
}

// Delete removes the row with rec's key.
func (t *Table[T]) Delete(ctx context.Context, rec *T) error {
	stmt, err := t.db.PrepareContext(ctx, "DELETE FROM "+t.name+" WHERE "+t.pkCol+" = ?")
	if err != nil {
		return storage.Wrap("Delete: prepare", err)
	}
	defer stmt.Close()

	result, err := stmt.ExecContext(ctx, t.schema.Key(rec))
	if err != nil {
		return storage.Wrap("Delete: exec", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return storage.Wrap("Delete: rows affected", err)
	}
	if n == 0 {
		return storage.ErrNotFound
	}

	return nil
}

// insert writes a record without a key and lets AUTOINCREMENT pick one.
func (t *Table[T]) insert(ctx context.Context, rec *T) error {
	var (
		cols []string
		args []any
	)
	values := t.schema.Values(rec)
	for i, f := range t.schema.Fields() {
		if f.PrimaryKey {
			continue
		}
		cols = append(cols, t.cols[i])
		args = append(args, values[i])
	}

	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		t.name, strings.Join(cols, ", "), placeholders(len(cols)))
	if len(cols) == 0 {
		query = "INSERT INTO " + t.name + " DEFAULT VALUES"
	}

	stmt, err := t.db.PrepareContext(ctx, query)
	if err != nil {
		return storage.Wrap("Save: prepare insert", err)
	}
	defer stmt.Close()

	result, err := stmt.ExecContext(ctx, args...)
	if err != nil {
		return storage.Wrap("Save: insert", err)
	}

	lastID, err := result.LastInsertId()
	if err != nil {
		return storage.Wrap("Save: last insert id", err)
	}

	if err := t.schema.SetKey(rec, lastID); err != nil {
		return storage.Wrap("Save: assign key", err)
	}
	return nil
}

// upsert writes a record with a key, replacing an existing row in place.
func (t *Table[T]) upsert(ctx context.Context, rec *T) error {
	var sets []string
	for i, f := range t.schema.Fields() {
		if !f.PrimaryKey {
			sets = append(sets, t.cols[i]+" = excluded."+t.cols[i])
		}
	}

	conflict := "DO NOTHING"
	if len(sets) > 0 {
		conflict = "DO UPDATE SET " + strings.Join(sets, ", ")
	}

	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) ON CONFLICT(%s) %s",
		t.name, strings.Join(t.cols, ", "), placeholders(len(t.cols)), t.pkCol, conflict)

	stmt, err := t.db.PrepareContext(ctx, query)
	if err != nil {
		return storage.Wrap("Save: prepare upsert", err)
	}
	defer stmt.Close()

	if _, err := stmt.ExecContext(ctx, t.schema.Values(rec)...); err != nil {
		return storage.Wrap("Save: upsert", err)
	}
	return nil
}

func (t *Table[T]) selectSQL() string {
	return "SELECT " + strings.Join(t.cols, ", ") + " FROM " + t.name
}

// where renders a filter as a WHERE clause. Keys are sorted so the same
// filter always produces the same statement.
func (t *Table[T]) where(where storage.Filter) (string, []any, error) {
	if len(where) == 0 {
		return "", nil, nil
	}

	var (
		conds []string
		args  []any
	)
	for _, name := range where.Keys() {
		if _, ok := t.schema.Field(name); !ok {
			return "", nil, fmt.Errorf("unknown column %q", name)
		}
		v := where[name]
		if isNull(v) {
			conds = append(conds, quote(name)+" IS NULL")
			continue
		}
		conds = append(conds, quote(name)+" = ?")
		args = append(args, v)
	}

	return " WHERE " + strings.Join(conds, " AND "), args, nil
}

func columnDef(f schema.Field) string {
	typ := columnType(f.Kind())
	switch {
	case f.PrimaryKey && typ == "INTEGER":
		return "INTEGER PRIMARY KEY AUTOINCREMENT"
	case f.PrimaryKey:
		return typ + " PRIMARY KEY NOT NULL"
	case f.Nullable():
		return typ
	default:
		return typ + " NOT NULL"
	}
}

func columnType(k reflect.Kind) string {
	switch k {
	case reflect.Bool:
		// go-sqlite3 scans BOOLEAN columns back into bool.
		return "BOOLEAN"
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return "INTEGER"
	case reflect.Float32, reflect.Float64:
		return "REAL"
	default:
		return "TEXT"
	}
}

func isNull(v any) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	return rv.Kind() == reflect.Pointer && rv.IsNil()
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

func quote(ident string) string {
	return `"` + strings.ReplaceAll(ident, `"`, `""`) + `"`
}

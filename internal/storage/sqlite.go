package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"siapxml/internal/domain"
)

// SQLStore implements Store over database/sql for SQLite, Postgres and MySQL.
type SQLStore struct {
	conn    *sql.DB
	dialect *dialect
}

// OpenSQLite opens (or creates) the SQLite file at dbPath.
func OpenSQLite(ctx context.Context, dbPath string) (*SQLStore, error) {
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
			return nil, fmt.Errorf("create store directory: %w", err)
		}
	}
	conn, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_time_format=sqlite")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// SQLite only supports one writer; limit to a single connection to prevent SQLITE_BUSY
	conn.SetMaxOpenConns(1)
	return newSQLStore(ctx, conn, sqliteDialect)
}

func openSQL(ctx context.Context, d *dialect, dsn string) (*SQLStore, error) {
	conn, err := sql.Open(d.driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", d.name, err)
	}
	conn.SetMaxOpenConns(4)
	conn.SetMaxIdleConns(2)
	conn.SetConnMaxLifetime(10 * time.Minute)

	pctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := conn.PingContext(pctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("ping %s: %w", d.name, err)
	}
	return newSQLStore(ctx, conn, d)
}

func newSQLStore(ctx context.Context, conn *sql.DB, d *dialect) (*SQLStore, error) {
	s := &SQLStore{conn: conn, dialect: d}
	if err := s.migrate(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *SQLStore) migrate(ctx context.Context) error {
	migrations := []string{
		s.dialect.createRuns(),
	}
	for _, m := range migrations {
		if _, err := s.conn.ExecContext(ctx, m); err != nil {
			return err
		}
	}
	return nil
}

// Close closes the database connection.
func (s *SQLStore) Close() error {
	return s.conn.Close()
}

// ── Record sets ────────────────────────────────────────────

// Save writes the set into a staging table, then swaps it in for the
// live table, so a failed write never disturbs the previous content.
func (s *SQLStore) Save(ctx context.Context, set *domain.RecordSet) error {
	if err := validateSet(set); err != nil {
		return err
	}
	live, err := tableFor(set.LayoutID)
	if err != nil {
		return err
	}
	staging := live + stagingSuffix
	d := s.dialect

	if _, err := s.conn.ExecContext(ctx, "DROP TABLE IF EXISTS "+d.quote(staging)); err != nil {
		return fmt.Errorf("save %s: drop staging: %w", set.LayoutID, err)
	}

	kinds := inferKinds(set)
	cols := []string{d.quote(seqColumn) + " " + d.intType + " NOT NULL"}
	for i, f := range set.Fields {
		cols = append(cols, d.quote(f)+" "+d.columnType(kinds[i])+" NULL")
	}
	create := fmt.Sprintf("CREATE TABLE %s (%s)", d.quote(staging), strings.Join(cols, ", "))
	if _, err := s.conn.ExecContext(ctx, create); err != nil {
		return fmt.Errorf("save %s: create staging: %w", set.LayoutID, err)
	}

	if err := s.insertAll(ctx, staging, set); err != nil {
		s.conn.ExecContext(context.Background(), "DROP TABLE IF EXISTS "+d.quote(staging))
		return fmt.Errorf("save %s: %w", set.LayoutID, err)
	}
	if err := s.swap(ctx, live, staging); err != nil {
		return fmt.Errorf("save %s: swap: %w", set.LayoutID, err)
	}
	return nil
}

func (s *SQLStore) insertAll(ctx context.Context, table string, set *domain.RecordSet) error {
	d := s.dialect
	names := []string{d.quote(seqColumn)}
	marks := []string{d.ph(1)}
	for i, f := range set.Fields {
		names = append(names, d.quote(f))
		marks = append(marks, d.ph(i+2))
	}
	stmtSQL := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		d.quote(table), strings.Join(names, ", "), strings.Join(marks, ", "))

	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, stmtSQL)
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	args := make([]any, len(set.Fields)+1)
	for n, rec := range set.Records {
		args[0] = n
		for i, f := range set.Fields {
			args[i+1] = rec[f]
		}
		if _, err := stmt.ExecContext(ctx, args...); err != nil {
			return fmt.Errorf("insert row %d: %w", n, err)
		}
	}
	return tx.Commit()
}

// swap replaces live with staging.
func (s *SQLStore) swap(ctx context.Context, live, staging string) error {
	d := s.dialect
	if d == mysqlDialect {
		// DDL commits implicitly on MySQL; RENAME TABLE is the atomic step.
		exists, err := s.tableExists(ctx, live)
		if err != nil {
			return err
		}
		if !exists {
			_, err := s.conn.ExecContext(ctx, fmt.Sprintf("RENAME TABLE %s TO %s", d.quote(staging), d.quote(live)))
			return err
		}
		old := live + "__old"
		if _, err := s.conn.ExecContext(ctx, "DROP TABLE IF EXISTS "+d.quote(old)); err != nil {
			return err
		}
		if _, err := s.conn.ExecContext(ctx, fmt.Sprintf("RENAME TABLE %s TO %s, %s TO %s",
			d.quote(live), d.quote(old), d.quote(staging), d.quote(live))); err != nil {
			return err
		}
		_, err = s.conn.ExecContext(ctx, "DROP TABLE IF EXISTS "+d.quote(old))
		return err
	}

	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if _, err := tx.ExecContext(ctx, "DROP TABLE IF EXISTS "+d.quote(live)); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, fmt.Sprintf("ALTER TABLE %s RENAME TO %s", d.quote(staging), d.quote(live))); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *SQLStore) tableExists(ctx context.Context, table string) (bool, error) {
	var n int
	if err := s.conn.QueryRowContext(ctx, s.dialect.tableExists, table).Scan(&n); err != nil {
		return false, fmt.Errorf("check table %s: %w", table, err)
	}
	return n > 0, nil
}

// Load returns the whole stored set.
func (s *SQLStore) Load(ctx context.Context, id domain.LayoutID) (*domain.RecordSet, error) {
	return s.read(ctx, id, -1)
}

// Preview returns at most limit records.
func (s *SQLStore) Preview(ctx context.Context, id domain.LayoutID, limit int) (*domain.RecordSet, error) {
	if limit < 0 {
		limit = 0
	}
	return s.read(ctx, id, limit)
}

func (s *SQLStore) read(ctx context.Context, id domain.LayoutID, limit int) (*domain.RecordSet, error) {
	table, err := tableFor(id)
	if err != nil {
		return nil, err
	}
	exists, err := s.tableExists(ctx, table)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, fmt.Errorf("layout %s: %w", id, domain.ErrNotFound)
	}

	d := s.dialect
	q := fmt.Sprintf("SELECT * FROM %s ORDER BY %s", d.quote(table), d.quote(seqColumn))
	if limit >= 0 {
		q += " LIMIT " + strconv.Itoa(limit)
	}
	rows, err := s.conn.QueryContext(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", id, err)
	}
	defer rows.Close()

	types, err := rows.ColumnTypes()
	if err != nil {
		return nil, fmt.Errorf("load %s: columns: %w", id, err)
	}
	set := &domain.RecordSet{LayoutID: id, Records: []domain.Record{}}
	for _, ct := range types {
		if ct.Name() != seqColumn {
			set.Fields = append(set.Fields, ct.Name())
		}
	}

	values := make([]any, len(types))
	ptrs := make([]any, len(types))
	for i := range values {
		ptrs[i] = &values[i]
	}
	for rows.Next() {
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("load %s: scan: %w", id, err)
		}
		rec := make(domain.Record, len(set.Fields))
		for i, ct := range types {
			if ct.Name() == seqColumn {
				continue
			}
			rec[ct.Name()] = scanned(values[i], ct.DatabaseTypeName())
		}
		set.Records = append(set.Records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("load %s: %w", id, err)
	}
	return set, nil
}

// scanned normalizes driver values to string, int64 or float64. MySQL's
// text protocol hands numbers back as bytes.
func scanned(v any, dbType string) any {
	b, ok := v.([]byte)
	if !ok {
		if i, isInt := v.(int32); isInt {
			return int64(i)
		}
		return v
	}
	s := string(b)
	switch strings.ToUpper(dbType) {
	case "BIGINT", "INT", "INTEGER":
		if n, err := strconv.ParseInt(s, 10, 64); err == nil {
			return n
		}
	case "DOUBLE", "REAL", "FLOAT", "DECIMAL":
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return f
		}
	}
	return s
}

// Layouts lists layouts with a stored set.
func (s *SQLStore) Layouts(ctx context.Context) ([]domain.LayoutID, error) {
	rows, err := s.conn.QueryContext(ctx, s.dialect.listTables)
	if err != nil {
		return nil, fmt.Errorf("list layouts: %w", err)
	}
	defer rows.Close()

	var ids []domain.LayoutID
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		if id, ok := layoutFromTable(name); ok {
			ids = append(ids, id)
		}
	}
	return ids, rows.Err()
}

// ── Run history ────────────────────────────────────────────

// RecordRun inserts or updates a run entry.
func (s *SQLStore) RecordRun(ctx context.Context, run *domain.RunLog) error {
	d := s.dialect
	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	del := fmt.Sprintf("DELETE FROM %s WHERE id = %s", runsTable, d.ph(1))
	if _, err := tx.ExecContext(ctx, del, run.ID); err != nil {
		return fmt.Errorf("record run: %w", err)
	}
	marks := make([]string, 9)
	for i := range marks {
		marks[i] = d.ph(i + 1)
	}
	ins := fmt.Sprintf(`INSERT INTO %s (id, layout_id, source, competence, started_at, finished_at, status, row_count, message)
		VALUES (%s)`, runsTable, strings.Join(marks, ", "))
	var finished any
	if !run.FinishedAt.IsZero() {
		finished = run.FinishedAt.UTC()
	}
	if _, err := tx.ExecContext(ctx, ins,
		run.ID, string(run.LayoutID), run.Source, run.Competence,
		run.StartedAt.UTC(), finished, run.Status, run.Rows, run.Error,
	); err != nil {
		return fmt.Errorf("record run: %w", err)
	}
	return tx.Commit()
}

// Runs lists history entries, newest first.
func (s *SQLStore) Runs(ctx context.Context, id domain.LayoutID, limit int) ([]domain.RunLog, error) {
	d := s.dialect
	if limit <= 0 {
		limit = 50
	}
	q := fmt.Sprintf(`SELECT id, layout_id, source, competence, started_at, finished_at, status, row_count, message
		FROM %s`, runsTable)
	var args []any
	if id != "" {
		q += " WHERE layout_id = " + d.ph(1)
		args = append(args, string(id))
	}
	q += " ORDER BY started_at DESC LIMIT " + strconv.Itoa(limit)

	rows, err := s.conn.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var runs []domain.RunLog
	for rows.Next() {
		var r domain.RunLog
		var layoutID string
		var finished sql.NullTime
		if err := rows.Scan(&r.ID, &layoutID, &r.Source, &r.Competence, &r.StartedAt, &finished,
			&r.Status, &r.Rows, &r.Error); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		r.LayoutID = domain.LayoutID(layoutID)
		if finished.Valid {
			r.FinishedAt = finished.Time
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

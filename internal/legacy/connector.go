package legacy

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"
	"strings"
	"time"

	_ "github.com/nakagami/firebirdsql"
	"golang.org/x/text/encoding"

	"siapxml/internal/domain"
)

// DefaultPreviewLimit is the row count of a table preview.
const DefaultPreviewLimit = 50

const (
	queryTimeout = 5 * time.Minute
	pingTimeout  = 10 * time.Second
)

// SchemaInfo lists the user tables of the legacy database.
type SchemaInfo struct {
	Tables []TableInfo `json:"tables"`
}

// TableInfo describes a table and its columns in field-position order.
type TableInfo struct {
	Name    string   `json:"name"`
	Columns []string `json:"columns"`
}

// Map flattens the schema into the worker protocol form.
func (s *SchemaInfo) Map() map[string][]string {
	out := make(map[string][]string, len(s.Tables))
	for _, t := range s.Tables {
		out[t.Name] = t.Columns
	}
	return out
}

// Connection is an open legacy database handle.
type Connection struct {
	db       DB
	strategy Strategy
	decoder  *encoding.Decoder
}

func newConnection(db DB, strategy Strategy, charset string) *Connection {
	return &Connection{db: db, strategy: strategy, decoder: decoderFor(charset)}
}

// Strategy returns the strategy that produced the connection.
func (c *Connection) Strategy() Strategy { return c.strategy }

// Close closes the underlying pool.
func (c *Connection) Close() error { return c.db.Close() }

// OpenFirebird is the production Opener, backed by firebirdsql.
func OpenFirebird(ctx context.Context, t Target) (DB, error) {
	db, err := sql.Open("firebirdsql", t.DSN)
	if err != nil {
		return nil, fmt.Errorf("open firebird: %w", err)
	}
	// One operator, one batch: a single connection is enough.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(10 * time.Minute)

	pctx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := db.PingContext(pctx); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

// Query runs a read statement and returns every row.
func (c *Connection) Query(ctx context.Context, query string) (*domain.RawResultSet, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	rows, err := c.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("columns: %w", err)
	}
	result := &domain.RawResultSet{Columns: cols}
	for rows.Next() {
		values := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for j := range values {
			ptrs[j] = &values[j]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		for j, v := range values {
			values[j] = c.formatValue(v)
		}
		result.Rows = append(result.Rows, values)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate: %w", err)
	}
	return result, nil
}

// formatValue decodes legacy byte strings with the connection charset
// and trims the blank padding of CHAR columns.
func (c *Connection) formatValue(v any) any {
	switch x := v.(type) {
	case []byte:
		return strings.TrimRight(decodeText(x, c.decoder), " ")
	case string:
		return strings.TrimRight(x, " ")
	default:
		return v
	}
}

const schemaQuery = `SELECT TRIM(R.RDB$RELATION_NAME), TRIM(RF.RDB$FIELD_NAME)
FROM RDB$RELATION_FIELDS RF
JOIN RDB$RELATIONS R ON RF.RDB$RELATION_NAME = R.RDB$RELATION_NAME
WHERE R.RDB$SYSTEM_FLAG = 0
ORDER BY 1, RF.RDB$FIELD_POSITION`

// Introspect lists user tables with their columns.
func (c *Connection) Introspect(ctx context.Context) (*SchemaInfo, error) {
	raw, err := c.Query(ctx, schemaQuery)
	if err != nil {
		return nil, fmt.Errorf("introspect: %w", err)
	}
	info := &SchemaInfo{}
	for _, row := range raw.Rows {
		if len(row) < 2 {
			continue
		}
		table := strings.TrimSpace(fmt.Sprint(row[0]))
		column := strings.TrimSpace(fmt.Sprint(row[1]))
		if n := len(info.Tables); n == 0 || info.Tables[n-1].Name != table {
			info.Tables = append(info.Tables, TableInfo{Name: table})
		}
		last := &info.Tables[len(info.Tables)-1]
		last.Columns = append(last.Columns, column)
	}
	return info, nil
}

var identRe = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_$]*$`)

// ValidIdentifier reports whether name is safe to splice into SQL.
func ValidIdentifier(name string) bool {
	return len(name) <= 63 && identRe.MatchString(name)
}

// Preview returns the first limit rows of a table.
func (c *Connection) Preview(ctx context.Context, table string, limit int) (*domain.RawResultSet, error) {
	table = strings.TrimSpace(table)
	if !ValidIdentifier(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	if limit <= 0 {
		limit = DefaultPreviewLimit
	}
	return c.Query(ctx, fmt.Sprintf("SELECT FIRST %d * FROM %s", limit, table))
}

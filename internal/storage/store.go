package storage

import (
	"context"
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"siapxml/internal/domain"
)

// ─────────────────────────────────────────────────────────────
// Intermediate Store
// ─────────────────────────────────────────────────────────────

// Store persists canonical record sets between extraction and
// serialization. One table (or collection) per layout; every Save
// replaces the layout's previous content as a whole.
type Store interface {
	// Save replaces the stored set for set.LayoutID. On failure the
	// previous content is left untouched.
	Save(ctx context.Context, set *domain.RecordSet) error

	// Load returns the stored set or domain.ErrNotFound.
	Load(ctx context.Context, id domain.LayoutID) (*domain.RecordSet, error)

	// Preview returns at most limit records of the stored set.
	Preview(ctx context.Context, id domain.LayoutID, limit int) (*domain.RecordSet, error)

	// Layouts lists the layouts that currently have a stored set.
	Layouts(ctx context.Context) ([]domain.LayoutID, error)

	// RecordRun upserts a run history entry.
	RecordRun(ctx context.Context, run *domain.RunLog) error

	// Runs lists history entries, newest first. An empty id lists all.
	Runs(ctx context.Context, id domain.LayoutID, limit int) ([]domain.RunLog, error)

	Close() error
}

const (
	runsTable     = "extraction_runs"
	stagingSuffix = "__staging"
	seqColumn     = "_seq"
)

var tableNameRe = regexp.MustCompile(`^[A-Za-z0-9_]+$`)

// tableFor returns the table name of a layout, rejecting ids that would
// not make a safe identifier.
func tableFor(id domain.LayoutID) (string, error) {
	name := id.TableName()
	if id == "" || !tableNameRe.MatchString(name) {
		return "", fmt.Errorf("invalid layout id %q", id)
	}
	return name, nil
}

// layoutFromTable inverts LayoutID.TableName for listing.
func layoutFromTable(name string) (domain.LayoutID, bool) {
	rest, ok := strings.CutPrefix(name, "layout_")
	if !ok || rest == "" || strings.HasSuffix(name, stagingSuffix) {
		return "", false
	}
	return domain.LayoutID(strings.ReplaceAll(rest, "_", ".")), true
}

// Open picks a backend from the DSN:
//
//	path, sqlite://path        modernc SQLite (default)
//	postgres://, postgresql:// lib/pq
//	mysql://user:pw@host/db    go-sql-driver/mysql
//	mongodb://, mongodb+srv:// mongo-driver
func Open(ctx context.Context, dsn string) (Store, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, fmt.Errorf("open store: empty dsn")
	}
	scheme := ""
	if u, err := url.Parse(dsn); err == nil && len(u.Scheme) > 1 {
		scheme = strings.ToLower(u.Scheme)
	}
	switch scheme {
	case "mongodb", "mongodb+srv":
		return OpenMongo(ctx, dsn)
	case "postgres", "postgresql":
		return openSQL(ctx, postgresDialect, dsn)
	case "mysql":
		mdsn, err := mysqlDSN(dsn)
		if err != nil {
			return nil, err
		}
		return openSQL(ctx, mysqlDialect, mdsn)
	case "sqlite", "file":
		return OpenSQLite(ctx, strings.TrimPrefix(strings.TrimPrefix(dsn, scheme+"://"), scheme+":"))
	default:
		return OpenSQLite(ctx, dsn)
	}
}

// columnKind is the storage type inferred for one field.
type columnKind int

const (
	kindText columnKind = iota
	kindInt
	kindReal
)

// inferKinds picks a column type per field from the first non-nil value.
func inferKinds(set *domain.RecordSet) []columnKind {
	kinds := make([]columnKind, len(set.Fields))
	for i, f := range set.Fields {
	records:
		for _, rec := range set.Records {
			switch rec[f].(type) {
			case nil:
				continue
			case int, int32, int64:
				kinds[i] = kindInt
			case float32, float64:
				kinds[i] = kindReal
			}
			break records
		}
	}
	return kinds
}

func validateSet(set *domain.RecordSet) error {
	if set == nil {
		return fmt.Errorf("save: nil record set")
	}
	if len(set.Fields) == 0 {
		return fmt.Errorf("save %s: record set has no fields", set.LayoutID)
	}
	seen := make(map[string]bool, len(set.Fields))
	for _, f := range set.Fields {
		k := strings.ToLower(f)
		if seen[k] || f == seqColumn {
			return fmt.Errorf("save %s: duplicate or reserved field %q", set.LayoutID, f)
		}
		seen[k] = true
	}
	return nil
}

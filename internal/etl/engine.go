package etl

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"siapxml/internal/domain"
)

// ── Engine ─────────────────────────────────────────────────
// Orchestrates: build query → legacy read → rule chain → canonical set.
// Runs on the worker side of the bridge.

// Querier executes a SELECT against the legacy store.
type Querier interface {
	Query(ctx context.Context, query string) (*domain.RawResultSet, error)
}

// Engine extracts canonical record sets through a Querier.
type Engine struct {
	Source Querier
	Logger *zap.Logger
}

// Extract runs one layout end-to-end. Any failure aborts the whole
// extraction; no partial record set is ever returned.
func (e *Engine) Extract(ctx context.Context, def *domain.LayoutDefinition, filters map[string]string) (*domain.RecordSet, error) {
	log := e.logger().With(zap.String("layout", string(def.ID)))
	start := time.Now()

	// 1. Build the statement.
	query, err := BuildQuery(def, filters)
	if err != nil {
		return nil, err
	}
	log.Debug("extraction query", zap.String("sql", query))

	// 2. Read from the legacy store.
	raw, err := e.Source.Query(ctx, query)
	if err != nil {
		if kind := domain.KindOf(err); kind != "" {
			return nil, err
		}
		return nil, domain.ExtractionError("query legacy store", err)
	}
	log.Info("legacy rows read", zap.Int("rows", len(raw.Rows)))

	// 3–4. Normalize and rename.
	set, err := Normalize(def, raw)
	if err != nil {
		return nil, err
	}
	log.Info("layout normalized",
		zap.Int("records", set.Len()),
		zap.Duration("elapsed", time.Since(start)),
	)
	return set, nil
}

// Normalize applies a layout's rule chain to a raw result set.
func Normalize(def *domain.LayoutDefinition, raw *domain.RawResultSet) (*domain.RecordSet, error) {
	if err := checkColumns(def, raw.Columns); err != nil {
		return nil, err
	}
	records, err := recordsFromRaw(raw)
	if err != nil {
		return nil, err
	}

	chain := BuildChain(def)
	fields := def.FieldOrder()
	set := &domain.RecordSet{
		LayoutID: def.ID,
		Fields:   fields,
		Records:  make([]domain.Record, 0, len(records)),
	}
	for _, rec := range records {
		out, keep := ApplyTransformers(rec, chain)
		if !keep {
			continue
		}
		set.Records = append(set.Records, out.canonical(fields))
	}
	return set, nil
}

// checkColumns verifies that every mapped target came back from the
// query, whatever case the driver used.
func checkColumns(def *domain.LayoutDefinition, columns []string) error {
	have := make(map[string]bool, len(columns))
	for _, c := range columns {
		have[strings.ToUpper(strings.TrimSpace(c))] = true
	}
	var missing []string
	for _, c := range def.Columns {
		if !have[strings.ToUpper(c.Target)] {
			missing = append(missing, c.Target)
		}
	}
	if len(missing) > 0 {
		return domain.ExtractionError(
			fmt.Sprintf("layout %s: result set lacks columns %s", def.ID, strings.Join(missing, ", ")), nil)
	}
	return nil
}

func errRowWidth(row, got, want int) error {
	return fmt.Errorf("row %d has %d values, expected %d", row, got, want)
}

func (e *Engine) logger() *zap.Logger {
	if e.Logger == nil {
		return zap.NewNop()
	}
	return e.Logger
}

package etl

import (
	"strings"

	"siapxml/internal/domain"
)

// ── Record ─────────────────────────────────────────────────
// The in-flight row format between the raw result set and the canonical
// record. Keys are uppercase while rules run and canonical afterwards.

// Record is a single row flowing through the rule chain.
type Record struct {
	Data map[string]any
}

// recordsFromRaw keys every raw row by its uppercased column name.
func recordsFromRaw(raw *domain.RawResultSet) ([]Record, error) {
	keys := make([]string, len(raw.Columns))
	for i, c := range raw.Columns {
		keys[i] = strings.ToUpper(strings.TrimSpace(c))
	}
	out := make([]Record, 0, len(raw.Rows))
	for n, row := range raw.Rows {
		if len(row) != len(keys) {
			return nil, domain.ExtractionError("malformed result set", errRowWidth(n, len(row), len(keys)))
		}
		data := make(map[string]any, len(keys))
		for i, k := range keys {
			data[k] = row[i]
		}
		out = append(out, Record{Data: data})
	}
	return out, nil
}

// canonical converts a finished record into the domain form, keeping only
// the given fields.
func (r Record) canonical(fields []string) domain.Record {
	out := make(domain.Record, len(fields))
	for _, f := range fields {
		out[f] = r.Data[f]
	}
	return out
}

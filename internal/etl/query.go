package etl

import (
	"fmt"
	"regexp"
	"strings"

	"siapxml/internal/domain"
)

// ── Query builder ──────────────────────────────────────────

var competenceRe = regexp.MustCompile(`^\d{6}$`)

// BuildQuery renders the extraction SELECT for a layout. Each column
// mapping becomes "source AS Target" ("NULL AS Target" when unsourced).
// The row filter is applied only when every placeholder it names has a
// value in filters; without them the whole table is exported.
func BuildQuery(def *domain.LayoutDefinition, filters map[string]string) (string, error) {
	if len(def.Columns) == 0 {
		return "", domain.ExtractionError(fmt.Sprintf("layout %s has no column mappings", def.ID), nil)
	}

	cols := make([]string, len(def.Columns))
	for i, c := range def.Columns {
		src := strings.TrimSpace(c.Source)
		if src == "" {
			src = "NULL"
		}
		cols[i] = src + " AS " + c.Target
	}

	var b strings.Builder
	b.WriteString("SELECT ")
	b.WriteString(strings.Join(cols, ", "))
	b.WriteString(" FROM ")
	b.WriteString(def.MainTable)
	if def.MainAlias != "" {
		b.WriteString(" " + def.MainAlias)
	}
	for _, j := range def.Joins {
		b.WriteString(" LEFT JOIN " + j.Table)
		if j.Alias != "" {
			b.WriteString(" " + j.Alias)
		}
		b.WriteString(" ON " + j.On)
	}

	var where []string
	if def.StaticFilter != "" {
		where = append(where, def.StaticFilter)
	}
	if def.RowFilter != "" {
		pred, ok, err := substituteFilter(def.RowFilter, filters)
		if err != nil {
			return "", domain.ExtractionError(fmt.Sprintf("layout %s", def.ID), err)
		}
		if ok {
			where = append(where, pred)
		}
	}
	if len(where) > 0 {
		b.WriteString(" WHERE ")
		b.WriteString(strings.Join(where, " AND "))
	}
	return b.String(), nil
}

// substituteFilter fills {name} placeholders. ok is false when any value
// is missing. Values are validated before they reach the SQL text.
func substituteFilter(filter string, values map[string]string) (string, bool, error) {
	missing := false
	var badErr error
	out := placeholderRe.ReplaceAllStringFunc(filter, func(m string) string {
		name := m[1 : len(m)-1]
		v := strings.TrimSpace(values[name])
		if v == "" {
			missing = true
			return m
		}
		if err := validateFilterValue(name, v); err != nil && badErr == nil {
			badErr = err
		}
		return v
	})
	if badErr != nil {
		return "", false, badErr
	}
	return out, !missing, nil
}

var placeholderRe = regexp.MustCompile(`\{[a-zA-Z_]+\}`)

func validateFilterValue(name, v string) error {
	switch name {
	case "competencia":
		if !competenceRe.MatchString(v) {
			return fmt.Errorf("competence %q is not YYYYMM", v)
		}
		if month := v[4:]; month < "01" || month > "12" {
			return fmt.Errorf("competence %q has invalid month", v)
		}
		return nil
	default:
		return fmt.Errorf("unknown filter %q", name)
	}
}

// ValidateCompetence checks a YYYYMM competence code.
func ValidateCompetence(v string) error {
	return validateFilterValue("competencia", v)
}

package layout

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"regexp"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"siapxml/internal/domain"
)

// ── Registry ───────────────────────────────────────────────
// Static per-layout configuration, loaded once at startup and validated
// so that mapping mistakes surface before any query is built.

//go:embed layouts.yaml
var defaultLayouts []byte

// FilterCompetence is the only placeholder allowed in row filters.
const FilterCompetence = "competencia"

var placeholderRe = regexp.MustCompile(`\{([a-zA-Z_]+)\}`)

// Registry holds the immutable layout definitions keyed by id.
type Registry struct {
	byID map[domain.LayoutID]*domain.LayoutDefinition
	ids  []domain.LayoutID
}

// Default returns the registry built from the embedded layouts.yaml.
func Default() (*Registry, error) {
	return Load(defaultLayouts)
}

// LoadFile reads a replacement layouts file. An empty path yields Default.
func LoadFile(path string) (*Registry, error) {
	if path == "" {
		return Default()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read layouts: %w", err)
	}
	return Load(data)
}

// Load parses and validates a YAML list of layout definitions.
func Load(data []byte) (*Registry, error) {
	var defs []domain.LayoutDefinition
	if err := yaml.Unmarshal(data, &defs); err != nil {
		return nil, fmt.Errorf("parse layouts: %w", err)
	}
	if len(defs) == 0 {
		return nil, fmt.Errorf("parse layouts: no layouts defined")
	}

	r := &Registry{byID: make(map[domain.LayoutID]*domain.LayoutDefinition, len(defs))}
	for i := range defs {
		def := &defs[i]
		if err := Validate(def); err != nil {
			return nil, err
		}
		if _, dup := r.byID[def.ID]; dup {
			return nil, fmt.Errorf("layout %s: defined twice", def.ID)
		}
		r.byID[def.ID] = def
		r.ids = append(r.ids, def.ID)
	}
	sort.Slice(r.ids, func(i, j int) bool { return r.ids[i] < r.ids[j] })
	return r, nil
}

// Get returns the definition for id or domain.ErrUnknownLayout.
func (r *Registry) Get(id domain.LayoutID) (*domain.LayoutDefinition, error) {
	def, ok := r.byID[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrUnknownLayout, id)
	}
	return def, nil
}

// All returns every definition ordered by id.
func (r *Registry) All() []*domain.LayoutDefinition {
	out := make([]*domain.LayoutDefinition, 0, len(r.ids))
	for _, id := range r.ids {
		out = append(out, r.byID[id])
	}
	return out
}

// BySource returns the layouts reading from one legacy system.
func (r *Registry) BySource(src domain.SourceSystem) []*domain.LayoutDefinition {
	var out []*domain.LayoutDefinition
	for _, def := range r.All() {
		if def.Source == src {
			out = append(out, def)
		}
	}
	return out
}

// ── Validation ─────────────────────────────────────────────

var knownRules = map[domain.RuleKind]bool{
	domain.RuleText:     true,
	domain.RuleDigits:   true,
	domain.RuleInt:      true,
	domain.RuleRecode:   true,
	domain.RuleSum:      true,
	domain.RuleConstant: true,
	domain.RuleDate:     true,
	domain.RuleDecimal:  true,
}

// Validate checks one definition for internal consistency.
func Validate(def *domain.LayoutDefinition) error {
	fail := func(format string, args ...any) error {
		return fmt.Errorf("layout %s: %s", def.ID, fmt.Sprintf(format, args...))
	}
	if def.ID == "" {
		return fmt.Errorf("layout: missing id")
	}
	if def.Element == "" {
		return fail("missing element name")
	}
	if def.MainTable == "" {
		return fail("missing main table")
	}
	if len(def.Fields) == 0 {
		return fail("no fields")
	}

	mapped := make(map[string]bool, len(def.Columns))
	for _, c := range def.Columns {
		key := strings.ToUpper(c.Target)
		if c.Target == "" {
			return fail("column mapping without target")
		}
		if mapped[key] {
			return fail("target %s mapped twice", c.Target)
		}
		mapped[key] = true
	}
	for _, j := range def.Joins {
		if j.Table == "" || j.On == "" {
			return fail("join needs table and condition")
		}
	}

	seen := make(map[string]bool, len(def.Fields))
	for _, f := range def.Fields {
		key := strings.ToUpper(f.Name)
		if seen[key] {
			return fail("field %s declared twice", f.Name)
		}
		seen[key] = true
		if !knownRules[f.Rule] {
			return fail("field %s: unknown rule %q", f.Name, f.Rule)
		}
		if f.Width < 0 {
			return fail("field %s: negative width", f.Name)
		}
		switch f.Rule {
		case domain.RuleConstant:
			continue
		case domain.RuleSum:
			if len(f.Inputs) == 0 {
				return fail("field %s: sum without inputs", f.Name)
			}
			for _, in := range f.Inputs {
				if !mapped[strings.ToUpper(in)] {
					return fail("field %s: input %s is not mapped", f.Name, in)
				}
			}
			continue
		case domain.RuleRecode:
			if len(f.Codes) == 0 {
				return fail("field %s: recode without codes", f.Name)
			}
		}
		if !mapped[key] {
			return fail("field %s has no column mapping", f.Name)
		}
	}

	for _, m := range placeholderRe.FindAllStringSubmatch(def.RowFilter, -1) {
		if m[1] != FilterCompetence {
			return fail("row filter: unknown placeholder {%s}", m[1])
		}
	}
	return nil
}

// ── Mapping argument ───────────────────────────────────────
// The wire form handed to the worker on its command line.

// Mapping is the serialized mapping argument of the worker protocol:
// {"table_main": ..., "columns_main": {...}}. The layout id travels in its
// own --layout flag; Layout is only read from older arguments carrying it.
type Mapping struct {
	Layout      domain.LayoutID   `json:"layout,omitempty"`
	TableMain   string            `json:"table_main"`
	ColumnsMain map[string]string `json:"columns_main"`
}

// MappingOf builds the wire mapping for a definition.
func MappingOf(def *domain.LayoutDefinition) Mapping {
	cols := make(map[string]string, len(def.Columns))
	for _, c := range def.Columns {
		cols[c.Target] = c.Source
	}
	return Mapping{TableMain: def.MainTable, ColumnsMain: cols}
}

// EncodeMapping renders the mapping as a single command-line argument.
func EncodeMapping(def *domain.LayoutDefinition) (string, error) {
	data, err := json.Marshal(MappingOf(def))
	if err != nil {
		return "", fmt.Errorf("encode mapping: %w", err)
	}
	return string(data), nil
}

// DecodeMapping parses a mapping argument.
func DecodeMapping(arg string) (Mapping, error) {
	var m Mapping
	if err := json.Unmarshal([]byte(arg), &m); err != nil {
		return m, fmt.Errorf("decode mapping: %w", err)
	}
	return m, nil
}

// LayoutOf picks the layout a mapping is meant for: the explicit id when
// given, else the one embedded in the mapping. Both present must agree.
func LayoutOf(explicit domain.LayoutID, m Mapping) (domain.LayoutID, error) {
	switch {
	case explicit == "" && m.Layout == "":
		return "", fmt.Errorf("mapping names no layout")
	case explicit == "":
		return m.Layout, nil
	case m.Layout != "" && m.Layout != explicit:
		return "", fmt.Errorf("mapping for layout %s applied to %s", m.Layout, explicit)
	}
	return explicit, nil
}

// Apply returns a copy of def with the mapping's table and column sources.
// Targets unknown to the definition are rejected.
func Apply(def *domain.LayoutDefinition, m Mapping) (*domain.LayoutDefinition, error) {
	if m.Layout != "" && m.Layout != def.ID {
		return nil, fmt.Errorf("mapping for layout %s applied to %s", m.Layout, def.ID)
	}
	out := *def
	out.Columns = append([]domain.ColumnMapping(nil), def.Columns...)
	if m.TableMain != "" {
		out.MainTable = m.TableMain
	}

	index := make(map[string]int, len(out.Columns))
	for i, c := range out.Columns {
		index[strings.ToUpper(c.Target)] = i
	}
	for target, source := range m.ColumnsMain {
		i, ok := index[strings.ToUpper(target)]
		if !ok {
			return nil, fmt.Errorf("layout %s: mapping names unknown target %s", def.ID, target)
		}
		out.Columns[i].Source = strings.TrimSpace(source)
	}
	if err := Validate(&out); err != nil {
		return nil, err
	}
	return &out, nil
}

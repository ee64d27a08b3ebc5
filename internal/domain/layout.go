package domain

// LayoutID names one SIAP reporting layout ("11.1" .. "11.8").
type LayoutID string

// SourceSystem is the legacy system a layout reads from.
type SourceSystem string

const (
	SourceCNES SourceSystem = "CNES"
	SourceFPO  SourceSystem = "FPO"
	SourceSIA  SourceSystem = "SIA"
	SourceSIH  SourceSystem = "SIH"
)

// RuleKind selects the normalization applied to one output field.
type RuleKind string

const (
	RuleText     RuleKind = "text"     // trimmed string, null → ""
	RuleDigits   RuleKind = "digits"   // fixed-width digit code
	RuleInt      RuleKind = "int"      // bounded small integer, re-padded
	RuleRecode   RuleKind = "recode"   // categorical recode, passthrough on miss
	RuleSum      RuleKind = "sum"      // integer sum of Inputs
	RuleConstant RuleKind = "constant" // always Value
	RuleDate     RuleKind = "date"     // YYYY-MM-DD
	RuleDecimal  RuleKind = "decimal"  // float rounded to two places
)

// Join is one LEFT JOIN of a layout's query.
type Join struct {
	Table string `json:"table" yaml:"table"`
	Alias string `json:"alias,omitempty" yaml:"alias"`
	On    string `json:"on" yaml:"on"`
}

// ColumnMapping binds a target field to a source expression.
// An empty Source selects NULL.
type ColumnMapping struct {
	Target string `json:"target" yaml:"target"`
	Source string `json:"source" yaml:"source"`
}

// FieldSpec declares one output field and its normalization.
type FieldSpec struct {
	Name    string            `json:"name" yaml:"name"`
	Rule    RuleKind          `json:"rule" yaml:"rule"`
	Width   int               `json:"width,omitempty" yaml:"width"`
	Value   string            `json:"value,omitempty" yaml:"value"`
	Codes   map[string]string `json:"codes,omitempty" yaml:"codes"`
	Inputs  []string          `json:"inputs,omitempty" yaml:"inputs"`
	Aliases []string          `json:"aliases,omitempty" yaml:"aliases"`
	Money   bool              `json:"money,omitempty" yaml:"money"`

	// Optional keeps a null source as "" instead of a zero-filled code.
	Optional bool `json:"optional,omitempty" yaml:"optional"`
}

// LayoutDefinition is the static configuration of one layout.
// Columns may carry input-only targets (consumed by a sum rule) that do
// not appear in Fields; Fields is the output field order.
type LayoutDefinition struct {
	ID           LayoutID        `json:"id" yaml:"id"`
	Title        string          `json:"title" yaml:"title"`
	Source       SourceSystem    `json:"source" yaml:"source"`
	Element      string          `json:"element" yaml:"element"`
	MainTable    string          `json:"mainTable" yaml:"main_table"`
	MainAlias    string          `json:"mainAlias,omitempty" yaml:"main_alias"`
	Joins        []Join          `json:"joins,omitempty" yaml:"joins"`
	Columns      []ColumnMapping `json:"columns" yaml:"columns"`
	StaticFilter string          `json:"staticFilter,omitempty" yaml:"static_filter"`
	RowFilter    string          `json:"rowFilter,omitempty" yaml:"row_filter"`
	Fields       []FieldSpec     `json:"fields" yaml:"fields"`
}

// FieldOrder returns the output field names in emission order.
func (d *LayoutDefinition) FieldOrder() []string {
	names := make([]string, len(d.Fields))
	for i, f := range d.Fields {
		names[i] = f.Name
	}
	return names
}

// Field returns the spec of an output field by canonical name.
func (d *LayoutDefinition) Field(name string) (FieldSpec, bool) {
	for _, f := range d.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return FieldSpec{}, false
}

// TableName is the intermediate store table for the layout ("layout_11_5").
func (id LayoutID) TableName() string {
	b := []byte("layout_" + string(id))
	for i, c := range b {
		if c == '.' {
			b[i] = '_'
		}
	}
	return string(b)
}

// ExtractionRequest is everything the worker needs for one extraction.
type ExtractionRequest struct {
	Params  LegacyConnectionParams
	Layout  *LayoutDefinition
	Filters map[string]string
}

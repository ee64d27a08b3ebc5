package etl

import (
	"strings"

	"siapxml/internal/domain"
)

// ── Transformer ────────────────────────────────────────────
// Transformers modify records in-flight between the raw result set and
// the canonical record. Each takes a record and returns a (possibly
// modified) record and whether to keep it.
//
// Pattern: Benthos processor chain.

// Transformer processes a single record.
// Returns (transformed record, keep). If keep is false, the record is dropped.
type Transformer interface {
	Transform(Record) (Record, bool)
}

// TransformerFunc adapts a plain function to the Transformer interface.
type TransformerFunc func(Record) (Record, bool)

func (f TransformerFunc) Transform(r Record) (Record, bool) { return f(r) }

// ApplyTransformers runs r through ts in order, stopping at the first drop.
func ApplyTransformers(r Record, ts []Transformer) (Record, bool) {
	for _, t := range ts {
		var keep bool
		r, keep = t.Transform(r)
		if !keep {
			return r, false
		}
	}
	return r, true
}

// ── Field rules ────────────────────────────────────────────

// FieldRule normalizes one field, addressed by its uppercase key.
type FieldRule struct {
	Key  string
	Spec domain.FieldSpec
}

func (t *FieldRule) Transform(r Record) (Record, bool) {
	r.Data[t.Key] = t.apply(r)
	return r, true
}

func (t *FieldRule) apply(r Record) any {
	f := t.Spec
	v := r.Data[t.Key]
	switch f.Rule {
	case domain.RuleDigits:
		if v == nil && f.Optional {
			return ""
		}
		return CleanNumber(v, f.Width)
	case domain.RuleInt:
		if f.Width == 0 {
			return toInt(v)
		}
		return IntCode(v, f.Width)
	case domain.RuleRecode:
		return Recode(v, f.Codes)
	case domain.RuleSum:
		inputs := make([]any, len(f.Inputs))
		for i, in := range f.Inputs {
			inputs[i] = r.Data[strings.ToUpper(in)]
		}
		return TotalWorkload(f.Width, inputs...)
	case domain.RuleConstant:
		return f.Value
	case domain.RuleDate:
		return NormalizeDate(v)
	case domain.RuleDecimal:
		return RoundMoney(v)
	default:
		return scalarText(v)
	}
}

// RenameTransform renames fields in a record.
type RenameTransform struct {
	Mapping map[string]string // oldName → newName
}

func (t *RenameTransform) Transform(r Record) (Record, bool) {
	for old, new_ := range t.Mapping {
		if old == new_ {
			continue
		}
		if v, ok := r.Data[old]; ok {
			r.Data[new_] = v
			delete(r.Data, old)
		}
	}
	return r, true
}

// SelectTransform keeps only the specified fields.
type SelectTransform struct {
	Fields []string
}

func (t *SelectTransform) Transform(r Record) (Record, bool) {
	filtered := make(map[string]any, len(t.Fields))
	for _, f := range t.Fields {
		filtered[f] = r.Data[f]
	}
	r.Data = filtered
	return r, true
}

// BuildChain assembles the rule chain for a layout: one FieldRule per
// output field in declaration order, then the rename from uppercase keys
// to canonical names, then the projection onto the field order.
//
// Sum fields read their inputs before those inputs are normalized, so
// sum rules are placed ahead of every other rule.
func BuildChain(def *domain.LayoutDefinition) []Transformer {
	var sums, rest []Transformer
	rename := make(map[string]string, len(def.Fields))
	for _, f := range def.Fields {
		key := strings.ToUpper(f.Name)
		rule := &FieldRule{Key: key, Spec: f}
		if f.Rule == domain.RuleSum {
			sums = append(sums, rule)
		} else {
			rest = append(rest, rule)
		}
		rename[key] = f.Name
	}
	chain := append(sums, rest...)
	chain = append(chain,
		&RenameTransform{Mapping: rename},
		&SelectTransform{Fields: def.FieldOrder()},
	)
	return chain
}

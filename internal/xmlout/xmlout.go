package xmlout

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"io"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"siapxml/internal/domain"
)

// ─────────────────────────────────────────────────────────────
// SIAP XML Serializer
// ─────────────────────────────────────────────────────────────

// RootElement wraps every SIAP document.
const RootElement = "SIAP"

// Header is the remittance identification emitted before the records.
type Header struct {
	Codigo    string `json:"codigo" yaml:"codigo"`
	Exercicio string `json:"exercicio" yaml:"exercicio"`
	Mes       string `json:"mes" yaml:"mes"`
}

var (
	yearRe  = regexp.MustCompile(`^\d{4}$`)
	monthRe = regexp.MustCompile(`^(0[1-9]|1[0-2])$`)
)

// Validate checks the header fields.
func (h Header) Validate() error {
	switch {
	case strings.TrimSpace(h.Codigo) == "":
		return domain.SerializationError("header: codigo is required")
	case !yearRe.MatchString(h.Exercicio):
		return domain.SerializationError(fmt.Sprintf("header: exercicio %q must have four digits", h.Exercicio))
	case !monthRe.MatchString(h.Mes):
		return domain.SerializationError(fmt.Sprintf("header: mes %q must be between 01 and 12", h.Mes))
	}
	return nil
}

// FileName is the conventional output file of a layout.
func FileName(def *domain.LayoutDefinition) string {
	return def.Element + ".xml"
}

// nameTable maps every accepted spelling (uppercased) to its canonical field.
func nameTable(def *domain.LayoutDefinition) map[string]string {
	names := make(map[string]string, len(def.Fields)*2)
	for _, f := range def.Fields {
		names[strings.ToUpper(f.Name)] = f.Name
		for _, a := range f.Aliases {
			names[strings.ToUpper(a)] = f.Name
		}
	}
	return names
}

// resolveColumns maps canonical names to the set's own column names.
func resolveColumns(set *domain.RecordSet, def *domain.LayoutDefinition) (map[string]string, error) {
	names := nameTable(def)
	cols := make(map[string]string, len(set.Fields))
	for _, c := range set.Fields {
		canon, ok := names[strings.ToUpper(strings.TrimSpace(c))]
		if !ok {
			return nil, domain.SerializationError(fmt.Sprintf("layout %s: unknown column %q", def.ID, c))
		}
		cols[canon] = c
	}
	return cols, nil
}

// ValidateColumns reports canonical fields the set does not provide.
// Export runs it on every stored set, since a store table may have been
// filled outside the extraction engine.
func ValidateColumns(set *domain.RecordSet, def *domain.LayoutDefinition) error {
	cols, err := resolveColumns(set, def)
	if err != nil {
		return err
	}
	var missing []string
	for _, f := range def.Fields {
		if _, ok := cols[f.Name]; !ok {
			missing = append(missing, f.Name)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return domain.SerializationError(fmt.Sprintf("layout %s: missing columns %s", def.ID, strings.Join(missing, ", ")))
	}
	return nil
}

// Serialize renders the set as an indented UTF-8 SIAP document.
func Serialize(set *domain.RecordSet, def *domain.LayoutDefinition, h Header) ([]byte, error) {
	var buf bytes.Buffer
	if err := Write(&buf, set, def, h); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Write streams the document to w. Fields follow the layout order, column
// names are matched case-insensitively and missing fields become empty
// elements.
func Write(w io.Writer, set *domain.RecordSet, def *domain.LayoutDefinition, h Header) error {
	if set == nil || def == nil {
		return domain.SerializationError("nothing to serialize")
	}
	if err := h.Validate(); err != nil {
		return err
	}
	if def.Element == "" {
		return domain.SerializationError(fmt.Sprintf("layout %s has no element name", def.ID))
	}
	cols, err := resolveColumns(set, def)
	if err != nil {
		return err
	}

	if _, err := io.WriteString(w, xml.Header); err != nil {
		return err
	}
	enc := xml.NewEncoder(w)
	enc.Indent("", "  ")

	root := xml.StartElement{Name: xml.Name{Local: RootElement}}
	if err := enc.EncodeToken(root); err != nil {
		return err
	}
	for _, kv := range [][2]string{{"Codigo", h.Codigo}, {"Exercicio", h.Exercicio}, {"Mes", h.Mes}} {
		if err := textElement(enc, kv[0], kv[1]); err != nil {
			return err
		}
	}

	row := xml.StartElement{Name: xml.Name{Local: def.Element}}
	for n, rec := range set.Records {
		if err := enc.EncodeToken(row); err != nil {
			return err
		}
		for _, f := range def.Fields {
			var text string
			if col, ok := cols[f.Name]; ok {
				text, err = formatField(f, rec[col])
				if err != nil {
					return domain.SerializationError(fmt.Sprintf("layout %s record %d: %v", def.ID, n, err))
				}
			}
			if err := textElement(enc, f.Name, text); err != nil {
				return err
			}
		}
		if err := enc.EncodeToken(row.End()); err != nil {
			return err
		}
	}

	if err := enc.EncodeToken(root.End()); err != nil {
		return err
	}
	if err := enc.Flush(); err != nil {
		return err
	}
	_, err = io.WriteString(w, "\n")
	return err
}

func textElement(enc *xml.Encoder, name, text string) error {
	start := xml.StartElement{Name: xml.Name{Local: name}}
	if err := enc.EncodeToken(start); err != nil {
		return err
	}
	if text != "" {
		if err := enc.EncodeToken(xml.CharData(text)); err != nil {
			return err
		}
	}
	return enc.EncodeToken(start.End())
}

func formatField(f domain.FieldSpec, v any) (string, error) {
	if f.Money {
		return FormatMoney(v), nil
	}
	switch x := v.(type) {
	case nil:
		return "", nil
	case string:
		return x, nil
	case int:
		return strconv.Itoa(x), nil
	case int32:
		return strconv.FormatInt(int64(x), 10), nil
	case int64:
		return strconv.FormatInt(x, 10), nil
	case float32:
		return strconv.FormatFloat(float64(x), 'f', -1, 32), nil
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64), nil
	case bool:
		if x {
			return "1", nil
		}
		return "0", nil
	case []byte:
		return string(x), nil
	default:
		return "", fmt.Errorf("field %s: unsupported value type %T", f.Name, v)
	}
}

// FormatMoney renders a monetary value with exactly two decimals. Values
// that are not numbers are returned in their raw form.
func FormatMoney(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case int:
		return fmt.Sprintf("%.2f", float64(x))
	case int32:
		return fmt.Sprintf("%.2f", float64(x))
	case int64:
		return fmt.Sprintf("%.2f", float64(x))
	case float32:
		return fmt.Sprintf("%.2f", x)
	case float64:
		return fmt.Sprintf("%.2f", x)
	case string:
		if f, err := strconv.ParseFloat(strings.TrimSpace(x), 64); err == nil {
			return fmt.Sprintf("%.2f", f)
		}
		return x
	default:
		return fmt.Sprint(v)
	}
}

package etl

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// ── Normalization helpers ──────────────────────────────────
// Each helper is total: bad input maps to a documented fallback, never
// to an error, so one odd row cannot abort a compliance export.

var integralFloatRe = regexp.MustCompile(`^(-?\d+)\.0+$`)

// FinancingCodes maps budget financing-source codes to SIAP tokens.
var FinancingCodes = map[string]string{"1": "PAB", "2": "MAC", "3": "FAEC"}

// dateLayouts are tried in order by NormalizeDate.
var dateLayouts = []string{
	"2006-01-02",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	time.RFC3339,
	"2006-01-02 15:04:05.000",
	"02/01/2006",
	"02.01.2006",
	"20060102",
}

// scalarText renders a raw value as text. Integral floats lose their
// ".0" suffix; nil is "".
func scalarText(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(x)
	case []byte:
		return strings.TrimSpace(string(x))
	case int:
		return strconv.Itoa(x)
	case int16:
		return strconv.FormatInt(int64(x), 10)
	case int32:
		return strconv.FormatInt(int64(x), 10)
	case int64:
		return strconv.FormatInt(x, 10)
	case float32:
		return floatText(float64(x))
	case float64:
		return floatText(x)
	case time.Time:
		return x.Format("2006-01-02 15:04:05")
	case bool:
		if x {
			return "1"
		}
		return "0"
	default:
		return strings.TrimSpace(fmt.Sprint(x))
	}
}

func floatText(f float64) string {
	if f == math.Trunc(f) && !math.IsInf(f, 0) {
		return strconv.FormatFloat(f, 'f', 0, 64)
	}
	return strconv.FormatFloat(f, 'f', -1, 64)
}

func keepDigits(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func padLeft(s string, width int) string {
	if len(s) >= width {
		return s
	}
	return strings.Repeat("0", width-len(s)) + s
}

// CleanNumber reduces v to a fixed-width digit code: an integral ".0"
// suffix is dropped, non-digits are stripped and the result is
// left-padded with zeros. Longer values are kept whole.
func CleanNumber(v any, width int) string {
	s := scalarText(v)
	if m := integralFloatRe.FindStringSubmatch(s); m != nil {
		s = m[1]
	}
	return padLeft(keepDigits(s), width)
}

// toNumber parses v as a float. ok is false for nil or unparseable input.
func toNumber(v any) (float64, bool) {
	switch x := v.(type) {
	case nil:
		return 0, false
	case int:
		return float64(x), true
	case int16:
		return float64(x), true
	case int32:
		return float64(x), true
	case int64:
		return float64(x), true
	case float32:
		return float64(x), true
	case float64:
		if math.IsNaN(x) {
			return 0, false
		}
		return x, true
	}
	s := strings.ReplaceAll(scalarText(v), ",", ".")
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(f) {
		return 0, false
	}
	return f, true
}

// toInt truncates v to an integer; digits are salvaged from mixed text
// ("A1" → 1) and anything else is 0.
func toInt(v any) int64 {
	if f, ok := toNumber(v); ok {
		return int64(f)
	}
	n, err := strconv.ParseInt(keepDigits(scalarText(v)), 10, 64)
	if err != nil {
		return 0
	}
	return n
}

// IntCode casts v to an integer, dropping leading zeros, and re-pads it
// to width. Empty or invalid input yields the zero value ("00" for 2).
func IntCode(v any, width int) string {
	return padLeft(strconv.FormatInt(toInt(v), 10), width)
}

// Recode maps v through codes; unknown codes pass through as text.
func Recode(v any, codes map[string]string) string {
	key := scalarText(v)
	if m := integralFloatRe.FindStringSubmatch(key); m != nil {
		key = m[1]
	}
	if out, ok := codes[key]; ok {
		return out
	}
	return key
}

// MapFinancing recodes a financing-source code (1 → PAB, 2 → MAC, 3 → FAEC).
func MapFinancing(v any) string {
	return Recode(v, FinancingCodes)
}

// TotalWorkload sums numeric inputs, treating absent values as zero, and
// formats the integer result to width.
func TotalWorkload(width int, inputs ...any) string {
	var total float64
	for _, in := range inputs {
		if f, ok := toNumber(in); ok {
			total += f
		}
	}
	return padLeft(strconv.FormatInt(int64(total), 10), width)
}

// NormalizeDate reduces v to YYYY-MM-DD. Unparseable text is returned
// as-is; nil and empty values become "".
func NormalizeDate(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case time.Time:
		if x.IsZero() {
			return ""
		}
		return x.Format("2006-01-02")
	}
	s := scalarText(v)
	if s == "" {
		return ""
	}
	if d, ok := parseDate(s); ok {
		return d
	}
	// datetime with a time part no layout covers: keep the date before it
	if i := strings.IndexAny(s, " T"); i > 0 {
		if d, ok := parseDate(s[:i]); ok {
			return d
		}
	}
	return s
}

func parseDate(s string) (string, bool) {
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.Format("2006-01-02"), true
		}
	}
	return "", false
}

// RoundMoney parses v and rounds it to two decimal places; invalid input is 0.
func RoundMoney(v any) float64 {
	f, _ := toNumber(v)
	return math.Round(f*100) / 100
}

package domain

import "strings"

// Default credentials and charset of a stock legacy installation.
const (
	DefaultUser    = "SYSDBA"
	DefaultPass    = "masterkey"
	DefaultCharset = "WIN1252"
)

// LegacyConnectionParams identifies one legacy database file or server.
// Path accepts "host:path", a bare file path, or a drive-letter path ("C:/...").
type LegacyConnectionParams struct {
	Path     string `json:"path" yaml:"path"`
	User     string `json:"user" yaml:"user"`
	Password string `json:"-" yaml:"password"`
	Role     string `json:"role,omitempty" yaml:"role"`
	Charset  string `json:"charset" yaml:"charset"`
}

// Normalize trims whitespace and surrounding quotes from every field and
// fills in the stock defaults for empty values.
func (p LegacyConnectionParams) Normalize() LegacyConnectionParams {
	p.Path = trimInput(p.Path)
	p.User = trimInput(p.User)
	p.Password = trimInput(p.Password)
	p.Role = trimInput(p.Role)
	p.Charset = trimInput(p.Charset)
	if p.User == "" {
		p.User = DefaultUser
	}
	if p.Password == "" {
		p.Password = DefaultPass
	}
	if p.Charset == "" {
		p.Charset = DefaultCharset
	}
	return p
}

// trimInput strips whitespace and one or more layers of quotes, which
// operators tend to paste along with Windows paths.
func trimInput(s string) string {
	s = strings.TrimSpace(s)
	for len(s) >= 2 {
		first, last := s[0], s[len(s)-1]
		if (first == '"' && last == '"') || (first == '\'' && last == '\'') {
			s = strings.TrimSpace(s[1 : len(s)-1])
			continue
		}
		break
	}
	return strings.Trim(s, `"'`)
}

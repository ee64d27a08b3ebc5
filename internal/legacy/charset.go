package legacy

import (
	"strings"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
)

// decoderFor returns the byte decoder for a Firebird charset name, or nil
// when bytes are already UTF-8 (or the charset is unknown).
func decoderFor(charset string) *encoding.Decoder {
	switch strings.ToUpper(strings.TrimSpace(charset)) {
	case "WIN1252":
		return charmap.Windows1252.NewDecoder()
	case "WIN1250":
		return charmap.Windows1250.NewDecoder()
	case "ISO8859_1", "LATIN1":
		return charmap.ISO8859_1.NewDecoder()
	case "ISO8859_15":
		return charmap.ISO8859_15.NewDecoder()
	case "DOS850":
		return charmap.CodePage850.NewDecoder()
	default:
		return nil
	}
}

// decodeText converts legacy bytes to a Go string.
func decodeText(b []byte, dec *encoding.Decoder) string {
	if dec == nil || isASCII(b) {
		return string(b)
	}
	out, err := dec.Bytes(b)
	if err != nil {
		return string(b)
	}
	return string(out)
}

func isASCII(b []byte) bool {
	for _, c := range b {
		if c >= 0x80 {
			return false
		}
	}
	return true
}

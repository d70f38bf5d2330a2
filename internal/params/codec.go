package params

import (
	"strconv"
	"strings"
)

// Canonical builds the canonical parameter segment for a request. query holds
// the raw query values; requestPath supplies the default output format through
// its extension. Empty or unknown values fall back to the key default.
func Canonical(query map[string]string, requestPath string) string {
	var b strings.Builder
	for _, key := range optionKeys {
		b.WriteString(key)
		b.WriteByte('(')
		b.WriteString(effectiveValue(key, query, requestPath))
		b.WriteByte(')')
	}
	return b.String()
}

func effectiveValue(key string, query map[string]string, requestPath string) string {
	raw, ok := query[key]
	if ok && key == KeyFormat {
		raw, ok = NormalizeFormat(raw)
	}
	if ok && raw != "" {
		return raw
	}

	switch key {
	case KeyQuality:
		return strconv.Itoa(DefaultQuality)
	case KeyFormat:
		format, _ := NormalizeFormat(Extension(requestPath))
		return format
	default:
		return ""
	}
}

// Parse decodes a parameter segment. Each field is read independently; a
// missing, empty or malformed token leaves the field unset (Quality falls back
// to DefaultQuality). A format outside the supported table is dropped so the
// source format is used instead.
func Parse(segment string) Params {
	p := Params{Quality: DefaultQuality}

	seen := make(map[string]bool, len(optionKeys))
	for _, tok := range scanTokens(segment) {
		if seen[tok.name] {
			continue
		}
		seen[tok.name] = true

		switch tok.name {
		case KeyQuality:
			if q, ok := parseDigits(tok.value); ok && q >= MinQuality && q <= MaxQuality {
				p.Quality = q
			}
		case KeyWidth:
			if w, ok := parseDigits(tok.value); ok {
				p.Width = w
			}
		case KeyHeight:
			if h, ok := parseDigits(tok.value); ok {
				p.Height = h
			}
		case KeyFormat:
			if isAlnum(tok.value) {
				if format, ok := NormalizeFormat(tok.value); ok {
					p.Format = format
				}
			}
		}
	}
	return p
}

// FromQuery decodes parameters straight from query values by canonicalising
// them first, so both input forms share the same defaults.
func FromQuery(query map[string]string, requestPath string) Params {
	return Parse(Canonical(query, requestPath))
}

// IsSegment reports whether a path element is a parameter segment, i.e. it
// consists solely of name(value) tokens and names at least one option key.
func IsSegment(segment string) bool {
	toks := scanTokens(segment)
	if len(toks) == 0 || tokensLen(toks) != len(segment) {
		return false
	}
	for _, tok := range toks {
		for _, key := range optionKeys {
			if tok.name == key {
				return true
			}
		}
	}
	return false
}

type token struct {
	name  string
	value string
}

// scanTokens splits "a(1)b()c(x)" into name/value pairs. Scanning stops at the
// first element that is not a complete token.
func scanTokens(segment string) []token {
	var toks []token
	rest := segment
	for rest != "" {
		open := strings.IndexByte(rest, '(')
		if open <= 0 {
			break
		}
		closing := strings.IndexByte(rest[open:], ')')
		if closing < 0 {
			break
		}
		closing += open

		name := rest[:open]
		if strings.ContainsAny(name, ")/") {
			break
		}
		toks = append(toks, token{name: name, value: rest[open+1 : closing]})
		rest = rest[closing+1:]
	}
	return toks
}

func tokensLen(toks []token) int {
	n := 0
	for _, tok := range toks {
		n += len(tok.name) + len(tok.value) + 2
	}
	return n
}

func parseDigits(s string) (int, bool) {
	if s == "" {
		return 0, false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return 0, false
		}
	}
	n, err := strconv.Atoi(s)
	if err != nil || n <= 0 {
		return 0, false
	}
	return n, true
}

func isAlnum(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		default:
			return false
		}
	}
	return true
}

package extractor

import (
	"encoding/json"
	"log/slog"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/MikeSquared-Agency/catalogqa/internal/apperr"
)

// Extractor locates the structured payload inside free-form model output.
type Extractor struct {
	logger *slog.Logger
}

func New(logger *slog.Logger) *Extractor {
	return &Extractor{logger: logger}
}

// Extract returns the first candidate in raw that parses as JSON, either as
// written or after Repair. It fails with an OutputParse error when none do.
func (e *Extractor) Extract(raw string) (string, error) {
	candidates := Candidates(raw)
	for i, c := range candidates {
		if json.Valid([]byte(c)) {
			return c, nil
		}
		if fixed := Repair(c); json.Valid([]byte(fixed)) {
			e.logger.Debug("payload repaired", "candidate", i, "len", len(c))
			return fixed, nil
		}
	}

	e.logger.Warn("no parseable payload in model output",
		"candidates", len(candidates),
		"raw", truncate(raw, 500),
	)
	return "", apperr.OutputParse("no structured payload found", nil)
}

var fenceMarker = regexp.MustCompile("```[a-zA-Z]*")

// StripFences removes markdown code-fence markers but keeps their content.
func StripFences(raw string) string {
	return fenceMarker.ReplaceAllString(raw, "")
}

// Candidates lists possible payloads in priority order: balanced objects in
// order of appearance, then balanced top-level arrays, then the span from the
// first '{' to the last '}'.
func Candidates(raw string) []string {
	text := StripFences(raw)

	var out []string
	seen := map[string]bool{}
	add := func(s string) {
		s = strings.TrimSpace(s)
		if s != "" && !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}

	objects := balanced(text, '{')
	for _, sp := range objects {
		add(text[sp.start : sp.end+1])
	}
	for _, sp := range balanced(text, '[') {
		if !sp.within(objects) {
			add(text[sp.start : sp.end+1])
		}
	}
	if first, last := strings.Index(text, "{"), strings.LastIndex(text, "}"); first >= 0 && last > first {
		add(text[first : last+1])
	}
	return out
}

type span struct{ start, end int }

func (s span) within(others []span) bool {
	for _, o := range others {
		if s.start > o.start && s.end < o.end {
			return true
		}
	}
	return false
}

// balanced returns every top-level span opening with open whose brackets
// balance, skipping over double-quoted strings. After a match the scan
// resumes past its end, so nested spans are not returned twice.
func balanced(text string, open byte) []span {
	var out []span
	for i := 0; i < len(text); i++ {
		if text[i] != open {
			continue
		}
		if end := matchEnd(text, i); end > 0 {
			out = append(out, span{start: i, end: end})
			i = end
		}
	}
	return out
}

// matchEnd returns the index closing the bracket at start, or -1.
func matchEnd(text string, start int) int {
	var stack []byte
	inString, escaped := false, false
	for i := start; i < len(text); i++ {
		ch := text[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case ch == '\\':
				escaped = true
			case ch == '"':
				inString = false
			}
			continue
		}
		switch ch {
		case '"':
			inString = true
		case '{':
			stack = append(stack, '}')
		case '[':
			stack = append(stack, ']')
		case '}', ']':
			if len(stack) == 0 || stack[len(stack)-1] != ch {
				return -1
			}
			stack = stack[:len(stack)-1]
			if len(stack) == 0 {
				return i
			}
		}
	}
	return -1
}

var (
	trailingComma = regexp.MustCompile(`,\s*([}\]])`)
	bareKey       = regexp.MustCompile(`([{,]\s*)([A-Za-z_][A-Za-z0-9_]*)(\s*:)`)
	pyLiteral     = regexp.MustCompile(`\b(True|False|None)\b`)
)

// Repair fixes the near misses models commonly produce: control characters,
// typographic or single quotes, bare keys, Python literals and trailing commas.
func Repair(s string) string {
	s = stripControl(s)
	s = normalizeQuotes(s)
	return outsideStrings(s, func(seg string) string {
		seg = bareKey.ReplaceAllString(seg, `$1"$2"$3`)
		seg = pyLiteral.ReplaceAllStringFunc(seg, func(m string) string {
			switch m {
			case "True":
				return "true"
			case "False":
				return "false"
			}
			return "null"
		})
		return trailingComma.ReplaceAllString(seg, "$1")
	})
}

func stripControl(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r == '\n' || r == '\r' || r == '\t':
			return ' '
		case r < 0x20 || r == 0x7f:
			return -1
		}
		return r
	}, s)
}

var typographic = strings.NewReplacer("“", `"`, "”", `"`, "‘", "'", "’", "'")

// normalizeQuotes rewrites single-quoted strings as double-quoted ones,
// escaping any double quotes they contain. Apostrophes inside double-quoted
// strings are left alone. Typographic quotes are only treated as delimiters
// when the text has no ASCII double quotes, since Chinese prose uses them
// inside values.
func normalizeQuotes(s string) string {
	if !strings.Contains(s, `"`) {
		s = typographic.Replace(s)
	}
	var b strings.Builder
	b.Grow(len(s))
	var quote rune
	escaped := false
	for _, r := range s {
		switch {
		case quote == 0 && (r == '"' || r == '\''):
			quote = r
			b.WriteRune('"')
		case quote != 0 && escaped:
			escaped = false
			b.WriteRune(r)
		case quote != 0 && r == '\\':
			escaped = true
			b.WriteRune(r)
		case quote != 0 && r == quote:
			quote = 0
			b.WriteRune('"')
		case quote == '\'' && r == '"':
			b.WriteString(`\"`)
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

// outsideStrings applies fn to every segment of s that is not inside a
// double-quoted string.
func outsideStrings(s string, fn func(string) string) string {
	var b strings.Builder
	start := 0
	inString, escaped := false, false
	for i := 0; i < len(s); i++ {
		ch := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case ch == '\\':
				escaped = true
			case ch == '"':
				inString = false
				b.WriteString(s[start : i+1])
				start = i + 1
			}
			continue
		}
		if ch == '"' {
			b.WriteString(fn(s[start:i]))
			start = i
			inString = true
		}
	}
	if inString {
		b.WriteString(s[start:])
	} else {
		b.WriteString(fn(s[start:]))
	}
	return b.String()
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n] + "..."
}

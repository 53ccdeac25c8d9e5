package configuration

import (
	"bufio"
	"fmt"
	"io"
	"strings"
	"unicode"
)

const maxLineLength = 1 << 20

// ParseError reports a malformed configuration line. A configuration that
// produced a ParseError must not be applied, not even partially.
type ParseError struct {
	// Offset is the 0-based index of the offending line.
	Offset int
	Line   string
	Reason string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("configuration line %d: %s: %q", e.Offset+1, e.Reason, e.Line)
}

// ParseString parses configuration text.
func ParseString(text string) ([]ConfigurationItem, error) {
	return Parse(strings.NewReader(text))
}

// Parse reads one directive per line:
//
//	<phase> <control> <plugin> [arg ...]
//
// Phase and control keywords are case-insensitive. Blank lines and lines
// whose first non-blank character is '#' are skipped. Arguments containing
// an unquoted '=' become named properties, all others positional arguments.
func Parse(r io.Reader) ([]ConfigurationItem, error) {
	var items []ConfigurationItem

	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 4096), maxLineLength)

	for offset := 0; sc.Scan(); offset++ {
		line := sc.Text()
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "#") {
			continue
		}

		item, err := parseLine(line)
		if err != nil {
			return nil, &ParseError{Offset: offset, Line: line, Reason: err.Error()}
		}
		item.Line = offset + 1
		items = append(items, item)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("failed to read configuration: %w", err)
	}
	return items, nil
}

func parseLine(line string) (ConfigurationItem, error) {
	toks, err := tokenize(line)
	if err != nil {
		return ConfigurationItem{}, err
	}
	if len(toks) < 3 {
		return ConfigurationItem{}, fmt.Errorf("expected <phase> <control> <plugin>, got %d tokens", len(toks))
	}

	phase, ok := ParsePhase(toks[0].text)
	if !ok {
		return ConfigurationItem{}, fmt.Errorf("unknown phase %q", toks[0].text)
	}
	control, ok := ParseControl(toks[1].text)
	if !ok {
		return ConfigurationItem{}, fmt.Errorf("unknown control %q", toks[1].text)
	}

	item := ConfigurationItem{
		Phase:      phase,
		Control:    control,
		PluginName: toks[2].text,
		Config:     PluginConfig{Properties: map[string]string{}},
	}
	for _, t := range toks[3:] {
		if t.eq > 0 {
			item.Config.Properties[t.text[:t.eq]] = t.text[t.eq+1:]
		} else {
			item.Config.Arguments = append(item.Config.Arguments, t.text)
		}
	}
	return item, nil
}

// token is one whitespace-separated word with quotes and escapes resolved.
// eq is the byte index of the first unquoted '=' in text, or -1.
type token struct {
	text string
	eq   int
}

func tokenize(line string) ([]token, error) {
	var (
		toks    []token
		buf     strings.Builder
		eq      = -1
		inToken bool
		quote   rune
		escaped bool
	)

	flush := func() {
		if inToken {
			toks = append(toks, token{text: buf.String(), eq: eq})
		}
		buf.Reset()
		eq = -1
		inToken = false
	}

	for _, r := range line {
		switch {
		case escaped:
			if r != '"' && r != '\'' && r != '\\' {
				buf.WriteRune('\\')
			}
			buf.WriteRune(r)
			escaped = false
		case r == '\\':
			escaped = true
			inToken = true
		case quote != 0:
			if r == quote {
				quote = 0
			} else {
				buf.WriteRune(r)
			}
		case r == '"' || r == '\'':
			quote = r
			inToken = true
		case unicode.IsSpace(r):
			flush()
		default:
			if r == '=' && eq < 0 {
				eq = buf.Len()
			}
			buf.WriteRune(r)
			inToken = true
		}
	}

	if quote != 0 {
		return nil, fmt.Errorf("unterminated %c quote", quote)
	}
	if escaped {
		buf.WriteRune('\\')
	}
	flush()
	return toks, nil
}

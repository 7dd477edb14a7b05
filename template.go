package nekodb

import (
	"fmt"
	"strings"

	"github.com/samber/lo"
)

// Template is a SQL string with $name or ${name} placeholders. "$$" renders
// a literal "$". Values are substituted as plain strings with no escaping.
type Template struct {
	text string
}

// NewTemplate wraps text without validating it; errors surface on Substitute.
func NewTemplate(text string) Template { return Template{text: text} }

func (t Template) String() string { return t.text }

// Placeholders returns the distinct placeholder names in order of first use.
func (t Template) Placeholders() ([]string, error) {
	var names []string
	err := t.scan(func(literal string) {}, func(name string) { names = append(names, name) })
	if err != nil {
		return nil, err
	}
	return lo.Uniq(names), nil
}

// Substitute renders the template. Every referenced placeholder must be
// present in data; missing keys fail with ErrMissingPlaceholder.
func (t Template) Substitute(data map[string]string) (string, error) {
	var (
		b       strings.Builder
		missing []string
	)
	b.Grow(len(t.text))
	err := t.scan(
		func(literal string) { b.WriteString(literal) },
		func(name string) {
			v, ok := data[name]
			if !ok {
				missing = append(missing, name)
				return
			}
			b.WriteString(v)
		},
	)
	if err != nil {
		return "", err
	}
	if len(missing) > 0 {
		return "", fmt.Errorf("%w: %s", ErrMissingPlaceholder, strings.Join(lo.Uniq(missing), ", "))
	}
	return b.String(), nil
}

// scan walks the template, calling literal for plain text and placeholder
// for every $name / ${name} occurrence.
func (t Template) scan(literal func(string), placeholder func(string)) error {
	s := t.text
	start := 0
	i := 0
	for i < len(s) {
		if s[i] != '$' {
			i++
			continue
		}
		if start < i {
			literal(s[start:i])
		}
		if i+1 >= len(s) {
			return invalidPlaceholder(s, i)
		}
		switch c := s[i+1]; {
		case c == '$':
			literal("$")
			i += 2
		case c == '{':
			end := strings.IndexByte(s[i+2:], '}')
			if end < 0 {
				return invalidPlaceholder(s, i)
			}
			name := s[i+2 : i+2+end]
			if !isIdentifier(name) {
				return invalidPlaceholder(s, i)
			}
			placeholder(name)
			i += end + 3
		case isIdentStart(c):
			j := i + 2
			for j < len(s) && isIdentPart(s[j]) {
				j++
			}
			placeholder(s[i+1 : j])
			i = j
		default:
			return invalidPlaceholder(s, i)
		}
		start = i
	}
	if start < len(s) {
		literal(s[start:])
	}
	return nil
}

func invalidPlaceholder(s string, offset int) error {
	line := strings.Count(s[:offset], "\n") + 1
	col := offset - strings.LastIndexByte(s[:offset], '\n')
	return fmt.Errorf("%w: line %d, col %d", ErrInvalidPlaceholder, line, col)
}

func isIdentStart(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isIdentPart(c byte) bool { return isIdentStart(c) || (c >= '0' && c <= '9') }

func isIdentifier(name string) bool {
	if name == "" || !isIdentStart(name[0]) {
		return false
	}
	for i := 1; i < len(name); i++ {
		if !isIdentPart(name[i]) {
			return false
		}
	}
	return true
}

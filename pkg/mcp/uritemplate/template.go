// Package uritemplate implements a minimal RFC 6570 Level 1 matcher:
// compile a template containing one or more {var} placeholders into a
// regular expression with one unnamed capture group per variable, tracked
// by position, then match concrete URIs against it to recover variable
// bindings.
package uritemplate

import (
	"fmt"
	"regexp"
	"strings"
)

// Template is a compiled RFC 6570 Level 1 pattern.
type Template struct {
	source string
	re     *regexp.Regexp
	vars   []string
}

var varToken = regexp.MustCompile(`\{([^{}]*)\}`)

// Compile parses source into a Template. Templates without at least one
// {variable} are rejected, matching spec §4.8's registration-time check —
// a plain URI belongs in the Resource kind, not ResourceTemplate.
func Compile(source string) (*Template, error) {
	matches := varToken.FindAllStringSubmatchIndex(source, -1)
	if len(matches) == 0 {
		return nil, fmt.Errorf("uritemplate: %q has no {variable} placeholders", source)
	}

	var pattern strings.Builder
	pattern.WriteString("^")
	var vars []string
	last := 0
	for _, m := range matches {
		start, end := m[0], m[1]
		nameStart, nameEnd := m[2], m[3]

		name := source[nameStart:nameEnd]
		if name == "" {
			return nil, fmt.Errorf("uritemplate: %q has an empty variable name", source)
		}
		pattern.WriteString(regexp.QuoteMeta(source[last:start]))
		pattern.WriteString(`([^/]+)`)
		vars = append(vars, name)
		last = end
	}
	pattern.WriteString(regexp.QuoteMeta(source[last:]))
	pattern.WriteString("$")

	re, err := regexp.Compile(pattern.String())
	if err != nil {
		return nil, fmt.Errorf("uritemplate: %q compiled to invalid regex: %w", source, err)
	}

	return &Template{source: source, re: re, vars: vars}, nil
}

// Source returns the original template string.
func (t *Template) Source() string { return t.source }

// Match reports whether uri matches the template, returning the extracted
// variable bindings keyed by their original (unsanitized) names.
func (t *Template) Match(uri string) (map[string]string, bool) {
	m := t.re.FindStringSubmatch(uri)
	if m == nil {
		return nil, false
	}
	bindings := make(map[string]string, len(t.vars))
	for i, name := range t.vars {
		bindings[name] = m[i+1]
	}
	return bindings, true
}

package gen

import (
	"fmt"
	"go/ast"
	"strings"
)

const directivePrefix = "//rest:"

type directive struct {
	name string
	args []string
	// raw is the text after the name, untrimmed of inner spaces.
	raw string
}

// directives returns the //rest: lines of a comment group in order.
func directives(doc *ast.CommentGroup) []directive {
	if doc == nil {
		return nil
	}
	var out []directive
	for _, c := range doc.List {
		text, ok := strings.CutPrefix(c.Text, directivePrefix)
		if !ok {
			continue
		}
		name, raw, _ := strings.Cut(strings.TrimSpace(text), " ")
		out = append(out, directive{
			name: name,
			args: strings.Fields(raw),
			raw:  strings.TrimSpace(raw),
		})
	}
	return out
}

func hasDirective(doc *ast.CommentGroup, name string) bool {
	for _, d := range directives(doc) {
		if d.name == name {
			return true
		}
	}
	return false
}

// header parses "Key: value".
func (d directive) header() (Header, error) {
	key, value, ok := strings.Cut(d.raw, ":")
	key = strings.TrimSpace(key)
	if !ok || key == "" || strings.ContainsAny(key, " \t") {
		return Header{}, fmt.Errorf("%w: rest:header wants \"Key: value\", got %q", ErrMalformedDirective, d.raw)
	}
	return Header{Key: key, Value: strings.TrimSpace(value)}, nil
}

func (d directive) want(min, max int) error {
	if len(d.args) < min || len(d.args) > max {
		return fmt.Errorf("%w: rest:%s takes %d to %d arguments, got %d", ErrMalformedDirective, d.name, min, max, len(d.args))
	}
	return nil
}

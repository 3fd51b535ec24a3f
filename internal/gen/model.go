// Package gen turns annotated Go interfaces into rest descriptors and
// adapter types.
package gen

import (
	"errors"

	"github.com/T-Prohmpossadhorn/go-rest/rest"
)

var (
	ErrNoVerb             = errors.New("method has no verb directive")
	ErrUnknownDirective   = errors.New("unknown directive")
	ErrMalformedDirective = errors.New("malformed directive")
	ErrUnknownParam       = errors.New("directive names an unknown parameter")
	ErrUnsupportedResult  = errors.New("unsupported result list")
	ErrUnsupportedType    = errors.New("unsupported parameter type")
	ErrUnsupportedEmbed   = errors.New("unsupported embedded type")
)

// Package holds the annotated interfaces of one Go package.
type Package struct {
	Name       string
	Path       string
	Dir        string
	Interfaces []*Interface
	// imports maps import path to the name used in emitted code.
	imports map[string]string
}

// Interface is one //rest:interface declaration.
type Interface struct {
	Name       string
	Namespace  string
	Disposable bool
	Headers    []Header
	TypeParams []TypeParam
	// Extends lists embedded annotated interfaces of the same package.
	Extends []*Interface
	Methods []*Method
}

// QualifiedName is the name the runtime registry knows the interface by.
func (i *Interface) QualifiedName() string {
	ns := i.Namespace
	if ns == "" {
		ns = rest.DefaultNamespace
	}
	return ns + "." + i.Name
}

// Generic reports whether the interface declares type parameters.
func (i *Interface) Generic() bool { return len(i.TypeParams) > 0 }

// All returns own methods followed by inherited ones, each name once,
// nearest declaration first.
func (i *Interface) All() []*Method {
	seen := map[string]bool{}
	var out []*Method
	var walk func(*Interface)
	walk = func(cur *Interface) {
		for _, m := range cur.Methods {
			if !seen[m.Name] {
				seen[m.Name] = true
				out = append(out, m)
			}
		}
		for _, base := range cur.Extends {
			walk(base)
		}
	}
	walk(i)
	return out
}

// TypeParam is an interface type parameter with its constraint rendered as
// a rest.Constraint expression.
type TypeParam struct {
	Name       string
	Constraint string
	// Bound is the Go constraint as written, e.g. "any" or "fmt.Stringer".
	Bound string
}

type Header struct {
	Key   string
	Value string
}

// Method is one interface method carrying a verb directive.
type Method struct {
	Name      string
	Declarer  *Interface
	Verb      rest.Verb
	Template  string
	Headers   []Header
	Params    []*Param
	Shape     rest.Shape
	// Result is the Go type expression of T for value, wrapped and stream
	// results; empty for none and raw.
	Result     string
	ResultOpen bool
}

// Param is one method parameter.
type Param struct {
	Name string
	// Type is the Go type expression in the generated file.
	Type string
	// Open is set when Type is an interface type parameter.
	Open       bool
	Body       bool
	Streamed   bool
	HeaderName string
	Alias      string
	Expand     bool
	PartName   string
}

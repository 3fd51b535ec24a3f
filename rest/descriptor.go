package rest

import (
	"context"
	"fmt"
	"go/token"
	"go/types"
	"net/http"
	"reflect"
	"strings"
)

// DefaultNamespace qualifies interfaces defined without In.
const DefaultNamespace = "autogenerated"

// Verb is an HTTP method.
type Verb string

const (
	VerbGet     Verb = http.MethodGet
	VerbPost    Verb = http.MethodPost
	VerbPut     Verb = http.MethodPut
	VerbDelete  Verb = http.MethodDelete
	VerbPatch   Verb = http.MethodPatch
	VerbHead    Verb = http.MethodHead
	VerbOptions Verb = http.MethodOptions
)

// Valid reports whether v is one of the supported verbs.
func (v Verb) Valid() bool {
	switch v {
	case VerbGet, VerbPost, VerbPut, VerbDelete, VerbPatch, VerbHead, VerbOptions:
		return true
	}
	return false
}

// ParseVerb accepts a verb in any case.
func ParseVerb(s string) (Verb, error) {
	v := Verb(strings.ToUpper(strings.TrimSpace(s)))
	if !v.Valid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidVerb, s)
	}
	return v, nil
}

// Role is where a parameter ends up in the request.
type Role int

const (
	RoleAuto Role = iota
	RolePath
	RoleQuery
	RoleBody
	RoleHeader
	RoleCancellation
	RoleAttachment
)

func (r Role) String() string {
	switch r {
	case RolePath:
		return "path"
	case RoleQuery:
		return "query"
	case RoleBody:
		return "body"
	case RoleHeader:
		return "header"
	case RoleCancellation:
		return "cancellation"
	case RoleAttachment:
		return "attachment"
	default:
		return "auto"
	}
}

// Shape is the declared form of a method result.
type Shape int

const (
	ShapeNone Shape = iota
	ShapeValue
	ShapeWrapped
	ShapeStream
	ShapeRaw
)

func (s Shape) String() string {
	switch s {
	case ShapeValue:
		return "value"
	case ShapeWrapped:
		return "wrapped"
	case ShapeStream:
		return "stream"
	case ShapeRaw:
		return "raw"
	default:
		return "none"
	}
}

// BodyMode selects how a body parameter is handed to the transport.
type BodyMode int

const (
	BodyBuffered BodyMode = iota
	BodyStreamed
)

type constraintKind int

const (
	constraintUnset constraintKind = iota
	constraintAny
	constraintComparable
	constraintImplements
)

// Constraint restricts the types a type parameter may be bound to.
type Constraint struct {
	kind  constraintKind
	iface reflect.Type
}

var (
	Any        = Constraint{kind: constraintAny}
	Comparable = Constraint{kind: constraintComparable}
)

// Implements constrains a type parameter to types implementing I.
func Implements[I any]() Constraint {
	return Constraint{kind: constraintImplements, iface: reflect.TypeFor[I]()}
}

// ImplementsType is Implements for a reflect.Type known only at run time.
func ImplementsType(t reflect.Type) Constraint {
	return Constraint{kind: constraintImplements, iface: t}
}

func (c Constraint) supported() bool {
	switch c.kind {
	case constraintAny, constraintComparable:
		return true
	case constraintImplements:
		return c.iface != nil && c.iface.Kind() == reflect.Interface
	}
	return false
}

// Satisfied reports whether t may be bound to a parameter with this constraint.
func (c Constraint) Satisfied(t reflect.Type) bool {
	switch c.kind {
	case constraintAny:
		return true
	case constraintComparable:
		return t.Comparable()
	case constraintImplements:
		return t.Implements(c.iface)
	}
	return false
}

func (c Constraint) String() string {
	switch c.kind {
	case constraintAny:
		return "any"
	case constraintComparable:
		return "comparable"
	case constraintImplements:
		if c.iface == nil {
			return "<nil>"
		}
		return c.iface.String()
	}
	return "<unset>"
}

// TypeParam is an open type parameter of an interface or method.
type TypeParam struct {
	Name       string
	Constraint Constraint
}

// TypeRef is a declared type: closed (Type set) or an open type parameter (Param set).
type TypeRef struct {
	Type  reflect.Type
	Param string
}

// IsOpen reports whether the reference names a type parameter.
func (r TypeRef) IsOpen() bool { return r.Param != "" }

func (r TypeRef) id() string {
	if r.IsOpen() {
		return "$" + r.Param
	}
	return typeID(r.Type)
}

func (r TypeRef) String() string {
	if r.IsOpen() {
		return r.Param
	}
	if r.Type == nil {
		return "<none>"
	}
	return r.Type.String()
}

// ParameterDescriptor describes one method parameter.
type ParameterDescriptor struct {
	// Name is the declared name, possibly carrying the reserved-word escape.
	Name  string
	Type  TypeRef
	Role  Role
	Alias string
	// Reserved is set when Name is an escaped reserved word.
	Reserved bool
	BodyMode BodyMode
	// HeaderName is the header written by a header-role parameter.
	HeaderName string
	// Expand spreads a struct or map query value over one key per property.
	Expand bool
	// PartName names the multipart part of an attachment.
	PartName string
}

// WireName is the name transmitted for the parameter: the alias when set,
// otherwise the declared name with any reserved-word escape removed.
func (p *ParameterDescriptor) WireName() string {
	if p.Alias != "" {
		return p.Alias
	}
	return unescapeName(p.Name)
}

// MethodDescriptor describes one interface method.
type MethodDescriptor struct {
	Name       string
	Declarer   *InterfaceDescriptor
	Verb       Verb
	Template   string
	Params     []*ParameterDescriptor
	Shape      Shape
	Result     TypeRef
	TypeParams []TypeParam
	Headers    http.Header

	segments  []segment
	signature string
}

// Signature is the declared parameter type tuple, e.g. "(context.Context,string)".
// Open parameters appear as $Name.
func (m *MethodDescriptor) Signature() string { return m.signature }

// ID identifies the method with its declarer, e.g. "autogenerated.Users.GetUser(string)".
func (m *MethodDescriptor) ID() string {
	return m.Declarer.QualifiedName() + "." + m.Name + m.signature
}

// Open reports whether the method needs type arguments at call time.
func (m *MethodDescriptor) Open() bool {
	if m.Result.IsOpen() {
		return true
	}
	for _, p := range m.Params {
		if p.Type.IsOpen() {
			return true
		}
	}
	return false
}

// Body returns the body parameter, if any.
func (m *MethodDescriptor) Body() *ParameterDescriptor {
	for _, p := range m.Params {
		if p.Role == RoleBody {
			return p
		}
	}
	return nil
}

// typeParam finds a type parameter visible to the method.
func (m *MethodDescriptor) typeParam(name string) (TypeParam, bool) {
	for _, tp := range m.TypeParams {
		if tp.Name == name {
			return tp, true
		}
	}
	for _, tp := range m.Declarer.TypeParams {
		if tp.Name == name {
			return tp, true
		}
	}
	return TypeParam{}, false
}

// InterfaceDescriptor is the immutable model of a service interface.
type InterfaceDescriptor struct {
	Namespace  string
	Name       string
	TypeParams []TypeParam
	Extends    []*InterfaceDescriptor
	// Methods holds own methods followed by inherited ones.
	Methods    []*MethodDescriptor
	Disposable bool
	Headers    http.Header

	depth map[*MethodDescriptor]int
	index map[string][]*MethodDescriptor
}

// QualifiedName is Namespace.Name.
func (d *InterfaceDescriptor) QualifiedName() string {
	return d.Namespace + "." + d.Name
}

func (d *InterfaceDescriptor) String() string { return d.QualifiedName() }

// Lookup returns every method with the given name, nearest declaration first.
func (d *InterfaceDescriptor) Lookup(name string) []*MethodDescriptor {
	return d.index[name]
}

// Own returns the methods declared directly on d.
func (d *InterfaceDescriptor) Own() []*MethodDescriptor {
	var out []*MethodDescriptor
	for _, m := range d.Methods {
		if m.Declarer == d {
			out = append(out, m)
		}
	}
	return out
}

// matches reports whether id names d, either by simple or qualified name.
func (d *InterfaceDescriptor) matches(id string) bool {
	return id == d.Name || id == d.QualifiedName()
}

var contextType = reflect.TypeFor[context.Context]()

func isContext(t reflect.Type) bool {
	return t != nil && (t == contextType || t.Implements(contextType))
}

// escapeMarker lets parameters be named after reserved words, e.g. _type or _int.
const escapeMarker = "_"

func isReservedWord(s string) bool {
	return token.IsKeyword(s) || types.Universe.Lookup(s) != nil
}

func escapedReserved(name string) bool {
	rest, ok := strings.CutPrefix(name, escapeMarker)
	return ok && isReservedWord(rest)
}

func unescapeName(name string) string {
	if escapedReserved(name) {
		return strings.TrimPrefix(name, escapeMarker)
	}
	return name
}

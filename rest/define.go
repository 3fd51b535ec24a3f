package rest

import (
	"fmt"
	"net/http"
	"reflect"
	"strings"
)

// InterfaceBuilder collects the declaration of a service interface.
//
//	users := rest.Interface("Users").Method(
//		rest.GET("GetUser", "/users/{name}").
//			Param(rest.Arg[context.Context]("ctx"), rest.Arg[string]("name")).
//			Returns(rest.ShapeValue, reflect.TypeFor[User]()),
//	).MustBuild()
type InterfaceBuilder struct {
	name       string
	namespace  string
	headers    http.Header
	extends    []*InterfaceDescriptor
	disposable bool
	typeParams []TypeParam
	methods    []*MethodBuilder
}

// Interface starts the declaration of an interface.
func Interface(name string) *InterfaceBuilder {
	return &InterfaceBuilder{name: name, headers: http.Header{}}
}

// In sets the namespace. Without it the interface lives in DefaultNamespace.
func (b *InterfaceBuilder) In(namespace string) *InterfaceBuilder {
	b.namespace = namespace
	return b
}

// Header adds a static header sent by every method of the interface.
func (b *InterfaceBuilder) Header(key, value string) *InterfaceBuilder {
	b.headers.Add(key, value)
	return b
}

// Extends inherits every method of the given interfaces.
func (b *InterfaceBuilder) Extends(bases ...*InterfaceDescriptor) *InterfaceBuilder {
	b.extends = append(b.extends, bases...)
	return b
}

// Disposable makes Adapter.Close close the transport.
func (b *InterfaceBuilder) Disposable() *InterfaceBuilder {
	b.disposable = true
	return b
}

// TypeParam declares an interface-level type parameter.
func (b *InterfaceBuilder) TypeParam(name string, c Constraint) *InterfaceBuilder {
	b.typeParams = append(b.typeParams, TypeParam{Name: name, Constraint: c})
	return b
}

// Method adds methods to the interface.
func (b *InterfaceBuilder) Method(ms ...*MethodBuilder) *InterfaceBuilder {
	b.methods = append(b.methods, ms...)
	return b
}

// MustBuild is Build that panics on error.
func (b *InterfaceBuilder) MustBuild() *InterfaceDescriptor {
	d, err := b.Build()
	if err != nil {
		panic(err)
	}
	return d
}

// MethodBuilder collects the declaration of one method.
type MethodBuilder struct {
	name       string
	verb       Verb
	template   string
	params     []*ParamBuilder
	shape      Shape
	result     TypeRef
	typeParams []TypeParam
	headers    http.Header
}

// NewMethod declares a method with an arbitrary verb.
func NewMethod(verb Verb, name, template string) *MethodBuilder {
	return &MethodBuilder{name: name, verb: verb, template: template, headers: http.Header{}}
}

func GET(name, template string) *MethodBuilder     { return NewMethod(VerbGet, name, template) }
func POST(name, template string) *MethodBuilder    { return NewMethod(VerbPost, name, template) }
func PUT(name, template string) *MethodBuilder     { return NewMethod(VerbPut, name, template) }
func DELETE(name, template string) *MethodBuilder  { return NewMethod(VerbDelete, name, template) }
func PATCH(name, template string) *MethodBuilder   { return NewMethod(VerbPatch, name, template) }
func HEAD(name, template string) *MethodBuilder    { return NewMethod(VerbHead, name, template) }
func OPTIONS(name, template string) *MethodBuilder { return NewMethod(VerbOptions, name, template) }

// Param appends parameters in declaration order.
func (m *MethodBuilder) Param(ps ...*ParamBuilder) *MethodBuilder {
	m.params = append(m.params, ps...)
	return m
}

// Header adds a static header.
func (m *MethodBuilder) Header(key, value string) *MethodBuilder {
	if m.headers == nil {
		m.headers = http.Header{}
	}
	m.headers.Add(key, value)
	return m
}

// Returns sets the result shape and type. The type is ignored for ShapeNone and ShapeRaw.
func (m *MethodBuilder) Returns(shape Shape, t reflect.Type) *MethodBuilder {
	m.shape = shape
	m.result = TypeRef{Type: t}
	return m
}

// ReturnsOpen sets a result whose type is the named type parameter.
func (m *MethodBuilder) ReturnsOpen(shape Shape, typeParam string) *MethodBuilder {
	m.shape = shape
	m.result = TypeRef{Param: typeParam}
	return m
}

// TypeParam declares a method-level type parameter.
func (m *MethodBuilder) TypeParam(name string, c Constraint) *MethodBuilder {
	m.typeParams = append(m.typeParams, TypeParam{Name: name, Constraint: c})
	return m
}

// ParamBuilder collects the declaration of one parameter.
type ParamBuilder struct {
	p ParameterDescriptor
}

// Arg declares a parameter of type T.
func Arg[T any](name string) *ParamBuilder {
	return ArgOf(name, reflect.TypeFor[T]())
}

// ArgOf declares a parameter of type t.
func ArgOf(name string, t reflect.Type) *ParamBuilder {
	return &ParamBuilder{p: ParameterDescriptor{Name: name, Type: TypeRef{Type: t}}}
}

// OpenArg declares a parameter typed by a type parameter.
func OpenArg(name, typeParam string) *ParamBuilder {
	return &ParamBuilder{p: ParameterDescriptor{Name: name, Type: TypeRef{Param: typeParam}}}
}

// Body marks the parameter as the buffered request body.
func (p *ParamBuilder) Body() *ParamBuilder {
	p.p.Role = RoleBody
	p.p.BodyMode = BodyBuffered
	return p
}

// BodyStreamed marks the parameter as a body handed to the transport as a stream.
func (p *ParamBuilder) BodyStreamed() *ParamBuilder {
	p.p.Role = RoleBody
	p.p.BodyMode = BodyStreamed
	return p
}

func (p *ParamBuilder) Query() *ParamBuilder {
	p.p.Role = RoleQuery
	return p
}

func (p *ParamBuilder) Path() *ParamBuilder {
	p.p.Role = RolePath
	return p
}

// Header sends the parameter as the named header. Map values add one header per entry.
func (p *ParamBuilder) Header(name string) *ParamBuilder {
	p.p.Role = RoleHeader
	p.p.HeaderName = name
	return p
}

// Alias overrides the name used on the wire.
func (p *ParamBuilder) Alias(alias string) *ParamBuilder {
	p.p.Alias = alias
	return p
}

// Expand spreads a struct or map query parameter over one key per property.
func (p *ParamBuilder) Expand() *ParamBuilder {
	if p.p.Role == RoleAuto {
		p.p.Role = RoleQuery
	}
	p.p.Expand = true
	return p
}

// Attachment sends the parameter as a multipart part.
func (p *ParamBuilder) Attachment(part string) *ParamBuilder {
	p.p.Role = RoleAttachment
	p.p.PartName = part
	return p
}

// Build validates the declaration and produces the immutable descriptor.
func (b *InterfaceBuilder) Build() (*InterfaceDescriptor, error) {
	d := &InterfaceDescriptor{
		Namespace:  b.namespace,
		Name:       b.name,
		TypeParams: append([]TypeParam(nil), b.typeParams...),
		Extends:    append([]*InterfaceDescriptor(nil), b.extends...),
		Disposable: b.disposable,
		Headers:    b.headers.Clone(),
		depth:      map[*MethodDescriptor]int{},
		index:      map[string][]*MethodDescriptor{},
	}
	if d.Namespace == "" {
		d.Namespace = DefaultNamespace
	}
	fail := func(method string, err error, format string, args ...any) error {
		return &DefinitionError{Interface: d.QualifiedName(), Method: method, Err: err, Detail: fmt.Sprintf(format, args...)}
	}
	if d.Name == "" {
		return nil, fail("", ErrInvalidParameter, "interface name is empty")
	}
	if err := checkTypeParams(d.TypeParams, nil); err != nil {
		return nil, fail("", err, "")
	}

	seen := map[string]bool{}
	for _, mb := range b.methods {
		m, err := mb.build(d)
		if err != nil {
			return nil, err
		}
		id := m.Name + m.signature
		if seen[id] {
			return nil, fail(m.Name, ErrDuplicateMethod, "signature %s declared twice", m.signature)
		}
		seen[id] = true
		d.add(m, 0)
	}

	for _, base := range d.Extends {
		if base == nil {
			return nil, fail("", ErrInvalidParameter, "nil base interface")
		}
		for _, m := range base.Methods {
			d.add(m, base.depth[m]+1)
		}
	}

	if err := d.checkAmbiguity(); err != nil {
		return nil, err
	}
	d.buildIndex()
	return d, nil
}

func (d *InterfaceDescriptor) add(m *MethodDescriptor, depth int) {
	if prev, ok := d.depth[m]; ok {
		if depth < prev {
			d.depth[m] = depth
		}
		return
	}
	d.depth[m] = depth
	d.Methods = append(d.Methods, m)
}

// checkAmbiguity rejects same-named methods from different declarers that
// take the same parameters but disagree on result type or shape. Differing
// parameter lists coexist as overloads, told apart by Call.Interface and the
// call signature.
func (d *InterfaceDescriptor) checkAmbiguity() error {
	byName := map[string][]*MethodDescriptor{}
	for _, m := range d.Methods {
		byName[m.Name] = append(byName[m.Name], m)
	}
	for _, m := range d.Methods {
		for _, other := range byName[m.Name] {
			if other.Declarer == m.Declarer || other.signature != m.signature {
				continue
			}
			if !sameContract(m, other) {
				return &DefinitionError{
					Interface: d.QualifiedName(),
					Method:    m.Name,
					Err:       ErrAmbiguousMethod,
					Detail:    fmt.Sprintf("%s conflicts with %s", m.ID(), other.ID()),
				}
			}
		}
	}
	return nil
}

func sameContract(a, b *MethodDescriptor) bool {
	return a.signature == b.signature && a.Shape == b.Shape && a.Result.id() == b.Result.id()
}

func (d *InterfaceDescriptor) buildIndex() {
	for _, m := range d.Methods {
		d.index[m.Name] = append(d.index[m.Name], m)
	}
	for _, ms := range d.index {
		// stable insertion sort by depth keeps declaration order among equals
		for i := 1; i < len(ms); i++ {
			for j := i; j > 0 && d.depth[ms[j]] < d.depth[ms[j-1]]; j-- {
				ms[j], ms[j-1] = ms[j-1], ms[j]
			}
		}
	}
}

func checkTypeParams(own, outer []TypeParam) error {
	names := map[string]bool{}
	for _, tp := range outer {
		names[tp.Name] = true
	}
	for _, tp := range own {
		if tp.Name == "" || names[tp.Name] {
			return fmt.Errorf("%w: type parameter %q is empty or declared twice", ErrInvalidParameter, tp.Name)
		}
		names[tp.Name] = true
		if !tp.Constraint.supported() {
			return fmt.Errorf("%w: %s %s", ErrUnsupportedConstraint, tp.Name, tp.Constraint)
		}
	}
	return nil
}

func (mb *MethodBuilder) build(d *InterfaceDescriptor) (*MethodDescriptor, error) {
	m := &MethodDescriptor{
		Name:       mb.name,
		Declarer:   d,
		Verb:       Verb(strings.ToUpper(string(mb.verb))),
		Template:   mb.template,
		Shape:      mb.shape,
		Result:     mb.result,
		TypeParams: append([]TypeParam(nil), mb.typeParams...),
		Headers:    mb.headers.Clone(),
	}
	fail := func(err error, format string, args ...any) error {
		return &DefinitionError{Interface: d.QualifiedName(), Method: m.Name, Err: err, Detail: fmt.Sprintf(format, args...)}
	}

	if m.Name == "" {
		return nil, fail(ErrInvalidParameter, "method name is empty")
	}
	if !m.Verb.Valid() {
		return nil, fail(ErrInvalidVerb, "%q", mb.verb)
	}
	if err := checkTypeParams(m.TypeParams, d.TypeParams); err != nil {
		return nil, fail(err, "")
	}
	if m.Shape == ShapeNone || m.Shape == ShapeRaw {
		m.Result = TypeRef{}
	}
	if m.Result.IsOpen() {
		if _, ok := m.typeParam(m.Result.Param); !ok {
			return nil, fail(ErrUnknownTypeParam, "result type %s", m.Result.Param)
		}
	} else if (m.Shape == ShapeValue || m.Shape == ShapeWrapped || m.Shape == ShapeStream) && m.Result.Type == nil {
		return nil, fail(ErrInvalidParameter, "shape %s needs a result type", m.Shape)
	}

	segments, placeholders, err := parseTemplate(m.Template)
	if err != nil {
		return nil, fail(ErrInvalidTemplate, "%v", err)
	}

	refs := make([]TypeRef, 0, len(mb.params))
	bodies := 0
	for _, pb := range mb.params {
		p := pb.p
		if p.Name == "" {
			return nil, fail(ErrInvalidParameter, "parameter without a name")
		}
		if p.Type.IsOpen() {
			if _, ok := m.typeParam(p.Type.Param); !ok {
				return nil, fail(ErrUnknownTypeParam, "parameter %s uses %s", p.Name, p.Type.Param)
			}
		} else if p.Type.Type == nil {
			return nil, fail(ErrInvalidParameter, "parameter %s has no type", p.Name)
		}
		p.Reserved = escapedReserved(p.Name)
		inferRole(&p, placeholders)

		switch p.Role {
		case RoleBody:
			bodies++
		case RoleHeader:
			if p.HeaderName == "" {
				return nil, fail(ErrInvalidParameter, "header parameter %s has no header name", p.Name)
			}
		case RoleAttachment:
			if p.PartName == "" {
				p.PartName = p.WireName()
			}
			if !p.Type.IsOpen() && !attachable(p.Type.Type) {
				return nil, fail(ErrInvalidParameter, "attachment %s must be []byte, string or io.Reader, got %s", p.Name, p.Type)
			}
		case RoleQuery:
			if !p.Type.IsOpen() && expandable(p.Type.Type) {
				p.Expand = true
			}
		}
		m.Params = append(m.Params, &p)
		refs = append(refs, p.Type)
	}
	if bodies > 1 {
		return nil, fail(ErrMultipleBodies, "%d parameters marked as body", bodies)
	}
	m.signature = refsSignature(refs)

	// every placeholder needs exactly one path parameter and every path parameter a placeholder
	for i := range segments {
		seg := &segments[i]
		if !seg.placeholder {
			continue
		}
		seg.param = -1
		for j, p := range m.Params {
			if p.Role == RolePath && p.matchesPlaceholder(seg.text) {
				seg.param = j
				break
			}
		}
		if seg.param < 0 {
			return nil, fail(ErrUnresolvedPlaceholder, "{%s} in %q", seg.text, m.Template)
		}
	}
	for _, p := range m.Params {
		if p.Role == RolePath && !p.inTemplate(placeholders) {
			return nil, fail(ErrUnresolvedPlaceholder, "path parameter %s has no placeholder in %q", p.Name, m.Template)
		}
	}
	m.segments = segments
	return m, nil
}

// inferRole fills in the role of a parameter declared without one.
func inferRole(p *ParameterDescriptor, placeholders map[string]bool) {
	if p.Role != RoleAuto {
		return
	}
	switch {
	case !p.Type.IsOpen() && isContext(p.Type.Type):
		p.Role = RoleCancellation
	case p.inTemplate(placeholders):
		p.Role = RolePath
	default:
		p.Role = RoleQuery
	}
}

// matchesPlaceholder compares a placeholder with the alias and the unescaped
// name, ignoring case.
func (p *ParameterDescriptor) matchesPlaceholder(name string) bool {
	if p.Alias != "" && strings.EqualFold(p.Alias, name) {
		return true
	}
	return strings.EqualFold(unescapeName(p.Name), name)
}

func (p *ParameterDescriptor) inTemplate(placeholders map[string]bool) bool {
	if p.Alias != "" && placeholders[strings.ToLower(p.Alias)] {
		return true
	}
	return placeholders[strings.ToLower(unescapeName(p.Name))]
}

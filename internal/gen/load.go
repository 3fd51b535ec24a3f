package gen

import (
	"context"
	"errors"
	"fmt"
	"go/ast"
	"go/token"
	"go/types"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/T-Prohmpossadhorn/go-rest/logger"
	"github.com/T-Prohmpossadhorn/go-rest/rest"
	"golang.org/x/tools/go/packages"
)

const restPath = "github.com/T-Prohmpossadhorn/go-rest/rest"

// Load type-checks the packages matched by patterns, relative to dir, and
// extracts their //rest:interface declarations. Packages without any are
// left out.
func Load(ctx context.Context, dir string, env []string, patterns ...string) ([]*Package, error) {
	cfg := &packages.Config{
		Context: ctx,
		Mode: packages.NeedName |
			packages.NeedFiles |
			packages.NeedSyntax |
			packages.NeedTypes |
			packages.NeedTypesInfo |
			packages.NeedImports,
		Dir: dir,
		Env: env,
	}
	pkgs, err := packages.Load(cfg, patterns...)
	if err != nil {
		return nil, fmt.Errorf("load packages: %w", err)
	}

	var errs []error
	for _, p := range pkgs {
		for _, e := range p.Errors {
			errs = append(errs, e)
		}
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}

	var out []*Package
	for _, p := range pkgs {
		pkg, err := extract(p)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if len(pkg.Interfaces) == 0 {
			continue
		}
		logger.Debug(ctx, "Package loaded",
			logger.String("package", pkg.Path),
			logger.Int("interfaces", len(pkg.Interfaces)))
		out = append(out, pkg)
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return out, nil
}

type extractor struct {
	p         *packages.Package
	pkg       *Package
	annotated map[string]*Interface
}

type declared struct {
	iface *Interface
	spec  *ast.TypeSpec
	doc   *ast.CommentGroup
}

func extract(p *packages.Package) (*Package, error) {
	pkg := &Package{Name: p.Name, Path: p.PkgPath, imports: map[string]string{}}
	if len(p.GoFiles) > 0 {
		pkg.Dir = filepath.Dir(p.GoFiles[0])
	}
	x := &extractor{p: p, pkg: pkg, annotated: map[string]*Interface{}}

	// Names first so embedded interfaces resolve regardless of declaration order.
	var decls []declared
	for _, file := range p.Syntax {
		for _, decl := range file.Decls {
			gd, ok := decl.(*ast.GenDecl)
			if !ok || gd.Tok != token.TYPE {
				continue
			}
			for _, spec := range gd.Specs {
				ts := spec.(*ast.TypeSpec)
				if _, ok := ts.Type.(*ast.InterfaceType); !ok {
					continue
				}
				doc := ts.Doc
				if doc == nil && len(gd.Specs) == 1 {
					doc = gd.Doc
				}
				if !hasDirective(doc, "interface") {
					continue
				}
				iface := &Interface{Name: ts.Name.Name}
				x.annotated[iface.Name] = iface
				decls = append(decls, declared{iface: iface, spec: ts, doc: doc})
			}
		}
	}

	var errs []error
	for _, d := range decls {
		if err := x.fill(d); err != nil {
			errs = append(errs, fmt.Errorf("%s: %s: %w", x.position(d.spec.Pos()), d.iface.Name, err))
			continue
		}
		pkg.Interfaces = append(pkg.Interfaces, d.iface)
	}
	return pkg, errors.Join(errs...)
}

func (x *extractor) position(pos token.Pos) token.Position {
	return x.p.Fset.Position(pos)
}

// qualifier records imports used by emitted type expressions.
func (x *extractor) qualifier(p *types.Package) string {
	switch p.Path() {
	case x.pkg.Path:
		return ""
	case restPath, "context", "reflect":
		return p.Name()
	}
	if name, ok := x.pkg.imports[p.Path()]; ok {
		return name
	}
	name := p.Name()
	for n := 2; x.nameTaken(name); n++ {
		name = p.Name() + strconv.Itoa(n)
	}
	x.pkg.imports[p.Path()] = name
	return name
}

func (x *extractor) nameTaken(name string) bool {
	if name == "rest" || name == "context" || name == "reflect" {
		return true
	}
	for _, n := range x.pkg.imports {
		if n == name {
			return true
		}
	}
	return false
}

func (x *extractor) typeString(t types.Type) string {
	return types.TypeString(t, x.qualifier)
}

func (x *extractor) fill(d declared) error {
	iface := d.iface
	for _, dir := range directives(d.doc) {
		switch dir.name {
		case "interface":
		case "namespace":
			if err := dir.want(1, 1); err != nil {
				return err
			}
			iface.Namespace = dir.args[0]
		case "disposable":
			iface.Disposable = true
		case "header":
			h, err := dir.header()
			if err != nil {
				return err
			}
			iface.Headers = append(iface.Headers, h)
		default:
			return fmt.Errorf("%w: rest:%s", ErrUnknownDirective, dir.name)
		}
	}

	named, ok := x.p.TypesInfo.Defs[d.spec.Name].Type().(*types.Named)
	if !ok {
		return fmt.Errorf("%w: not a named type", ErrUnsupportedEmbed)
	}
	if tps := named.TypeParams(); tps != nil {
		for i := 0; i < tps.Len(); i++ {
			tp, err := x.typeParam(tps.At(i))
			if err != nil {
				return err
			}
			iface.TypeParams = append(iface.TypeParams, tp)
		}
	}

	it := d.spec.Type.(*ast.InterfaceType)
	for _, field := range it.Methods.List {
		if len(field.Names) == 0 {
			if err := x.embed(iface, field); err != nil {
				return err
			}
			continue
		}
		fn, ok := x.p.TypesInfo.Defs[field.Names[0]].(*types.Func)
		if !ok {
			continue
		}
		m, err := x.method(iface, fn, field.Doc)
		if err != nil {
			return fmt.Errorf("%s: %w", fn.Name(), err)
		}
		iface.Methods = append(iface.Methods, m)
	}
	return nil
}

func (x *extractor) embed(iface *Interface, field *ast.Field) error {
	t := x.p.TypesInfo.TypeOf(field.Type)
	named, ok := t.(*types.Named)
	if !ok || named.Obj().Pkg() == nil {
		return fmt.Errorf("%w: %s", ErrUnsupportedEmbed, types.TypeString(t, nil))
	}
	obj := named.Obj()
	if obj.Pkg().Path() == "io" && obj.Name() == "Closer" {
		iface.Disposable = true
		return nil
	}
	if base, ok := x.annotated[obj.Name()]; ok && obj.Pkg().Path() == x.pkg.Path && named.TypeArgs() == nil {
		iface.Extends = append(iface.Extends, base)
		return nil
	}
	return fmt.Errorf("%w: %s is not an annotated interface of this package", ErrUnsupportedEmbed, obj.Name())
}

func (x *extractor) typeParam(tp *types.TypeParam) (TypeParam, error) {
	name := tp.Obj().Name()
	c := tp.Constraint()
	out := TypeParam{Name: name, Bound: x.typeString(c)}
	switch {
	case types.Identical(c, types.Universe.Lookup("comparable").Type()):
		out.Constraint = "rest.Comparable"
		return out, nil
	case types.Identical(c, types.Universe.Lookup("any").Type()):
		out.Constraint = "rest.Any"
		out.Bound = "any"
		return out, nil
	}
	iface, ok := c.Underlying().(*types.Interface)
	if !ok {
		return TypeParam{}, fmt.Errorf("%w: %s %s", rest.ErrUnsupportedConstraint, name, out.Bound)
	}
	if iface.Empty() {
		out.Constraint = "rest.Any"
		return out, nil
	}
	if _, named := c.(*types.Named); !named || !iface.IsMethodSet() {
		return TypeParam{}, fmt.Errorf("%w: %s %s", rest.ErrUnsupportedConstraint, name, out.Bound)
	}
	out.Constraint = "rest.Implements[" + out.Bound + "]()"
	return out, nil
}

func (x *extractor) method(iface *Interface, fn *types.Func, doc *ast.CommentGroup) (*Method, error) {
	sig := fn.Type().(*types.Signature)
	if sig.Variadic() {
		return nil, fmt.Errorf("%w: variadic", ErrUnsupportedType)
	}
	m := &Method{Name: fn.Name(), Declarer: iface}

	byName := map[string]*Param{}
	for i := 0; i < sig.Params().Len(); i++ {
		v := sig.Params().At(i)
		p := &Param{Name: v.Name()}
		if p.Name == "" || p.Name == "_" {
			p.Name = "arg" + strconv.Itoa(i)
		}
		if tp, ok := v.Type().(*types.TypeParam); ok {
			p.Open = true
			p.Type = tp.Obj().Name()
		} else {
			if hasTypeParam(v.Type()) {
				return nil, fmt.Errorf("%w: %s %s", ErrUnsupportedType, p.Name, x.typeString(v.Type()))
			}
			p.Type = x.typeString(v.Type())
		}
		m.Params = append(m.Params, p)
		byName[p.Name] = p
	}
	if err := x.results(m, sig.Results()); err != nil {
		return nil, err
	}

	lookup := func(d directive) (*Param, error) {
		p, ok := byName[d.args[0]]
		if !ok {
			return nil, fmt.Errorf("%w: rest:%s %s", ErrUnknownParam, d.name, d.args[0])
		}
		return p, nil
	}
	for _, d := range directives(doc) {
		if v, err := rest.ParseVerb(d.name); err == nil && d.name == string(v) {
			if m.Verb != "" {
				return nil, fmt.Errorf("%w: second verb %s", ErrMalformedDirective, d.name)
			}
			if err := d.want(1, 1); err != nil {
				return nil, err
			}
			m.Verb, m.Template = v, d.args[0]
			continue
		}
		var err error
		switch d.name {
		case "header":
			var h Header
			if h, err = d.header(); err == nil {
				m.Headers = append(m.Headers, h)
			}
		case "body":
			err = x.param(d, 1, 2, lookup, func(p *Param) error {
				p.Body = true
				if len(d.args) == 2 {
					if d.args[1] != "streamed" {
						return fmt.Errorf("%w: rest:body mode %q", ErrMalformedDirective, d.args[1])
					}
					p.Streamed = true
				}
				return nil
			})
		case "header-param":
			err = x.param(d, 2, 2, lookup, func(p *Param) error {
				p.HeaderName = d.args[1]
				return nil
			})
		case "alias":
			err = x.param(d, 2, 2, lookup, func(p *Param) error {
				p.Alias = d.args[1]
				return nil
			})
		case "query-expand":
			err = x.param(d, 1, 1, lookup, func(p *Param) error {
				p.Expand = true
				return nil
			})
		case "attachment":
			err = x.param(d, 1, 2, lookup, func(p *Param) error {
				p.PartName = p.Name
				if len(d.args) == 2 {
					p.PartName = d.args[1]
				}
				return nil
			})
		default:
			err = fmt.Errorf("%w: rest:%s", ErrUnknownDirective, d.name)
		}
		if err != nil {
			return nil, err
		}
	}
	if m.Verb == "" {
		return nil, ErrNoVerb
	}
	if err := checkPlaceholders(m); err != nil {
		return nil, err
	}
	return m, nil
}

func (x *extractor) param(d directive, min, max int, lookup func(directive) (*Param, error), apply func(*Param) error) error {
	if err := d.want(min, max); err != nil {
		return err
	}
	p, err := lookup(d)
	if err != nil {
		return err
	}
	return apply(p)
}

// results maps the Go result list onto a shape:
//
//	error                      none
//	*rest.Observable[T]        stream
//	(*rest.Envelope, error)    raw
//	(*rest.Response[T], error) wrapped
//	(T, error)                 value
func (x *extractor) results(m *Method, res *types.Tuple) error {
	set := func(shape rest.Shape, t types.Type) {
		m.Shape = shape
		if tp, ok := t.(*types.TypeParam); ok {
			m.ResultOpen = true
			m.Result = tp.Obj().Name()
			return
		}
		m.Result = x.typeString(t)
	}
	switch res.Len() {
	case 1:
		t := res.At(0).Type()
		if isError(t) {
			m.Shape = rest.ShapeNone
			return nil
		}
		if arg, ok := restGeneric(t, "Observable"); ok {
			set(rest.ShapeStream, arg)
			return nil
		}
	case 2:
		if !isError(res.At(1).Type()) {
			break
		}
		t := res.At(0).Type()
		if isRestType(t, "Envelope") {
			m.Shape = rest.ShapeRaw
			return nil
		}
		if arg, ok := restGeneric(t, "Response"); ok {
			set(rest.ShapeWrapped, arg)
			return nil
		}
		if hasTypeParam(t) {
			if _, ok := t.(*types.TypeParam); !ok {
				return fmt.Errorf("%w: %s", ErrUnsupportedType, x.typeString(t))
			}
		}
		set(rest.ShapeValue, t)
		return nil
	}
	return fmt.Errorf("%w: %s", ErrUnsupportedResult, types.TypeString(res, nil))
}

func isError(t types.Type) bool {
	return types.Identical(t, types.Universe.Lookup("error").Type())
}

// isRestType matches *rest.<name>.
func isRestType(t types.Type, name string) bool {
	ptr, ok := t.(*types.Pointer)
	if !ok {
		return false
	}
	named, ok := ptr.Elem().(*types.Named)
	if !ok || named.Obj().Pkg() == nil {
		return false
	}
	return named.Obj().Pkg().Path() == restPath && named.Obj().Name() == name
}

// restGeneric matches *rest.<name>[T] and returns T.
func restGeneric(t types.Type, name string) (types.Type, bool) {
	if !isRestType(t, name) {
		return nil, false
	}
	args := t.(*types.Pointer).Elem().(*types.Named).TypeArgs()
	if args == nil || args.Len() != 1 {
		return nil, false
	}
	return args.At(0), true
}

func hasTypeParam(t types.Type) bool {
	switch t := t.(type) {
	case *types.TypeParam:
		return true
	case *types.Pointer:
		return hasTypeParam(t.Elem())
	case *types.Slice:
		return hasTypeParam(t.Elem())
	case *types.Array:
		return hasTypeParam(t.Elem())
	case *types.Chan:
		return hasTypeParam(t.Elem())
	case *types.Map:
		return hasTypeParam(t.Key()) || hasTypeParam(t.Elem())
	case *types.Named:
		if args := t.TypeArgs(); args != nil {
			for i := 0; i < args.Len(); i++ {
				if hasTypeParam(args.At(i)) {
					return true
				}
			}
		}
	}
	return false
}

// checkPlaceholders reports template placeholders no parameter can fill.
func checkPlaceholders(m *Method) error {
	tail := m.Template
	for {
		start := strings.IndexByte(tail, '{')
		end := strings.IndexByte(tail, '}')
		if start < 0 {
			if end >= 0 {
				return fmt.Errorf("%w: %q", rest.ErrInvalidTemplate, m.Template)
			}
			return nil
		}
		if end < start {
			return fmt.Errorf("%w: %q", rest.ErrInvalidTemplate, m.Template)
		}
		name := tail[start+1 : end]
		if name == "" || !fillable(m, name) {
			return fmt.Errorf("%w: {%s} in %q", rest.ErrUnresolvedPlaceholder, name, m.Template)
		}
		tail = tail[end+1:]
	}
}

func fillable(m *Method, name string) bool {
	for _, p := range m.Params {
		if p.Body || p.HeaderName != "" || p.PartName != "" {
			continue
		}
		if strings.EqualFold(p.Alias, name) ||
			strings.EqualFold(p.Name, name) ||
			strings.EqualFold(strings.TrimPrefix(p.Name, "_"), name) {
			return true
		}
	}
	return false
}

package gen

import (
	"bytes"
	"fmt"
	"go/token"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/T-Prohmpossadhorn/go-rest/rest"
	"github.com/iancoleman/strcase"
	"golang.org/x/tools/imports"
)

// Options controls what Generate emits.
type Options struct {
	// Swagger adds a SwaggerDocument function covering every interface.
	Swagger bool
	// Title is the document title; the package name when empty.
	Title string
}

// FileName is the default output file for a package.
func FileName(pkg *Package) string {
	return strcase.ToSnake(pkg.Name) + "_rest_gen.go"
}

type writer struct {
	buf bytes.Buffer
}

func (w *writer) W(format string, a ...any) {
	fmt.Fprintf(&w.buf, format, a...)
}

// Generate renders the descriptors and adapter types of pkg as Go source.
// Malformed output is returned together with the formatting error.
func Generate(pkg *Package, opts Options) ([]byte, error) {
	w := &writer{}
	w.W("// Code generated by restgen. DO NOT EDIT.\n\n")
	w.W("package %s\n\n", pkg.Name)
	// imports.Process drops whichever of these end up unused.
	w.W("import (\n")
	w.W("\t\"context\"\n\t\"reflect\"\n\n")
	w.W("\t%q\n", restPath)
	paths := make([]string, 0, len(pkg.imports))
	for path := range pkg.imports {
		paths = append(paths, path)
	}
	sort.Strings(paths)
	for _, path := range paths {
		w.W("\t%s %q\n", pkg.imports[path], path)
	}
	w.W(")\n")

	for _, iface := range pkg.Interfaces {
		w.descriptor(iface)
		w.client(iface)
	}
	if opts.Swagger {
		title := opts.Title
		if title == "" {
			title = pkg.Name
		}
		names := make([]string, len(pkg.Interfaces))
		for i, iface := range pkg.Interfaces {
			names[i] = descriptorName(iface)
		}
		w.W("\n// SwaggerDocument renders the OpenAPI document of the interfaces above.\n")
		w.W("func SwaggerDocument() map[string]interface{} {\n")
		w.W("\treturn rest.Swagger(%q, %s)\n}\n", title, strings.Join(names, ", "))
	}

	src := w.buf.Bytes()
	out, err := imports.Process(filepath.Join(pkg.Dir, FileName(pkg)), src, nil)
	if err != nil {
		return src, fmt.Errorf("format %s: %w", pkg.Path, err)
	}
	return out, nil
}

// Write generates pkg into name inside the package directory and returns the
// path written.
func Write(pkg *Package, name string, opts Options) (string, error) {
	if name == "" {
		name = FileName(pkg)
	}
	src, err := Generate(pkg, opts)
	if err != nil {
		return "", err
	}
	path := filepath.Join(pkg.Dir, name)
	if err := os.WriteFile(path, src, 0o644); err != nil {
		return "", fmt.Errorf("write %s: %w", path, err)
	}
	return path, nil
}

func exported(name string) bool { return token.IsExported(name) }

func descriptorName(iface *Interface) string {
	return iface.Name + "Descriptor"
}

func clientName(iface *Interface) string {
	return iface.Name + "Client"
}

func constructorName(iface *Interface) string {
	if exported(iface.Name) {
		return "New" + iface.Name + "Client"
	}
	return "new" + strcase.ToCamel(iface.Name) + "Client"
}

func verbFunc(v rest.Verb) string {
	return "rest." + string(v)
}

func (w *writer) descriptor(iface *Interface) {
	w.W("\n// %s describes %s for the rest runtime.\n", descriptorName(iface), iface.Name)
	w.W("var %s = rest.MustDefine(rest.Interface(%q)", descriptorName(iface), iface.Name)
	if iface.Namespace != "" {
		w.W(".\n\tIn(%q)", iface.Namespace)
	}
	for _, h := range iface.Headers {
		w.W(".\n\tHeader(%q, %q)", h.Key, h.Value)
	}
	if len(iface.Extends) > 0 {
		bases := make([]string, len(iface.Extends))
		for i, b := range iface.Extends {
			bases[i] = descriptorName(b)
		}
		w.W(".\n\tExtends(%s)", strings.Join(bases, ", "))
	}
	if iface.Disposable {
		w.W(".\n\tDisposable()")
	}
	for _, tp := range iface.TypeParams {
		w.W(".\n\tTypeParam(%q, %s)", tp.Name, tp.Constraint)
	}
	w.W(".\n\tMethod(\n")
	for _, m := range iface.Methods {
		w.method(m)
	}
	w.W("\t))\n")
}

func (w *writer) method(m *Method) {
	w.W("\t\t%s(%q, %q).\n", verbFunc(m.Verb), m.Name, m.Template)
	for _, h := range m.Headers {
		w.W("\t\t\tHeader(%q, %q).\n", h.Key, h.Value)
	}
	if len(m.Params) > 0 {
		w.W("\t\t\tParam(\n")
		for _, p := range m.Params {
			w.W("\t\t\t\t%s,\n", paramExpr(p))
		}
		w.W("\t\t\t).\n")
	}
	switch {
	case m.Shape == rest.ShapeNone || m.Shape == rest.ShapeRaw:
		w.W("\t\t\tReturns(rest.%s, nil),\n", shapeConst(m.Shape))
	case m.ResultOpen:
		w.W("\t\t\tReturnsOpen(rest.%s, %q),\n", shapeConst(m.Shape), m.Result)
	default:
		w.W("\t\t\tReturns(rest.%s, reflect.TypeFor[%s]()),\n", shapeConst(m.Shape), m.Result)
	}
}

func paramExpr(p *Param) string {
	var b strings.Builder
	if p.Open {
		fmt.Fprintf(&b, "rest.OpenArg(%q, %q)", p.Name, p.Type)
	} else {
		fmt.Fprintf(&b, "rest.Arg[%s](%q)", p.Type, p.Name)
	}
	switch {
	case p.Body && p.Streamed:
		b.WriteString(".BodyStreamed()")
	case p.Body:
		b.WriteString(".Body()")
	case p.HeaderName != "":
		fmt.Fprintf(&b, ".Header(%q)", p.HeaderName)
	case p.PartName != "":
		fmt.Fprintf(&b, ".Attachment(%q)", p.PartName)
	}
	if p.Alias != "" {
		fmt.Fprintf(&b, ".Alias(%q)", p.Alias)
	}
	if p.Expand {
		b.WriteString(".Expand()")
	}
	return b.String()
}

func shapeConst(s rest.Shape) string {
	switch s {
	case rest.ShapeValue:
		return "ShapeValue"
	case rest.ShapeWrapped:
		return "ShapeWrapped"
	case rest.ShapeStream:
		return "ShapeStream"
	case rest.ShapeRaw:
		return "ShapeRaw"
	}
	return "ShapeNone"
}

func (w *writer) client(iface *Interface) {
	name := clientName(iface)
	decl, use := name, name
	if iface.Generic() {
		params := make([]string, len(iface.TypeParams))
		names := make([]string, len(iface.TypeParams))
		for i, tp := range iface.TypeParams {
			params[i] = tp.Name + " " + tp.Bound
			names[i] = tp.Name
		}
		decl = name + "[" + strings.Join(params, ", ") + "]"
		use = name + "[" + strings.Join(names, ", ") + "]"
	}

	w.W("\n// %s implements %s on top of a rest.Adapter.\n", name, iface.Name)
	w.W("type %s struct {\n\t*rest.Adapter\n}\n", decl)

	ctor := constructorName(iface)
	typeParams := strings.TrimPrefix(decl, name)
	w.W("\n// %s returns a %s sending through t.\n", ctor, name)
	w.W("func %s%s(t rest.Transport, opts ...rest.Option) *%s {\n", ctor, typeParams, use)
	w.W("\treturn &%s{Adapter: rest.NewAdapter(%s, t, rest.DefaultResolver, opts...)}\n}\n", use, descriptorName(iface))

	if !iface.Generic() {
		w.W("\nvar _ %s = (*%s)(nil)\n", iface.Name, name)
	}
	for _, m := range iface.All() {
		w.wrapper(use, m)
	}
}

func (w *writer) wrapper(client string, m *Method) {
	recv := receiver(m)
	params := make([]string, len(m.Params))
	args := make([]string, len(m.Params))
	sig := make([]string, len(m.Params))
	for i, p := range m.Params {
		params[i] = p.Name + " " + p.Type
		args[i] = p.Name
		sig[i] = "reflect.TypeFor[" + p.Type + "]()"
	}

	var results, call string
	switch m.Shape {
	case rest.ShapeNone:
		results, call = "error", "rest.Send"
	case rest.ShapeRaw:
		results, call = "(*rest.Envelope, error)", "rest.Raw"
	case rest.ShapeWrapped:
		results, call = "(*rest.Response["+m.Result+"], error)", "rest.Wrapped["+m.Result+"]"
	case rest.ShapeStream:
		results, call = "*rest.Observable["+m.Result+"]", "rest.Stream["+m.Result+"]"
	default:
		results, call = "("+m.Result+", error)", "rest.Value["+m.Result+"]"
	}

	w.W("\nfunc (%s *%s) %s(%s) %s {\n", recv, client, m.Name, strings.Join(params, ", "), results)
	w.W("\treturn %s(%s.Adapter, rest.Call{\n", call, recv)
	w.W("\t\tInterface: %q,\n", m.Declarer.QualifiedName())
	w.W("\t\tMethod:    %q,\n", m.Name)
	w.W("\t\tSignature: rest.Sig(%s),\n", strings.Join(sig, ", "))
	w.W("\t\tArgs:      []any{%s},\n", strings.Join(args, ", "))
	w.W("\t})\n}\n")
}

// receiver picks a receiver name no parameter shadows.
func receiver(m *Method) string {
	taken := map[string]bool{}
	for _, p := range m.Params {
		taken[p.Name] = true
	}
	name := "c"
	for n := 2; taken[name]; n++ {
		name = "c" + strconv.Itoa(n)
	}
	return name
}

package rest

import (
	"reflect"
	"strconv"
	"strings"
)

// Signature is an ordered parameter type tuple. A nil entry stands for an
// untyped nil argument.
type Signature []reflect.Type

// Sig builds a Signature.
func Sig(types ...reflect.Type) Signature { return Signature(types) }

// SigOf derives a Signature from argument values.
func SigOf(args []any) Signature {
	sig := make(Signature, len(args))
	for i, a := range args {
		if a != nil {
			sig[i] = reflect.TypeOf(a)
		}
	}
	return sig
}

func (s Signature) String() string {
	ids := make([]string, len(s))
	for i, t := range s {
		ids[i] = typeID(t)
	}
	return "(" + strings.Join(ids, ",") + ")"
}

func refsSignature(refs []TypeRef) string {
	ids := make([]string, len(refs))
	for i, r := range refs {
		ids[i] = r.id()
	}
	return "(" + strings.Join(ids, ",") + ")"
}

// typeID names a type unambiguously: named types carry their full package path.
func typeID(t reflect.Type) string {
	if t == nil {
		return "nil"
	}
	if t.Name() != "" {
		if t.PkgPath() == "" {
			return t.Name()
		}
		return t.PkgPath() + "." + t.Name()
	}
	switch t.Kind() {
	case reflect.Pointer:
		return "*" + typeID(t.Elem())
	case reflect.Slice:
		return "[]" + typeID(t.Elem())
	case reflect.Array:
		return "[" + strconv.Itoa(t.Len()) + "]" + typeID(t.Elem())
	case reflect.Map:
		return "map[" + typeID(t.Key()) + "]" + typeID(t.Elem())
	case reflect.Chan:
		return t.ChanDir().String() + " " + typeID(t.Elem())
	}
	return t.String()
}

// Key identifies a cached dispatch function. Interface is the declaring
// interface, so methods inherited through several paths share one entry
// while same-named methods of unrelated interfaces never do.
type Key struct {
	Interface *InterfaceDescriptor
	Method    string
	Signature string
	Result    string
}

func (k Key) String() string {
	return k.Interface.QualifiedName() + "." + k.Method + k.Signature + " " + k.Result
}

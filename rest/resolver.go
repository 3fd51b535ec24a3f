package rest

import (
	"context"
	"fmt"
	"net/http"
	"reflect"
	"sync"
	"sync/atomic"

	"github.com/T-Prohmpossadhorn/go-rest/codec"
	"github.com/T-Prohmpossadhorn/go-rest/logger"
)

// Call is one interface method invocation as packed by an adapter wrapper.
type Call struct {
	// Interface names the declaring interface (simple or qualified name).
	// Empty binds to the nearest declaration of Method.
	Interface string
	Method    string
	// Signature holds the declared parameter types. When nil it is derived
	// from the dynamic types of Args.
	Signature Signature
	// Args holds every argument, the context included.
	Args []any
}

func (c Call) signature() Signature {
	if c.Signature != nil {
		return c.Signature
	}
	return SigOf(c.Args)
}

type boundParam struct {
	*ParameterDescriptor
	typ    reflect.Type
	expand bool
	key    string
}

// DispatchFunc builds requests for one method with concrete types. It is a
// pure function of the method descriptor and type bindings.
type DispatchFunc struct {
	Key      Key
	Method   *MethodDescriptor
	Bindings map[string]reflect.Type
	// Result is the concrete result type, nil for ShapeNone and ShapeRaw.
	Result reflect.Type

	params      []boundParam
	cancelIdx   int
	attachments bool
}

func newDispatchFunc(key Key, m *MethodDescriptor, bindings map[string]reflect.Type, result reflect.Type) *DispatchFunc {
	f := &DispatchFunc{Key: key, Method: m, Bindings: bindings, Result: result, cancelIdx: -1}
	for i, p := range m.Params {
		t := p.Type.Type
		if p.Type.IsOpen() {
			t = bindings[p.Type.Param]
		}
		bp := boundParam{ParameterDescriptor: p, typ: t, expand: p.Expand, key: p.WireName()}
		switch p.Role {
		case RoleQuery:
			if t != nil && expandable(t) {
				bp.expand = true
			}
			if bp.expand {
				bp.key = p.Alias
			}
		case RoleCancellation:
			if f.cancelIdx < 0 {
				f.cancelIdx = i
			}
		case RoleAttachment:
			f.attachments = true
		}
		f.params = append(f.params, bp)
	}
	return f
}

// Context returns the context carried by the cancellation argument, or
// context.Background.
func (f *DispatchFunc) Context(args []any) context.Context {
	if f.cancelIdx >= 0 && f.cancelIdx < len(args) {
		if ctx, ok := args[f.cancelIdx].(context.Context); ok && ctx != nil {
			return ctx
		}
	}
	return context.Background()
}

// Build encodes args into a request.
func (f *DispatchFunc) Build(s codec.Serializer, args []any) (*Request, error) {
	if len(args) != len(f.params) {
		return nil, fmt.Errorf("%w: %s takes %d, got %d", ErrArgumentCount, f.Method.Name, len(f.params), len(args))
	}
	if s == nil {
		s = codec.Default
	}
	m := f.Method
	enc := encoder{s: s}
	req := &Request{Method: string(m.Verb), Header: http.Header{}}
	for k, vs := range m.Declarer.Headers {
		req.Header[k] = append([]string(nil), vs...)
	}
	for k, vs := range m.Headers {
		req.Header[k] = append([]string(nil), vs...)
	}

	path, err := enc.path(m.segments, m.Params, args)
	if err != nil {
		return nil, err
	}
	req.Path = path

	body := -1
	for i, p := range f.params {
		v := reflect.ValueOf(args[i])
		switch p.Role {
		case RoleQuery:
			if err := enc.query(&req.Query, p.key, v, p.expand); err != nil {
				return nil, err
			}
		case RoleHeader:
			if err := enc.header(req.Header, p.HeaderName, v); err != nil {
				return nil, err
			}
		case RoleBody:
			body = i
		}
	}

	switch {
	case f.attachments:
		err = enc.multipart(req, m.Params, args)
	case body >= 0:
		err = enc.body(req, m.Params[body], args[body])
	}
	if err != nil {
		return nil, err
	}
	if req.ContentType != "" {
		req.Header.Set("Content-Type", req.ContentType)
	}
	return req, nil
}

// Resolver caches dispatch functions. It is safe for concurrent use; two
// goroutines missing the same key may both build, and both end up with the
// entry stored first.
type Resolver struct {
	cache  sync.Map
	builds atomic.Int64
}

// NewResolver returns an empty resolver.
func NewResolver() *Resolver {
	return &Resolver{}
}

// DefaultResolver is shared by adapters created without one.
var DefaultResolver = NewResolver()

// Resolve finds the method call refers to on desc and returns its cached
// dispatch function, building it on first use. result is the type the
// caller expects back; it binds open result types.
func (r *Resolver) Resolve(desc *InterfaceDescriptor, call Call, result reflect.Type) (*DispatchFunc, error) {
	m, bindings, err := desc.find(call, result)
	if err != nil {
		return nil, err
	}

	key := Key{Interface: m.Declarer, Method: m.Name, Signature: m.signature}
	concrete := m.Result.Type
	if m.Open() {
		refs := make([]TypeRef, len(m.Params))
		for i, p := range m.Params {
			refs[i] = TypeRef{Type: bindType(p.Type, bindings)}
		}
		key.Signature = refsSignature(refs)
		concrete = bindType(m.Result, bindings)
	}
	if concrete != nil {
		key.Result = typeID(concrete)
	}

	if f, ok := r.cache.Load(key); ok {
		return f.(*DispatchFunc), nil
	}
	built := newDispatchFunc(key, m, bindings, concrete)
	r.builds.Add(1)
	f, loaded := r.cache.LoadOrStore(key, built)
	if !loaded {
		logger.Debug(context.Background(), "dispatch function built",
			logger.String("interface", m.Declarer.QualifiedName()),
			logger.String("method", m.Name),
			logger.String("signature", key.Signature))
	}
	return f.(*DispatchFunc), nil
}

// Len reports the number of cached entries.
func (r *Resolver) Len() int {
	n := 0
	r.cache.Range(func(any, any) bool {
		n++
		return true
	})
	return n
}

// Builds reports how many dispatch functions were constructed, including
// ones discarded after losing a race.
func (r *Resolver) Builds() int64 {
	return r.builds.Load()
}

// Keys lists the cached keys.
func (r *Resolver) Keys() []Key {
	var keys []Key
	r.cache.Range(func(k, _ any) bool {
		keys = append(keys, k.(Key))
		return true
	})
	return keys
}

func bindType(ref TypeRef, bindings map[string]reflect.Type) reflect.Type {
	if ref.IsOpen() {
		return bindings[ref.Param]
	}
	return ref.Type
}

func nilable(t reflect.Type) bool {
	switch t.Kind() {
	case reflect.Pointer, reflect.Interface, reflect.Slice, reflect.Map, reflect.Func, reflect.Chan:
		return true
	}
	return false
}

func assignable(actual, declared reflect.Type) bool {
	if actual == nil {
		return nilable(declared)
	}
	return actual.AssignableTo(declared)
}

// find selects the method for call: an exact closed signature first, then a
// closed signature the arguments are assignable to, then an open method whose
// type parameters can be bound. Nearer declarations win at each step.
func (d *InterfaceDescriptor) find(call Call, result reflect.Type) (*MethodDescriptor, map[string]reflect.Type, error) {
	var cands []*MethodDescriptor
	for _, m := range d.Lookup(call.Method) {
		if call.Interface == "" || m.Declarer.matches(call.Interface) {
			cands = append(cands, m)
		}
	}
	if len(cands) == 0 {
		return nil, nil, fmt.Errorf("%w: %s.%s", ErrMethodNotFound, d.QualifiedName(), call.Method)
	}
	sig := call.signature()
	if len(sig) != len(call.Args) {
		return nil, nil, fmt.Errorf("%w: signature has %d types for %d arguments", ErrArgumentCount, len(sig), len(call.Args))
	}

	sigID := sig.String()
	for _, m := range cands {
		if !m.Open() && m.signature == sigID {
			return m, nil, checkResult(m, result)
		}
	}

	arity := false
	for _, m := range cands {
		if m.Open() || len(m.Params) != len(sig) {
			continue
		}
		arity = true
		ok := true
		for i, p := range m.Params {
			if !assignable(sig[i], p.Type.Type) {
				ok = false
				break
			}
		}
		if ok {
			return m, nil, checkResult(m, result)
		}
	}

	var bindErr error
	for _, m := range cands {
		if !m.Open() || len(m.Params) != len(sig) {
			continue
		}
		arity = true
		bindings, err := bind(m, sig, result)
		if err == nil {
			return m, bindings, nil
		}
		if bindErr == nil {
			bindErr = err
		}
	}
	if bindErr != nil {
		return nil, nil, bindErr
	}
	if !arity {
		return nil, nil, fmt.Errorf("%w: %s.%s%s", ErrArgumentCount, d.QualifiedName(), call.Method, sigID)
	}
	return nil, nil, fmt.Errorf("%w: %s.%s%s", ErrMethodNotFound, d.QualifiedName(), call.Method, sigID)
}

func checkResult(m *MethodDescriptor, result reflect.Type) error {
	if result == nil || m.Result.Type == nil || result == m.Result.Type {
		return nil
	}
	return fmt.Errorf("%w: %s returns %s, caller expects %s", ErrShapeMismatch, m.ID(), m.Result.Type, result)
}

// bind unifies open parameter and result types with the call's types and
// checks constraints.
func bind(m *MethodDescriptor, sig Signature, result reflect.Type) (map[string]reflect.Type, error) {
	bindings := map[string]reflect.Type{}
	unify := func(ref TypeRef, actual reflect.Type) error {
		if !ref.IsOpen() {
			if !assignable(actual, ref.Type) {
				return fmt.Errorf("%w: %s is not assignable to %s", ErrMethodNotFound, typeID(actual), ref.Type)
			}
			return nil
		}
		if actual == nil {
			return nil
		}
		if prev, ok := bindings[ref.Param]; ok && prev != actual {
			return fmt.Errorf("%w: %s bound to both %s and %s", ErrTypeArgument, ref.Param, prev, actual)
		}
		bindings[ref.Param] = actual
		return nil
	}
	for i, p := range m.Params {
		if err := unify(p.Type, sig[i]); err != nil {
			return nil, err
		}
	}
	if m.Result.IsOpen() {
		if err := unify(m.Result, result); err != nil {
			return nil, err
		}
	} else if err := checkResult(m, result); err != nil {
		return nil, err
	}

	refs := []TypeRef{m.Result}
	for _, p := range m.Params {
		refs = append(refs, p.Type)
	}
	for _, ref := range refs {
		if !ref.IsOpen() {
			continue
		}
		t, ok := bindings[ref.Param]
		if !ok {
			return nil, fmt.Errorf("%w: cannot infer %s for %s", ErrTypeArgument, ref.Param, m.ID())
		}
		tp, _ := m.typeParam(ref.Param)
		if !tp.Constraint.Satisfied(t) {
			return nil, fmt.Errorf("%w: %s does not satisfy %s %s", ErrTypeArgument, t, ref.Param, tp.Constraint)
		}
	}
	return bindings, nil
}

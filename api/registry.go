package api

import (
	"context"
	"fmt"
	"reflect"

	"flowrpc/codec"
)

var (
	errorType = reflect.TypeOf((*error)(nil)).Elem()
	ctxType   = reflect.TypeOf((*context.Context)(nil)).Elem()
)

// Method is one resolved endpoint: a wire name bound to a callable on a
// registered API object. Immutable after Build.
type Method struct {
	name       string
	fn         reflect.Value  // bound method value
	params     []reflect.Type // parameter types after the context
	optsIndex  int            // index in params of a trailing *struct, -1 if none
	resultType reflect.Type   // nil when the method returns only error
	minVersion int
	maxVersion int
}

// Name returns the method's wire name.
func (m *Method) Name() string {
	return m.name
}

func (m *Method) servesVersion(v int) bool {
	return (m.minVersion == 0 || v >= m.minVersion) && (m.maxVersion == 0 || v <= m.maxVersion)
}

func (m *Method) overlaps(o *Method) bool {
	lowerBelow := m.minVersion == 0 || o.maxVersion == 0 || m.minVersion <= o.maxVersion
	upperAbove := m.maxVersion == 0 || o.minVersion == 0 || o.minVersion <= m.maxVersion
	return lowerBelow && upperAbove
}

// Registry maps wire names to callable endpoints. Read-only after the
// last Add, so no locking is needed during dispatch.
type Registry struct {
	methods  map[string][]*Method
	surfaces []string
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{methods: make(map[string][]*Method)}
}

// Build is a convenience wrapper over NewRegistry + Add.
func Build(objects ...Surface) (*Registry, error) {
	r := NewRegistry()
	for _, obj := range objects {
		if err := r.Add(obj); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Add scans one API object's export table and registers every listed
// method. It fails with a *RegistrationError on a missing method, a
// signature the host cannot invoke, or a wire name already registered
// for an overlapping version range.
func (r *Registry) Add(obj Surface) error {
	exports := obj.Exports()
	if len(exports) == 0 {
		return &RegistrationError{Method: SurfaceName(obj), Reason: "no exported methods"}
	}

	val := reflect.ValueOf(obj)
	for _, ex := range exports {
		name := ex.Name
		if name == "" {
			name = ex.Method
		}

		fn := val.MethodByName(ex.Method)
		if !fn.IsValid() {
			return &RegistrationError{Method: name, Reason: fmt.Sprintf("no exported method %q on %s", ex.Method, SurfaceName(obj))}
		}

		m, err := newMethod(name, fn, ex)
		if err != nil {
			return err
		}

		for _, existing := range r.methods[name] {
			if m.overlaps(existing) {
				return &RegistrationError{Method: name, Reason: "duplicate export for overlapping version range"}
			}
		}
		r.methods[name] = append(r.methods[name], m)
	}

	r.surfaces = append(r.surfaces, SurfaceName(obj))
	return nil
}

func newMethod(name string, fn reflect.Value, ex Export) (*Method, error) {
	ft := fn.Type()

	if ex.MinVersion != 0 && ex.MaxVersion != 0 && ex.MinVersion > ex.MaxVersion {
		return nil, &RegistrationError{Method: name, Reason: "inverted version range"}
	}
	if ft.IsVariadic() {
		return nil, &RegistrationError{Method: name, Reason: "variadic methods are not invocable remotely"}
	}
	if ft.NumIn() < 1 || ft.In(0) != ctxType {
		return nil, &RegistrationError{Method: name, Reason: "first parameter must be context.Context"}
	}
	if ft.NumOut() < 1 || ft.NumOut() > 2 || ft.Out(ft.NumOut()-1) != errorType {
		return nil, &RegistrationError{Method: name, Reason: "must return (result, error) or error"}
	}

	m := &Method{
		name:       name,
		fn:         fn,
		optsIndex:  -1,
		minVersion: ex.MinVersion,
		maxVersion: ex.MaxVersion,
	}
	for i := 1; i < ft.NumIn(); i++ {
		m.params = append(m.params, ft.In(i))
	}
	if n := len(m.params); n > 0 {
		last := m.params[n-1]
		if last.Kind() == reflect.Pointer && last.Elem().Kind() == reflect.Struct {
			m.optsIndex = n - 1
		}
	}
	if ft.NumOut() == 2 {
		m.resultType = ft.Out(0)
	}
	return m, nil
}

// Surfaces lists the names of the registered API objects, in
// registration order.
func (r *Registry) Surfaces() []string {
	return r.surfaces
}

// Resolve finds the endpoint for a wire name and api version.
// ErrNotFound means the name is unknown; ErrVersion means the name
// exists but no registered range covers the caller's version.
func (r *Registry) Resolve(name string, version int) (*Method, error) {
	candidates, ok := r.methods[name]
	if !ok {
		return nil, ErrNotFound
	}
	for _, m := range candidates {
		if m.servesVersion(version) {
			return m, nil
		}
	}
	return nil, ErrVersion
}

// Invoke decodes the call's arguments, invokes the bound method, and
// encodes its result.
//
// Positional values map one-to-one onto parameters. Named values bind by
// exported field name into the trailing pointer-to-struct parameter,
// which may then be omitted from the positional list. Binding failures
// return a *ArgumentError; an error from the method itself is returned
// as-is for the dispatch loop to classify.
func (m *Method) Invoke(ctx context.Context, c codec.Codec, args [][]byte, kwargs map[string][]byte) ([]byte, error) {
	want := len(m.params)
	freshOpts := false
	switch {
	case len(args) == want:
	case len(args) == want-1 && m.optsIndex == want-1:
		freshOpts = true
	default:
		return nil, &ArgumentError{msg: fmt.Sprintf("%s takes %d positional arguments, got %d", m.name, want, len(args))}
	}

	vals := make([]reflect.Value, want)
	for i, raw := range args {
		pv := reflect.New(m.params[i])
		if err := c.Decode(raw, pv.Interface()); err != nil {
			return nil, &ArgumentError{msg: fmt.Sprintf("%s: argument %d: %v", m.name, i, err)}
		}
		vals[i] = pv.Elem()
	}
	if freshOpts {
		vals[m.optsIndex] = reflect.New(m.params[m.optsIndex].Elem())
	}

	if len(kwargs) > 0 {
		if m.optsIndex < 0 {
			return nil, &ArgumentError{msg: fmt.Sprintf("%s takes no named arguments", m.name)}
		}
		opts := vals[m.optsIndex]
		if opts.IsNil() {
			opts = reflect.New(m.params[m.optsIndex].Elem())
			vals[m.optsIndex] = opts
		}
		for fieldName, raw := range kwargs {
			field := opts.Elem().FieldByName(fieldName)
			if !field.IsValid() || !field.CanSet() {
				return nil, &ArgumentError{msg: fmt.Sprintf("%s: unknown named argument %q", m.name, fieldName)}
			}
			fv := reflect.New(field.Type())
			if err := c.Decode(raw, fv.Interface()); err != nil {
				return nil, &ArgumentError{msg: fmt.Sprintf("%s: named argument %q: %v", m.name, fieldName, err)}
			}
			field.Set(fv.Elem())
		}
	}

	in := append([]reflect.Value{reflect.ValueOf(ctx)}, vals...)
	out := m.fn.Call(in)

	if errVal := out[len(out)-1]; !errVal.IsNil() {
		return nil, errVal.Interface().(error)
	}
	if m.resultType == nil {
		return nil, nil
	}
	return c.Encode(out[0].Interface())
}

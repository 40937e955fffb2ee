package client

import (
	"context"
	"fmt"
	"reflect"
	"unicode"
	"unicode/utf8"
)

var (
	errorType = reflect.TypeOf((*error)(nil)).Elem()
	ctxType   = reflect.TypeOf((*context.Context)(nil)).Elem()
)

// Bind turns a stub struct into a typed remote API surface: every
// exported func-typed field is filled with a closure that performs the
// remote call, so invoking the field is indistinguishable in calling
// convention from a local call.
//
//	type Calculator struct {
//		Add  func(ctx context.Context, a, b int) (int, error) `rpc:"add"`
//		Fail func(ctx context.Context) error                  `rpc:"fail"`
//	}
//
// The rpc tag names the wire method; absent, the field name with its
// first rune lower-cased is used, and `rpc:"-"` skips the field. Field
// signatures must take a context first and return an error last, with
// at most one value result — the same calling convention the host
// accepts.
func (c *Client) Bind(stub any) error {
	v := reflect.ValueOf(stub)
	if v.Kind() != reflect.Pointer || v.Elem().Kind() != reflect.Struct {
		return fmt.Errorf("stub must be a pointer to struct, got %T", stub)
	}

	sv := v.Elem()
	st := sv.Type()
	bound := 0
	for i := 0; i < st.NumField(); i++ {
		field := st.Field(i)
		if !field.IsExported() || field.Type.Kind() != reflect.Func {
			continue
		}
		name := field.Tag.Get("rpc")
		if name == "-" {
			continue
		}
		if name == "" {
			name = defaultWireName(field.Name)
		}

		ft := field.Type
		if err := checkStubSignature(field.Name, ft); err != nil {
			return err
		}
		sv.Field(i).Set(c.makeStub(name, ft))
		bound++
	}
	if bound == 0 {
		return fmt.Errorf("stub %T has no bindable func fields", stub)
	}
	return nil
}

func checkStubSignature(fieldName string, ft reflect.Type) error {
	if ft.IsVariadic() {
		return fmt.Errorf("stub field %s: variadic signatures are not supported", fieldName)
	}
	if ft.NumIn() < 1 || ft.In(0) != ctxType {
		return fmt.Errorf("stub field %s: first parameter must be context.Context", fieldName)
	}
	if ft.NumOut() < 1 || ft.NumOut() > 2 || ft.Out(ft.NumOut()-1) != errorType {
		return fmt.Errorf("stub field %s: must return (result, error) or error", fieldName)
	}
	return nil
}

// makeStub builds the forwarding closure for one method. The closure
// serializes its arguments, performs the exchange through the
// multiplexer, and surfaces the outcome through the field's own return
// types.
func (c *Client) makeStub(name string, ft reflect.Type) reflect.Value {
	hasResult := ft.NumOut() == 2
	return reflect.MakeFunc(ft, func(in []reflect.Value) []reflect.Value {
		ctx := in[0].Interface().(context.Context)
		args := make([]any, 0, len(in)-1)
		for _, av := range in[1:] {
			args = append(args, av.Interface())
		}

		var out []reflect.Value
		var err error
		if hasResult {
			resultPtr := reflect.New(ft.Out(0))
			err = c.call(ctx, name, resultPtr.Interface(), args, nil)
			out = append(out, resultPtr.Elem())
		} else {
			err = c.call(ctx, name, nil, args, nil)
		}

		errVal := reflect.New(errorType).Elem()
		if err != nil {
			errVal.Set(reflect.ValueOf(err))
		}
		return append(out, errVal)
	})
}

func defaultWireName(fieldName string) string {
	r, size := utf8.DecodeRuneInString(fieldName)
	return string(unicode.ToLower(r)) + fieldName[size:]
}

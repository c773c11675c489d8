package invoke

import (
	"context"
	"fmt"
	"reflect"
)

var (
	contextType  = reflect.TypeOf((*context.Context)(nil)).Elem()
	errorType    = reflect.TypeOf((*error)(nil)).Elem()
	metadataType = reflect.TypeOf((*Metadata)(nil))
)

// Param describes one parameter of a target function. Go reflection carries
// no parameter names, so names, defaults and nullability are supplied by the
// caller; Type and Variadic are filled in by Describe.
type Param struct {
	Name       string
	Type       reflect.Type
	Variadic   bool
	Untyped    bool
	Nullable   bool
	HasDefault bool
	Default    any
}

// Arg names a required parameter.
func Arg(name string) Param {
	return Param{Name: name}
}

// Optional names a parameter that falls back to def when nothing else
// resolves it.
func Optional(name string, def any) Param {
	return Param{Name: name, HasDefault: true, Default: def}
}

// Nullable names a parameter that receives its zero value when nothing else
// resolves it.
func Nullable(name string) Param {
	return Param{Name: name, Nullable: true}
}

// Function is a described target function. It is immutable once returned by
// Describe and may be invoked concurrently.
type Function struct {
	Name   string
	Params []Param

	fn         reflect.Value
	result     reflect.Type
	hasValue   bool
	hasError   bool
	ctxIndexes []int
}

// Describe reflects fn and merges the parameter descriptors into it. When no
// descriptors are given the parameters are named arg0, arg1, ... Supported
// result shapes are (), (T), (error) and (T, error).
func Describe(name string, fn any, params ...Param) (*Function, error) {
	v := reflect.ValueOf(fn)
	if !v.IsValid() || v.Kind() != reflect.Func {
		return nil, &FunctionNotSupportedError{Function: name, Reason: fmt.Sprintf("%T is not a function", fn)}
	}
	if v.IsNil() {
		return nil, &FunctionNotSupportedError{Function: name, Reason: "nil function"}
	}
	t := v.Type()
	if len(params) > 0 && len(params) != t.NumIn() {
		return nil, &FunctionNotSupportedError{
			Function: name,
			Reason:   fmt.Sprintf("%d parameter descriptors for %d parameters", len(params), t.NumIn()),
		}
	}

	f := &Function{Name: name, fn: v, Params: make([]Param, t.NumIn())}
	for i := 0; i < t.NumIn(); i++ {
		p := Param{Name: fmt.Sprintf("arg%d", i)}
		if len(params) > 0 {
			p = params[i]
			if p.Name == "" {
				p.Name = fmt.Sprintf("arg%d", i)
			}
		}
		p.Type = t.In(i)
		p.Variadic = t.IsVariadic() && i == t.NumIn()-1
		if p.Type.Kind() == reflect.Interface && p.Type.NumMethod() == 0 {
			p.Untyped = true
		}
		if p.Type == contextType {
			f.ctxIndexes = append(f.ctxIndexes, i)
		}
		f.Params[i] = p
	}

	switch t.NumOut() {
	case 0:
	case 1:
		if t.Out(0) == errorType {
			f.hasError = true
		} else {
			f.hasValue = true
			f.result = t.Out(0)
		}
	case 2:
		if t.Out(1) != errorType {
			return nil, &FunctionNotSupportedError{Function: name, Reason: "second result must be error"}
		}
		f.hasValue, f.hasError = true, true
		f.result = t.Out(0)
	default:
		return nil, &FunctionNotSupportedError{Function: name, Reason: fmt.Sprintf("%d results", t.NumOut())}
	}
	return f, nil
}

// MustDescribe is Describe that panics on error. It is meant for package level
// function tables.
func MustDescribe(name string, fn any, params ...Param) *Function {
	f, err := Describe(name, fn, params...)
	if err != nil {
		panic(err)
	}
	return f
}

// ParamNames returns the parameter names in order.
func (f *Function) ParamNames() []string {
	names := make([]string, len(f.Params))
	for i, p := range f.Params {
		names[i] = p.Name
	}
	return names
}

// ResultType returns the type of the value result, or nil when the function
// returns no value.
func (f *Function) ResultType() reflect.Type {
	return f.result
}

// Action returns the undecorated action calling f. Context parameters receive
// the context passed to the action rather than the resolved one, so
// decorators that derive a context reach the function.
func (f *Function) Action() Action {
	return func(ctx context.Context, args []any) (any, error) {
		return f.call(ctx, args)
	}
}

func (f *Function) call(ctx context.Context, args []any) (any, error) {
	if len(args) != len(f.Params) {
		return nil, &FunctionNotSupportedError{
			Function: f.Name,
			Reason:   fmt.Sprintf("called with %d arguments, want %d", len(args), len(f.Params)),
		}
	}
	in := make([]reflect.Value, len(args))
	for i, p := range f.Params {
		rv, ok := coerce(args[i], p.Type)
		if !ok {
			return nil, &ArgumentError{Function: f.Name, Parameter: p.Name, Want: p.Type, Got: args[i]}
		}
		in[i] = rv
	}
	if ctx != nil {
		for _, i := range f.ctxIndexes {
			in[i] = reflect.ValueOf(&ctx).Elem()
		}
	}

	out := f.fn.Call(in)

	var (
		result any
		err    error
	)
	if f.hasValue {
		result = out[0].Interface()
	}
	if f.hasError {
		if e := out[len(out)-1]; !e.IsNil() {
			err = e.Interface().(error)
		}
	}
	return result, err
}

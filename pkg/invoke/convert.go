package invoke

import (
	"encoding/json"
	"reflect"
)

// coerce turns v into a value of type t. Numbers convert only when the
// conversion is lossless, and decoded JSON documents (maps and slices) are
// re-decoded into structured types.
func coerce(v any, t reflect.Type) (reflect.Value, bool) {
	if v == nil {
		if nilable(t) {
			return reflect.Zero(t), true
		}
		return reflect.Value{}, false
	}
	rv := reflect.ValueOf(v)
	if rv.Type().AssignableTo(t) {
		if rv.Type() == t {
			return rv, true
		}
		out := reflect.New(t).Elem()
		out.Set(rv)
		return out, true
	}

	src := rv.Type()
	switch {
	case isNumber(src.Kind()) && isNumber(t.Kind()):
		cv := rv.Convert(t)
		// A sign flip survives the round trip between same-width integers.
		if negative(cv) != negative(rv) || cv.Convert(src).Interface() != rv.Interface() {
			return reflect.Value{}, false
		}
		return cv, true
	case isNumber(src.Kind()) && t.Kind() == reflect.String:
		return reflect.Value{}, false
	case src.Kind() == reflect.Map || src.Kind() == reflect.Slice:
		if structured(t) {
			return redecode(v, t)
		}
	}
	if src.ConvertibleTo(t) && src.Kind() != reflect.Interface {
		return rv.Convert(t), true
	}
	return reflect.Value{}, false
}

func redecode(v any, t reflect.Type) (reflect.Value, bool) {
	raw, err := json.Marshal(v)
	if err != nil {
		return reflect.Value{}, false
	}
	ptr := reflect.New(t)
	if err := json.Unmarshal(raw, ptr.Interface()); err != nil {
		return reflect.Value{}, false
	}
	return ptr.Elem(), true
}

func structured(t reflect.Type) bool {
	switch t.Kind() {
	case reflect.Struct, reflect.Map, reflect.Slice, reflect.Array:
		return true
	case reflect.Pointer:
		return structured(t.Elem())
	}
	return false
}

func nilable(t reflect.Type) bool {
	if t == nil {
		return true
	}
	switch t.Kind() {
	case reflect.Pointer, reflect.Interface, reflect.Map, reflect.Slice, reflect.Func, reflect.Chan:
		return true
	}
	return false
}

func isNumber(k reflect.Kind) bool {
	switch k {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		return true
	}
	return false
}

func negative(rv reflect.Value) bool {
	switch {
	case rv.CanInt():
		return rv.Int() < 0
	case rv.CanFloat():
		return rv.Float() < 0
	}
	return false
}

// Assignable reports whether v can be passed as a parameter of type t.
func Assignable(v any, t reflect.Type) bool {
	if t == nil {
		return true
	}
	_, ok := coerce(v, t)
	return ok
}

package invoke

import (
	"errors"
	"fmt"
	"reflect"
)

// ErrParameterNotSupported matches every parameter resolution failure with
// errors.Is.
var ErrParameterNotSupported = errors.New("parameter not supported")

// ParameterNotSupportedError reports that no value resolver produced a value
// for a parameter.
type ParameterNotSupportedError struct {
	Parameter string
	Function  string
}

func (e *ParameterNotSupportedError) Error() string {
	return fmt.Sprintf("could not resolve value for parameter %q in %q", e.Parameter, e.Function)
}

func (e *ParameterNotSupportedError) Is(target error) bool {
	return target == ErrParameterNotSupported
}

// UntypedParameterNotSupportedError is returned for parameters without a
// concrete type. They are rejected before any resolver is consulted.
type UntypedParameterNotSupportedError struct {
	ParameterNotSupportedError
}

func (e *UntypedParameterNotSupportedError) Error() string {
	return fmt.Sprintf("untyped parameter %q in %q is not supported", e.Parameter, e.Function)
}

func (e *UntypedParameterNotSupportedError) Unwrap() error {
	return &e.ParameterNotSupportedError
}

// VariadicParameterNotSupportedError is returned for variadic parameters.
type VariadicParameterNotSupportedError struct {
	ParameterNotSupportedError
}

func (e *VariadicParameterNotSupportedError) Error() string {
	return fmt.Sprintf("variadic parameter %q in %q is not supported", e.Parameter, e.Function)
}

func (e *VariadicParameterNotSupportedError) Unwrap() error {
	return &e.ParameterNotSupportedError
}

// FunctionNotSupportedError reports a target that cannot be invoked at all.
type FunctionNotSupportedError struct {
	Function string
	Reason   string
}

func (e *FunctionNotSupportedError) Error() string {
	if e.Function == "" {
		return "function not supported: " + e.Reason
	}
	return fmt.Sprintf("function %q not supported: %s", e.Function, e.Reason)
}

// ArgumentError reports a resolved value that does not fit its parameter.
type ArgumentError struct {
	Function  string
	Parameter string
	Want      reflect.Type
	Got       any
}

func (e *ArgumentError) Error() string {
	return fmt.Sprintf("cannot use %T as %s for parameter %q in %q", e.Got, e.Want, e.Parameter, e.Function)
}

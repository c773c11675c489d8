package errors

import (
	"context"
	stdErrors "errors"

	"Invoke-Chain/pkg/invoke"
)

// FromInvocation classifies an error returned by an invoker. Errors that
// already carry a code are returned as is; anything raised by the invoked
// function itself becomes INVOCATION_FAILED.
func FromInvocation(err error) *Error {
	if err == nil {
		return nil
	}
	if e, ok := From(err); ok {
		return e
	}

	var (
		param    *invoke.ParameterNotSupportedError
		function *invoke.FunctionNotSupportedError
		argument *invoke.ArgumentError
	)
	switch {
	case stdErrors.As(err, &param):
		return Wrap(CodeParameterNotSupported, err, err.Error(),
			WithMetadata("parameter", param.Parameter),
			WithMetadata("function", param.Function))
	case stdErrors.As(err, &argument):
		return Wrap(CodeInvalidArgument, err, err.Error(),
			WithMetadata("parameter", argument.Parameter),
			WithMetadata("function", argument.Function))
	case stdErrors.As(err, &function):
		return Wrap(CodeFunctionNotSupported, err, err.Error(), WithMetadata("function", function.Function))
	case stdErrors.Is(err, context.DeadlineExceeded):
		return Wrap(CodeTimeout, err, "invocation timed out")
	case stdErrors.Is(err, context.Canceled):
		return Wrap(CodeTimeout, err, "invocation cancelled", WithRetryable(false), WithAlert(false))
	default:
		return Wrap(CodeInvocationFailed, err, "")
	}
}

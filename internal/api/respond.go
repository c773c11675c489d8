package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	xerrors "Invoke-Chain/internal/errors"
	"Invoke-Chain/internal/task"
)

const maxBodyBytes = 1 << 20

type errorBody struct {
	Code      string            `json:"code"`
	Message   string            `json:"message"`
	Retryable bool              `json:"retryable"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	e := xerrors.FromInvocation(err)
	writeJSON(w, statusOf(e.Code()), map[string]errorBody{"error": {
		Code:      string(e.Code()),
		Message:   e.Error(),
		Retryable: e.Retryable(),
		Metadata:  e.Metadata(),
	}})
}

func statusOf(code xerrors.Code) int {
	switch code {
	case xerrors.CodeInvalidArgument, task.CodeTaskValidation:
		return http.StatusBadRequest
	case xerrors.CodeNotFound, task.CodeTaskNotFound:
		return http.StatusNotFound
	case task.CodeTaskConflict:
		return http.StatusConflict
	case xerrors.CodeParameterNotSupported, xerrors.CodeFunctionNotSupported:
		return http.StatusUnprocessableEntity
	case xerrors.CodeTimeout:
		return http.StatusGatewayTimeout
	case xerrors.CodeInitializationFailure, xerrors.CodeStorageFailure, task.CodeTaskPublish:
		return http.StatusServiceUnavailable
	case xerrors.CodeInvocationFailed:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// decodeBody reads a JSON document into v. An empty body leaves v untouched.
func decodeBody(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.UseNumber()
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return xerrors.Wrap(xerrors.CodeInvalidArgument, err, fmt.Sprintf("decode request body: %v", err))
	}
	return nil
}

// normalizeNumbers replaces json.Number values with int64 when they are whole
// and fit, float64 otherwise.
func normalizeNumbers(values map[string]any) map[string]any {
	if values == nil {
		return nil
	}
	out := make(map[string]any, len(values))
	for k, v := range values {
		out[k] = normalizeNumber(v)
	}
	return out
}

func normalizeNumber(v any) any {
	switch x := v.(type) {
	case json.Number:
		if n, err := x.Int64(); err == nil {
			return n
		}
		if f, err := x.Float64(); err == nil {
			return f
		}
		return x.String()
	case map[string]any:
		return normalizeNumbers(x)
	case []any:
		out := make([]any, len(x))
		for i, item := range x {
			out[i] = normalizeNumber(item)
		}
		return out
	}
	return v
}

package catalog

import (
	"context"
	"maps"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"

	"Invoke-Chain/pkg/invoke"
)

// Invocation is the answer of the "invocation.describe" function.
type Invocation struct {
	ID       string    `json:"id"`
	Function string    `json:"function"`
	Groups   []string  `json:"groups"`
	Values   []string  `json:"values"`
	At       time.Time `json:"at"`
}

// Builtins returns the functions every daemon serves.
func Builtins() []*invoke.Function {
	return []*invoke.Function{
		invoke.MustDescribe("echo", func(message string) string { return message },
			invoke.Arg("message")),
		invoke.MustDescribe("text.join", func(parts []string, sep string) string {
			return strings.Join(parts, sep)
		}, invoke.Arg("parts"), invoke.Optional("sep", " ")),
		invoke.MustDescribe("math.add", func(a, b float64) float64 { return a + b },
			invoke.Arg("a"), invoke.Arg("b")),
		invoke.MustDescribe("invocation.describe", func(ctx context.Context, md *invoke.Metadata, id uuid.UUID) (Invocation, error) {
			if err := ctx.Err(); err != nil {
				return Invocation{}, err
			}
			return Invocation{
				ID:       id.String(),
				Function: md.FunctionName(),
				Groups:   md.Groups,
				Values:   slices.Sorted(maps.Keys(md.Values)),
				At:       time.Now().UTC(),
			}, nil
		}, invoke.Arg("ctx"), invoke.Arg("md"), invoke.Arg("invocationID")),
	}
}

// RegisterBuiltins adds Builtins to c.
func RegisterBuiltins(c *Catalog) error {
	for _, fn := range Builtins() {
		if err := c.Register(fn); err != nil {
			return err
		}
	}
	return nil
}

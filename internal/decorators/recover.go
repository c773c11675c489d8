package decorators

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"

	xerrors "Invoke-Chain/internal/errors"
	"Invoke-Chain/pkg/invoke"
	"Invoke-Chain/pkg/logger"
	"Invoke-Chain/pkg/plugin"
)

// Recover turns a panic inside the invocation into an INVOCATION_FAILED
// error.
type Recover struct {
	base
	logger *slog.Logger
}

func NewRecover() *Recover {
	return &Recover{logger: logger.Named("invoke")}
}

func (d *Recover) Info() plugin.Info {
	return info("recover", "Converts panics into invocation errors.")
}

func (d *Recover) Configure(cfg map[string]any) error {
	return plugin.DecodeConfig(cfg, &d.filter)
}

func (d *Recover) Decorate(next invoke.Action, md *invoke.Metadata) invoke.Action {
	return func(ctx context.Context, args []any) (out any, err error) {
		defer func() {
			if r := recover(); r != nil {
				d.logger.Error("invocation panicked",
					slog.String("invocation_id", md.ID.String()),
					slog.String("function", md.FunctionName()),
					slog.Any("panic", r),
					slog.String("stack", string(debug.Stack())))
				out = nil
				err = xerrors.New(xerrors.CodeInvocationFailed,
					fmt.Sprintf("function %s panicked: %v", md.FunctionName(), r),
					xerrors.WithMetadata("function", md.FunctionName()),
					xerrors.WithAlert(true))
			}
		}()
		return next(ctx, args)
	}
}

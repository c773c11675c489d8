package decorators

import (
	"context"
	"fmt"
	"time"

	"Invoke-Chain/pkg/invoke"
	"Invoke-Chain/pkg/plugin"
)

const defaultTimeout = 30 * time.Second

// Timeout bounds every invocation with a deadline. The invocation returns
// once the deadline passes even if the function ignores its context.
type Timeout struct {
	base
	timeout time.Duration
}

// NewTimeout returns a timeout decorator; a zero timeout uses thirty seconds.
func NewTimeout(timeout time.Duration) *Timeout {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Timeout{timeout: timeout}
}

func (d *Timeout) Info() plugin.Info {
	return info("timeout", "Cancels invocations that exceed a deadline.")
}

func (d *Timeout) Configure(cfg map[string]any) error {
	var c struct {
		filter  `yaml:",inline"`
		Timeout time.Duration `yaml:"timeout"`
	}
	if err := plugin.DecodeConfig(cfg, &c); err != nil {
		return err
	}
	d.filter = c.filter
	if c.Timeout > 0 {
		d.timeout = c.Timeout
	}
	return nil
}

func (d *Timeout) Decorate(next invoke.Action, md *invoke.Metadata) invoke.Action {
	return func(ctx context.Context, args []any) (any, error) {
		ctx, cancel := context.WithTimeout(ctx, d.timeout)
		defer cancel()

		type result struct {
			out any
			err error
		}
		done := make(chan result, 1)
		go func() {
			defer func() {
				// The function runs on another goroutine, so a panic is
				// reported here instead of crashing the process.
				if r := recover(); r != nil {
					done <- result{err: fmt.Errorf("function %s panicked: %v", md.FunctionName(), r)}
				}
			}()
			out, err := next(ctx, args)
			done <- result{out, err}
		}()

		select {
		case r := <-done:
			return r.out, r.err
		case <-ctx.Done():
			return nil, fmt.Errorf("function %s: %w", md.FunctionName(), ctx.Err())
		}
	}
}

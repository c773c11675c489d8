package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/urfave/cli/v2"

	"Invoke-Chain/internal/bootstrap"
	"Invoke-Chain/internal/config"
	xerrors "Invoke-Chain/internal/errors"
	"Invoke-Chain/pkg/capability"
	"Invoke-Chain/pkg/invoke"
	"Invoke-Chain/pkg/logger"
)

// loadConfig reads --config, falling back to the defaults rooted at the
// working directory.
func loadConfig(c *cli.Context) (*config.Config, error) {
	path := config.ResolvePath(c.String("config"))
	if path == "" {
		wd, err := os.Getwd()
		if err != nil {
			return nil, err
		}
		return config.Default(wd), nil
	}
	return config.Load(path)
}

// assemble loads the configuration, initialises logging and builds the app.
func assemble(c *cli.Context) (*bootstrap.App, error) {
	cfg, err := loadConfig(c)
	if err != nil {
		return nil, err
	}
	if err := logger.Init(cfg.Logging); err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}
	return bootstrap.New(c.Context, cfg)
}

func serveCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "serve the HTTP API and process queued tasks",
		Action: func(c *cli.Context) error {
			app, err := assemble(c)
			if err != nil {
				return err
			}
			defer func() {
				if err := app.Close(); err != nil {
					logger.L().Warn("shutdown incomplete", slog.Any("error", err))
				}
				_ = logger.Sync()
			}()
			logger.L().Info("invokechaind starting", slog.String("address", app.Config.Server.Address))
			return app.Run(c.Context)
		},
	}
}

func groupsCommand() *cli.Command {
	return &cli.Command{
		Name:  "groups",
		Usage: "print the built decorator and resolver indexes",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "json", Usage: "print JSON"},
		},
		Action: func(c *cli.Context) error {
			app, err := assemble(c)
			if err != nil {
				return err
			}
			defer app.Close()

			groups := app.Plugins.Groups()
			if c.Bool("json") {
				return writeJSON(c.App.Writer, groups)
			}
			w := tabwriter.NewWriter(c.App.Writer, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "GROUP\tDOMAIN\tID\tPRIORITY")
			for _, g := range groups {
				printEntries(w, g.Group, "decorator", g.Decorators)
				printEntries(w, g.Group, "resolver", g.Resolvers)
			}
			return w.Flush()
		},
	}
}

func printEntries(w io.Writer, group, domain string, entries []capability.Entry) {
	for _, e := range entries {
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\n", group, domain, e.ID, e.Priority)
	}
}

func functionsCommand() *cli.Command {
	return &cli.Command{
		Name:  "functions",
		Usage: "list the catalog functions",
		Action: func(c *cli.Context) error {
			app, err := assemble(c)
			if err != nil {
				return err
			}
			defer app.Close()
			for _, d := range app.Functions.Describe() {
				fmt.Fprintf(c.App.Writer, "%s(%s)\n", d.Name, strings.Join(d.Params, ", "))
			}
			return nil
		},
	}
}

func callCommand() *cli.Command {
	return &cli.Command{
		Name:      "call",
		Usage:     "invoke one catalog function and print its result",
		ArgsUsage: "<function>",
		Flags: []cli.Flag{
			&cli.StringSliceFlag{Name: "value", Aliases: []string{"v"}, Usage: "named value as key=value; JSON values are decoded"},
			&cli.StringSliceFlag{Name: "group", Aliases: []string{"g"}, Usage: "group to activate, in order"},
			&cli.BoolFlag{Name: "no-groups", Usage: "activate no group at all"},
		},
		Action: func(c *cli.Context) error {
			name := c.Args().First()
			if name == "" {
				return cli.Exit("call needs a function name", 2)
			}
			values, err := parseValues(c.StringSlice("value"))
			if err != nil {
				return cli.Exit(err.Error(), 2)
			}

			app, err := assemble(c)
			if err != nil {
				return err
			}
			defer app.Close()

			fn, ok := app.Functions.Lookup(name)
			if !ok {
				return cli.Exit(fmt.Sprintf("unknown function %q", name), 1)
			}
			opts := []invoke.CallOption{invoke.WithValues(values)}
			switch groups := c.StringSlice("group"); {
			case c.Bool("no-groups"):
				opts = append(opts, invoke.WithGroups())
			case len(groups) > 0:
				opts = append(opts, invoke.WithGroups(groups...))
			}

			ctx := c.Context
			if timeout := app.Config.Invoke.Timeout; timeout > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, timeout)
				defer cancel()
			}
			out, err := app.Invoker.Invoke(ctx, fn, opts...)
			if err != nil {
				e := xerrors.FromInvocation(err)
				return cli.Exit(fmt.Sprintf("%s: %v", e.Code(), e), 1)
			}
			return writeJSON(c.App.Writer, out)
		},
	}
}

// parseValues turns key=value pairs into named values. A value that parses
// as JSON is used decoded, anything else as a plain string.
func parseValues(pairs []string) (map[string]any, error) {
	values := make(map[string]any, len(pairs))
	for _, pair := range pairs {
		key, raw, ok := strings.Cut(pair, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid value %q, want key=value", pair)
		}
		var decoded any
		if err := json.Unmarshal([]byte(raw), &decoded); err == nil {
			values[key] = decoded
		} else {
			values[key] = raw
		}
	}
	return values, nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

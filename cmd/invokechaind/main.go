package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"
)

var version = "dev"

// main is the entry point of the invokechaind daemon.
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newApp().RunContext(ctx, os.Args); err != nil {
		log.Fatalf("invokechaind: %v", err)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:    "invokechaind",
		Usage:   "invoke catalog functions through grouped resolver and decorator chains",
		Version: version,
		// Values passed to --value may contain commas.
		DisableSliceFlagSeparator: true,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "path to the YAML configuration",
				EnvVars: []string{"INVOKECHAIN_CONFIG"},
			},
		},
		Commands: []*cli.Command{
			serveCommand(),
			groupsCommand(),
			functionsCommand(),
			callCommand(),
		},
	}
}

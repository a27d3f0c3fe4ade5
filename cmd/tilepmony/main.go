// Package main provides the tilepmony command line tool for compiling,
// simulating and decoding workflows offline.
package main

import (
	"context"
	"os"

	"github.com/TilepMony-Project/engine/pkg/log"
	"github.com/urfave/cli/v3"
)

func main() {
	cmd := &cli.Command{
		Name:                  "tilepmony",
		Usage:                 "Compile, simulate and decode TilepMony workflows",
		EnableShellCompletion: true,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "Log level (debug, info, warn, error)",
				Value:   "warn",
				Sources: cli.EnvVars("LOG_LEVEL"),
			},
		},
		Before: func(ctx context.Context, command *cli.Command) (context.Context, error) {
			log.Setup(command.String("log-level"), "text")

			return ctx, nil
		},
		Commands: []*cli.Command{
			CompileCommand(),
			SimulateCommand(),
			DecodeCommand(),
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		log.WithModule("cli").Error("Command failed", "error", err)
		os.Exit(1)
	}
}

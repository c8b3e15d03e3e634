// Package main provides a command line editor for process flows.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/urfave/cli/v3"
)

func main() {
	err := NewCommand().Run(context.Background(), os.Args)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func NewCommand() *cli.Command {
	return &cli.Command{
		Name:                  "processflow",
		Usage:                 "Inspect, edit, approve and export process flows",
		EnableShellCompletion: true,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "api-url",
				Usage:   "Base URL of the process flow API",
				Value:   "http://localhost:9091",
				Sources: cli.EnvVars("PROCESSFLOW_API_URL"),
			},
			&cli.StringFlag{
				Name:    "collab-url",
				Usage:   "Base URL of the collaboration server",
				Value:   "http://localhost:9093",
				Sources: cli.EnvVars("PROCESSFLOW_COLLAB_URL"),
			},
			&cli.StringFlag{
				Name:    "token",
				Usage:   "Bearer token (<role>.<subject>)",
				Sources: cli.EnvVars("PROCESSFLOW_TOKEN"),
			},
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "Log level (debug, info, warn, error)",
				Value:   "warn",
				Sources: cli.EnvVars("LOG_LEVEL"),
			},
		},
		Commands: []*cli.Command{
			getCommand(),
			validateCommand(),
			editStepCommand(),
			approveCommand(),
			exportCommand(),
			watchCommand(),
		},
	}
}

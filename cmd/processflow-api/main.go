package main

import (
	"context"
	"fmt"
	"os"

	cli "github.com/urfave/cli/v3"
)

func main() {
	cmd := &cli.Command{
		Name:                  "processflow-api",
		Usage:                 "Serve, edit and approve process flows",
		EnableShellCompletion: true,
		Commands: []*cli.Command{
			RunAPICommand(),
			ValidateCommand(),
		},
	}

	err := cmd.Run(context.Background(), os.Args)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

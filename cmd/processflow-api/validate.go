package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/dukex/processflow/pkg/models"
	"github.com/urfave/cli/v3"
)

var errDefectsFound = errors.New("flow has defects")

// ValidateCommand checks a flow document offline with the same rules the API applies.
func ValidateCommand() *cli.Command {
	return &cli.Command{
		Name:      "validate",
		Usage:     "Validate a flow JSON document and print its defects",
		ArgsUsage: "<flow.json>",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "validation-rules-file",
				Usage:   "YAML file with additional expression rules",
				Sources: cli.EnvVars("VALIDATION_RULES_FILE"),
			},
			&cli.BoolFlag{
				Name:  "structural-checks",
				Usage: "Also check duplicate ids, single entry and cycles",
			},
		},
		Action: func(_ context.Context, command *cli.Command) error {
			path := command.Args().First()
			if path == "" {
				return errors.New("flow file is required")
			}

			data, err := os.ReadFile(path)
			if err != nil {
				return fmt.Errorf("failed to read flow: %w", err)
			}

			var flow models.Flow

			err = json.Unmarshal(data, &flow)
			if err != nil {
				return fmt.Errorf("failed to parse flow: %w", err)
			}

			engine, err := newEngine(command.String("validation-rules-file"), command.Bool("structural-checks"))
			if err != nil {
				return err
			}

			report := engine.Validate(&flow)

			encoder := json.NewEncoder(command.Root().Writer)
			encoder.SetIndent("", "  ")

			err = encoder.Encode(report)
			if err != nil {
				return err
			}

			if !report.Valid() {
				return fmt.Errorf("%w: %d", errDefectsFound, len(report))
			}

			return nil
		},
	}
}

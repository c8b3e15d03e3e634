package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/dukex/processflow/pkg/approval"
	"github.com/dukex/processflow/pkg/client"
	"github.com/dukex/processflow/pkg/editor"
	"github.com/dukex/processflow/pkg/export"
	"github.com/dukex/processflow/pkg/log"
	"github.com/dukex/processflow/pkg/models"
	"github.com/urfave/cli/v3"
)

var errDefectsFound = errors.New("flow has defects")

func newClient(command *cli.Command) *client.Client {
	log.Setup(command.String("log-level"))

	return client.New(
		log.WithModule("processflow"),
		command.String("api-url"),
		command.String("token"),
		client.WithCollabURL(command.String("collab-url")),
	)
}

func flowIDArg(command *cli.Command) (int64, error) {
	id, err := strconv.ParseInt(command.Args().First(), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid flow id %q", command.Args().First())
	}

	return id, nil
}

// openSession loads the flow into an editor session without joining its room.
func openSession(ctx context.Context, command *cli.Command, c *client.Client, opts ...editor.Option) (*editor.Session, error) {
	flowID, err := flowIDArg(command)
	if err != nil {
		return nil, err
	}

	session := editor.NewSession(log.WithFlow(log.WithModule("editor"), flowID), c, opts...)

	err = session.Load(ctx, flowID)
	if err != nil {
		return nil, err
	}

	return session, nil
}

func printJSON(w io.Writer, v any) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")

	return encoder.Encode(v)
}

func printReport(w io.Writer, report models.Report) {
	for _, d := range report {
		target := d.NodeID
		if d.EdgeID != "" {
			target = "edge " + d.EdgeID
		}

		fmt.Fprintf(w, "%s\t%s\t%s\n", target, d.Rule, d.Message)
	}
}

func getCommand() *cli.Command {
	return &cli.Command{
		Name:      "get",
		Usage:     "Print the committed flow as JSON",
		ArgsUsage: "<flow-id>",
		Action: func(ctx context.Context, command *cli.Command) error {
			flowID, err := flowIDArg(command)
			if err != nil {
				return err
			}

			c := newClient(command)
			defer func() { _ = c.Close() }()

			flow, err := c.Get(ctx, flowID)
			if err != nil {
				return err
			}

			return printJSON(command.Root().Writer, flow)
		},
	}
}

func validateCommand() *cli.Command {
	return &cli.Command{
		Name:      "validate",
		Usage:     "Print the defects of the committed flow",
		ArgsUsage: "<flow-id>",
		Action: func(ctx context.Context, command *cli.Command) error {
			flowID, err := flowIDArg(command)
			if err != nil {
				return err
			}

			c := newClient(command)
			defer func() { _ = c.Close() }()

			report, err := c.Validation(ctx, flowID)
			if err != nil {
				return err
			}

			printReport(command.Root().Writer, report)

			if !report.Valid() {
				return fmt.Errorf("%w: %d", errDefectsFound, len(report))
			}

			return nil
		},
	}
}

func editStepCommand() *cli.Command {
	return &cli.Command{
		Name:      "edit-step",
		Usage:     "Change the text fields of one step and save",
		ArgsUsage: "<flow-id> <node-id>",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "label"},
			&cli.StringFlag{Name: "system"},
			&cli.StringFlag{Name: "details"},
			&cli.StringFlag{Name: "expected-result"},
			&cli.StringFlag{Name: "prerequisites"},
			&cli.StringFlag{Name: "notes"},
		},
		Action: func(ctx context.Context, command *cli.Command) error {
			nodeID := command.Args().Get(1)
			if nodeID == "" {
				return errors.New("node id is required")
			}

			c := newClient(command)
			defer func() { _ = c.Close() }()

			session, err := openSession(ctx, command, c)
			if err != nil {
				return err
			}
			defer func() { _ = session.Close() }()

			err = session.Select(nodeID)
			if err != nil {
				return err
			}

			node, _ := session.SelectedNode()

			fields := map[string]*string{
				"label":           &node.Label,
				"system":          &node.System,
				"details":         &node.Details,
				"expected-result": &node.ExpectedResult,
				"prerequisites":   &node.Prerequisites,
				"notes":           &node.Notes,
			}
			for name, field := range fields {
				if command.IsSet(name) {
					*field = command.String(name)
				}
			}

			err = session.ApplyLocalEdit(editor.UpdateNode{Node: node})
			if err != nil {
				return err
			}

			err = session.Save(ctx)
			if err != nil {
				return err
			}

			fmt.Fprintf(command.Root().Writer, "saved version %d (%s)\n", session.Version(), session.ApprovalStatus())

			return nil
		},
	}
}

func approveCommand() *cli.Command {
	return &cli.Command{
		Name:      "approve",
		Usage:     "Move the flow to another approval status",
		ArgsUsage: "<flow-id>",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "status",
				Usage: "Target status (draft, reviewed, approved)",
				Value: string(models.ApprovalStatusApproved),
			},
		},
		Action: func(ctx context.Context, command *cli.Command) error {
			c := newClient(command)
			defer func() { _ = c.Close() }()

			session, err := openSession(ctx, command, c)
			if err != nil {
				return err
			}
			defer func() { _ = session.Close() }()

			err = session.RequestApproval(ctx, models.ApprovalStatus(command.String("status")))

			var failed *approval.ValidationFailedError
			if errors.As(err, &failed) {
				printReport(command.Root().Writer, session.Report())
			}

			if err != nil {
				return err
			}

			fmt.Fprintf(command.Root().Writer, "%s at version %d\n", session.ApprovalStatus(), session.Version())

			return nil
		},
	}
}

func exportCommand() *cli.Command {
	return &cli.Command{
		Name:      "export",
		Usage:     "Render the flow as a guide, snapshot or bundle",
		ArgsUsage: "<flow-id>",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "kind",
				Usage: "guide, snapshot or bundle",
				Value: string(export.KindGuide),
			},
			&cli.StringFlag{
				Name:    "output",
				Aliases: []string{"o"},
				Usage:   "Output file, defaults to the export's file name",
			},
			&cli.StringFlag{
				Name:    "media-base-url",
				Usage:   "Base URL that screenshot and video references resolve against",
				Sources: cli.EnvVars("MEDIA_BASE_URL"),
			},
		},
		Action: func(ctx context.Context, command *cli.Command) error {
			kind, err := export.ParseKind(command.String("kind"))
			if err != nil {
				return err
			}

			media, err := export.NewMedia(command.String("media-base-url"))
			if err != nil {
				return err
			}

			c := newClient(command)
			defer func() { _ = c.Close() }()

			session, err := openSession(ctx, command, c, editor.WithMedia(media))
			if err != nil {
				return err
			}
			defer func() { _ = session.Close() }()

			output := command.String("output")
			if output == "" {
				output = kind.Filename(session.Flow())
			}

			f, err := os.Create(output)
			if err != nil {
				return fmt.Errorf("failed to create %s: %w", output, err)
			}

			err = session.Export(ctx, f, kind)
			if closeErr := f.Close(); err == nil {
				err = closeErr
			}

			if err != nil {
				_ = os.Remove(output)

				return err
			}

			fmt.Fprintln(command.Root().Writer, output)

			return nil
		},
	}
}

func watchCommand() *cli.Command {
	return &cli.Command{
		Name:      "watch",
		Usage:     "Follow live edits of a flow until interrupted",
		ArgsUsage: "<flow-id>",
		Action: func(ctx context.Context, command *cli.Command) error {
			ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
			defer stop()

			c := newClient(command)
			defer func() { _ = c.Close() }()

			flowID, err := flowIDArg(command)
			if err != nil {
				return err
			}

			conn, err := c.Dial(ctx, flowID, "")
			if err != nil {
				return err
			}
			defer func() { _ = conn.Close() }()

			w := command.Root().Writer

			for {
				select {
				case <-ctx.Done():
					return nil
				case event, ok := <-conn.Events():
					if !ok {
						return errors.New("collaboration server closed the connection")
					}

					err := printJSON(w, event)
					if err != nil {
						return err
					}
				}
			}
		},
	}
}

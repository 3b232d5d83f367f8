package commands

import (
	"context"
	"fmt"

	"github.com/urfave/cli/v3"

	"github.com/dohr-michael/storybook/internal/ledger"
)

// NewUploadsCommand returns the uploads subcommand.
func NewUploadsCommand() *cli.Command {
	return &cli.Command{
		Name:  "uploads",
		Usage: "Inspect the upload log",
		Commands: []*cli.Command{
			{
				Name:   "last",
				Usage:  "Show the ids of the last upload batch",
				Action: runUploadsLast,
			},
			{
				Name:   "check",
				Usage:  "Compare the last upload batch with the ledger",
				Action: runUploadsCheck,
			},
		},
		DefaultCommand: "last",
	}
}

func runUploadsLast(ctx context.Context, cmd *cli.Command) error {
	a, err := openApp(ctx, cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	batch, ok, err := a.UploadLog.LastBatch()
	if err != nil {
		return fmt.Errorf("read upload log: %w", err)
	}
	p := newPrinter()
	if !ok {
		p.println("No uploads recorded.")
		return nil
	}
	p.field("Batch", batch.Time)
	if len(batch.IDs) == 0 {
		p.field("Ids", p.render(mutedStyle, "none"))
		return nil
	}
	p.field("Ids", joinIDs(batch.IDs))
	return nil
}

// runUploadsCheck reports ids of the last batch that the ledger does not
// mark as uploaded.
func runUploadsCheck(ctx context.Context, cmd *cli.Command) error {
	a, err := openApp(ctx, cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	batch, ok, err := a.UploadLog.LastBatch()
	if err != nil {
		return fmt.Errorf("read upload log: %w", err)
	}
	p := newPrinter()
	if !ok {
		p.println("No uploads recorded.")
		return nil
	}
	tasks, err := a.Ledger.Load(ctx)
	if err != nil {
		return fmt.Errorf("load ledger: %w", err)
	}

	unexpected := ledger.Reconcile(ctx, ledger.IDs(ledger.Select(tasks, ledger.Done)), batch.IDs)
	if len(unexpected) == 0 {
		p.printf("%s last batch (%s, %d ids) matches the ledger\n",
			p.render(okStyle, "ok"), batch.Time, len(batch.IDs))
		return nil
	}
	p.printf("%s ids uploaded but not marked in the ledger: %s\n",
		p.render(warnStyle, "warning"), joinIDs(unexpected))
	return nil
}

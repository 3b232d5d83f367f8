package commands

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/urfave/cli/v3"

	"github.com/dohr-michael/storybook/internal/catalog"
	"github.com/dohr-michael/storybook/internal/ledger"
)

// NewTasksCommand returns the tasks subcommand.
func NewTasksCommand() *cli.Command {
	return &cli.Command{
		Name:  "tasks",
		Usage: "Inspect and edit the task ledger",
		Commands: []*cli.Command{
			{
				Name:  "list",
				Usage: "List tasks",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "filter",
						Usage: "all, needs_images, needs_upload or done",
						Value: "all",
					},
				},
				Action: runTasksList,
			},
			{
				Name:      "show",
				Usage:     "Show task details",
				ArgsUsage: "<task_id>",
				Action:    runTasksShow,
			},
			{
				Name:      "add",
				Usage:     "Append stories to the ledger",
				ArgsUsage: "<text>...",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "pic",
						Usage: "Style reference for the new tasks",
					},
				},
				Action: runTasksAdd,
			},
		},
		DefaultCommand: "list",
	}
}

func taskFilter(name string) (ledger.Predicate, error) {
	switch name {
	case "", "all":
		return nil, nil
	case "needs_images":
		return ledger.NeedsImages, nil
	case "needs_upload":
		return ledger.NeedsUpload, nil
	case "done":
		return ledger.Done, nil
	default:
		return nil, fmt.Errorf("unknown filter %q", name)
	}
}

func runTasksList(ctx context.Context, cmd *cli.Command) error {
	pred, err := taskFilter(cmd.String("filter"))
	if err != nil {
		return err
	}

	a, err := openApp(ctx, cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	list, err := a.Ledger.Load(ctx)
	if err != nil {
		return fmt.Errorf("load ledger: %w", err)
	}
	if pred != nil {
		list = ledger.Select(list, pred)
	}

	p := newPrinter()
	if len(list) == 0 {
		p.println("No tasks found.")
		return nil
	}

	rows := make([][]string, 0, len(list))
	for _, t := range list {
		rows = append(rows, []string{
			strconv.Itoa(t.ID),
			flag(t.IsTarget),
			flag(t.GenerateStorybook),
			flag(t.UploadStorybook),
			truncate(t.Text, 60),
		})
	}
	return p.table([]string{"ID", "TARGET", "IMAGES", "UPLOADED", "TEXT"}, rows)
}

func runTasksShow(ctx context.Context, cmd *cli.Command) error {
	id, err := strconv.Atoi(cmd.Args().First())
	if err != nil {
		return fmt.Errorf("usage: storybook tasks show <task_id>")
	}

	a, err := openApp(ctx, cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	list, err := a.Ledger.Load(ctx)
	if err != nil {
		return fmt.Errorf("load ledger: %w", err)
	}
	for _, t := range list {
		if t.ID != id {
			continue
		}
		p := newPrinter()
		p.field("ID", strconv.Itoa(t.ID))
		p.field("Target", flag(t.IsTarget))
		p.field("Images", flag(t.GenerateStorybook))
		p.field("Uploaded", flag(t.UploadStorybook))
		if t.Pic != "" {
			p.field("Style ref", t.Pic)
		}
		if a.Stories != nil && t.UploadStorybook {
			index := catalog.PadID(t.ID, a.Config.Catalog.PadWidth)
			if has, err := a.Stories.Has(ctx, []string{index}); err == nil {
				p.field("Cataloged", flag(has[index]))
			}
		}
		p.printf("\n%s\n", t.Text)
		return nil
	}
	return fmt.Errorf("task %d not found", id)
}

func runTasksAdd(ctx context.Context, cmd *cli.Command) error {
	texts := cmd.Args().Slice()
	if len(texts) == 0 {
		return fmt.Errorf("usage: storybook tasks add <text>...")
	}

	a, err := openApp(ctx, cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	added, err := a.Ledger.Insert(ctx, texts, cmd.String("pic"))
	if err != nil {
		return fmt.Errorf("add tasks: %w", err)
	}
	newPrinter().printf("Added %d task(s): %s\n", len(added), joinIDs(ledger.IDs(added)))
	return nil
}

func truncate(s string, n int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}

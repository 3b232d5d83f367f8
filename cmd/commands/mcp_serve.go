package commands

import (
	"context"
	"log/slog"

	"github.com/urfave/cli/v3"

	"github.com/dohr-michael/storybook/internal/app"
	storymcp "github.com/dohr-michael/storybook/internal/mcp"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
)

// NewMCPServeCommand returns the mcp-serve subcommand.
func NewMCPServeCommand() *cli.Command {
	return &cli.Command{
		Name:  "mcp-serve",
		Usage: "Expose the pipeline as an MCP server (stdio)",
		Arguments: []cli.Argument{
			&cli.StringArg{
				Name:      "filter",
				UsageText: "Comma-separated tool names to expose (empty = all)",
			},
		},
		Action: runMCPServe,
	}
}

func runMCPServe(ctx context.Context, cmd *cli.Command) error {
	// stdout carries the MCP stdio transport, so logs only go to files
	a, err := app.New(ctx, app.Options{
		ConfigPath: cmd.String("config"),
		Debug:      cmd.Bool("debug"),
	})
	if err != nil {
		return err
	}
	defer a.Close()

	filter := cmd.StringArg("filter")
	tools := storymcp.Tools(a.Orchestrator, a.Ledger)
	slog.Debug("starting MCP server", "filter", filter, "tools", len(tools))

	server := storymcp.NewMCPServer(tools, filter)
	return server.Run(ctx, &mcpsdk.StdioTransport{})
}

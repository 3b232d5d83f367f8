package mcp

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
)

// Version is reported to MCP clients.
var Version = "0.1.0"

// NewMCPServer creates an MCP server exposing tools. If filter is
// non-empty, only the comma-separated tool names it lists are exposed.
func NewMCPServer(tools []Tool, filter string) *mcpsdk.Server {
	server := mcpsdk.NewServer(&mcpsdk.Implementation{
		Name:    "storybook",
		Version: Version,
	}, nil)

	for _, t := range tools {
		if !matchesFilter(t.Spec.Name, filter) {
			continue
		}

		// Capture tool in closure
		handler := t.Handler
		toolName := t.Spec.Name

		server.AddTool(toolSpecToMCPTool(&t.Spec), func(ctx context.Context, req *mcpsdk.CallToolRequest) (*mcpsdk.CallToolResult, error) {
			return callTool(ctx, toolName, handler, req.Params.Arguments), nil
		})

		slog.Debug("mcp tool registered", "tool", toolName)
	}

	return server
}

// callTool runs handler and renders its result as JSON text. Errors become
// tool errors, not protocol errors.
func callTool(ctx context.Context, name string, handler Handler, args json.RawMessage) *mcpsdk.CallToolResult {
	result, err := handler(ctx, args)
	if err == nil {
		var data []byte
		data, err = json.MarshalIndent(result, "", "  ")
		if err == nil {
			return &mcpsdk.CallToolResult{
				Content: []mcpsdk.Content{&mcpsdk.TextContent{Text: string(data)}},
			}
		}
	}
	slog.Debug("mcp tool error", "tool", name, "error", err)
	return &mcpsdk.CallToolResult{
		IsError: true,
		Content: []mcpsdk.Content{&mcpsdk.TextContent{Text: err.Error()}},
	}
}

// matchesFilter checks a tool name against a comma-separated filter.
func matchesFilter(toolName, filter string) bool {
	if strings.TrimSpace(filter) == "" {
		return true
	}
	for _, f := range strings.Split(filter, ",") {
		if strings.TrimSpace(f) == toolName {
			return true
		}
	}
	return false
}

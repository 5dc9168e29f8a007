package tools

import (
	"context"

	"github.com/tmc/langchaingo/llms"

	"github.com/loomlocal/loom/pkg/mcp"
)

// MCPTool adapts a discovered MCP server tool to the registry interface
type MCPTool struct {
	client *mcp.Client
	tool   mcp.NamespacedTool
}

// DiscoverMCPTools lists tools on every enabled MCP server and wraps
// them for registration
func DiscoverMCPTools(ctx context.Context, client *mcp.Client) []*MCPTool {
	discovered := client.DiscoverTools(ctx)
	out := make([]*MCPTool, 0, len(discovered))
	for _, tool := range discovered {
		out = append(out, &MCPTool{client: client, tool: tool})
	}
	return out
}

func (t *MCPTool) Definition() llms.Tool {
	schema := t.tool.Definition.InputSchema
	if schema == nil {
		schema = map[string]any{"type": "object", "properties": map[string]any{}}
	}
	return llms.Tool{
		Type: "function",
		Function: &llms.FunctionDefinition{
			Name:        t.tool.FullName(),
			Description: t.tool.Definition.Description,
			Parameters:  schema,
		},
	}
}

func (t *MCPTool) Execute(ctx context.Context, args map[string]any) (string, error) {
	return t.client.CallTool(ctx, t.tool.Server, t.tool.Definition.Name, args)
}

package mcp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/loomlocal/loom/pkg/logger"
)

// ServerConfig describes one MCP server reachable over HTTP
type ServerConfig struct {
	Name    string
	BaseURL string
	Enabled bool
}

// ToolDefinition is a tool discovered on an MCP server
type ToolDefinition struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"inputSchema"`
}

// Client talks JSON-RPC to the configured MCP servers and exposes their
// tools under namespaced names (server_tool)
type Client struct {
	servers   map[string]*serverConnection
	serversMu sync.RWMutex

	httpClient *http.Client
	requestID  atomic.Int64
}

type serverConnection struct {
	config ServerConfig
	tools  []ToolDefinition
}

// NewClient creates a client; servers are attached with AddServer
func NewClient() *Client {
	return &Client{
		servers:    make(map[string]*serverConnection),
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// AddServer registers a server configuration
func (c *Client) AddServer(config ServerConfig) {
	c.serversMu.Lock()
	defer c.serversMu.Unlock()
	c.servers[config.Name] = &serverConnection{config: config}
}

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int64  `json:"id"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *rpcError       `json:"error"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (c *Client) call(ctx context.Context, baseURL, method string, params any, result any) error {
	body, err := json.Marshal(rpcRequest{
		JSONRPC: "2.0",
		ID:      c.requestID.Add(1),
		Method:  method,
		Params:  params,
	})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("mcp request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("mcp server returned status %d", resp.StatusCode)
	}

	var rpcResp rpcResponse
	if err := json.NewDecoder(resp.Body).Decode(&rpcResp); err != nil {
		return fmt.Errorf("failed to decode mcp response: %w", err)
	}
	if rpcResp.Error != nil {
		return fmt.Errorf("mcp error %d: %s", rpcResp.Error.Code, rpcResp.Error.Message)
	}
	if result != nil {
		if err := json.Unmarshal(rpcResp.Result, result); err != nil {
			return fmt.Errorf("failed to decode mcp result: %w", err)
		}
	}
	return nil
}

// DiscoverTools lists the tools on every enabled server. Servers that
// fail discovery are skipped, not fatal.
func (c *Client) DiscoverTools(ctx context.Context) []NamespacedTool {
	c.serversMu.Lock()
	defer c.serversMu.Unlock()

	var out []NamespacedTool
	for name, conn := range c.servers {
		if !conn.config.Enabled {
			continue
		}
		var result struct {
			Tools []ToolDefinition `json:"tools"`
		}
		if err := c.call(ctx, conn.config.BaseURL, "tools/list", nil, &result); err != nil {
			logger.Warn("tool discovery failed for mcp server %q: %v", name, err)
			continue
		}
		conn.tools = result.Tools
		for _, tool := range result.Tools {
			out = append(out, NamespacedTool{
				Server:     name,
				Definition: tool,
			})
		}
	}
	return out
}

// NamespacedTool pairs a discovered tool with its server
type NamespacedTool struct {
	Server     string
	Definition ToolDefinition
}

// FullName returns the namespaced tool name offered to the model
func (t NamespacedTool) FullName() string {
	return t.Server + "_" + t.Definition.Name
}

// CallTool invokes a tool on its server and flattens the content items
// into one result string
func (c *Client) CallTool(ctx context.Context, server, tool string, args map[string]any) (string, error) {
	c.serversMu.RLock()
	conn, exists := c.servers[server]
	c.serversMu.RUnlock()
	if !exists {
		return "", fmt.Errorf("unknown mcp server %q", server)
	}

	var result struct {
		Content []struct {
			Type string `json:"type"`
			Text string `json:"text"`
		} `json:"content"`
		IsError bool `json:"isError"`
	}
	err := c.call(ctx, conn.config.BaseURL, "tools/call", map[string]any{
		"name":      tool,
		"arguments": args,
	}, &result)
	if err != nil {
		return "", err
	}

	var sb bytes.Buffer
	for _, item := range result.Content {
		if item.Type == "text" {
			sb.WriteString(item.Text)
		}
	}
	if result.IsError {
		return "", fmt.Errorf("tool %s failed: %s", tool, sb.String())
	}
	return sb.String(), nil
}

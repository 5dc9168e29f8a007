package mcp

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func rpcServer(t *testing.T, handle func(method string, params map[string]any) (any, *rpcError)) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			JSONRPC string         `json:"jsonrpc"`
			ID      int64          `json:"id"`
			Method  string         `json:"method"`
			Params  map[string]any `json:"params"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "2.0", req.JSONRPC)

		result, rpcErr := handle(req.Method, req.Params)
		resp := map[string]any{"jsonrpc": "2.0", "id": req.ID}
		if rpcErr != nil {
			resp["error"] = rpcErr
		} else {
			resp["result"] = result
		}
		json.NewEncoder(w).Encode(resp)
	}))
}

func TestDiscoverTools(t *testing.T) {
	srv := rpcServer(t, func(method string, params map[string]any) (any, *rpcError) {
		require.Equal(t, "tools/list", method)
		return map[string]any{
			"tools": []map[string]any{
				{"name": "read_file", "description": "Read a file"},
				{"name": "list_dir", "description": "List a directory"},
			},
		}, nil
	})
	defer srv.Close()

	client := NewClient()
	client.AddServer(ServerConfig{Name: "fs", BaseURL: srv.URL, Enabled: true})
	client.AddServer(ServerConfig{Name: "off", BaseURL: srv.URL, Enabled: false})

	tools := client.DiscoverTools(context.Background())
	require.Len(t, tools, 2)
	names := []string{tools[0].FullName(), tools[1].FullName()}
	assert.ElementsMatch(t, []string{"fs_read_file", "fs_list_dir"}, names)
}

func TestDiscoverToolsSkipsFailingServer(t *testing.T) {
	good := rpcServer(t, func(method string, params map[string]any) (any, *rpcError) {
		return map[string]any{"tools": []map[string]any{{"name": "ok"}}}, nil
	})
	defer good.Close()
	bad := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer bad.Close()

	client := NewClient()
	client.AddServer(ServerConfig{Name: "good", BaseURL: good.URL, Enabled: true})
	client.AddServer(ServerConfig{Name: "bad", BaseURL: bad.URL, Enabled: true})

	tools := client.DiscoverTools(context.Background())
	require.Len(t, tools, 1)
	assert.Equal(t, "good_ok", tools[0].FullName())
}

func TestCallTool(t *testing.T) {
	srv := rpcServer(t, func(method string, params map[string]any) (any, *rpcError) {
		require.Equal(t, "tools/call", method)
		assert.Equal(t, "read_file", params["name"])
		args := params["arguments"].(map[string]any)
		assert.Equal(t, "/etc/hosts", args["path"])
		return map[string]any{
			"content": []map[string]any{
				{"type": "text", "text": "127.0.0.1 "},
				{"type": "image", "data": "ignored"},
				{"type": "text", "text": "localhost"},
			},
		}, nil
	})
	defer srv.Close()

	client := NewClient()
	client.AddServer(ServerConfig{Name: "fs", BaseURL: srv.URL, Enabled: true})

	got, err := client.CallTool(context.Background(), "fs", "read_file", map[string]any{"path": "/etc/hosts"})
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1 localhost", got)
}

func TestCallToolErrors(t *testing.T) {
	srv := rpcServer(t, func(method string, params map[string]any) (any, *rpcError) {
		switch params["name"] {
		case "rpc_fail":
			return nil, &rpcError{Code: -32000, Message: "boom"}
		default:
			return map[string]any{
				"content": []map[string]any{{"type": "text", "text": "no such file"}},
				"isError": true,
			}, nil
		}
	})
	defer srv.Close()

	client := NewClient()
	client.AddServer(ServerConfig{Name: "fs", BaseURL: srv.URL, Enabled: true})

	_, err := client.CallTool(context.Background(), "fs", "rpc_fail", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom")

	_, err = client.CallTool(context.Background(), "fs", "tool_fail", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no such file")

	_, err = client.CallTool(context.Background(), "unknown", "x", nil)
	assert.Error(t, err)
}

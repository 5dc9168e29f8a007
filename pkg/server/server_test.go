package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tmc/langchaingo/llms"

	"github.com/loomlocal/loom/pkg/compose"
	"github.com/loomlocal/loom/pkg/envelope"
	"github.com/loomlocal/loom/pkg/provider"
	"github.com/loomlocal/loom/pkg/store"
)

// fakeCaller streams a fixed reply regardless of the prompt
type fakeCaller struct {
	model    string
	reply    string
	thinking string
}

func (f *fakeCaller) Model() string { return f.model }

func (f *fakeCaller) Stream(ctx context.Context, messages []llms.MessageContent, opts provider.StreamOptions) (*provider.Result, error) {
	if f.thinking != "" && opts.OnReasoning != nil {
		if err := opts.OnReasoning(f.thinking); err != nil {
			return nil, err
		}
	}
	if opts.OnText != nil {
		for _, word := range strings.SplitAfter(f.reply, " ") {
			if err := opts.OnText(word); err != nil {
				return nil, err
			}
		}
	}
	return &provider.Result{Content: f.reply, StopReason: "stop"}, nil
}

func newTestServer(t *testing.T, reply string) (*Server, *store.Store) {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "loom.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	srv := New(Options{
		Store:      st,
		UploadsDir: filepath.Join(t.TempDir(), "uploads"),
		FallbackProvider: provider.Config{
			Name: "test", APIBase: "http://localhost:1/v1", DefaultModel: "fake-model",
		},
		NewCaller: func(cfg provider.Config, model string) (compose.ModelCaller, error) {
			return &fakeCaller{model: "fake-model", reply: reply}, nil
		},
	})
	return srv, st
}

func doJSON(t *testing.T, srv *Server, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	return rec
}

func TestConversationEndpoints(t *testing.T) {
	srv, _ := newTestServer(t, "ok")

	rec := doJSON(t, srv, http.MethodPost, "/api/conversations", map[string]string{"model": "fake-model"})
	require.Equal(t, http.StatusCreated, rec.Code)
	var conv store.Conversation
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &conv))
	assert.Equal(t, "New Conversation", conv.Title)

	rec = doJSON(t, srv, http.MethodPatch, "/api/conversations/1", map[string]any{"pinned": true})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, srv, http.MethodGet, "/api/conversations", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var list []store.Conversation
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	require.Len(t, list, 1)
	assert.True(t, list[0].Pinned)

	rec = doJSON(t, srv, http.MethodDelete, "/api/conversations/1", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = doJSON(t, srv, http.MethodGet, "/api/conversations/1", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func decodeFrames(t *testing.T, body string) []envelope.Envelope {
	t.Helper()
	var dec envelope.Decoder
	envs := dec.Feed([]byte(body))
	require.Empty(t, strings.TrimSpace(dec.Rest()), "stream must end on a frame boundary")
	return envs
}

func TestChatStreamsAndPersists(t *testing.T) {
	srv, st := newTestServer(t, "The answer is 42.")

	rec := doJSON(t, srv, http.MethodPost, "/api/conversations", map[string]string{})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = doJSON(t, srv, http.MethodPost, "/api/conversations/1/chat",
		map[string]any{"content": "What is the answer?\nBe brief."})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))

	envs := decodeFrames(t, rec.Body.String())
	require.NotEmpty(t, envs)

	assert.Equal(t, envelope.KindAck, envs[0].Kind)
	last := envs[len(envs)-1]
	assert.True(t, last.Terminal())

	var text strings.Builder
	sawMeta := false
	for _, env := range envs {
		switch env.Kind {
		case envelope.KindMessage:
			if !envelope.IsTerminator(env.Payload) {
				text.WriteString(envelope.DecodeText(env.Payload))
			}
		case envelope.KindMeta:
			sawMeta = true
		}
	}
	assert.Equal(t, "The answer is 42.", text.String())
	assert.True(t, sawMeta, "usage frame precedes the terminator")

	ctx := context.Background()
	msgs, err := st.ListMessages(ctx, 1)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "user", msgs[0].Role)
	assert.Equal(t, "assistant", msgs[1].Role)
	assert.Equal(t, "The answer is 42.", msgs[1].Content)
	assert.Contains(t, msgs[1].Events, "[DONE]")
	assert.Greater(t, msgs[1].TotalTokens, 0, "estimated usage is persisted")

	conv, err := st.GetConversation(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "What is the answer?", conv.Title, "title comes from the first line")
}

func TestChatRequiresContent(t *testing.T) {
	srv, _ := newTestServer(t, "ok")
	doJSON(t, srv, http.MethodPost, "/api/conversations", map[string]string{})

	rec := doJSON(t, srv, http.MethodPost, "/api/conversations/1/chat", map[string]any{"content": "  "})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPartialSaveEndpoint(t *testing.T) {
	srv, st := newTestServer(t, "ok")
	doJSON(t, srv, http.MethodPost, "/api/conversations", map[string]string{})

	rec := doJSON(t, srv, http.MethodPost, "/api/conversations/1/messages/partial",
		map[string]string{"content": "half an ans", "model": "fake-model"})
	require.Equal(t, http.StatusOK, rec.Code)

	msgs, err := st.ListMessages(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.True(t, msgs[0].Partial)
	assert.Equal(t, "half an ans", msgs[0].Content)
}

func TestProviderEndpointsHideKeys(t *testing.T) {
	srv, _ := newTestServer(t, "ok")

	rec := doJSON(t, srv, http.MethodPost, "/api/providers", map[string]any{
		"name": "local", "api_base": "http://localhost:11434/v1",
		"api_key": "secret", "is_default": true,
		"models": []string{"qwen3:latest", "llava:vision"},
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.NotContains(t, rec.Body.String(), "secret")

	rec = doJSON(t, srv, http.MethodGet, "/api/providers", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotContains(t, rec.Body.String(), "secret")

	rec = doJSON(t, srv, http.MethodGet, "/api/models/vision", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "llava:vision")
}

func TestSettingsEndpoints(t *testing.T) {
	srv, _ := newTestServer(t, "ok")

	rec := doJSON(t, srv, http.MethodGet, "/api/settings/theme?default=light", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "light")

	rec = doJSON(t, srv, http.MethodPut, "/api/settings/theme", map[string]string{"value": "dark"})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, srv, http.MethodGet, "/api/settings/theme", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "dark")
}

func TestKnowledgeBaseEndpointsWithoutVectors(t *testing.T) {
	srv, _ := newTestServer(t, "ok")

	rec := doJSON(t, srv, http.MethodPost, "/api/knowledge-bases",
		map[string]string{"name": "docs", "description": "project docs"})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = doJSON(t, srv, http.MethodPost, "/api/knowledge-bases/docs/documents",
		map[string]any{"documents": []map[string]string{{"id": "1", "content": "x"}}})
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	rec = doJSON(t, srv, http.MethodDelete, "/api/knowledge-bases/docs", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestDeriveTitle(t *testing.T) {
	assert.Equal(t, "hello", deriveTitle("hello"))
	assert.Equal(t, "first line", deriveTitle("first line\nsecond line"))
	assert.Equal(t, "New Conversation", deriveTitle("   "))
	long := strings.Repeat("長", 80)
	assert.Equal(t, strings.Repeat("長", 50), deriveTitle(long))
}

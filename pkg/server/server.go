package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/loomlocal/loom/pkg/compose"
	"github.com/loomlocal/loom/pkg/logger"
	"github.com/loomlocal/loom/pkg/mcp"
	"github.com/loomlocal/loom/pkg/provider"
	"github.com/loomlocal/loom/pkg/retrieval"
	"github.com/loomlocal/loom/pkg/store"
	"github.com/loomlocal/loom/pkg/vectorstore"
	"github.com/loomlocal/loom/pkg/vision"
)

// Options wires the server's collaborators. NewCaller and NewRecognizer
// exist so tests can substitute scripted models for real endpoints.
type Options struct {
	Store     *store.Store
	Vectors   *vectorstore.Store   // nil disables knowledge base endpoints
	Retriever *retrieval.Retriever // nil disables knowledge search during chat
	MCP       *mcp.Client          // nil disables MCP tools during chat

	UploadsDir    string
	SystemPrompt  string
	MaxToolRounds int
	SearchSource  string
	TavilyAPIKey  string
	VisionModel   string

	// FallbackProvider serves conversations when no provider rows exist
	FallbackProvider provider.Config

	NewCaller     func(cfg provider.Config, model string) (compose.ModelCaller, error)
	NewRecognizer func(cfg provider.Config, model string) (compose.Recognizer, error)
}

// Server is the HTTP surface of the chat backend
type Server struct {
	opts Options
	mux  *http.ServeMux
}

// New builds the server and its routes
func New(opts Options) *Server {
	if opts.NewCaller == nil {
		opts.NewCaller = func(cfg provider.Config, model string) (compose.ModelCaller, error) {
			return provider.New(cfg, model)
		}
	}
	if opts.NewRecognizer == nil {
		opts.NewRecognizer = func(cfg provider.Config, model string) (compose.Recognizer, error) {
			client, err := provider.New(cfg, model)
			if err != nil {
				return nil, err
			}
			return vision.NewDescriber(client), nil
		}
	}

	s := &Server{opts: opts, mux: http.NewServeMux()}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.HandleFunc("GET /api/conversations", s.handleListConversations)
	s.mux.HandleFunc("POST /api/conversations", s.handleCreateConversation)
	s.mux.HandleFunc("GET /api/conversations/{id}", s.handleGetConversation)
	s.mux.HandleFunc("PATCH /api/conversations/{id}", s.handleUpdateConversation)
	s.mux.HandleFunc("DELETE /api/conversations/{id}", s.handleDeleteConversation)
	s.mux.HandleFunc("GET /api/conversations/{id}/messages", s.handleListMessages)
	s.mux.HandleFunc("POST /api/conversations/{id}/chat", s.handleChat)
	s.mux.HandleFunc("POST /api/conversations/{id}/messages/partial", s.handleSavePartial)
	s.mux.HandleFunc("POST /api/conversations/{id}/files", s.handleUploadFile)
	s.mux.HandleFunc("GET /api/conversations/{id}/files", s.handleListFiles)

	s.mux.HandleFunc("GET /api/providers", s.handleListProviders)
	s.mux.HandleFunc("POST /api/providers", s.handleSaveProvider)
	s.mux.HandleFunc("DELETE /api/providers/{id}", s.handleDeleteProvider)
	s.mux.HandleFunc("GET /api/models/vision", s.handleVisionModels)

	s.mux.HandleFunc("GET /api/knowledge-bases", s.handleListKnowledgeBases)
	s.mux.HandleFunc("POST /api/knowledge-bases", s.handleCreateKnowledgeBase)
	s.mux.HandleFunc("DELETE /api/knowledge-bases/{name}", s.handleDeleteKnowledgeBase)
	s.mux.HandleFunc("POST /api/knowledge-bases/{name}/documents", s.handleAddDocuments)

	s.mux.HandleFunc("GET /api/settings/{key}", s.handleGetSetting)
	s.mux.HandleFunc("PUT /api/settings/{key}", s.handleSetSetting)

	s.mux.HandleFunc("GET /api/search/test", s.handleSearchTest)
	s.mux.HandleFunc("GET /api/health", s.handleHealth)
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// ListenAndServe blocks serving on addr
func (s *Server) ListenAndServe(addr string) error {
	logger.Info("listening on %s", addr)
	return http.ListenAndServe(addr, s)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// resolveProvider picks the provider for a conversation: its pinned
// provider row, else the default row, else the configured fallback
func (s *Server) resolveProvider(r *http.Request, conv *store.Conversation) (provider.Config, error) {
	records, err := s.opts.Store.ListProviders(r.Context())
	if err != nil {
		return provider.Config{}, err
	}

	if conv.ProviderID != nil {
		for _, rec := range records {
			if rec.ID == *conv.ProviderID {
				return rec.Config(), nil
			}
		}
		return provider.Config{}, fmt.Errorf("provider %d not found", *conv.ProviderID)
	}
	for _, rec := range records {
		if rec.IsDefault {
			return rec.Config(), nil
		}
	}
	if s.opts.FallbackProvider.APIBase != "" {
		return s.opts.FallbackProvider, nil
	}
	if len(records) > 0 {
		return records[0].Config(), nil
	}
	return provider.Config{}, fmt.Errorf("no provider configured")
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Error("failed to encode response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, format string, args ...any) {
	writeJSON(w, status, map[string]string{"detail": fmt.Sprintf(format, args...)})
}

func readJSON(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

func pathID(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid id %q", r.PathValue("id"))
	}
	return id, nil
}

package server

import (
	"io"
	"net/http"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/loomlocal/loom/pkg/store"
	"github.com/loomlocal/loom/pkg/tools"
	"github.com/loomlocal/loom/pkg/vectorstore"
	"github.com/loomlocal/loom/pkg/vision"
)

func (s *Server) handleListConversations(w http.ResponseWriter, r *http.Request) {
	convs, err := s.opts.Store.ListConversations(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "%v", err)
		return
	}
	if convs == nil {
		convs = []*store.Conversation{}
	}
	writeJSON(w, http.StatusOK, convs)
}

func (s *Server) handleCreateConversation(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Title string `json:"title"`
		Model string `json:"model"`
	}
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "%v", err)
		return
	}
	conv, err := s.opts.Store.CreateConversation(r.Context(), req.Title, req.Model)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "%v", err)
		return
	}
	writeJSON(w, http.StatusCreated, conv)
}

func (s *Server) handleGetConversation(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "%v", err)
		return
	}
	conv, err := s.opts.Store.GetConversation(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusNotFound, "%v", err)
		return
	}
	writeJSON(w, http.StatusOK, conv)
}

func (s *Server) handleUpdateConversation(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "%v", err)
		return
	}
	var upd store.ConversationUpdate
	if err := readJSON(r, &upd); err != nil {
		writeError(w, http.StatusBadRequest, "%v", err)
		return
	}
	conv, err := s.opts.Store.UpdateConversation(r.Context(), id, upd)
	if err != nil {
		writeError(w, http.StatusNotFound, "%v", err)
		return
	}
	writeJSON(w, http.StatusOK, conv)
}

func (s *Server) handleDeleteConversation(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "%v", err)
		return
	}
	if err := s.opts.Store.DeleteConversation(r.Context(), id); err != nil {
		writeError(w, http.StatusInternalServerError, "%v", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListMessages(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "%v", err)
		return
	}
	msgs, err := s.opts.Store.ListMessages(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "%v", err)
		return
	}
	if msgs == nil {
		msgs = []*store.Message{}
	}
	writeJSON(w, http.StatusOK, msgs)
}

func (s *Server) handleListProviders(w http.ResponseWriter, r *http.Request) {
	records, err := s.opts.Store.ListProviders(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "%v", err)
		return
	}
	// API keys stay server-side.
	for _, rec := range records {
		rec.APIKey = ""
	}
	if records == nil {
		records = []*store.ProviderRecord{}
	}
	writeJSON(w, http.StatusOK, records)
}

func (s *Server) handleSaveProvider(w http.ResponseWriter, r *http.Request) {
	var rec store.ProviderRecord
	if err := readJSON(r, &rec); err != nil {
		writeError(w, http.StatusBadRequest, "%v", err)
		return
	}
	if rec.Name == "" || rec.APIBase == "" {
		writeError(w, http.StatusBadRequest, "name and api_base are required")
		return
	}
	saved, err := s.opts.Store.SaveProvider(r.Context(), &rec)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "%v", err)
		return
	}
	saved.APIKey = ""
	writeJSON(w, http.StatusCreated, saved)
}

func (s *Server) handleDeleteProvider(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "%v", err)
		return
	}
	if err := s.opts.Store.DeleteProvider(r.Context(), id); err != nil {
		writeError(w, http.StatusInternalServerError, "%v", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleVisionModels(w http.ResponseWriter, r *http.Request) {
	records, err := s.opts.Store.ListProviders(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "%v", err)
		return
	}
	models := []string{}
	seen := map[string]bool{}
	add := func(names []string) {
		for _, name := range names {
			if !seen[name] {
				seen[name] = true
				models = append(models, name)
			}
		}
	}
	for _, rec := range records {
		add(rec.Config().VisionModels())
	}
	add(s.opts.FallbackProvider.VisionModels())
	if s.opts.VisionModel != "" {
		add([]string{s.opts.VisionModel})
	}
	writeJSON(w, http.StatusOK, map[string]any{"models": models})
}

const maxUploadSize = 50 << 20

func (s *Server) handleUploadFile(w http.ResponseWriter, r *http.Request) {
	convID, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "%v", err)
		return
	}
	if _, err := s.opts.Store.GetConversation(r.Context(), convID); err != nil {
		writeError(w, http.StatusNotFound, "%v", err)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxUploadSize)
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "missing file field: %v", err)
		return
	}
	defer file.Close()

	if err := os.MkdirAll(s.opts.UploadsDir, 0755); err != nil {
		writeError(w, http.StatusInternalServerError, "%v", err)
		return
	}
	storedName := uuid.New().String() + filepath.Ext(header.Filename)
	storedPath := filepath.Join(s.opts.UploadsDir, storedName)
	dst, err := os.Create(storedPath)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "%v", err)
		return
	}
	size, err := io.Copy(dst, file)
	dst.Close()
	if err != nil {
		os.Remove(storedPath)
		writeError(w, http.StatusInternalServerError, "failed to store upload: %v", err)
		return
	}

	rec := &store.UploadedFile{
		ConversationID: &convID,
		Name:           header.Filename,
		StoredPath:     storedPath,
		FileType:       vision.FileType(header.Filename),
		MIMEType:       header.Header.Get("Content-Type"),
		Size:           size,
	}
	id, err := s.opts.Store.SaveFile(r.Context(), rec)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "%v", err)
		return
	}
	rec.ID = id
	writeJSON(w, http.StatusCreated, rec)
}

func (s *Server) handleListFiles(w http.ResponseWriter, r *http.Request) {
	convID, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "%v", err)
		return
	}
	files, err := s.opts.Store.ListFiles(r.Context(), convID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "%v", err)
		return
	}
	if files == nil {
		files = []*store.UploadedFile{}
	}
	writeJSON(w, http.StatusOK, files)
}

func (s *Server) handleListKnowledgeBases(w http.ResponseWriter, r *http.Request) {
	kbs, err := s.opts.Store.ListKnowledgeBases(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "%v", err)
		return
	}
	if kbs == nil {
		kbs = []*store.KnowledgeBase{}
	}
	writeJSON(w, http.StatusOK, kbs)
}

func (s *Server) handleCreateKnowledgeBase(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name        string `json:"name"`
		Description string `json:"description"`
	}
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "%v", err)
		return
	}
	if req.Name == "" {
		writeError(w, http.StatusBadRequest, "name is required")
		return
	}
	kb, err := s.opts.Store.CreateKnowledgeBase(r.Context(), req.Name, req.Description)
	if err != nil {
		writeError(w, http.StatusConflict, "%v", err)
		return
	}
	writeJSON(w, http.StatusCreated, kb)
}

func (s *Server) handleDeleteKnowledgeBase(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	if err := s.opts.Store.DeleteKnowledgeBase(r.Context(), name); err != nil {
		writeError(w, http.StatusInternalServerError, "%v", err)
		return
	}
	if s.opts.Vectors != nil {
		if err := s.opts.Vectors.DeleteCollection(name); err != nil {
			writeError(w, http.StatusInternalServerError, "%v", err)
			return
		}
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleAddDocuments(w http.ResponseWriter, r *http.Request) {
	if s.opts.Vectors == nil {
		writeError(w, http.StatusServiceUnavailable, "vector store not configured")
		return
	}
	name := r.PathValue("name")
	var req struct {
		Documents []vectorstore.Document `json:"documents"`
	}
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "%v", err)
		return
	}
	if len(req.Documents) == 0 {
		writeError(w, http.StatusBadRequest, "documents are required")
		return
	}
	if err := s.opts.Vectors.AddDocuments(r.Context(), name, req.Documents); err != nil {
		writeError(w, http.StatusInternalServerError, "%v", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"indexed": len(req.Documents)})
}

func (s *Server) handleGetSetting(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("key")
	value, err := s.opts.Store.GetSetting(r.Context(), key, r.URL.Query().Get("default"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "%v", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"key": key, "value": value})
}

func (s *Server) handleSetSetting(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("key")
	var req struct {
		Value string `json:"value"`
	}
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "%v", err)
		return
	}
	if err := s.opts.Store.SetSetting(r.Context(), key, req.Value); err != nil {
		writeError(w, http.StatusInternalServerError, "%v", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"key": key, "value": req.Value})
}

func (s *Server) handleSearchTest(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query().Get("q")
	if query == "" {
		writeError(w, http.StatusBadRequest, "q is required")
		return
	}
	search := tools.NewWebSearch(s.opts.SearchSource, s.opts.TavilyAPIKey)
	result, err := search.Execute(r.Context(), map[string]any{"query": query})
	if err != nil {
		writeError(w, http.StatusBadGateway, "search failed: %v", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"query": query, "result": result})
}

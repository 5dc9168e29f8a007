package server

import (
	"context"
	"net/http"
	"os"
	"strings"

	"github.com/tmc/langchaingo/llms"

	"github.com/loomlocal/loom/pkg/compose"
	"github.com/loomlocal/loom/pkg/envelope"
	"github.com/loomlocal/loom/pkg/logger"
	"github.com/loomlocal/loom/pkg/provider"
	"github.com/loomlocal/loom/pkg/store"
	"github.com/loomlocal/loom/pkg/tools"
)

// teeWriter duplicates SSE frames into a transcript buffer while
// streaming them to the client
type teeWriter struct {
	w          http.ResponseWriter
	flusher    http.Flusher
	transcript strings.Builder
}

func newTeeWriter(w http.ResponseWriter) *teeWriter {
	tw := &teeWriter{w: w}
	if f, ok := w.(http.Flusher); ok {
		tw.flusher = f
	}
	return tw
}

func (t *teeWriter) Write(p []byte) (int, error) {
	t.transcript.Write(p)
	return t.w.Write(p)
}

func (t *teeWriter) Flush() {
	if t.flusher != nil {
		t.flusher.Flush()
	}
}

type chatRequest struct {
	Content string  `json:"content"`
	Model   string  `json:"model"`
	FileIDs []int64 `json:"file_ids"`
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	convID, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "%v", err)
		return
	}
	var req chatRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "%v", err)
		return
	}
	if strings.TrimSpace(req.Content) == "" {
		writeError(w, http.StatusBadRequest, "content is required")
		return
	}

	ctx := r.Context()
	conv, err := s.opts.Store.GetConversation(ctx, convID)
	if err != nil {
		writeError(w, http.StatusNotFound, "%v", err)
		return
	}

	cfg, err := s.resolveProvider(r, conv)
	if err != nil {
		writeError(w, http.StatusBadRequest, "%v", err)
		return
	}
	model := req.Model
	if model == "" {
		model = conv.Model
	}
	caller, err := s.opts.NewCaller(cfg, model)
	if err != nil {
		writeError(w, http.StatusBadGateway, "%v", err)
		return
	}

	history, err := s.buildHistory(ctx, convID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "%v", err)
		return
	}

	attachments, err := s.loadAttachments(ctx, req.FileIDs)
	if err != nil {
		writeError(w, http.StatusBadRequest, "%v", err)
		return
	}

	userID, err := s.opts.Store.SaveMessage(ctx, &store.Message{
		ConversationID: convID,
		Role:           "user",
		Content:        req.Content,
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, "%v", err)
		return
	}
	if conv.Title == "New Conversation" {
		title := deriveTitle(req.Content)
		if _, err := s.opts.Store.UpdateConversation(ctx, convID, store.ConversationUpdate{Title: &title}); err != nil {
			logger.Warn("failed to set conversation title: %v", err)
		}
	}

	composer := &compose.Composer{
		Client:        caller,
		Tools:         s.buildTools(ctx, conv),
		Vision:        s.buildRecognizer(cfg),
		MaxToolRounds: s.opts.MaxToolRounds,
	}

	messages := append(history, llms.TextParts(llms.ChatMessageTypeHuman, req.Content))

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	tee := newTeeWriter(w)
	writer := envelope.NewWriter(tee)

	outcome, runErr := composer.Run(ctx, writer, compose.Request{
		Messages:      messages,
		Attachments:   attachments,
		UserMessageID: userID,
	})
	if runErr != nil {
		logger.Error("chat turn for conversation %d failed: %v", convID, runErr)
	}

	s.persistOutcome(convID, outcome, tee.transcript.String())
}

// persistOutcome saves the assistant turn after the stream is closed.
// The request context is usually gone by now, so it uses a fresh one.
func (s *Server) persistOutcome(convID int64, outcome *compose.Outcome, transcript string) {
	if outcome == nil || (outcome.Content == "" && outcome.Thinking == "" && len(outcome.Tools) == 0) {
		return
	}
	msg := &store.Message{
		ConversationID: convID,
		Role:           "assistant",
		Content:        outcome.Content,
		Model:          outcome.Model,
		Thinking:       outcome.Thinking,
		Events:         transcript,
	}
	if outcome.Usage != nil {
		msg.InputTokens = outcome.Usage.InputTokens
		msg.OutputTokens = outcome.Usage.OutputTokens
		msg.TotalTokens = outcome.Usage.TotalTokens
	}
	if _, err := s.opts.Store.SaveMessage(context.Background(), msg); err != nil {
		logger.Error("failed to persist assistant message: %v", err)
	}
}

func (s *Server) handleSavePartial(w http.ResponseWriter, r *http.Request) {
	convID, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "%v", err)
		return
	}
	var req struct {
		Content  string `json:"content"`
		Model    string `json:"model"`
		Thinking string `json:"thinking"`
	}
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "%v", err)
		return
	}
	if err := s.opts.Store.SavePartial(r.Context(), convID, req.Content, req.Model, req.Thinking); err != nil {
		writeError(w, http.StatusInternalServerError, "%v", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "saved"})
}

// buildHistory replays the stored conversation as model messages.
// Partial messages are included so the model sees what the user saw.
func (s *Server) buildHistory(ctx context.Context, convID int64) ([]llms.MessageContent, error) {
	stored, err := s.opts.Store.ListMessages(ctx, convID)
	if err != nil {
		return nil, err
	}

	var out []llms.MessageContent
	if s.opts.SystemPrompt != "" {
		out = append(out, llms.TextParts(llms.ChatMessageTypeSystem, s.opts.SystemPrompt))
	}
	for _, msg := range stored {
		if msg.Content == "" {
			continue
		}
		switch msg.Role {
		case "user":
			out = append(out, llms.TextParts(llms.ChatMessageTypeHuman, msg.Content))
		case "assistant":
			out = append(out, llms.TextParts(llms.ChatMessageTypeAI, msg.Content))
		}
	}
	return out, nil
}

// buildTools assembles the tool surface allowed for this conversation
func (s *Server) buildTools(ctx context.Context, conv *store.Conversation) compose.ToolExecutor {
	registry := tools.NewRegistry()
	registry.Register(tools.LocalTime{})
	registry.Register(tools.Calculator{})

	if conv.UseWebSearch {
		registry.Register(tools.NewWebSearch(s.opts.SearchSource, s.opts.TavilyAPIKey))
	}
	if conv.UseKnowledgeBase && s.opts.Retriever != nil && len(conv.KnowledgeBases) > 0 {
		registry.Register(tools.NewKnowledgeSearch(s.opts.Retriever, conv.KnowledgeBases))
	}
	if conv.UseMCP && s.opts.MCP != nil {
		for _, tool := range tools.DiscoverMCPTools(ctx, s.opts.MCP) {
			registry.Register(tool)
		}
	}

	if registry.Len() == 0 {
		return nil
	}
	return registry
}

// buildRecognizer connects the vision model when one is configured.
// Failure to connect degrades to a chat without the vision phase.
func (s *Server) buildRecognizer(cfg provider.Config) compose.Recognizer {
	if s.opts.VisionModel == "" || s.opts.NewRecognizer == nil {
		return nil
	}
	rec, err := s.opts.NewRecognizer(cfg, s.opts.VisionModel)
	if err != nil {
		logger.Warn("vision model unavailable: %v", err)
		return nil
	}
	return rec
}

func (s *Server) loadAttachments(ctx context.Context, fileIDs []int64) ([]compose.Attachment, error) {
	var out []compose.Attachment
	for _, id := range fileIDs {
		rec, err := s.opts.Store.GetFile(ctx, id)
		if err != nil {
			return nil, err
		}
		data, err := os.ReadFile(rec.StoredPath)
		if err != nil {
			return nil, err
		}
		out = append(out, compose.Attachment{
			Name:     rec.Name,
			FileType: rec.FileType,
			MIME:     rec.MIMEType,
			Data:     data,
		})
	}
	return out, nil
}

// deriveTitle trims the first user message into a conversation title
func deriveTitle(content string) string {
	title := strings.TrimSpace(content)
	if line := strings.IndexByte(title, '\n'); line > 0 {
		title = title[:line]
	}
	runes := []rune(title)
	if len(runes) > 50 {
		title = string(runes[:50])
	}
	if title == "" {
		title = "New Conversation"
	}
	return title
}

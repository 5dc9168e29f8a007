package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/loomlocal/loom/pkg/logger"
	"github.com/tmc/langchaingo/llms"
)

const (
	SourceDuckDuckGo = "duckduckgo"
	SourceTavily     = "tavily"

	duckDuckGoAPI = "https://api.duckduckgo.com/"
	tavilyAPI     = "https://api.tavily.com/search"
)

// WebSearch answers queries via DuckDuckGo (free, default) or Tavily
// (needs an API key). Without a Tavily key the tool falls back to
// DuckDuckGo instead of failing.
type WebSearch struct {
	Source       string
	TavilyAPIKey string

	httpClient *http.Client
	ddgURL     string
	tavilyURL  string
}

// NewWebSearch creates the tool with the configured default source
func NewWebSearch(source, tavilyKey string) *WebSearch {
	if source == "" {
		source = SourceDuckDuckGo
	}
	return &WebSearch{
		Source:       source,
		TavilyAPIKey: tavilyKey,
		httpClient:   &http.Client{Timeout: 20 * time.Second},
		ddgURL:       duckDuckGoAPI,
		tavilyURL:    tavilyAPI,
	}
}

// Definition implements Tool
func (w *WebSearch) Definition() llms.Tool {
	return llms.Tool{
		Type: "function",
		Function: &llms.FunctionDefinition{
			Name:        "web_search",
			Description: "Search the web for current information, real-time data, or recent events",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"query": map[string]any{
						"type":        "string",
						"description": "The search query",
					},
					"source": map[string]any{
						"type":        "string",
						"description": "Search source: duckduckgo (free, default) or tavily (needs API key)",
						"enum":        []string{SourceDuckDuckGo, SourceTavily},
					},
				},
				"required": []string{"query"},
			},
		},
	}
}

// Execute implements Tool
func (w *WebSearch) Execute(ctx context.Context, args map[string]any) (string, error) {
	query := stringArg(args, "query")
	if query == "" {
		return "", fmt.Errorf("query is required")
	}

	source := stringArg(args, "source")
	if source == "" {
		source = w.Source
	}

	if source == SourceTavily {
		if w.TavilyAPIKey == "" {
			logger.Info("tavily requested without an API key, falling back to duckduckgo")
			return w.searchDuckDuckGo(ctx, query)
		}
		return w.searchTavily(ctx, query)
	}
	return w.searchDuckDuckGo(ctx, query)
}

func (w *WebSearch) searchDuckDuckGo(ctx context.Context, query string) (string, error) {
	params := url.Values{
		"q":             {query},
		"format":        {"json"},
		"no_redirect":   {"1"},
		"no_html":       {"1"},
		"skip_disambig": {"1"},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, w.ddgURL+"?"+params.Encode(), nil)
	if err != nil {
		return "", err
	}

	resp, err := w.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("duckduckgo request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("duckduckgo returned status %d", resp.StatusCode)
	}

	var result struct {
		AbstractText  string `json:"AbstractText"`
		AbstractURL   string `json:"AbstractURL"`
		Answer        string `json:"Answer"`
		RelatedTopics []struct {
			Text     string `json:"Text"`
			FirstURL string `json:"FirstURL"`
		} `json:"RelatedTopics"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("failed to decode duckduckgo response: %w", err)
	}

	var sb strings.Builder
	if result.Answer != "" {
		fmt.Fprintf(&sb, "%s\n\n", result.Answer)
	}
	if result.AbstractText != "" {
		fmt.Fprintf(&sb, "%s\nSource: %s\n\n", result.AbstractText, result.AbstractURL)
	}
	count := 0
	for _, topic := range result.RelatedTopics {
		if topic.Text == "" || count >= 5 {
			continue
		}
		fmt.Fprintf(&sb, "- %s (%s)\n", topic.Text, topic.FirstURL)
		count++
	}

	if sb.Len() == 0 {
		return fmt.Sprintf("No results for %q.", query), nil
	}
	return sb.String(), nil
}

func (w *WebSearch) searchTavily(ctx context.Context, query string) (string, error) {
	body, err := json.Marshal(map[string]any{
		"api_key":     w.TavilyAPIKey,
		"query":       query,
		"max_results": 5,
	})
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.tavilyURL, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("tavily request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("tavily returned status %d", resp.StatusCode)
	}

	var result struct {
		Answer  string `json:"answer"`
		Results []struct {
			Title   string `json:"title"`
			URL     string `json:"url"`
			Content string `json:"content"`
		} `json:"results"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("failed to decode tavily response: %w", err)
	}

	var sb strings.Builder
	if result.Answer != "" {
		fmt.Fprintf(&sb, "%s\n\n", result.Answer)
	}
	for _, r := range result.Results {
		fmt.Fprintf(&sb, "- %s (%s)\n  %s\n", r.Title, r.URL, r.Content)
	}
	if sb.Len() == 0 {
		return fmt.Sprintf("No results for %q.", query), nil
	}
	return sb.String(), nil
}

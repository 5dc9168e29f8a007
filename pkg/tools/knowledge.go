package tools

import (
	"context"
	"fmt"

	"github.com/loomlocal/loom/pkg/retrieval"
	"github.com/tmc/langchaingo/llms"
)

// KnowledgeSearch exposes the conversation's knowledge bases as a tool
type KnowledgeSearch struct {
	retriever *retrieval.Retriever
	kbs       []string
}

// NewKnowledgeSearch creates the tool scoped to the given knowledge bases
func NewKnowledgeSearch(retriever *retrieval.Retriever, kbs []string) *KnowledgeSearch {
	return &KnowledgeSearch{retriever: retriever, kbs: kbs}
}

// Definition implements Tool
func (k *KnowledgeSearch) Definition() llms.Tool {
	return llms.Tool{
		Type: "function",
		Function: &llms.FunctionDefinition{
			Name:        "search_knowledge",
			Description: "Search the attached knowledge bases for relevant content",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"query": map[string]any{
						"type":        "string",
						"description": "What to look up",
					},
				},
				"required": []string{"query"},
			},
		},
	}
}

// Execute implements Tool
func (k *KnowledgeSearch) Execute(ctx context.Context, args map[string]any) (string, error) {
	query := stringArg(args, "query")
	if query == "" {
		return "", fmt.Errorf("query is required")
	}

	results, err := k.retriever.Retrieve(ctx, k.kbs, query)
	if err != nil {
		return "", err
	}
	if len(results) == 0 {
		return "No relevant content found in the knowledge bases.", nil
	}
	return k.retriever.BuildContext(results), nil
}

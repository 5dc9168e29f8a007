package retrieval

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/loomlocal/loom/pkg/logger"
	"github.com/loomlocal/loom/pkg/vectorstore"
)

// Config tunes retrieval behavior
type Config struct {
	// MaxDocuments caps how many chunks feed into the prompt
	MaxDocuments int

	// ScoreThreshold drops weakly-similar chunks
	ScoreThreshold float32

	// MaxContextLength bounds the augmented context in characters
	MaxContextLength int
}

// Retriever searches one or more knowledge bases and builds the context
// block prepended to the model prompt
type Retriever struct {
	store  *vectorstore.Store
	config Config
}

// NewRetriever creates a retriever with config defaults filled in
func NewRetriever(store *vectorstore.Store, config Config) *Retriever {
	if config.MaxDocuments == 0 {
		config.MaxDocuments = 4
	}
	if config.MaxContextLength == 0 {
		config.MaxContextLength = 6000
	}
	return &Retriever{store: store, config: config}
}

// Retrieve searches the given knowledge bases and returns the best
// chunks overall, capped at MaxDocuments
func (r *Retriever) Retrieve(ctx context.Context, kbs []string, query string) ([]vectorstore.Result, error) {
	if r.store == nil {
		return nil, fmt.Errorf("vector store not initialized")
	}

	var all []vectorstore.Result
	for _, kb := range kbs {
		results, err := r.store.Search(ctx, kb, query, r.config.MaxDocuments, r.config.ScoreThreshold)
		if err != nil {
			logger.Warn("search failed for knowledge base %q: %v", kb, err)
			continue
		}
		all = append(all, results...)
	}

	sort.Slice(all, func(i, j int) bool { return all[i].Score > all[j].Score })
	if len(all) > r.config.MaxDocuments {
		all = all[:r.config.MaxDocuments]
	}
	return all, nil
}

// BuildContext formats retrieved chunks into the text handed to the
// model, trimmed to the context budget
func (r *Retriever) BuildContext(results []vectorstore.Result) string {
	if len(results) == 0 {
		return ""
	}

	var sb strings.Builder
	for i, res := range results {
		entry := fmt.Sprintf("[%d] %s\n", i+1, res.Content)
		if source := res.Metadata["source"]; source != "" {
			entry += fmt.Sprintf("    (from %s)\n", source)
		}
		if sb.Len()+len(entry) > r.config.MaxContextLength {
			break
		}
		sb.WriteString(entry)
	}
	return sb.String()
}

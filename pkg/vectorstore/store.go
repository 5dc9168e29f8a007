package vectorstore

import (
	"context"
	"fmt"
	"runtime"
	"sync"

	chromem "github.com/philippgille/chromem-go"
)

// Document is one chunk of knowledge-base content
type Document struct {
	ID       string
	Content  string
	Metadata map[string]string
}

// Result is a retrieved document with its similarity score
type Result struct {
	Document
	Score float32
}

// Store wraps a chromem-go database with one collection per knowledge
// base. Embeddings come from the configured provider's OpenAI-compatible
// embeddings endpoint.
type Store struct {
	db    *chromem.DB
	embed chromem.EmbeddingFunc
	mu    sync.Mutex
}

// Open creates or loads a store. An empty directory keeps everything
// in memory, used by tests.
func Open(dir string, embed chromem.EmbeddingFunc) (*Store, error) {
	if embed == nil {
		return nil, fmt.Errorf("embedding function is required")
	}

	var db *chromem.DB
	var err error
	if dir != "" {
		db, err = chromem.NewPersistentDB(dir, false)
		if err != nil {
			return nil, fmt.Errorf("failed to open vector store: %w", err)
		}
	} else {
		db = chromem.NewDB()
	}
	return &Store{db: db, embed: embed}, nil
}

// OpenAICompatEmbedding builds an embedding function against any
// OpenAI-compatible endpoint
func OpenAICompatEmbedding(baseURL, apiKey, model string) chromem.EmbeddingFunc {
	return chromem.NewEmbeddingFuncOpenAICompat(baseURL, apiKey, model, nil)
}

func (s *Store) collection(kb string) (*chromem.Collection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.GetOrCreateCollection("kb-"+kb, nil, s.embed)
}

// AddDocuments indexes chunks into a knowledge base's collection
func (s *Store) AddDocuments(ctx context.Context, kb string, docs []Document) error {
	collection, err := s.collection(kb)
	if err != nil {
		return fmt.Errorf("failed to open collection for %q: %w", kb, err)
	}

	chromemDocs := make([]chromem.Document, len(docs))
	for i, doc := range docs {
		chromemDocs[i] = chromem.Document{
			ID:       doc.ID,
			Content:  doc.Content,
			Metadata: doc.Metadata,
		}
	}
	if err := collection.AddDocuments(ctx, chromemDocs, runtime.NumCPU()); err != nil {
		return fmt.Errorf("failed to add documents to %q: %w", kb, err)
	}
	return nil
}

// Search returns up to k documents above the score threshold, best first
func (s *Store) Search(ctx context.Context, kb, query string, k int, threshold float32) ([]Result, error) {
	collection, err := s.collection(kb)
	if err != nil {
		return nil, fmt.Errorf("failed to open collection for %q: %w", kb, err)
	}

	count := collection.Count()
	if count == 0 {
		return nil, nil
	}
	if k > count {
		k = count
	}

	matches, err := collection.Query(ctx, query, k, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("query failed for %q: %w", kb, err)
	}

	results := make([]Result, 0, len(matches))
	for _, m := range matches {
		if m.Similarity < threshold {
			continue
		}
		results = append(results, Result{
			Document: Document{ID: m.ID, Content: m.Content, Metadata: m.Metadata},
			Score:    m.Similarity,
		})
	}
	return results, nil
}

// DeleteCollection drops a knowledge base's collection entirely
func (s *Store) DeleteCollection(kb string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.DeleteCollection("kb-" + kb)
}

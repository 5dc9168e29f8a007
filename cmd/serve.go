package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/loomlocal/loom/pkg/config"
	"github.com/loomlocal/loom/pkg/logger"
	"github.com/loomlocal/loom/pkg/mcp"
	"github.com/loomlocal/loom/pkg/provider"
	"github.com/loomlocal/loom/pkg/retrieval"
	"github.com/loomlocal/loom/pkg/server"
	"github.com/loomlocal/loom/pkg/store"
	"github.com/loomlocal/loom/pkg/vectorstore"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP chat backend",
	Run: func(cmd *cobra.Command, args []string) {
		runServe()
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe() {
	settings := config.Get()

	db, err := store.Open(config.DataPath("loom.db"))
	if err != nil {
		logger.Fatal("failed to open database: %v", err)
	}
	defer db.Close()

	embed := vectorstore.OpenAICompatEmbedding(
		settings.Embedding.APIBase, settings.Embedding.APIKey, settings.Embedding.Model)
	vectors, err := vectorstore.Open(config.DataPath("vectors"), embed)
	if err != nil {
		logger.Fatal("failed to open vector store: %v", err)
	}

	retriever := retrieval.NewRetriever(vectors, retrieval.Config{
		MaxDocuments:   settings.Retrieval.K,
		ScoreThreshold: settings.Retrieval.ScoreThreshold,
	})

	srv := server.New(server.Options{
		Store:         db,
		Vectors:       vectors,
		Retriever:     retriever,
		MCP:           mcp.NewClient(),
		UploadsDir:    config.DataPath("uploads"),
		SystemPrompt:  settings.Chat.SystemPrompt,
		MaxToolRounds: settings.Chat.MaxToolRounds,
		SearchSource:  settings.Search.DefaultSource,
		TavilyAPIKey:  settings.Search.TavilyAPIKey,
		VisionModel:   settings.Vision.Model,
		FallbackProvider: provider.Config{
			Name:         settings.Provider.Name,
			APIBase:      settings.Provider.APIBase,
			APIKey:       settings.Provider.APIKey,
			DefaultModel: settings.Provider.DefaultModel,
			IsDefault:    true,
		},
	})

	addr := fmt.Sprintf("%s:%d", settings.Server.Host, settings.Server.Port)
	if err := srv.ListenAndServe(addr); err != nil {
		logger.Fatal("server stopped: %v", err)
	}
}

package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/mikeboe/deep-research/pkg/chat"
	"github.com/mikeboe/deep-research/pkg/clients"
	"github.com/mikeboe/deep-research/pkg/config"
	"github.com/mikeboe/deep-research/pkg/database"
	"github.com/mikeboe/deep-research/pkg/embeddings"
	"github.com/mikeboe/deep-research/pkg/research"
	"github.com/mikeboe/deep-research/pkg/research/tools"
	"github.com/mikeboe/deep-research/pkg/server"
	"github.com/mikeboe/deep-research/pkg/vectorstore"
)

func main() {
	console := slog.NewTextHandler(os.Stdout, nil)
	slog.SetDefault(slog.New(console))

	cfg := config.Load()
	ctx := context.Background()

	db, err := database.NewPostgresDB(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	if err := db.InitSchema(ctx); err != nil {
		log.Fatalf("Failed to initialize schema: %v", err)
	}

	store, err := vectorstore.NewPGVectorStore(db.Pool, cfg.CollectionName)
	if err != nil {
		log.Fatalf("Failed to create vector store: %v", err)
	}
	if err := store.EnsureSchema(ctx, embeddings.Dimension); err != nil {
		log.Fatalf("Failed to initialize vector store: %v", err)
	}

	embedder, err := embeddings.NewGoogleEmbedder(ctx, cfg.EmbeddingModel, cfg.GoogleApiKey)
	if err != nil {
		log.Fatalf("Failed to create embedder: %v", err)
	}
	ragTools := chat.NewRagToolset(embedder, store, cfg.Rag())

	model, err := clients.NewModel(ctx, cfg.LLMProvider, cfg.LLMApiKey(), clients.ModelType(cfg.Model))
	if err != nil {
		log.Fatalf("Failed to create model: %v", err)
	}
	completion := clients.NewCompletion(model, cfg.Sampling())

	scraper := tools.NewPDFScraper(cfg.MistralApiKey)
	search, err := tools.NewSearchProvider(cfg.SearchProvider, cfg.TavilyApiKey, scraper)
	if err != nil {
		log.Fatalf("Failed to create search provider: %v", err)
	}

	router := &chat.Router{
		LLM: completion,
		WithSampling: func(s clients.Sampling) research.Completer {
			return completion.WithSampling(s)
		},
		Search:   search,
		Research: cfg.Research(),
	}

	chatSvc, err := chat.NewService(ctx, db, cfg, router, ragTools)
	if err != nil {
		log.Fatalf("Failed to init chat service: %v", err)
	}

	svc := server.NewService(db, cfg.Research(), completion, search)
	svc.Console = console
	handler := server.NewHandler(svc, chatSvc, ragTools, router, scraper)

	r := gin.Default()

	r.Use(cors.New(cors.Config{
		AllowOrigins:     []string{"*"}, // Allow all for dev
		AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "HEAD", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Mcp-Session-Id"},
		ExposeHeaders:    []string{"Content-Length", "Mcp-Session-Id"},
		AllowCredentials: true,
	}))

	handler.RegisterRoutes(r)

	fmt.Printf("Server starting on port %s\n", cfg.Port)
	if err := r.Run(":" + cfg.Port); err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}
}

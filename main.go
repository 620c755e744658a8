package main

import (
	"context"
	"os"
	"time"

	"go.uber.org/zap"

	"docchat/config"
	"docchat/logger"
	"docchat/processors"
	"docchat/providers"
	"docchat/rag"
	"docchat/server"
	"docchat/storage"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logger.Init("info", "console", "stdout")
		logger.Fatal("failed to load configuration", zap.Error(err))
	}
	if err := logger.Init(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.OutputPath); err != nil {
		logger.Fatal("failed to initialize logger", zap.Error(err))
	}
	defer logger.Sync()

	provider := buildProvider(cfg)

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()
	vectors, timestamps, documents := buildStores(ctx, cfg)

	extractor := processors.NewExtractor(provider)
	pipeline := processors.NewPipeline(provider, extractor, vectors, timestamps, documents,
		cfg.Chunking.Size, cfg.Chunking.Overlap)
	answerer := rag.NewAnswerer(provider, vectors, timestamps, documents,
		cfg.Chunking.TopK, cfg.Chunking.MaxHistoryTurns, cfg.Chunking.MaxTimestamps)

	srv := server.New(cfg, pipeline, answerer, documents, timestamps)
	if err := srv.ListenAndServe(); err != nil {
		logger.Fatal("server exited", zap.Error(err))
	}
}

// buildProvider selects the AI backend. Without an API key the service
// still runs on the deterministic mock so local development and demos
// need no credentials.
func buildProvider(cfg *config.Config) providers.Provider {
	apiKey := cfg.Provider.APIKey
	if apiKey == "" {
		apiKey = os.Getenv("OPENAI_API_KEY")
	}

	var provider providers.Provider
	if apiKey == "" {
		logger.Warn("no API key configured, using mock AI provider")
		provider = providers.NewMockProvider()
	} else {
		cfg.Provider.APIKey = apiKey
		provider = providers.NewOpenAIProvider(cfg.Provider)
	}

	if cfg.Redis.Enabled {
		cached, err := providers.NewCachedProvider(provider, cfg.Redis)
		if err != nil {
			logger.Warn("redis unavailable, embedding cache disabled", zap.Error(err))
			return provider
		}
		return cached
	}
	return provider
}

// buildStores selects the storage backend. pgvector keeps vectors and
// document metadata in Postgres; milvus keeps vectors remote with
// in-memory metadata; memory keeps everything in-process.
func buildStores(ctx context.Context, cfg *config.Config) (storage.VectorIndex, storage.TimestampIndex, storage.DocumentStore) {
	timestamps := storage.NewMemoryTimestampIndex()

	switch cfg.Store.Backend {
	case "pgvector":
		vectors, err := storage.NewPgVectorIndex(ctx, cfg.Store.PostgresURL, cfg.Provider.EmbeddingDim)
		if err != nil {
			logger.Fatal("failed to connect to pgvector", zap.Error(err))
		}
		documents, err := storage.NewPgDocumentStore(ctx, vectors.Pool())
		if err != nil {
			logger.Fatal("failed to initialize document store", zap.Error(err))
		}
		logger.Info("using pgvector backend")
		return vectors, timestamps, documents
	case "milvus":
		vectors, err := storage.NewMilvusVectorIndex(ctx, cfg.Store, cfg.Provider.EmbeddingDim)
		if err != nil {
			logger.Fatal("failed to connect to milvus", zap.Error(err))
		}
		logger.Info("using milvus backend", zap.String("addr", cfg.Store.MilvusAddr))
		return vectors, timestamps, storage.NewMemoryDocumentStore()
	default:
		logger.Info("using in-memory backend")
		return storage.NewMemoryVectorIndex(), timestamps, storage.NewMemoryDocumentStore()
	}
}

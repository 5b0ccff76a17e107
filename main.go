package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ontograph/pkg/config"
	"github.com/ekaya-inc/ontograph/pkg/database"
	"github.com/ekaya-inc/ontograph/pkg/graph"
	"github.com/ekaya-inc/ontograph/pkg/handlers"
	"github.com/ekaya-inc/ontograph/pkg/llm"
	"github.com/ekaya-inc/ontograph/pkg/logging"
	"github.com/ekaya-inc/ontograph/pkg/mcp"
	"github.com/ekaya-inc/ontograph/pkg/mcp/tools"
	"github.com/ekaya-inc/ontograph/pkg/middleware"
	"github.com/ekaya-inc/ontograph/pkg/repositories"
	"github.com/ekaya-inc/ontograph/pkg/services"
	"github.com/ekaya-inc/ontograph/pkg/vector"
)

// Version is set at build time via ldflags
var Version = "dev"

// shutdownGrace bounds how long shutdown waits for in-flight requests and
// running discovery jobs before the process exits anyway.
const shutdownGrace = 30 * time.Second

func main() {
	cfg, err := config.Load(Version)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, err := logging.New(cfg.Env)
	if err != nil {
		log.Fatalf("Failed to build logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("Configuration loaded",
		zap.String("environment", cfg.Env),
		zap.String("base_url", cfg.BaseURL),
		zap.String("database", fmt.Sprintf("%s@%s:%d/%s",
			cfg.Database.User, cfg.Database.Host, cfg.Database.Port, cfg.Database.Database)),
		zap.String("graph", logging.SanitizeConnectionString(cfg.Graph.URI)),
		zap.String("vector", cfg.Vector.BaseURL),
		zap.Bool("cache_enabled", cfg.Redis.Host != ""))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Engine store (jobs, schema entries, review queue, checkpoints).
	db, err := database.NewConnection(ctx, &database.Config{
		URL:            cfg.Database.ConnectionString(),
		MaxConnections: cfg.Database.MaxConnections,
	})
	if err != nil {
		logger.Fatal("Failed to connect to engine database", zap.Error(err))
	}
	defer db.Close()

	if err := migrateEngineStore(cfg, logger); err != nil {
		logger.Fatal("Failed to run migrations", zap.Error(err))
	}

	redisClient, err := database.NewRedisClient(&cfg.Redis)
	if err != nil {
		logger.Fatal("Failed to connect to Redis", zap.Error(err))
	}
	if redisClient != nil {
		defer func() { _ = redisClient.Close() }()
	}

	graphStore, err := graph.NewNeo4jStore(ctx, &cfg.Graph, logger)
	if err != nil {
		logger.Fatal("Failed to connect to graph store", zap.Error(err))
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = graphStore.Close(closeCtx)
	}()

	vectorStore, err := vector.NewChromaStore(ctx, &cfg.Vector, logger)
	if err != nil {
		logger.Fatal("Failed to connect to vector store", zap.Error(err))
	}
	defer func() { _ = vectorStore.Close() }()

	factory := llm.NewClientFactory(&cfg.AI, logger)
	chatClient, err := factory.CreateChatClient()
	if err != nil {
		logger.Fatal("Failed to create generation client", zap.Error(err))
	}
	embeddingClient, err := factory.CreateEmbeddingClient()
	if err != nil {
		logger.Fatal("Failed to create embedding client", zap.Error(err))
	}
	llmClient := llm.NewSplitClient(chatClient, embeddingClient)

	// Repositories over the engine store.
	jobRepo := repositories.NewDiscoveryJobRepository(db)
	schemaRepo := repositories.NewOntologySchemaRepository(db)
	reviewRepo := repositories.NewReviewCandidateRepository(db)
	checkpointRepo := repositories.NewApplyCheckpointRepository(db)

	// Services.
	cache := services.NewCacheService(redisClient,
		time.Duration(cfg.Retrieval.CacheTTLSeconds)*time.Second, logger)
	generator := services.NewCandidateGenerator(graphStore, schemaRepo, &cfg.Discovery, logger)
	evaluator := services.NewCandidateEvaluator(llmClient,
		llm.NewCircuitBreaker(llm.DefaultCircuitBreakerConfig()),
		cfg.Discovery.EvaluatorRetries, logger)
	applier := services.NewOntologyApplier(graphStore, checkpointRepo, schemaRepo,
		cfg.Discovery.ApplyBatchSize, logger)
	manager := services.NewDiscoveryJobManager(jobRepo, schemaRepo, reviewRepo,
		graphStore, generator, evaluator, applier, cache, &cfg.Discovery, logger)
	retrieval := services.NewRetrievalService(vectorStore, graphStore, schemaRepo,
		llmClient, cache, &cfg.Retrieval, &cfg.AI, logger)
	reviews := services.NewReviewService(reviewRepo, schemaRepo, applier, logger)
	indexer := services.NewEntityIndexer(graphStore, vectorStore, llmClient,
		llm.NewWorkerPool(llm.DefaultWorkerPoolConfig(), logger), &cfg.AI, logger)

	// Jobs left running by a previous process lost their locks with it.
	if recovered, err := manager.RecoverInterrupted(ctx); err != nil {
		logger.Fatal("Failed to recover interrupted jobs", zap.Error(err))
	} else if recovered > 0 {
		logger.Warn("Marked interrupted discovery jobs as failed", zap.Int("count", recovered))
	}

	seeds := services.NewSeedService(schemaRepo, logger)
	if _, err := seeds.LoadFromFile(ctx, cfg.Discovery.SeedFile); err != nil {
		logger.Fatal("Failed to load seed vocabulary", zap.Error(err))
	}

	// MCP surface for agent callers.
	mcpServer := mcp.NewServer("ontograph", cfg.Version, logger)
	tools.RegisterDiscoveryTools(mcpServer.MCP(), &tools.DiscoveryToolDeps{
		Manager: manager,
		Logger:  logger,
	})
	tools.RegisterKnowledgeTools(mcpServer.MCP(), &tools.KnowledgeToolDeps{
		Retrieval: retrieval,
		Logger:    logger,
	})

	mux := http.NewServeMux()
	handlers.NewHealthHandler(cfg, db, cache, graphStore, vectorStore, logger).RegisterRoutes(mux)
	handlers.NewOntologyHandler(manager, logger).RegisterRoutes(mux)
	handlers.NewQueryHandler(retrieval, logger).RegisterRoutes(mux)
	handlers.NewReviewHandler(reviews, logger).RegisterRoutes(mux)
	handlers.NewSchemaHandler(schemaRepo, logger).RegisterRoutes(mux)
	handlers.NewIndexHandler(indexer, logger).RegisterRoutes(mux)
	handlers.NewMCPHandler(mcpServer, logger).RegisterRoutes(mux)

	var handler http.Handler = mux
	handler = middleware.Recoverer(logger)(handler)
	handler = middleware.RequestLogger(logger)(handler)
	handler = middleware.RequestID()(handler)

	server := &http.Server{
		Addr:    net.JoinHostPort(cfg.BindAddr, cfg.Port),
		Handler: handler,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("Starting ontograph",
			zap.String("addr", server.Addr),
			zap.String("version", cfg.Version),
			zap.Bool("tls", cfg.TLSCertPath != ""))
		if cfg.TLSCertPath != "" {
			serverErr <- server.ListenAndServeTLS(cfg.TLSCertPath, cfg.TLSKeyPath)
		} else {
			serverErr <- server.ListenAndServe()
		}
	}()

	select {
	case err := <-serverErr:
		logger.Fatal("Server failed", zap.Error(err))
	case <-ctx.Done():
		logger.Info("Shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("HTTP shutdown did not complete cleanly", zap.Error(err))
	}
	if err := manager.Shutdown(shutdownCtx); err != nil {
		logger.Warn("Discovery jobs did not settle before shutdown deadline", zap.Error(err))
	}
	logger.Info("Shutdown complete")
}

// migrateEngineStore runs the embedded migrations over a short-lived
// database/sql connection; the pgx pool stays reserved for request traffic.
func migrateEngineStore(cfg *config.Config, logger *zap.Logger) error {
	sqlDB, err := sql.Open("pgx", cfg.Database.ConnectionString())
	if err != nil {
		return err
	}
	defer func() { _ = sqlDB.Close() }()

	return database.RunMigrations(sqlDB, logger)
}

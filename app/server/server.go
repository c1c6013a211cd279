package server

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"
	"strconv"

	"github.com/gofiber/fiber/v2"

	"medrag/app/agent"
	"medrag/app/api"
	"medrag/loader"
	"medrag/metrics"
	"medrag/model"
	"medrag/pipeline"
	"medrag/store"
	"medrag/types"
)

// Metrics are scraped on a fixed port, independent of SERVER_ADDR.
const metricsAddr = ":9001"

var config = fiber.Config{
	ErrorHandler: api.ErrorHandler,
}

type Server struct {
	listenAddr string
	logger     *slog.Logger
}

func NewServer(addr string) *Server {
	return &Server{
		listenAddr: addr,
		logger:     slog.Default(),
	}
}

func (s *Server) Stop() {
	s.logger.Info("server stopped")
}

func (s *Server) Run() {
	ctx := context.Background()

	registry := metrics.NewRegistry()
	registry.Serve(metricsAddr)
	pipelineMetrics := metrics.NewPipelineMetrics(registry)

	cfg := types.Config{
		StagingDir:   os.Getenv("STAGING_DIR"),
		ChunkSize:    loader.DefaultChunkSize,
		ChunkOverlap: loader.DefaultChunkOverlap,
	}
	if cfg.StagingDir == "" {
		cfg.StagingDir = "documents"
	}

	ld := loader.New(cfg)
	if err := ld.EnsureStagingDir(); err != nil {
		log.Fatal("error to create staging directory", err)
		return
	}

	vectorStore, err := s.newVectorStore(ctx)
	if err != nil {
		log.Fatal("error to init vector store", err)
		return
	}

	pipe := pipeline.New(vectorStore, model.NewEmbedder(), agent.New(), ld, pipelineMetrics)

	var (
		app          = fiber.New(config)
		checkHandler = api.NewCheckHandler()
		queryHandler = api.NewQueryHandler(pipe)
		fileHandler  = api.NewFileHandler(pipe, cfg.StagingDir)
		check        = app.Group("/check")
		apiv1        = app.Group("/api/v1")
	)

	check.Get("/healthy", checkHandler.HandleHealthy)
	apiv1.Post("/query", queryHandler.HandleQuery)
	apiv1.Post("/upload", fileHandler.HandleUpload)
	apiv1.Post("/ingest", fileHandler.HandleIngest)

	if err := app.Listen(s.listenAddr); err != nil {
		s.logger.Error("error to start server", "error", err.Error())
		return
	}
}

// newVectorStore picks the index backend: Pinecone serverless by default,
// Postgres with pgvector when VECTOR_BACKEND=postgres.
func (s *Server) newVectorStore(ctx context.Context) (store.VectorStorer, error) {
	switch os.Getenv("VECTOR_BACKEND") {
	case "postgres":
		port, _ := strconv.Atoi(os.Getenv("PG_PORT"))
		connStr := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=disable",
			os.Getenv("PG_HOST"), port, os.Getenv("PG_USER"), os.Getenv("PG_PASS"), os.Getenv("PG_DB_NAME"))
		return store.NewPostgresStore(ctx, connStr)
	default:
		return store.NewPineconeStore(store.PineconeConfig{
			APIKey:    os.Getenv("PINECONE_API_KEY"),
			IndexName: os.Getenv("PINECONE_INDEX_NAME"),
			Region:    os.Getenv("PINECONE_ENVIRONMENT"),
		}), nil
	}
}

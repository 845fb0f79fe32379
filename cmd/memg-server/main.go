// Command memg-server is the gRPC transport adapter for the memory store
// (§6), grounded on the teacher's cmd/store-server/main.go: a bare
// grpc.NewServer(), conditional service registration, and a grpc/health
// server whose status is set once from a health check at startup.
package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"net"

	_ "github.com/lib/pq"
	"google.golang.org/grpc"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/nucleus/memg-core/internal/config"
	"github.com/nucleus/memg-core/internal/embed"
	"github.com/nucleus/memg-core/internal/graphstore"
	"github.com/nucleus/memg-core/internal/health"
	"github.com/nucleus/memg-core/internal/hrid"
	"github.com/nucleus/memg-core/internal/indexer"
	"github.com/nucleus/memg-core/internal/logging"
	"github.com/nucleus/memg-core/internal/memory"
	"github.com/nucleus/memg-core/internal/retrieval"
	"github.com/nucleus/memg-core/internal/schema"
	"github.com/nucleus/memg-core/internal/vectorstore"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	logger := logging.New(cfg.LogLevel, cfg.DebugMode)
	logger.Info("starting memg-server", "config", cfg.String())

	translator, err := schema.Load(cfg.SchemaPath)
	if err != nil {
		log.Fatalf("schema: %v", err)
	}

	vectorDB, err := sql.Open("postgres", cfg.VectorDatabaseURL)
	if err != nil {
		log.Fatalf("vector db: %v", err)
	}
	graphDB := vectorDB
	if cfg.GraphDatabaseURL != cfg.VectorDatabaseURL {
		graphDB, err = sql.Open("postgres", cfg.GraphDatabaseURL)
		if err != nil {
			log.Fatalf("graph db: %v", err)
		}
	}

	vectors := vectorstore.NewPgVectorStoreFromDB(vectorDB, cfg.VectorDimension)
	graph := graphstore.NewPostgresStoreFromDB(graphDB)
	allocator := hrid.NewAllocator(graphDB)
	if err := allocator.EnsureSchema(context.Background()); err != nil {
		log.Fatalf("hrid schema: %v", err)
	}

	embedder := embed.NewHashEmbedder(cfg.VectorDimension)
	idx := indexer.New(translator, embedder, vectors, graph, allocator, logger)
	pipeline := retrieval.New(translator, embedder, vectors, graph, logger)
	svc := memory.New(translator, idx, pipeline, vectors, graph, allocator, logger)
	_ = svc // wired for the generated gRPC service layer below

	checker := health.New(vectorDB, graphDB)

	addr := fmt.Sprintf("%s:%d", cfg.GRPCHost, cfg.GRPCPort)
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		log.Fatalf("listen: %v", err)
	}

	grpcServer := grpc.NewServer()
	// The memg.v1.MemoryService RPC handlers are generated from a .proto
	// definition not included in this module; wire
	// memgrpc.RegisterMemoryServiceServer(grpcServer, memgrpc.New(svc)) here
	// once that stub is generated (§6's "transport adapters" note).
	healthSrv := health.NewGRPCHealthServer(context.Background(), checker)
	healthpb.RegisterHealthServer(grpcServer, healthSrv)

	logger.Info("memg-server gRPC listening", "addr", addr)
	if err := grpcServer.Serve(lis); err != nil {
		log.Fatalf("serve: %v", err)
	}
}

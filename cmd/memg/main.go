// Command memg is the CLI transport adapter for the memory store (§6),
// grounded on kraklabs-mie's cmd/mie/main.go: pflag-based global flags,
// exit-code constants, and a subcommand switch, here dispatching onto
// memory.Service instead of a CozoDB-backed engine.
package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	flag "github.com/spf13/pflag"

	_ "github.com/lib/pq"

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

// Exit codes for the memg CLI.
const (
	ExitSuccess  = 0
	ExitGeneral  = 1
	ExitConfig   = 2
	ExitDatabase = 3
	ExitQuery    = 4
)

// GlobalFlags holds the global CLI flags that apply to all subcommands.
type GlobalFlags struct {
	JSON    bool
	Verbose int
	Quiet   bool
}

func main() {
	var (
		jsonOutput = flag.Bool("json", false, "Output in JSON format")
		verbose    = flag.CountP("verbose", "v", "Increase verbosity (-v info, -vv debug)")
		quiet      = flag.BoolP("quiet", "q", false, "Suppress non-essential output")
		userID     = flag.String("user", "", "User ID to scope the operation to")
	)

	flag.SetInterspersed(false)

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, `memg - schema-driven memory store for AI agents

Usage:
  memg <command> [options]

Commands:
  add <type> <json-payload>     Add a memory of the given type
  get <hrid>                    Fetch a memory by its human-readable ID
  update <hrid> <json-patch>    Merge a patch into an existing memory
  delete <hrid>                 Delete a memory (idempotent)
  list <type>                   List memories of a type
  search <query>                Run the retrieval pipeline
  link <from> <predicate> <to>  Add a relationship edge
  unlink <from> <predicate> <to> Delete a relationship edge
  status                        Report backing-store health

Global Options:
  --json            Output in JSON format
  -v, --verbose     Increase verbosity (-v info, -vv debug)
  -q, --quiet       Suppress non-essential output
  --user            User ID to scope the operation to

Environment Variables:
  MEMG_SCHEMA_PATH            Path to the entity/relation schema YAML
  MEMG_VECTOR_DATABASE_URL    Postgres DSN for the vector store (falls back to DATABASE_URL)
  MEMG_GRAPH_DATABASE_URL     Postgres DSN for the graph store (falls back to DATABASE_URL)
  MEMG_VECTOR_DIMENSION       Embedding dimension (default 1536)

`)
	}

	flag.Parse()

	if *quiet && *verbose > 0 {
		fmt.Fprintf(os.Stderr, "Error: cannot use --quiet and --verbose together\n")
		os.Exit(ExitGeneral)
	}

	globals := GlobalFlags{JSON: *jsonOutput, Verbose: *verbose, Quiet: *quiet}

	args := flag.Args()
	if len(args) == 0 {
		flag.Usage()
		os.Exit(ExitGeneral)
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(ExitConfig)
	}
	logLevel := cfg.LogLevel
	switch {
	case globals.Verbose >= 2:
		logLevel = "debug"
	case globals.Verbose == 1:
		logLevel = "info"
	}
	logger := logging.New(logLevel, cfg.DebugMode && globals.Verbose > 0)

	svc, checker, err := buildService(cfg, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "init: %v\n", err)
		os.Exit(ExitDatabase)
	}

	ctx := context.Background()
	command := args[0]
	cmdArgs := args[1:]

	var runErr error
	switch command {
	case "status":
		runErr = runStatus(ctx, checker, globals)
	case "add":
		runErr = runAdd(ctx, svc, cmdArgs, *userID, globals)
	case "get":
		runErr = runGet(ctx, svc, cmdArgs, *userID, globals)
	case "update":
		runErr = runUpdate(ctx, svc, cmdArgs, *userID, globals)
	case "delete":
		runErr = runDelete(ctx, svc, cmdArgs, *userID, globals)
	case "list":
		runErr = runList(ctx, svc, cmdArgs, *userID, globals)
	case "search":
		runErr = runSearch(ctx, svc, cmdArgs, *userID, globals)
	case "link":
		runErr = runLink(ctx, svc, cmdArgs, *userID, true)
	case "unlink":
		runErr = runLink(ctx, svc, cmdArgs, *userID, false)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", command)
		flag.Usage()
		os.Exit(ExitGeneral)
	}

	if runErr != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", command, runErr)
		os.Exit(ExitQuery)
	}
}

func buildService(cfg *config.Config, logger *slog.Logger) (*memory.Service, *health.Checker, error) {
	translator, err := schema.Load(cfg.SchemaPath)
	if err != nil {
		return nil, nil, fmt.Errorf("schema: %w", err)
	}

	vectorDB, err := sql.Open("postgres", cfg.VectorDatabaseURL)
	if err != nil {
		return nil, nil, fmt.Errorf("vector db: %w", err)
	}
	graphDB := vectorDB
	if cfg.GraphDatabaseURL != cfg.VectorDatabaseURL {
		graphDB, err = sql.Open("postgres", cfg.GraphDatabaseURL)
		if err != nil {
			return nil, nil, fmt.Errorf("graph db: %w", err)
		}
	}

	vectors := vectorstore.NewPgVectorStoreFromDB(vectorDB, cfg.VectorDimension)
	graph := graphstore.NewPostgresStoreFromDB(graphDB)
	allocator := hrid.NewAllocator(graphDB)
	if err := allocator.EnsureSchema(context.Background()); err != nil {
		return nil, nil, fmt.Errorf("hrid schema: %w", err)
	}

	embedder := embed.NewHashEmbedder(cfg.VectorDimension)
	idx := indexer.New(translator, embedder, vectors, graph, allocator, logger)
	pipeline := retrieval.New(translator, embedder, vectors, graph, logger)
	svc := memory.New(translator, idx, pipeline, vectors, graph, allocator, logger)
	checker := health.New(vectorDB, graphDB)
	return svc, checker, nil
}

func printResult(globals GlobalFlags, v any) {
	if globals.JSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		_ = enc.Encode(v)
		return
	}
	fmt.Printf("%+v\n", v)
}

func runStatus(ctx context.Context, checker *health.Checker, globals GlobalFlags) error {
	st := checker.Check(ctx)
	printResult(globals, st)
	return nil
}

func runAdd(ctx context.Context, svc *memory.Service, args []string, userID string, globals GlobalFlags) error {
	if len(args) < 2 {
		return fmt.Errorf("usage: memg add <type> <json-payload>")
	}
	var payload map[string]any
	if err := json.Unmarshal([]byte(args[1]), &payload); err != nil {
		return fmt.Errorf("invalid json payload: %w", err)
	}
	resp, err := svc.Add(ctx, &memory.AddRequest{UserID: userID, MemoryType: args[0], Payload: payload})
	if err != nil {
		return err
	}
	printResult(globals, resp.Memory)
	return nil
}

func runGet(ctx context.Context, svc *memory.Service, args []string, userID string, globals GlobalFlags) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: memg get <hrid>")
	}
	resp, err := svc.Get(ctx, &memory.GetRequest{UserID: userID, HRID: args[0]})
	if err != nil {
		return err
	}
	printResult(globals, resp.Memory)
	return nil
}

func runUpdate(ctx context.Context, svc *memory.Service, args []string, userID string, globals GlobalFlags) error {
	if len(args) < 2 {
		return fmt.Errorf("usage: memg update <hrid> <json-patch>")
	}
	var patch map[string]any
	if err := json.Unmarshal([]byte(args[1]), &patch); err != nil {
		return fmt.Errorf("invalid json patch: %w", err)
	}
	resp, err := svc.Update(ctx, &memory.UpdateRequest{UserID: userID, HRID: args[0], Patch: patch})
	if err != nil {
		return err
	}
	printResult(globals, resp.Memory)
	return nil
}

func runDelete(ctx context.Context, svc *memory.Service, args []string, userID string, globals GlobalFlags) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: memg delete <hrid>")
	}
	if err := svc.Delete(ctx, &memory.DeleteRequest{UserID: userID, HRID: args[0]}); err != nil {
		return err
	}
	if !globals.Quiet {
		fmt.Println("deleted")
	}
	return nil
}

func runList(ctx context.Context, svc *memory.Service, args []string, userID string, globals GlobalFlags) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: memg list <type>")
	}
	results, err := svc.List(ctx, &memory.ListRequest{UserID: userID, MemoryType: args[0], Limit: 50})
	if err != nil {
		return err
	}
	printResult(globals, results)
	return nil
}

func runSearch(ctx context.Context, svc *memory.Service, args []string, userID string, globals GlobalFlags) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: memg search <query>")
	}
	results, err := svc.Search(ctx, args[0], userID)
	if err != nil {
		return err
	}
	printResult(globals, results)
	return nil
}

func runLink(ctx context.Context, svc *memory.Service, args []string, userID string, add bool) error {
	if len(args) < 3 {
		return fmt.Errorf("usage: memg link <from-hrid> <predicate> <to-hrid>")
	}
	req := &memory.RelationshipRequest{UserID: userID, FromHRID: args[0], Predicate: args[1], ToHRID: args[2]}
	if add {
		return svc.AddRelationship(ctx, req)
	}
	return svc.DeleteRelationship(ctx, req)
}

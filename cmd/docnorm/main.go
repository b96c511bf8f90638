// Command docnorm answers questions over formatting-standard documents.
//
// Usage:
//
//	docnorm ask [--config config.yaml]            # interactive question loop
//	docnorm build-graph [--export graph.json]     # rebuild the knowledge graph
//	docnorm export-graph --out graph.json [--variant rules|entities]
//	docnorm version
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/ddrozdov/docnorm"
	"github.com/ddrozdov/docnorm/cache"
	"github.com/ddrozdov/docnorm/config"
	"github.com/ddrozdov/docnorm/embedding"
	"github.com/ddrozdov/docnorm/generate"
	"github.com/ddrozdov/docnorm/graph"
	"github.com/ddrozdov/docnorm/mining"
	"github.com/ddrozdov/docnorm/rerank"
	"github.com/ddrozdov/docnorm/retrieval"
)

// Set via ldflags.
var (
	version   = "dev"
	buildTime = "unknown"
)

// stopWord ends the interactive loop.
const stopWord = "стоп"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	cmd := os.Args[1]
	args := os.Args[2:]

	var err error
	switch cmd {
	case "ask":
		err = runAsk(args)
	case "build-graph":
		err = runBuildGraph(args)
	case "export-graph":
		err = runExportGraph(args)
	case "version":
		fmt.Printf("docnorm %s (built %s)\n", version, buildTime)
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\n", cmd)
		printUsage()
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println(`docnorm: question answering over formatting-standard documents

Commands:
  ask           interactive question loop (type "стоп" to exit)
  build-graph   export the corpus from Qdrant and rebuild the Neo4j graph
  export-graph  write the graph as a node-link JSON document
  version       print version information

Flags:
  --config PATH   configuration file (YAML)`)
}

func loadConfig(fs *flag.FlagSet, args []string) (*config.Config, *zap.Logger, error) {
	configPath := fs.String("config", "", "path to YAML config file")
	if err := fs.Parse(args); err != nil {
		return nil, nil, err
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return nil, nil, err
	}
	return cfg, initLogger(cfg.Log), nil
}

func initLogger(cfg config.LogConfig) *zap.Logger {
	var level zapcore.Level
	switch cfg.Level {
	case "debug":
		level = zapcore.DebugLevel
	case "warn":
		level = zapcore.WarnLevel
	case "error":
		level = zapcore.ErrorLevel
	default:
		level = zapcore.InfoLevel
	}

	var encoderConfig zapcore.EncoderConfig
	encoding := "json"
	if cfg.Format == "console" {
		encoderConfig = zap.NewDevelopmentEncoderConfig()
		encoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		encoding = "console"
	} else {
		encoderConfig = zap.NewProductionEncoderConfig()
		encoderConfig.TimeKey = "timestamp"
		encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}

	zapConfig := zap.Config{
		Level:            zap.NewAtomicLevelAt(level),
		Encoding:         encoding,
		EncoderConfig:    encoderConfig,
		OutputPaths:      []string{"stderr"},
		ErrorOutputPaths: []string{"stderr"},
	}

	logger, err := zapConfig.Build()
	if err != nil {
		logger, _ = zap.NewProduction()
	}
	return logger
}

func runAsk(args []string) error {
	fs := flag.NewFlagSet("ask", flag.ExitOnError)
	cfg, logger, err := loadConfig(fs, args)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	ctx := context.Background()
	mode := docnorm.Mode(cfg.Retrieval.Mode)

	scorer := rerank.NewHTTPScorer(cfg.Rerank, logger)
	if err := scorer.Ping(ctx); err != nil {
		return err
	}

	var vectorPath docnorm.VectorRetriever
	if mode == docnorm.ModeVector || mode == docnorm.ModeHybrid {
		embedder := embedding.NewHTTPProvider(cfg.Embedding, logger)
		if err := embedder.Ping(ctx); err != nil {
			return err
		}
		store := retrieval.NewQdrantStore(cfg.Qdrant, logger)
		vectorPath = retrieval.NewOrchestrator(embedder, store, scorer, logger)
	}

	var graphPath docnorm.GraphRetriever
	if mode == docnorm.ModeGraph || mode == docnorm.ModeHybrid {
		store, err := graph.NewNeo4jStore(ctx, cfg.Neo4j, logger)
		if err != nil {
			return err
		}
		defer store.Close(ctx) //nolint:errcheck

		entities, err := mining.NewEntityTable(mining.DefaultEntityPatterns())
		if err != nil {
			return err
		}
		graphPath = graph.NewEntityQuery(store, scorer, entities, 0, logger)
	}

	var answers *cache.AnswerCache
	if cfg.Cache.Enabled {
		answers, err = cache.New(cfg.Cache.Config, logger)
		if err != nil {
			return err
		}
		defer answers.Close() //nolint:errcheck
	}

	generator := generate.NewOllamaGenerator(cfg.Generation, logger)

	engine, err := docnorm.NewEngine(vectorPath, graphPath, generator, answers, docnorm.EngineConfig{
		Mode:          mode,
		Retrieval:     cfg.Retrieval.Options,
		GraphTopK:     cfg.Retrieval.TopK,
		ContextBudget: cfg.Retrieval.ContextBudget,
	}, logger)
	if err != nil {
		return err
	}

	return askLoop(ctx, engine, os.Stdin)
}

// askLoop reads one question per line until the stop word. Per-question
// failures are printed and the loop continues.
func askLoop(ctx context.Context, engine *docnorm.Engine, in *os.File) error {
	scanner := bufio.NewScanner(in)
	for {
		fmt.Print("\nВведите вопрос: ")
		if !scanner.Scan() {
			return scanner.Err()
		}
		question := strings.TrimSpace(scanner.Text())
		if question == "" {
			continue
		}
		if strings.EqualFold(question, stopWord) {
			return nil
		}

		answer, err := engine.Ask(ctx, question)
		if err != nil {
			fmt.Printf("Ошибка при выполнении запроса: %v\n", err)
			continue
		}
		fmt.Println(answer.Format())
	}
}

func runBuildGraph(args []string) error {
	fs := flag.NewFlagSet("build-graph", flag.ExitOnError)
	exportPath := fs.String("export", "", "also write the rule graph as node-link JSON")
	cfg, logger, err := loadConfig(fs, args)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	ctx := context.Background()

	store := retrieval.NewQdrantStore(cfg.Qdrant, logger)
	exported, err := store.ScrollAll(ctx, 100)
	if err != nil {
		return fmt.Errorf("export corpus: %w", err)
	}
	chunks := toGraphChunks(exported)
	logger.Info("corpus loaded", zap.Int("chunks", len(chunks)))

	entities, err := mining.NewEntityTable(mining.DefaultEntityPatterns())
	if err != nil {
		return err
	}

	graphStore, err := graph.NewNeo4jStore(ctx, cfg.Neo4j, logger)
	if err != nil {
		return err
	}
	defer graphStore.Close(ctx) //nolint:errcheck

	if err := graphStore.Rebuild(ctx, chunks, entities); err != nil {
		return fmt.Errorf("rebuild graph: %w", err)
	}

	if *exportPath != "" {
		builder := graph.NewBuilder(mining.NewMiner(nil, logger), entities, logger)
		if err := graph.WriteFile(builder.BuildRules(chunks), *exportPath); err != nil {
			return fmt.Errorf("export node-link graph: %w", err)
		}
		logger.Info("node-link export written", zap.String("path", *exportPath))
	}
	return nil
}

func runExportGraph(args []string) error {
	fs := flag.NewFlagSet("export-graph", flag.ExitOnError)
	outPath := fs.String("out", "graph.json", "output path for the node-link document")
	variant := fs.String("variant", "rules", "graph variant: rules or entities")
	cfg, logger, err := loadConfig(fs, args)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	ctx := context.Background()

	store := retrieval.NewQdrantStore(cfg.Qdrant, logger)
	exported, err := store.ScrollAll(ctx, 100)
	if err != nil {
		return fmt.Errorf("export corpus: %w", err)
	}
	chunks := toGraphChunks(exported)

	entities, err := mining.NewEntityTable(mining.DefaultEntityPatterns())
	if err != nil {
		return err
	}
	builder := graph.NewBuilder(mining.NewMiner(nil, logger), entities, logger)

	var g *graph.Graph
	switch *variant {
	case "rules":
		g = builder.BuildRules(chunks)
	case "entities":
		g = builder.BuildEntities(chunks)
	default:
		return fmt.Errorf("unknown graph variant: %s", *variant)
	}

	if err := graph.WriteFile(g, *outPath); err != nil {
		return err
	}
	fmt.Printf("graph written to %s (%s)\n", *outPath, g.Stats())
	return nil
}

func toGraphChunks(stored []retrieval.StoredChunk) []graph.Chunk {
	chunks := make([]graph.Chunk, 0, len(stored))
	for _, s := range stored {
		chunks = append(chunks, graph.Chunk{
			ID:       s.ID,
			Document: s.Document,
			Text:     s.Text,
		})
	}
	return chunks
}

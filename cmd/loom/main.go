// ABOUTME: CLI entrypoint for the loom generation server.
// ABOUTME: Wires the canvas store, model catalog, dispatcher, HTTP server, and signal handling.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"

	"github.com/2389-research/loom/dispatch"
	"github.com/2389-research/loom/graph"
	"github.com/2389-research/loom/store"
	"github.com/2389-research/loom/web"
)

var version = "dev"

// config holds all CLI configuration parsed from flags and environment.
type config struct {
	port        int
	dbPath      string
	catalogPath string
	verbose     bool
	showVersion bool
}

func main() {
	_ = godotenv.Load()

	cfg := parseFlags()

	if cfg.showVersion {
		fmt.Printf("loom %s\n", version)
		os.Exit(0)
	}

	os.Exit(run(cfg))
}

// parseFlags parses command-line flags and returns a populated config.
func parseFlags() config {
	var cfg config

	fs := flag.NewFlagSet("loom", flag.ContinueOnError)
	fs.IntVar(&cfg.port, "port", 8321, "Server port")
	fs.StringVar(&cfg.dbPath, "db", "loom.db", "Path to the canvas database (empty for in-memory)")
	fs.StringVar(&cfg.catalogPath, "catalog", "", "Path to a YAML model catalog (default: built-in models)")
	fs.BoolVar(&cfg.verbose, "verbose", false, "Verbose output")
	fs.BoolVar(&cfg.showVersion, "version", false, "Print version and exit")

	if err := fs.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(0)
		}
		os.Exit(2)
	}
	return cfg
}

// run builds the server stack and blocks until shutdown.
// Returns an exit code: 0 for success, 1 for failure.
func run(cfg config) int {
	logger := buildLogger(cfg.verbose)

	catalog, err := buildCatalog(cfg.catalogPath)
	if err != nil {
		logger.Error().Err(err).Msg("loading model catalog")
		return 1
	}

	nodes, g, err := buildStore(cfg.dbPath)
	if err != nil {
		logger.Error().Err(err).Msg("opening canvas store")
		return 1
	}
	defer nodes.Close()

	dcfg := dispatch.Config{
		FalAPIKey:      os.Getenv("FAL_API_KEY"),
		OpenAIAPIKey:   os.Getenv("OPENAI_API_KEY"),
		OpenAIBaseURL:  os.Getenv("OPENAI_BASE_URL"),
		KlingAccessKey: os.Getenv("KLING_ACCESS_KEY"),
		KlingSecretKey: os.Getenv("KLING_SECRET_KEY"),
		UploadEndpoint: os.Getenv("LOOM_UPLOAD_ENDPOINT"),
		UploadAPIKey:   os.Getenv("LOOM_UPLOAD_API_KEY"),
	}
	if dcfg.FalAPIKey == "" && dcfg.OpenAIAPIKey == "" && dcfg.KlingAccessKey == "" {
		logger.Warn().Msg("no provider API key configured; generate calls will fail")
	}

	dispatcher := dispatch.New(dcfg, g, catalog, nodes, logger)
	server := web.NewServer(g, catalog, dispatcher, logger)

	addr := fmt.Sprintf("127.0.0.1:%d", cfg.port)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		logger.Info().Msg("interrupted, shutting down")
		cancel()
	}()

	httpServer := &http.Server{
		Addr:    addr,
		Handler: server,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
		defer done()
		_ = httpServer.Shutdown(shutdownCtx)
	}()

	logger.Info().Str("addr", addr).Str("version", version).Msg("listening")
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error().Err(err).Msg("server error")
		return 1
	}

	dispatcher.Shutdown()
	return 0
}

// buildLogger configures zerolog console output at the requested level.
func buildLogger(verbose bool) zerolog.Logger {
	level := zerolog.InfoLevel
	if verbose {
		level = zerolog.DebugLevel
	}
	writer := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}
	return zerolog.New(writer).Level(level).With().Timestamp().Logger()
}

// buildCatalog loads the YAML catalog when a path is given, else the
// built-in model set.
func buildCatalog(path string) (*graph.Catalog, error) {
	if path == "" {
		return graph.DefaultCatalog(), nil
	}
	return graph.LoadCatalog(path)
}

// buildStore opens the node store and restores the live graph from it.
// An empty path selects an in-memory store for ephemeral runs.
func buildStore(path string) (store.NodeStore, *graph.Graph, error) {
	var nodes store.NodeStore
	if path == "" {
		nodes = store.NewMemoryStore()
	} else {
		s, err := store.OpenSqlite(path)
		if err != nil {
			return nil, nil, err
		}
		nodes = s
	}

	g, err := store.Restore(nodes)
	if err != nil {
		nodes.Close()
		return nil, nil, err
	}
	return nodes, g, nil
}

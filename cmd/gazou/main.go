// Package main is the gazou CLI entry point.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/hyperjump/gazou/internal/cli"
	"github.com/hyperjump/gazou/internal/config"
	"github.com/hyperjump/gazou/internal/embedding"
	"github.com/hyperjump/gazou/internal/indexer"
	"github.com/hyperjump/gazou/internal/manifest"
	"github.com/hyperjump/gazou/internal/models"
	"github.com/hyperjump/gazou/internal/search"
	"github.com/hyperjump/gazou/internal/server"
	"github.com/hyperjump/gazou/internal/vectorcache"
	"github.com/hyperjump/gazou/internal/watcher"
	"github.com/hyperjump/gazou/pkg/utils"
	"go.uber.org/zap"
)

var version = "dev"

const defaultConfigPath = "/usr/local/etc/gazou/config.yaml"

// errUsage is returned after usage has been printed for a bad invocation.
var errUsage = errors.New("invalid usage")

// loadConfig loads config from path. When path is the default, it first looks for
// config.yaml in the current directory; if that exists it is used. When neither
// exists the built-in defaults are returned with an empty resolved path.
// Returns the config and the path that was actually loaded (for saving, etc.).
func loadConfig(path string) (*config.Config, string, error) {
	if path == defaultConfigPath {
		if cwd, cwdErr := os.Getwd(); cwdErr == nil {
			fallback := filepath.Join(cwd, "config.yaml")
			if _, statErr := os.Stat(fallback); statErr == nil {
				cfg, loadErr := config.Load(fallback)
				if loadErr != nil {
					return nil, "", loadErr
				}
				return cfg, fallback, nil
			}
		}
		if _, statErr := os.Stat(path); os.IsNotExist(statErr) {
			return config.Default(), "", nil
		}
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, "", err
	}
	return cfg, path, nil
}

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

// run executes one command and returns the process exit code.
func run(args []string, stdout, stderr io.Writer) int {
	if len(args) < 1 {
		printUsage(stderr)
		return 1
	}
	var err error
	command, rest := args[0], args[1:]
	switch command {
	case "server":
		err = runServer(rest, stderr)
	case "index":
		err = runIndex(rest, stdout, stderr)
	case "search":
		err = runSearch(rest, stdout, stderr)
	case "stats":
		err = runStats(rest, stdout, stderr)
	case "remove":
		err = runRemove(rest, stdout, stderr)
	case "clear":
		err = runClear(rest, stdout, stderr)
	case "model":
		err = runModel(rest, stdout, stderr)
	case "version", "--version", "-v":
		fmt.Fprintf(stdout, "gazou version %s\n", version)
	case "help", "--help", "-h":
		printUsage(stdout)
	default:
		fmt.Fprintf(stderr, "Unknown command: %s\n", command)
		printUsage(stderr)
		return 1
	}
	switch {
	case err == nil, errors.Is(err, flag.ErrHelp):
		return 0
	case errors.Is(err, errUsage):
	default:
		fmt.Fprintf(stderr, "Error: %v\n", err)
	}
	return 1
}

// session is a loaded config plus initialized components for one command.
type session struct {
	cfg        *config.Config
	configPath string
	logger     *zap.Logger
	components *Components
}

func (s *session) Close() {
	s.components.Close()
	_ = s.logger.Sync()
}

func openSession(configPath string, debug bool) (*session, error) {
	cfg, resolved, err := loadConfig(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	debugMode := cfg.Debug || debug
	logger, err := utils.NewLogger(debugMode)
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}
	logger.Debug("config loaded",
		zap.String("config_path", resolved),
		zap.String("cache_root", cfg.Cache.Root),
		zap.String("model", cfg.Embedding.Model))
	components, err := initializeComponents(cfg, logger)
	if err != nil {
		_ = logger.Sync()
		return nil, err
	}
	return &session{cfg: cfg, configPath: resolved, logger: logger, components: components}, nil
}

func newFlagSet(name string, stderr io.Writer) (*flag.FlagSet, *string) {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(stderr)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	return fs, configPath
}

func runServer(args []string, stderr io.Writer) error {
	fs, configPath := newFlagSet("server", stderr)
	debug := fs.Bool("debug", false, "enable debug logging (directory changes, image embedding, etc.)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	s, err := openSession(*configPath, *debug)
	if err != nil {
		return err
	}
	defer s.Close()
	logger := s.logger
	cfg := s.cfg

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	watchSvc := watcher.NewWatcher(
		cfg.Watch.Directories,
		cfg.Watch.Extensions,
		cfg.Watch.RecursiveOrDefault(),
		s.components.Indexer,
		watcher.WithLogger(logger),
	)
	if err := watchSvc.Start(ctx); err != nil {
		return fmt.Errorf("failed to start watcher: %w", err)
	}
	defer watchSvc.Stop()
	watchSvc.SyncExistingFiles()

	srv := server.NewServer(
		s.components.Engine,
		s.components.Indexer,
		&cfg.Server,
		logger,
		watchSvc,
		s.configPath,
		cfg,
	)
	errCh := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server failed: %w", err)
	case <-ctx.Done():
	}

	logger.Info("Shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Stop(shutdownCtx)
}

func runIndex(args []string, stdout, stderr io.Writer) error {
	fs, configPath := newFlagSet("index", stderr)
	outputFormat := fs.String("output", "text", "output format: text or json")
	quiet := fs.Bool("quiet", false, "do not print per-image progress")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() < 1 {
		fmt.Fprintln(stderr, "Usage: gazou index [flags] <folder>...")
		return errUsage
	}
	format, err := cli.ParseOutputFormat(*outputFormat)
	if err != nil {
		return err
	}

	s, err := openSession(*configPath, false)
	if err != nil {
		return err
	}
	defer s.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var progress func(indexer.Progress)
	if !*quiet {
		progress = func(p indexer.Progress) {
			fmt.Fprintf(stderr, "Processing %d/%d...\n", p.Current, p.Total)
		}
	}
	report, err := s.components.Indexer.IndexFolders(ctx, fs.Args(), progress)
	if report != nil {
		if writeErr := cli.WriteIndexReport(stdout, report, format); writeErr != nil {
			return writeErr
		}
	}
	if err != nil {
		return fmt.Errorf("indexing failed: %w", err)
	}
	return nil
}

// printSearchUsage prints search subcommand usage.
func printSearchUsage(fs *flag.FlagSet) {
	fmt.Fprintf(fs.Output(), "Usage: gazou search [flags] <query>\n")
	fmt.Fprintf(fs.Output(), "       gazou search [flags] --image <path>\n\n")
	fmt.Fprintf(fs.Output(), "Query is all remaining arguments joined by spaces. Multi-word queries work with or without quotes.\n\n")
	fs.PrintDefaults()
	fmt.Fprintf(fs.Output(), `
Examples:
  gazou search red bicycle
  gazou search --top-k 5 "sunset over the sea"
  gazou search --image ~/Pictures/query.jpg
  gazou search --output json dog on a beach     # structured JSON for other apps
  gazou search --server http://127.0.0.1:8765 cat   # ask a running server
`)
}

// buildSearchQuery joins all positional args with spaces so multi-word queries
// work the same with or without shell quoting.
func buildSearchQuery(args []string) string {
	return strings.TrimSpace(strings.Join(args, " "))
}

// parseInterspersed parses flags wherever they appear among the positional
// arguments and returns the positionals in order. Go's flag package stops at
// the first non-flag argument, so parsing resumes after each one. Everything
// after "--" is positional.
func parseInterspersed(fs *flag.FlagSet, args []string) ([]string, error) {
	positionals := make([]string, 0, len(args))
	rest := args
	for {
		if err := fs.Parse(rest); err != nil {
			return nil, err
		}
		remaining := fs.Args()
		if len(remaining) == 0 {
			return positionals, nil
		}
		consumed := len(rest) - len(remaining)
		if consumed > 0 && rest[consumed-1] == "--" {
			return append(positionals, remaining...), nil
		}
		positionals = append(positionals, remaining[0])
		rest = remaining[1:]
	}
}

func runSearch(args []string, stdout, stderr io.Writer) error {
	fs, configPath := newFlagSet("search", stderr)
	serverURL := fs.String("server", "", "server URL (empty = read the cache directly)")
	imagePath := fs.String("image", "", "search by the image at this path instead of text")
	topK := fs.Int("top-k", 0, "number of results (default from config)")
	outputFormat := fs.String("output", "text", "output format: text or json")
	fs.Usage = func() { printSearchUsage(fs) }
	positionals, err := parseInterspersed(fs, args)
	if err != nil {
		return err
	}
	format, err := cli.ParseOutputFormat(*outputFormat)
	if err != nil {
		return err
	}

	query := &models.SearchQuery{Query: buildSearchQuery(positionals)}
	fs.Visit(func(f *flag.Flag) {
		if f.Name == "top-k" {
			query.TopK = topK
		}
	})
	if *imagePath != "" {
		if query.Query != "" {
			return fmt.Errorf("%w: pass either a text query or --image, not both", models.ErrInvalidQuery)
		}
		abs, err := filepath.Abs(*imagePath)
		if err != nil {
			return err
		}
		query.ImagePath = abs
	} else if query.Query == "" {
		printSearchUsage(fs)
		return errUsage
	}

	var response *models.SearchResponse
	if *serverURL != "" {
		response, err = searchViaHTTP(*serverURL, query)
	} else {
		var s *session
		s, err = openSession(*configPath, false)
		if err != nil {
			return err
		}
		defer s.Close()
		response, err = s.components.Engine.Search(context.Background(), query)
	}
	if err != nil {
		return fmt.Errorf("search failed: %w", err)
	}
	return cli.WriteSearchResults(stdout, response, format)
}

func searchViaHTTP(serverURL string, query *models.SearchQuery) (*models.SearchResponse, error) {
	endpoint := "/api/v1/search"
	payload := map[string]interface{}{"query": query.Query, "top_k": query.TopK}
	if query.ImagePath != "" {
		endpoint = "/api/v1/search/image"
		payload = map[string]interface{}{"path": query.ImagePath, "top_k": query.TopK}
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	resp, err := http.Post(strings.TrimRight(serverURL, "/")+endpoint, "application/json", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("server returned %d: %s", resp.StatusCode, strings.TrimSpace(string(b)))
	}
	var response models.SearchResponse
	if err := json.NewDecoder(resp.Body).Decode(&response); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return &response, nil
}

func runStats(args []string, stdout, stderr io.Writer) error {
	fs, configPath := newFlagSet("stats", stderr)
	all := fs.Bool("all", false, "report every cached model, not just the active one")
	outputFormat := fs.String("output", "text", "output format: text or json")
	if err := fs.Parse(args); err != nil {
		return err
	}
	format, err := cli.ParseOutputFormat(*outputFormat)
	if err != nil {
		return err
	}

	s, err := openSession(*configPath, false)
	if err != nil {
		return err
	}
	defer s.Close()

	var stats []vectorcache.Stats
	if *all {
		stats, err = s.components.Engine.AllStats()
	} else {
		var one vectorcache.Stats
		one, err = s.components.Engine.Stats()
		stats = []vectorcache.Stats{one}
	}
	if err != nil {
		return fmt.Errorf("stats failed: %w", err)
	}
	return cli.WriteStats(stdout, stats, format)
}

func runRemove(args []string, stdout, stderr io.Writer) error {
	fs, configPath := newFlagSet("remove", stderr)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() < 1 {
		fmt.Fprintln(stderr, "Usage: gazou remove [flags] <image-or-folder>...")
		return errUsage
	}

	s, err := openSession(*configPath, false)
	if err != nil {
		return err
	}
	defer s.Close()

	for _, arg := range fs.Args() {
		abs, err := filepath.Abs(arg)
		if err != nil {
			return err
		}
		if info, statErr := os.Stat(abs); statErr == nil && info.IsDir() {
			n, err := s.components.Indexer.RemoveFolder(abs)
			if err != nil {
				return fmt.Errorf("remove failed: %w", err)
			}
			fmt.Fprintf(stdout, "Removed %d cached image(s) under %s\n", n, abs)
			continue
		}
		if err := s.components.Indexer.RemoveFile(abs); err != nil {
			return fmt.Errorf("remove failed: %w", err)
		}
		fmt.Fprintf(stdout, "Removed: %s\n", abs)
	}
	return nil
}

func runClear(args []string, stdout, stderr io.Writer) error {
	fs, configPath := newFlagSet("clear", stderr)
	yes := fs.Bool("yes", false, "confirm deleting every cached embedding of the active model")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if !*yes {
		fmt.Fprintln(stderr, "Refusing to clear the cache without --yes")
		return errUsage
	}

	s, err := openSession(*configPath, false)
	if err != nil {
		return err
	}
	defer s.Close()

	model := s.components.Engine.Model()
	if err := s.components.Engine.ClearAll(); err != nil {
		return fmt.Errorf("clear failed: %w", err)
	}
	fmt.Fprintf(stdout, "Cleared cache for model %s\n", model)
	return nil
}

func runModel(args []string, stdout, stderr io.Writer) error {
	fs, configPath := newFlagSet("model", stderr)
	if err := fs.Parse(args); err != nil {
		return err
	}

	s, err := openSession(*configPath, false)
	if err != nil {
		return err
	}
	defer s.Close()

	if fs.NArg() == 0 {
		active := s.components.Engine.Model()
		fmt.Fprintf(stdout, "Active model: %s\n", active)
		names, err := s.components.Cache.Namespaces()
		if err != nil {
			return err
		}
		if len(names) > 0 {
			fmt.Fprintln(stdout, "Cached namespaces:")
			for _, n := range names {
				fmt.Fprintf(stdout, "  %s\n", n)
			}
		}
		return nil
	}

	name := strings.TrimSpace(fs.Arg(0))
	if err := s.components.Engine.SetModel(name); err != nil {
		return fmt.Errorf("model switch failed: %w", err)
	}
	target := s.configPath
	if target == "" {
		target = "config.yaml"
	}
	s.cfg.Embedding.Model = name
	if err := config.Save(target, s.cfg); err != nil {
		return err
	}
	fmt.Fprintf(stdout, "Active model set to %s (saved to %s)\n", name, target)
	return nil
}

// Components holds initialized services.
type Components struct {
	Cache   *vectorcache.Cache
	Source  embedding.Source
	Engine  *search.Engine
	Indexer *indexer.Indexer
}

// Close releases the cache and the embedding source.
func (c *Components) Close() {
	if c.Source != nil {
		_ = c.Source.Close()
	}
	if c.Cache != nil {
		_ = c.Cache.Close()
	}
}

func initializeComponents(cfg *config.Config, logger *zap.Logger) (*Components, error) {
	backend, err := manifest.ParseBackend(cfg.Cache.ManifestBackend)
	if err != nil {
		return nil, err
	}
	cache, err := vectorcache.Open(cfg.Cache.Root, cfg.Embedding.Model,
		vectorcache.WithLogger(logger),
		vectorcache.WithManifestBackend(backend),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to open embedding cache: %w", err)
	}

	source := embedding.New(embedding.Config{
		Model:      cfg.Embedding.Model,
		ModelDir:   cfg.Embedding.ModelDir,
		Dimensions: cfg.Embedding.Dimensions,
		MaxTokens:  cfg.Embedding.MaxTokens,
		ImageSize:  cfg.Embedding.ImageSize,
		CacheSize:  cfg.Embedding.CacheSize,
	}, logger)

	engine := search.NewEngine(cache, source, &cfg.Search, search.WithLogger(logger))
	idx := indexer.NewIndexer(cache, source, cfg.Watch.Extensions,
		indexer.WithLogger(logger),
		indexer.WithModelLock(engine.ModelLock()))

	return &Components{
		Cache:   cache,
		Source:  source,
		Engine:  engine,
		Indexer: idx,
	}, nil
}

func printUsage(w io.Writer) {
	fmt.Fprintln(w, `gazou - Local image search over cached CLIP embeddings

Usage:
  gazou server [flags]                 Start the HTTP server and folder watcher
  gazou index [flags] <folder>...      Embed and cache every new image under the folders
  gazou search [flags] <query>         Search cached images by text
  gazou search [flags] --image <path>  Search cached images by a query image
  gazou stats [flags]                  Show cache statistics
  gazou remove [flags] <path>...       Drop cached images (a folder drops everything under it)
  gazou clear --yes                    Delete every cached embedding of the active model
  gazou model [name]                   Show the active model, or switch and save it to config
  gazou version                        Show version
  gazou help                           Show this help

Common Flags:
  --config string    Config file path (default: /usr/local/etc/gazou/config.yaml, or ./config.yaml if present)

Server Flags:
  --debug            Enable debug logging

Index Flags:
  --output string    Output format: text or json (default: text)
  --quiet            Do not print per-image progress

Search Flags:
  --image string     Query image path
  --top-k int        Number of results (default from config)
  --output string    Output format: text or json (default: text)
  --server string    Server URL; empty reads the cache directly

Stats Flags:
  --all              Report every cached model
  --output string    Output format: text or json (default: text)

Examples:
  gazou index ~/Pictures
  gazou search red bicycle
  gazou search --image ~/Pictures/query.jpg --top-k 5
  gazou stats --all --output json
  gazou model openai/clip-vit-large-patch14`)
}

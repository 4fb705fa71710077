// Package main is the utsushi CLI entry point.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/hyperjump/utsushi/internal/cli"
	"github.com/hyperjump/utsushi/internal/config"
	"github.com/hyperjump/utsushi/internal/models"
	"github.com/hyperjump/utsushi/internal/reconcile"
	"github.com/hyperjump/utsushi/internal/server"
	"github.com/hyperjump/utsushi/internal/watcher"
	"github.com/hyperjump/utsushi/pkg/utils"
	"go.uber.org/zap"
)

var version = "dev"

const (
	defaultConfigPath = "/usr/local/etc/utsushi/config.yaml"
	defaultServerURL  = "http://localhost:8080"
)

// loadConfig loads config from path. When path is the default, it first looks for
// config.yaml in the current directory (for development); if that exists it is used.
// Returns the config and the path that was actually loaded.
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
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, "", err
	}
	return cfg, path, nil
}

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}
	command := os.Args[1]
	switch command {
	case "server":
		runServer()
	case "search":
		runSearch()
	case "import":
		runImport()
	case "reconcile":
		runReconcile()
	case "status":
		runStatus()
	case "init":
		runInit()
	case "version", "--version", "-v":
		fmt.Printf("utsushi version %s\n", version)
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Printf("Unknown command: %s\n", command)
		printUsage()
		os.Exit(1)
	}
}

// setup loads config, creates the logger, and opens every component.
func setup(ctx context.Context, configPath string, debugFlag bool) (*config.Config, *zap.Logger, *Components) {
	cfg, resolved, err := loadConfig(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	debugMode := cfg.Debug || debugFlag
	logger, err := utils.NewLogger(debugMode)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	logger.Debug("config loaded", zap.String("config_path", resolved), zap.Bool("debug", debugMode))

	components, err := initializeComponents(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("Failed to initialize components", zap.Error(err))
	}
	return cfg, logger, components
}

func runServer() {
	fs := flag.NewFlagSet("server", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	debug := fs.Bool("debug", false, "enable debug logging")
	_ = fs.Parse(os.Args[2:])

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, logger, components := setup(ctx, *configPath, *debug)
	defer logger.Sync()
	defer components.Close()

	if cfg.Reconcile.OnStartupOrDefault() {
		if _, err := components.Reconciler.Run(ctx); err != nil {
			logger.Fatal("Startup reconciliation failed", zap.Error(err))
		}
	}

	if cfg.Reconcile.Watch {
		w := watcher.NewWatcher(cfg.Storage.ImageDir,
			func(ctx context.Context, removed []string) {
				logger.Info("backing files removed, reconciling", zap.Int("files", len(removed)))
				if _, err := components.Reconciler.Run(ctx); err != nil {
					logger.Warn("watch-triggered reconciliation failed", zap.Error(err))
				}
			},
			watcher.WithLogger(logger),
			watcher.WithDebounce(cfg.Reconcile.Debounce),
		)
		if err := w.Start(ctx); err != nil {
			logger.Fatal("Failed to start watcher", zap.Error(err))
		}
		defer w.Stop()
	}

	srv := server.NewServer(components.Service, components.Reconciler, cfg, logger)
	errCh := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		logger.Error("Server failed", zap.Error(err))
	}

	logger.Info("Shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Stop(shutdownCtx)
}

// printSearchUsage prints search subcommand usage.
func printSearchUsage(fs *flag.FlagSet) {
	fmt.Fprintf(fs.Output(), "Usage: utsushi search [flags] <image>\n\n")
	fs.PrintDefaults()
	fmt.Fprintf(fs.Output(), `
Examples:
  utsushi search photo.jpg
  utsushi search photo.jpg -k 5 -radius 0.8
  utsushi search --server "" photo.jpg      # query the collection directly (server must be stopped)
  utsushi search --output json photo.jpg
`)
}

// searchArgsReorder moves any flags (and their values) that appear after the image path
// to the front of the slice so that flag.Parse() sees them. Go's flag package
// stops at the first non-flag argument, so "utsushi search a.jpg -k 5"
// would otherwise leave -k unparsed.
func searchArgsReorder(args []string) []string {
	for i, a := range args {
		if len(a) > 0 && a[0] == '-' {
			if i == 0 {
				return args
			}
			reordered := make([]string, 0, len(args))
			reordered = append(reordered, args[i:]...)
			reordered = append(reordered, args[:i]...)
			return reordered
		}
	}
	return args
}

// parseRadius turns the -radius flag into a query radius. Empty means unbounded.
func parseRadius(s string) (*float64, error) {
	if s == "" {
		return nil, nil
	}
	r, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil, fmt.Errorf("radius must be a number: %w", err)
	}
	return &r, nil
}

func runSearch() {
	fs := flag.NewFlagSet("search", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path (direct mode)")
	serverURL := fs.String("server", defaultServerURL, "server URL (empty = query the collection directly)")
	k := fs.Int("k", models.DefaultK, "number of results")
	radius := fs.String("radius", "", "maximum distance (inclusive); empty means no limit")
	outputFormat := fs.String("output", "text", "output format: text, compact (one result per line), or json")
	fs.Usage = func() { printSearchUsage(fs) }
	_ = fs.Parse(searchArgsReorder(os.Args[2:]))

	if fs.NArg() != 1 {
		printSearchUsage(fs)
		os.Exit(1)
	}
	imagePath := fs.Arg(0)
	format, err := cli.ParseOutputFormat(*outputFormat, cli.OutputText, cli.OutputCompact, cli.OutputJSON)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v; use text, compact, or json\n", err)
		os.Exit(1)
	}
	r, err := parseRadius(*radius)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
	query := &models.SearchQuery{K: *k, Radius: r}

	data, err := os.ReadFile(imagePath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to read image: %v\n", err)
		os.Exit(1)
	}

	ctx := context.Background()
	var response *models.SearchResponse
	if *serverURL != "" {
		response, err = cli.NewClient(*serverURL).Search(ctx, imagePath, data, query)
	} else {
		_, logger, components := setup(ctx, *configPath, false)
		defer logger.Sync()
		defer components.Close()
		response, err = components.Service.Search(ctx, data, query)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Search failed: %v\n", err)
		os.Exit(1)
	}
	if err := cli.WriteSearchResults(os.Stdout, response, format); err != nil {
		fmt.Fprintf(os.Stderr, "Output failed: %v\n", err)
		os.Exit(1)
	}
}

func runImport() {
	fs := flag.NewFlagSet("import", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	debug := fs.Bool("debug", false, "enable debug logging")
	outputFormat := fs.String("output", "text", "output format: text or json")
	_ = fs.Parse(os.Args[2:])

	if fs.NArg() != 1 {
		fmt.Println("Usage: utsushi import [flags] <directory>")
		os.Exit(1)
	}
	dir := fs.Arg(0)
	format, err := cli.ParseOutputFormat(*outputFormat, cli.OutputText, cli.OutputJSON)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v; use text or json\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	_, logger, components := setup(ctx, *configPath, *debug)
	defer logger.Sync()
	defer components.Close()

	stats, err := components.Indexer.ImportDirectory(ctx, dir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Import failed: %v\n", err)
		os.Exit(1)
	}
	if err := cli.WriteImportStats(os.Stdout, dir, stats, format); err != nil {
		fmt.Fprintf(os.Stderr, "Output failed: %v\n", err)
		os.Exit(1)
	}
}

func runReconcile() {
	fs := flag.NewFlagSet("reconcile", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path (direct mode)")
	serverURL := fs.String("server", "", "server URL; empty runs against the collection directly (server must be stopped)")
	outputFormat := fs.String("output", "text", "output format: text or json")
	_ = fs.Parse(os.Args[2:])

	format, err := cli.ParseOutputFormat(*outputFormat, cli.OutputText, cli.OutputJSON)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v; use text or json\n", err)
		os.Exit(1)
	}

	ctx := context.Background()
	var res *models.ReconcileResponse
	if *serverURL != "" {
		res, err = cli.NewClient(*serverURL).Reconcile(ctx)
	} else {
		_, logger, components := setup(ctx, *configPath, false)
		defer logger.Sync()
		defer components.Close()
		var out reconcile.Result
		out, err = components.Reconciler.Run(ctx)
		res = out.Response()
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Reconcile failed: %v\n", err)
		os.Exit(1)
	}
	if err := cli.WriteReconcile(os.Stdout, res, format); err != nil {
		fmt.Fprintf(os.Stderr, "Output failed: %v\n", err)
		os.Exit(1)
	}
}

func runStatus() {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path (direct mode)")
	serverURL := fs.String("server", defaultServerURL, "server URL (empty = read the collection directly)")
	outputFormat := fs.String("output", "text", "output format: text or json")
	_ = fs.Parse(os.Args[2:])

	format, err := cli.ParseOutputFormat(*outputFormat, cli.OutputText, cli.OutputJSON)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v; use text or json\n", err)
		os.Exit(1)
	}

	ctx := context.Background()
	var status *models.StatusResponse
	if *serverURL != "" {
		status, err = cli.NewClient(*serverURL).Status(ctx)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Status failed: %v\n", err)
			os.Exit(1)
		}
	} else {
		cfg, logger, components := setup(ctx, *configPath, false)
		defer logger.Sync()
		defer components.Close()
		st := cfg.Storage
		status = components.Service.Status(ctx, st.ImageDir, st.SnapshotPath, st.IndexPath, st.CatalogPath)
	}
	if err := cli.WriteStatus(os.Stdout, status, format); err != nil {
		fmt.Fprintf(os.Stderr, "Output failed: %v\n", err)
		os.Exit(1)
	}
}

func runInit() {
	fs := flag.NewFlagSet("init", flag.ExitOnError)
	path := fs.String("config", "config.yaml", "where to write the config file")
	dataDir := fs.String("data", "./data", "data directory for images, collection files and the catalog")
	force := fs.Bool("force", false, "overwrite an existing file")
	_ = fs.Parse(os.Args[2:])

	if err := writeStarterConfig(*path, *dataDir, *force); err != nil {
		fmt.Fprintf(os.Stderr, "Init failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Wrote %s\n", *path)
}

// writeStarterConfig writes a config with every default spelled out and storage under dataDir.
func writeStarterConfig(path, dataDir string, force bool) error {
	if _, err := os.Stat(path); err == nil && !force {
		return fmt.Errorf("%s already exists (use --force to overwrite)", path)
	}
	// Relative paths must keep their "./" so Load resolves them against the config directory.
	under := func(elem ...string) string {
		p := filepath.Join(append([]string{dataDir}, elem...)...)
		if !filepath.IsAbs(p) && !strings.HasPrefix(p, "./") {
			p = "./" + p
		}
		return p
	}
	cfg := &config.Config{
		Storage: config.StorageConfig{
			ImageDir:     under("images"),
			SnapshotPath: under("collection", "records.snap"),
			IndexPath:    under("collection", "index.bin"),
			CatalogPath:  under("db", "catalog.db"),
		},
	}
	config.ApplyDefaults(cfg)
	onStartup := true
	cfg.Reconcile.OnStartup = &onStartup
	return config.Save(path, cfg)
}

func printUsage() {
	fmt.Println(`utsushi - Image similarity search server

Usage:
  utsushi server [flags]             Start the HTTP server
  utsushi search [flags] <image>     Find images similar to <image>
  utsushi import [flags] <dir>       Embed and register every image in a directory
  utsushi reconcile [flags]          Drop records whose image file is gone and rebuild the index
  utsushi status [flags]             Show collection/index/catalog status
  utsushi init [flags]               Write a starter config.yaml
  utsushi version                    Show version
  utsushi help                       Show this help

Server Flags:
  --config string    Config file path (default: /usr/local/etc/utsushi/config.yaml)
  --debug            Enable debug logging

Search Flags:
  --config string    Config file path (direct mode)
  --server string    Server URL (default: http://localhost:8080). Use --server "" to query the collection directly.
  -k int             Number of results (default: 10)
  --radius float     Maximum distance, inclusive (default: unbounded)
  --output string    Output format: text, compact or json (default: text)

Import Flags:
  --config string    Config file path
  --output string    Output format: text or json (default: text)

Reconcile Flags:
  --config string    Config file path (direct mode)
  --server string    Server URL; empty (default) runs offline against the collection files

Status Flags:
  --config string    Config file path (direct mode)
  --server string    Server URL (default: http://localhost:8080). Use --server "" for direct mode.
  --output string    Output format: text or json (default: text)

Init Flags:
  --config string    Output path (default: config.yaml)
  --data string      Data directory (default: ./data)
  --force            Overwrite an existing file

The collection files are owned by one process at a time: stop the server before
running import, or search/status/reconcile in direct mode.

Examples:
  utsushi init && utsushi server
  utsushi import ./dataset
  utsushi search photo.jpg -k 5
  utsushi search --output json photo.jpg
  utsushi reconcile --server http://localhost:8080
  utsushi status --output json`)
}

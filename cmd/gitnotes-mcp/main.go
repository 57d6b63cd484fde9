package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"golang.org/x/sync/errgroup"

	"github.com/alexjbarnes/gitnotes/internal/apperr"
	"github.com/alexjbarnes/gitnotes/internal/cache"
	"github.com/alexjbarnes/gitnotes/internal/engine"
	"github.com/alexjbarnes/gitnotes/internal/github"
	"github.com/alexjbarnes/gitnotes/internal/mcpserver"
	"github.com/alexjbarnes/gitnotes/internal/netmon"
	"github.com/alexjbarnes/gitnotes/internal/remote"
)

var Version = "dev"

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

type config struct {
	Token        string
	RepoOwner    string
	RepoName     string
	RepoBranch   string
	CachePath    string
	ListenAddr   string
	SyncInterval time.Duration
	PingInterval time.Duration
	LogLevel     string
}

func loadConfig() *config {
	cfg := &config{}

	flag.StringVar(&cfg.Token, "github-token", os.Getenv("GITHUB_TOKEN"), "GitHub access token")
	flag.StringVar(&cfg.RepoOwner, "repo-owner", os.Getenv("REPO_OWNER"), "owner of the notes repository")
	flag.StringVar(&cfg.RepoName, "repo-name", os.Getenv("REPO_NAME"), "name of the notes repository")
	flag.StringVar(&cfg.RepoBranch, "repo-branch", envOr("REPO_BRANCH", "main"), "branch holding the notes")
	flag.StringVar(&cfg.CachePath, "cache-path", os.Getenv("CACHE_PATH"), "path to the cache database (default ~/.gitnotes/state.db)")
	flag.StringVar(&cfg.ListenAddr, "listen-addr", envOr("LISTEN_ADDR", ":8090"), "HTTP listen address")
	flag.DurationVar(&cfg.SyncInterval, "sync-interval", envDuration("SYNC_INTERVAL", 30*time.Second), "background sync period")
	flag.DurationVar(&cfg.PingInterval, "ping-interval", envDuration("PING_INTERVAL", 30*time.Second), "connectivity probe period")
	flag.StringVar(&cfg.LogLevel, "log-level", envOr("LOG_LEVEL", "info"), "log level (debug, info, warn, error)")
	flag.Parse()

	return cfg
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func parseLogLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func run() error {
	cfg := loadConfig()

	level := parseLogLevel(cfg.LogLevel)
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	if cfg.Token == "" {
		return fmt.Errorf("GITHUB_TOKEN or --github-token is required")
	}
	if cfg.RepoOwner == "" {
		return fmt.Errorf("REPO_OWNER or --repo-owner is required")
	}
	if cfg.RepoName == "" {
		return fmt.Errorf("REPO_NAME or --repo-name is required")
	}
	if cfg.SyncInterval < time.Second || cfg.PingInterval < time.Second {
		return fmt.Errorf("sync and ping intervals must be at least 1s")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sel := remote.Selection{Owner: cfg.RepoOwner, Name: cfg.RepoName, Branch: cfg.RepoBranch}

	client := github.NewClient(nil, cfg.Token)

	user, err := client.AuthenticatedUser(ctx)
	switch {
	case err == nil:
		logger.Info("authenticated", slog.String("login", user.Login))
	case errors.Is(err, apperr.ErrUnauthorized):
		return fmt.Errorf("GITHUB_TOKEN rejected: %w", err)
	default:
		logger.Warn("token validation deferred, network unreachable", slog.String("error", err.Error()))
	}

	var c *cache.Cache
	if cfg.CachePath != "" {
		c, err = cache.LoadAt(cfg.CachePath)
	} else {
		c, err = cache.Load()
	}
	if err != nil {
		return fmt.Errorf("loading cache: %w", err)
	}
	defer c.Close()

	store := remote.NewGitHub(client, sel)
	mon := netmon.NewMonitor(client, logger, cfg.PingInterval)

	eng, err := engine.New(store, c, mon, sel.Key(), cfg.SyncInterval, logger)
	if err != nil {
		return fmt.Errorf("building engine: %w", err)
	}

	// MCP server setup.
	mcpServer := mcp.NewServer(
		&mcp.Implementation{Name: "gitnotes-mcp", Version: Version},
		nil,
	)
	mcpserver.RegisterTools(mcpServer, eng)

	mcpHandler := mcp.NewStreamableHTTPHandler(func(r *http.Request) *mcp.Server {
		return mcpServer
	}, nil)

	mux := http.NewServeMux()
	mux.Handle("/mcp", mcpHandler)

	server := &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      mux,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error { return mon.Run(gctx) })
	g.Go(func() error { return eng.Run(gctx) })

	go func() {
		<-gctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		server.Shutdown(shutdownCtx)
	}()

	logger.Info("starting server",
		slog.String("listen", cfg.ListenAddr),
		slog.String("repo", sel.Key()),
	)

	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server error: %w", err)
	}

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	return nil
}

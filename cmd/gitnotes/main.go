package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"golang.org/x/sync/errgroup"

	"github.com/alexjbarnes/gitnotes/internal/apperr"
	"github.com/alexjbarnes/gitnotes/internal/cache"
	"github.com/alexjbarnes/gitnotes/internal/config"
	"github.com/alexjbarnes/gitnotes/internal/engine"
	"github.com/alexjbarnes/gitnotes/internal/github"
	"github.com/alexjbarnes/gitnotes/internal/logging"
	"github.com/alexjbarnes/gitnotes/internal/mcpserver"
	"github.com/alexjbarnes/gitnotes/internal/mirror"
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

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := logging.NewLogger(cfg.Environment)
	logger.Info("gitnotes starting",
		slog.String("version", Version),
		slog.String("repo", cfg.Selection().Key()),
		slog.Bool("mirror", cfg.MirrorEnabled()),
		slog.Bool("mcp", cfg.EnableMCP),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	c, err := cache.Load()
	if err != nil {
		return fmt.Errorf("loading cache: %w", err)
	}
	defer c.Close()

	client, err := authenticate(ctx, cfg, c, logger)
	if err != nil {
		return err
	}

	store := remote.NewGitHub(client, cfg.Selection())
	mon := netmon.NewMonitor(client, logger, cfg.PingInterval)

	eng, err := engine.New(store, c, mon, cfg.Selection().Key(), cfg.SyncInterval, logger)
	if err != nil {
		return fmt.Errorf("building engine: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error { return mon.Run(gctx) })
	g.Go(func() error { return eng.Run(gctx) })

	if cfg.MirrorEnabled() {
		g.Go(func() error { return runMirror(gctx, cfg, eng, logger) })
	}

	if cfg.EnableMCP {
		g.Go(func() error { return runMCP(gctx, cfg, eng, logger) })
	}

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	logger.Info("gitnotes stopped")

	return nil
}

// authenticate finds a usable GitHub token: the environment wins, then
// a previously cached token, then a one-time OAuth code exchange. The
// token is validated with a live call, but an unreachable network does
// not block startup; the engine serves cached state until connectivity
// returns.
func authenticate(ctx context.Context, cfg *config.Config, c *cache.Cache, logger *slog.Logger) (*github.Client, error) {
	if cfg.Token != "" {
		client := github.NewClient(nil, cfg.Token)

		user, err := client.AuthenticatedUser(ctx)
		switch {
		case err == nil:
			logger.Info("authenticated", slog.String("login", user.Login), slog.String("source", "env"))
		case errors.Is(err, apperr.ErrUnauthorized):
			return nil, fmt.Errorf("GITHUB_TOKEN rejected: %w", err)
		default:
			logger.Warn("token validation deferred, network unreachable", slog.String("error", err.Error()))
		}

		return client, nil
	}

	if token := c.Token(); token != "" {
		logger.Debug("trying cached token")
		client := github.NewClient(nil, token)

		user, err := client.AuthenticatedUser(ctx)
		switch {
		case err == nil:
			logger.Info("authenticated", slog.String("login", user.Login), slog.String("source", "cache"))
			return client, nil
		case errors.Is(err, apperr.ErrUnauthorized):
			logger.Debug("cached token rejected, falling back")
		default:
			logger.Warn("token validation deferred, network unreachable", slog.String("error", err.Error()))
			return client, nil
		}
	}

	if cfg.OAuthCode == "" {
		return nil, fmt.Errorf("no GitHub credentials: set GITHUB_TOKEN, or GITHUB_OAUTH_CODE with the client id and secret")
	}

	logger.Info("exchanging oauth code for a token")

	client := github.NewClient(nil, "")

	token, err := client.ExchangeCode(ctx, cfg.ClientID, cfg.ClientSecret, cfg.OAuthCode)
	if err != nil {
		return nil, fmt.Errorf("exchanging oauth code: %w", err)
	}

	client = client.WithToken(token)

	user, err := client.AuthenticatedUser(ctx)
	if err != nil {
		return nil, fmt.Errorf("validating exchanged token: %w", err)
	}

	if err := c.SetToken(token); err != nil {
		logger.Warn("failed to cache token", slog.String("error", err.Error()))
	}

	logger.Info("authenticated", slog.String("login", user.Login), slog.String("source", "oauth"))

	return client, nil
}

// runMirror materializes notes in the configured directory and routes
// external edits back through the engine.
func runMirror(ctx context.Context, cfg *config.Config, eng *engine.Engine, logger *slog.Logger) error {
	dir, err := mirror.NewDir(cfg.MirrorDir)
	if err != nil {
		return fmt.Errorf("opening mirror dir: %w", err)
	}

	logger.Info("mirroring notes", slog.String("dir", cfg.MirrorDir))

	m := mirror.New(dir, eng, mirror.DefaultDebounce, logging.ForService(logger, "mirror"))

	return m.Run(ctx)
}

// runMCP starts the MCP HTTP server.
func runMCP(ctx context.Context, cfg *config.Config, eng *engine.Engine, logger *slog.Logger) error {
	mcpLogger := logging.ForService(logger, "mcp")

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
		Addr:         cfg.MCPListenAddr,
		Handler:      mux,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	mcpLogger.Info("starting MCP server", slog.String("listen", cfg.MCPListenAddr))

	// Shutdown when context is cancelled.
	go func() {
		<-ctx.Done()
		mcpLogger.Info("shutting down MCP server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		server.Shutdown(shutdownCtx)
	}()

	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("MCP server error: %w", err)
	}

	return nil
}

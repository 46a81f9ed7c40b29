package main

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/apex/log"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/leonardcser/memocache/internal/cache"
	"github.com/leonardcser/memocache/internal/config"
	"github.com/leonardcser/memocache/internal/logger"
	"github.com/leonardcser/memocache/internal/tools"
	"github.com/leonardcser/memocache/internal/web"
)

const daemonBinary = "memocache-cache"

func main() {
	os.Exit(run())
}

func run() int {
	if err := logger.InitFromEnv(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	defer logger.Close()

	log.Info("starting memocache MCP server")

	cfg, err := config.Load(config.Path())
	if err != nil {
		log.WithError(err).Error("invalid configuration")
		fmt.Fprintln(os.Stderr, err)
		return 1
	}

	backend, err := connectBackend(cfg)
	if err != nil {
		log.WithError(err).Error("cache backend")
		return 1
	}
	webCache, err := newWebCache(cfg, backend)
	if err != nil {
		log.WithError(err).Error("cache manager")
		return 1
	}

	fetcher := web.NewFetcher(webCache, cfg.Web.FetchTTL)
	searcher := web.NewSearcher(webCache, cfg.Web.SearchTTL, web.WithEndpoint(cfg.Web.SearchEndpoint))

	s := server.NewMCPServer(
		"memocache",
		"0.1.0",
		server.WithRecovery(),
		server.WithToolCapabilities(false),
	)
	registerTools(s, fetcher, searcher, webCache, cfg)

	log.Info("serving MCP on stdio")
	if err := server.ServeStdio(s); err != nil {
		log.WithError(err).Error("server error")
		return 1
	}
	return 0
}

func registerTools(s *server.MCPServer, fetcher *web.Fetcher, searcher *web.Searcher, webCache *cache.Manager, cfg config.Config) {
	s.AddTool(mcp.NewTool("web-fetch",
		mcp.WithDescription(multiline(
			"Fetches content from a specified URL and returns the parsed content",
			"\nFunctionality:",
			"- Takes a URL as input",
			"- Fetches the URL content and parses it",
			"- Returns the structured content including title, description, text, and links",
			"\nUsage notes:",
			"- The URL must be a fully-formed valid URL",
			"- This tool is read-only and does not modify any files",
			fmt.Sprintf("- Results are cached for %s, so repeated fetches of the same URL are fast", cfg.Web.FetchTTL),
		)),
		mcp.WithString("url", mcp.Required(), mcp.Description("The URL to fetch content from")),
	), tools.WebFetchHandler(fetcher))

	s.AddTool(mcp.NewTool("web-search",
		mcp.WithDescription(multiline(
			"Searches the web and returns a numbered list of results",
			"\nFunctionality:",
			"- Provides up-to-date information for current events and recent data",
			"- Each result has a title, a link and a short snippet",
			"\nUsage notes:",
			fmt.Sprintf("- Results for a query are cached for %s", cfg.Web.SearchTTL),
		)),
		mcp.WithString("query", mcp.Required(), mcp.Description("The search query to use")),
		mcp.WithNumber("limit", mcp.Description("Maximum number of results, 1 to 20 (default 10)")),
	), tools.WebSearchHandler(searcher))

	s.AddTool(mcp.NewTool("cache-stats",
		mcp.WithDescription("Reports hit, miss, eviction and size counters of the web cache"),
	), tools.CacheStatsHandler(webCache))

	s.AddTool(mcp.NewTool("cache-clear",
		mcp.WithDescription("Drops every cached fetch and search result"),
	), tools.CacheClearHandler(webCache))

	log.Info("registered tools")
}

// multiline joins lines with newlines for tool descriptions.
func multiline(lines ...string) string { return strings.Join(lines, "\n") }

// newWebCache is the namespace the fetch and search results live in.
func newWebCache(cfg config.Config, backend cache.Backend) (*cache.Manager, error) {
	return cache.NewManager(backend,
		cache.WithKeyPrefix(cfg.Cache.KeyPrefix),
		cache.WithDefaultTTL(cfg.Cache.DefaultTTL),
		cache.WithLogger(log.WithField("namespace", cfg.Cache.KeyPrefix)),
	)
}

// connectBackend returns a client for the cache daemon, starting the daemon if
// nothing listens on the socket. When that fails too the server keeps a
// private in-process cache.
func connectBackend(cfg config.Config) (cache.Backend, error) {
	sock := cfg.Server.Socket
	client := cache.NewClient(sock)
	entry := log.WithField("socket", sock)

	err := client.Ping()
	if err == nil {
		entry.Info("connected to cache daemon")
		return client, nil
	}
	entry.WithError(err).Warn("cache daemon unreachable, starting it")

	if err := startCacheDaemon(sock); err != nil {
		entry.WithError(err).Warn("could not start cache daemon")
	} else if waitFor(client, 5*time.Second) {
		entry.Info("connected to cache daemon")
		return client, nil
	}

	local, err := cache.NewLocalBackend(cfg.Cache.MaxSize, cache.WithLocalLogger(log.WithField("backend", config.BackendLocal)))
	if err != nil {
		return nil, fmt.Errorf("in-process cache: %w", err)
	}
	entry.Warn("using an in-process cache")
	return local, nil
}

func waitFor(client *cache.Client, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if client.Ping() == nil {
			return true
		}
		time.Sleep(200 * time.Millisecond)
	}
	return false
}

// daemonCandidates lists where the daemon binary may live: next to this
// executable, on PATH, then in the working directory.
func daemonCandidates() []string {
	var out []string
	if exePath, err := os.Executable(); err == nil {
		out = append(out, filepath.Join(filepath.Dir(exePath), daemonBinary))
	}
	if path, err := exec.LookPath(daemonBinary); err == nil {
		out = append(out, path)
	}
	return append(out, filepath.Join(".", daemonBinary))
}

func startCacheDaemon(sock string) error {
	for _, path := range daemonCandidates() {
		if _, err := os.Stat(path); err != nil {
			continue
		}
		cmd := exec.Command(path, "--socket", sock)
		cmd.Env = os.Environ()
		log.WithField("path", path).Info("starting cache daemon")
		return cmd.Start()
	}
	return exec.ErrNotFound
}

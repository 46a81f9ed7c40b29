package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/apex/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	altsrc "github.com/urfave/cli-altsrc/v3"
	yaml "github.com/urfave/cli-altsrc/v3/yaml"
	"github.com/urfave/cli/v3"

	"github.com/leonardcser/memocache/internal/cache"
	"github.com/leonardcser/memocache/internal/config"
	"github.com/leonardcser/memocache/internal/logger"
)

func main() {
	os.Exit(run())
}

func run() int {
	if err := logger.InitFromEnv(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	defer logger.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newCommand(config.Path()).Run(ctx, os.Args); err != nil {
		log.WithError(err).Error("cache daemon stopped")
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	return 0
}

// newCommand builds the daemon command. Flag values come from the command
// line, then MEMOCACHE_* variables, then the YAML file at cfgPath.
func newCommand(cfgPath string) *cli.Command {
	def := config.Default()
	src := altsrc.StringSourcer(cfgPath)

	return &cli.Command{
		Name:      "memocache-cache",
		Usage:     "serve a shared cache over a Unix socket",
		UsageText: "memocache-cache [options]",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "socket",
				Usage: "Unix socket to listen on",
				Sources: cli.NewValueSourceChain(
					cli.EnvVar("MEMOCACHE_SOCKET"),
					yaml.YAML("server.socket", src),
				),
				Value: def.Server.Socket,
			},
			&cli.IntFlag{
				Name:  "max-size",
				Usage: "maximum number of entries held by the local backend",
				Sources: cli.NewValueSourceChain(
					cli.EnvVar("MEMOCACHE_MAX_SIZE"),
					yaml.YAML("cache.max_size", src),
				),
				Value: def.Cache.MaxSize,
			},
			&cli.StringFlag{
				Name:  "backend",
				Usage: "storage backend, local or bolt",
				Sources: cli.NewValueSourceChain(
					cli.EnvVar("MEMOCACHE_BACKEND"),
					yaml.YAML("cache.backend", src),
				),
				Value: def.Cache.Backend,
			},
			&cli.StringFlag{
				Name:  "db",
				Usage: "bolt database file",
				Sources: cli.NewValueSourceChain(
					cli.EnvVar("MEMOCACHE_DB"),
					yaml.YAML("cache.path", src),
				),
				Value: def.Cache.Path,
			},
			&cli.StringFlag{
				Name:  "metrics-addr",
				Usage: "address for the Prometheus /metrics endpoint, empty to disable",
				Sources: cli.NewValueSourceChain(
					cli.EnvVar("MEMOCACHE_METRICS_ADDR"),
					yaml.YAML("server.metrics_addr", src),
				),
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			cfg := def
			cfg.Source = cfgPath
			cfg.Server.Socket = cmd.String("socket")
			cfg.Server.MetricsAddr = cmd.String("metrics-addr")
			cfg.Cache.MaxSize = cmd.Int("max-size")
			cfg.Cache.Backend = cmd.String("backend")
			cfg.Cache.Path = cmd.String("db")
			if err := cfg.Validate(); err != nil {
				return err
			}
			return serve(ctx, cfg)
		},
	}
}

type backend interface {
	cache.Backend
	cache.StatsReporter
	io.Closer
}

// localBackend adapts LocalBackend to the closer the daemon expects.
type localBackend struct{ *cache.LocalBackend }

func (localBackend) Close() error { return nil }

func openBackend(cfg config.CacheConfig) (backend, error) {
	switch cfg.Backend {
	case config.BackendBolt:
		if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
			return nil, err
		}
		b, err := cache.OpenBolt(cfg.Path, cache.BoltOptions{Bucket: "cache"})
		if err != nil {
			return nil, err
		}
		return b, nil
	default:
		b, err := cache.NewLocalBackend(cfg.MaxSize, cache.WithLocalLogger(log.WithField("backend", config.BackendLocal)))
		if err != nil {
			return nil, err
		}
		return localBackend{b}, nil
	}
}

func serve(ctx context.Context, cfg config.Config) error {
	store, err := openBackend(cfg.Cache)
	if err != nil {
		return err
	}
	defer store.Close()

	sock := cfg.Server.Socket
	if err := os.MkdirAll(filepath.Dir(sock), 0o755); err != nil {
		return err
	}
	// A previous daemon may have left its socket behind.
	_ = os.Remove(sock)
	l, err := net.Listen("unix", sock)
	if err != nil {
		return err
	}
	defer os.Remove(sock)
	_ = os.Chmod(sock, 0o600)

	if cfg.Server.MetricsAddr != "" {
		stopMetrics, err := serveMetrics(cfg.Server.MetricsAddr, cache.NewCollector("memocache", cfg.Cache.Backend, store))
		if err != nil {
			_ = l.Close()
			return err
		}
		defer stopMetrics()
	}

	log.WithFields(log.Fields{
		"socket":   sock,
		"backend":  cfg.Cache.Backend,
		"max_size": cfg.Cache.MaxSize,
		"config":   cfg.Source,
	}).Info("cache daemon listening")

	return cache.NewServer(store, log.WithField("component", "server")).Serve(ctx, l)
}

// serveMetrics exposes the cache collector with the Go runtime and process
// collectors on addr. The returned func shuts the listener down.
func serveMetrics(addr string, c prometheus.Collector) (func(), error) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		c,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	l, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("metrics listener: %w", err)
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		if err := srv.Serve(l); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Warn("metrics server failed")
		}
	}()
	log.WithField("addr", l.Addr().String()).Info("serving metrics")

	return func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}, nil
}

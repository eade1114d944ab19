// nsproxy - A Redis proxy that confines every client to a key namespace
//
// Usage:
//
//	nsproxy [flags]
//
// Flags:
//
//	-config string     Path to a YAML config file
//	-addr string       Listen address (overrides proxy.addr)
//	-upstream string   Redis server address (overrides upstream.addr)
//	-namespace string  Key namespace (overrides namespace)
//	-loglevel string   Log level: debug, info, warn, error (overrides log.level)
//	-noadmin           Disable the admin HTTP server
//	-version           Show version and exit
//
// Every setting can also be given as an NSREDIS_ environment variable, e.g.
// NSREDIS_UPSTREAM_PASSWORD or NSREDIS_PROXY_RATE_LIMIT.
//
// The config file is watched; log.level and proxy.deny apply on save.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/flashdb/nsredis/internal/client"
	"github.com/flashdb/nsredis/internal/config"
	"github.com/flashdb/nsredis/internal/logger"
	"github.com/flashdb/nsredis/internal/proxy"
	"github.com/flashdb/nsredis/internal/tracing"
	"github.com/flashdb/nsredis/internal/version"
	"github.com/flashdb/nsredis/internal/web"
)

func main() {
	configPath := flag.String("config", "", "Path to a YAML config file")
	addr := flag.String("addr", "", "Listen address")
	upstream := flag.String("upstream", "", "Redis server address")
	ns := flag.String("namespace", "", "Key namespace")
	logLevel := flag.String("loglevel", "", "Log level: debug, info, warn, error")
	noAdmin := flag.Bool("noadmin", false, "Disable the admin HTTP server")
	showVersion := flag.Bool("version", false, "Show version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("nsproxy %s\n", version.String())
		return
	}

	overrides := flagOverrides(map[string]string{
		"proxy.addr":    *addr,
		"upstream.addr": *upstream,
		"namespace":     *ns,
		"log.level":     *logLevel,
	})
	cfg, err := config.LoadWith(*configPath, overrides)
	if err != nil {
		fmt.Fprintf(os.Stderr, "nsproxy: %v\n", err)
		os.Exit(2)
	}
	if *noAdmin {
		cfg.Admin.Enabled = false
	}

	log, err := logger.New(logger.Config{Level: cfg.Log.Level, Format: cfg.Log.Format, Output: os.Stderr})
	if err != nil {
		fmt.Fprintf(os.Stderr, "nsproxy: %v\n", err)
		os.Exit(2)
	}
	slog.SetDefault(log)

	if err := run(cfg, log, *configPath, overrides); err != nil {
		log.Error("nsproxy failed", "err", err)
		os.Exit(1)
	}
}

// flagOverrides keeps the flags that were set. They are layered over the
// file and environment.
func flagOverrides(flags map[string]string) map[string]any {
	overrides := make(map[string]any)
	for key, val := range flags {
		if val != "" {
			overrides[key] = val
		}
	}
	return overrides
}

func run(cfg config.Config, log *slog.Logger, configPath string, overrides map[string]any) error {
	log.Info("nsproxy starting",
		"version", version.Version,
		"namespace", cfg.Namespace,
		"upstream", cfg.Upstream.Addr,
		"max_clients", cfg.Proxy.MaxClients)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Info("received signal, shutting down", "signal", sig.String())
		cancel()
	}()

	shutdownTracing, err := tracing.Setup(ctx, cfg.Tracing.Endpoint, cfg.Tracing.ServiceName)
	if err != nil {
		return err
	}
	defer func() {
		flushCtx, flushCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer flushCancel()
		if err := shutdownTracing(flushCtx); err != nil {
			log.Warn("tracing shutdown failed", "err", err)
		}
	}()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	srv := proxy.New(proxyConfig(cfg),
		proxy.WithLogger(log),
		proxy.WithMetrics(proxy.NewMetrics(reg)),
	)

	if cfg.Admin.Enabled {
		admin := web.New(cfg.Admin.Addr, srv, reg, log)
		go func() {
			if err := admin.Start(ctx); err != nil {
				log.Error("admin server failed", "err", err)
			}
		}()
	}

	if configPath != "" {
		watcher, err := config.NewWatcher(configPath, overrides, log, func(next config.Config) {
			applyReload(cfg, next, srv, log)
		})
		if err != nil {
			log.Warn("config watch disabled", "err", err)
		} else {
			go watcher.Run(ctx)
		}
	}

	if err := srv.Start(ctx); err != nil {
		return err
	}
	log.Info("nsproxy shutdown complete")
	return nil
}

// applyReload applies the settings that can change while clients are
// connected: the log level and the deny list. Everything else needs a
// restart.
func applyReload(cur, next config.Config, srv *proxy.Server, log *slog.Logger) {
	if err := logger.SetLevel(next.Log.Level); err != nil {
		log.Warn("log level not changed", "err", err)
	}
	srv.SetDeny(next.Proxy.Deny)
	if next.Namespace != cur.Namespace || next.Proxy.Addr != cur.Proxy.Addr || next.Upstream != cur.Upstream {
		log.Warn("namespace, listener and upstream changes take effect after a restart")
	}
}

func proxyConfig(cfg config.Config) proxy.Config {
	return proxy.Config{
		Addr:           cfg.Proxy.Addr,
		Namespace:      cfg.Namespace,
		MaxClients:     cfg.Proxy.MaxClients,
		IdleTimeout:    cfg.Proxy.IdleTimeout,
		RateLimit:      cfg.Proxy.RateLimit,
		Burst:          cfg.Proxy.Burst,
		Strict:         cfg.Proxy.Strict,
		Deny:           cfg.Proxy.Deny,
		HotKeys:        cfg.Proxy.HotKeys,
		HotKeyHalfLife: cfg.Proxy.HotKeyHalfLife,
		Upstream: client.Options{
			Addr:         cfg.Upstream.Addr,
			Username:     cfg.Upstream.Username,
			Password:     cfg.Upstream.Password,
			DB:           cfg.Upstream.DB,
			DialTimeout:  cfg.Upstream.DialTimeout,
			ReadTimeout:  cfg.Upstream.ReadTimeout,
			WriteTimeout: cfg.Upstream.WriteTimeout,
		},
	}
}

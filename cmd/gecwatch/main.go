// Command gecwatch monitors tender portals for green electricity certificate
// procurement announcements.
//
// Usage:
//
//	gecwatch -config gecwatch.yaml             # daemon with config file
//	gecwatch -db gecwatch.db                   # daemon with default sources
//	gecwatch -db gecwatch.db -scrape           # scrape all sources, then exit
//	gecwatch -db gecwatch.db -source <id>      # scrape one source, then exit
//	gecwatch -db gecwatch.db -stats            # show stats and exit
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "modernc.org/sqlite"

	"github.com/gecwatch/gecwatch"
)

func main() {
	configPath := flag.String("config", "", "path to gecwatch.yaml config file")
	dbPath := flag.String("db", "", "path to SQLite database")
	listen := flag.String("listen", "", "HTTP API listen address (daemon mode)")
	scrapeAll := flag.Bool("scrape", false, "scrape all enabled sources and exit")
	sourceID := flag.String("source", "", "scrape one source by id and exit")
	showStats := flag.Bool("stats", false, "show stats and exit")
	logLevel := flag.String("log-level", "info", "log level: debug, info, warn, error")
	flag.Parse()

	var level slog.Level
	switch *logLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, logger, *configPath, *dbPath, *listen, *sourceID, *scrapeAll, *showStats); err != nil {
		logger.Error("gecwatch: fatal", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, logger *slog.Logger, configPath, dbPath, listen, sourceID string, scrapeAll, showStats bool) error {
	cfg, err := resolveConfig(configPath, dbPath)
	if err != nil {
		return err
	}

	svc, err := gecwatch.Open(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("init: %w", err)
	}
	defer svc.Close()

	// One-shot: stats.
	if showStats {
		stats, err := svc.Stats(ctx)
		if err != nil {
			return fmt.Errorf("stats: %w", err)
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(stats)
	}

	// One-shot: scrape one source.
	if sourceID != "" {
		return svc.RunSource(ctx, sourceID)
	}

	// One-shot: scrape everything.
	if scrapeAll {
		return svc.RunAll(ctx)
	}

	// Daemon mode.
	if listen != "" {
		srv := &http.Server{
			Addr:              listen,
			Handler:           svc.Router(),
			ReadHeaderTimeout: 10 * time.Second,
		}
		go func() {
			logger.Info("gecwatch: http listening", "addr", listen)
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error("gecwatch: http server", "error", err)
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			srv.Shutdown(shutdownCtx)
		}()
	}

	logger.Info("gecwatch: running", "db", cfg.DBPath)
	svc.Run(ctx)
	logger.Info("gecwatch: shutting down")
	return nil
}

func resolveConfig(configPath, dbPath string) (*gecwatch.Config, error) {
	if configPath != "" {
		return gecwatch.LoadConfigFile(configPath)
	}

	cfg := gecwatch.DefaultConfig()
	if dbPath != "" {
		cfg.DBPath = dbPath
	}
	return cfg, nil
}

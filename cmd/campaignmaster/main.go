package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/campaignmaster/campaignmaster/internal/apiclient"
	"github.com/campaignmaster/campaignmaster/internal/cache"
	"github.com/campaignmaster/campaignmaster/internal/config"
	"github.com/campaignmaster/campaignmaster/internal/metrics"
	"github.com/campaignmaster/campaignmaster/internal/store"
	"github.com/campaignmaster/campaignmaster/pkg/api"
	"github.com/campaignmaster/campaignmaster/pkg/health"
	"github.com/campaignmaster/campaignmaster/pkg/utils"
)

var version = "dev"

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "campaignmaster: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		configFile  = flag.String("config", "", "path to a YAML configuration file")
		logLevel    = flag.String("log-level", "", "override the log level (DEBUG, INFO, WARN, ERROR)")
		addr        = flag.String("addr", "", "override the admin server address")
		apiURL      = flag.String("api-url", "", "override the backend API base URL")
		warm        = flag.String("warm", "", "comma-separated API endpoints to fetch into the cache at startup")
		showVersion = flag.Bool("version", false, "print the version and exit")
	)
	flag.Parse()

	if *showVersion {
		fmt.Println(version)
		return nil
	}

	cfg := config.NewDefault()
	if *configFile != "" {
		if err := cfg.LoadFromFile(*configFile); err != nil {
			return err
		}
	}
	if err := cfg.LoadFromEnv(); err != nil {
		return err
	}
	if *logLevel != "" {
		cfg.Global.LogLevel = *logLevel
	}
	if *addr != "" {
		cfg.Server.Address = *addr
	}
	if *apiURL != "" {
		cfg.API.BaseURL = *apiURL
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger, closeLog, err := newLogger(cfg.Global)
	if err != nil {
		return err
	}
	defer closeLog()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	collector, err := metrics.NewCollector(&cfg.Monitoring.Metrics)
	if err != nil {
		return err
	}

	tracker := health.NewTracker(cfg.Health)
	tracker.OnStateChange(func(component string, oldState, newState health.State, err error) {
		fields := map[string]interface{}{
			"component": component,
			"from":      oldState.String(),
			"to":        newState.String(),
		}
		if err != nil {
			fields["error"] = err.Error()
		}
		logger.Warn("Component health changed", fields)
	})

	var cacheOpts []cache.Option
	cacheOpts = append(cacheOpts, cache.WithLogger(logger), cache.WithRecorder(collector))
	if cfg.Cache.EnablePersistence {
		tracker.RegisterComponent(health.ComponentStore)
		adapter, err := store.New(ctx, &cfg.Store,
			store.WithLogger(logger),
			store.WithRecorder(collector),
			store.WithRecorder(tracker),
		)
		if err != nil {
			return err
		}
		cacheOpts = append(cacheOpts, cache.WithStore(adapter))
	}

	manager := cache.New(&cfg.Cache, cacheOpts...)
	cache.SetDefault(manager)
	defer func() {
		cache.SetDefault(nil)
		if err := manager.Close(); err != nil {
			logger.Warn("Failed to flush cache on shutdown", map[string]interface{}{"error": err})
		}
	}()

	client := apiclient.New(&cfg.API,
		apiclient.WithCache(manager),
		apiclient.WithLogger(logger),
		apiclient.WithRecorder(collector),
		apiclient.WithRecorder(tracker),
	)
	tracker.RegisterComponent(health.ComponentBackend)
	defer client.Close()

	if *warm != "" {
		warmCache(ctx, client, logger, strings.Split(*warm, ","))
	}

	logger.Info("CampaignMaster started", map[string]interface{}{
		"version":     version,
		"api_url":     client.BaseURL(),
		"store":       cfg.Store.Backend,
		"persistence": cfg.Cache.EnablePersistence,
	})

	if !cfg.Server.Enabled {
		<-ctx.Done()
		logger.Info("Shutting down")
		return nil
	}

	api.Version = version
	server := api.NewServer(cfg.Server,
		api.WithCache(manager),
		api.WithBreaker(client.Breaker()),
		api.WithHealth(tracker),
		api.WithMetrics(collector),
		api.WithLogger(logger),
	)
	server.StartBackground()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

func newLogger(cfg config.GlobalConfig) (*utils.StructuredLogger, func(), error) {
	level, err := utils.ParseLogLevel(cfg.LogLevel)
	if err != nil {
		return nil, nil, err
	}
	format, err := utils.ParseLogFormat(cfg.LogFormat)
	if err != nil {
		return nil, nil, err
	}

	var out io.Writer = os.Stderr
	closeFn := func() {}
	if cfg.LogFile != "" {
		f, err := os.OpenFile(cfg.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0640)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open log file: %w", err)
		}
		out = f
		closeFn = func() { _ = f.Close() }
	}

	return utils.NewStructuredLogger(&utils.StructuredLoggerConfig{
		Level:  level,
		Output: out,
		Format: format,
	}), closeFn, nil
}

// warmCache fetches endpoints through the client so their responses are
// cached before the admin server starts. Failures are logged and skipped.
func warmCache(ctx context.Context, client *apiclient.Client, logger *utils.StructuredLogger, endpoints []string) {
	start := time.Now()
	warmed := 0
	for _, endpoint := range endpoints {
		endpoint = strings.TrimSpace(endpoint)
		if endpoint == "" {
			continue
		}
		if _, err := client.Get(ctx, endpoint); err != nil {
			logger.Warn("Cache warm-up request failed", map[string]interface{}{
				"endpoint": endpoint,
				"status":   apiclient.StatusOf(err),
				"error":    err,
			})
			continue
		}
		warmed++
	}
	logger.Info("Cache warm-up finished", map[string]interface{}{
		"warmed":   warmed,
		"duration": time.Since(start).String(),
	})
}

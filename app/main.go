package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/kissplugins/KISS-Blog-Posts-Sidebar/app/api"
	"github.com/kissplugins/KISS-Blog-Posts-Sidebar/app/auth"
	"github.com/kissplugins/KISS-Blog-Posts-Sidebar/app/cache"
	"github.com/kissplugins/KISS-Blog-Posts-Sidebar/app/cfg"
	"github.com/kissplugins/KISS-Blog-Posts-Sidebar/app/client"
	"github.com/kissplugins/KISS-Blog-Posts-Sidebar/app/database"
	"github.com/kissplugins/KISS-Blog-Posts-Sidebar/app/feed"
	"github.com/kissplugins/KISS-Blog-Posts-Sidebar/app/logger"
	"github.com/kissplugins/KISS-Blog-Posts-Sidebar/app/metrics"
	"github.com/kissplugins/KISS-Blog-Posts-Sidebar/app/tasks"
	"github.com/kissplugins/KISS-Blog-Posts-Sidebar/app/widget"
)

func main() {
	appCfg, err := cfg.Load(os.Args[1:])
	if err != nil {
		os.Exit(1)
	}
	if appCfg == nil {
		return
	}

	logger.Init(os.Stderr, logger.Level(appCfg.Debug), appCfg.LogFormat)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	switch appCfg.Command {
	case cfg.CommandRender:
		err = runRender(ctx, appCfg)
	case cfg.CommandServe:
		err = runServe(ctx, appCfg)
	case cfg.CommandImport:
		err = runImport(ctx, appCfg)
	default:
		err = fmt.Errorf("unknown command %q", appCfg.Command)
	}

	if err != nil {
		slog.Error("Command failed", "command", appCfg.Command, "error", err)
		stop()
		os.Exit(1)
	}
}

func runRender(ctx context.Context, appCfg *cfg.Cfg) error {
	rc := appCfg.Render

	style, err := widget.LoadStyle(rc.StyleFile)
	if err != nil {
		slog.Warn("Failed to load style file, using defaults", "path", rc.StyleFile, "error", err)
	}

	store, err := openStore(ctx, rc)
	if err != nil {
		return err
	}
	defer store.Close()

	apiClient, err := client.New(&http.Client{}, client.Config{
		BaseURL:     rc.Endpoint,
		AuthHeader:  rc.AuthHeader,
		ProbeURL:    rc.TokenProbeURL,
		TokenHeader: rc.TokenHeader,
		UserAgent:   appCfg.UserAgent,
		Timeout:     rc.Timeout,
	})
	if err != nil {
		return err
	}

	registry := prometheus.NewRegistry()
	widgetMetrics := metrics.New(registry)

	tokens := auth.NewTokenManager(rc.Token, apiClient, store, rc.TokenMaxAge)
	postCache := cache.NewPostCache(store, rc.CacheTTL)

	opts := widget.DefaultOptions()
	opts.Debug = appCfg.Debug

	stylesheet := widget.NewRenderer().Stylesheet(style)

	var target widget.Target
	var memory *widget.MemoryTarget
	if rc.Output != "" {
		target = widget.NewFileTarget(rc.Output, rc.PageSize).WithStylesheet(stylesheet)
	} else {
		memory = widget.NewMemoryTarget(rc.PageSize)
		target = memory
	}

	controller := widget.NewController(opts, apiClient, tokens, postCache, target, widgetMetrics)
	outcome := controller.Run(ctx)

	if memory != nil {
		fmt.Fprintf(os.Stdout, "<style>\n%s</style>\n<div class=\"kiss-blog-posts-container\">%s</div>\n",
			stylesheet, memory.Contents())
	}

	if rc.MetricsFile != "" {
		if err := prometheus.WriteToTextfile(rc.MetricsFile, registry); err != nil {
			slog.Warn("Failed to write metrics file", "path", rc.MetricsFile, "error", err)
		}
	}

	if outcome.Err != nil {
		return fmt.Errorf("widget load failed: %w", outcome.Err)
	}
	return nil
}

func openStore(ctx context.Context, rc cfg.RenderCfg) (cache.Store, error) {
	switch rc.Cache {
	case "memory":
		return cache.NewMemoryStore(), nil
	case "redis":
		store, err := cache.NewRedisStore(ctx, rc.RedisAddr)
		if err != nil {
			return nil, fmt.Errorf("failed to open redis cache: %w", err)
		}
		return store, nil
	default:
		store, err := cache.OpenSQLiteStore(rc.CachePath)
		if err != nil {
			return nil, fmt.Errorf("failed to open sqlite cache: %w", err)
		}
		return store, nil
	}
}

func runServe(ctx context.Context, appCfg *cfg.Cfg) error {
	sc := appCfg.Serve

	slog.Info("Starting KISS Blog Posts server", "version", appCfg.Version)

	db, err := database.Open(sc.DBPath)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	postRepo := database.NewPostRepository(db)

	style, err := widget.LoadStyle(sc.StyleFile)
	if err != nil {
		slog.Warn("Failed to load style file, using defaults", "path", sc.StyleFile, "error", err)
	}

	feedConfigs := make([]*feed.Config, 0, len(sc.FeedConfigs))
	for _, path := range sc.FeedConfigs {
		feedConfig, err := feed.LoadConfig(path)
		if err != nil {
			return err
		}
		feedConfigs = append(feedConfigs, feedConfig)
	}

	var scheduler api.ImportScheduler
	if len(feedConfigs) > 0 {
		feedScheduler := tasks.NewScheduler(feedConfigs, postRepo, &http.Client{}, feed.NewParser(), feed.NewFilterer(), feed.NewContentExtractor(),
			tasks.SchedulerOptions{
				Interval:    sc.ImportInterval,
				WorkerCount: sc.WorkerCount,
				UserAgent:   appCfg.UserAgent,
			})
		slog.Info("Starting background scheduler", "feeds", len(feedConfigs), "workers", sc.WorkerCount, "interval", sc.ImportInterval.String())
		feedScheduler.Start()
		defer feedScheduler.Stop()
		scheduler = feedScheduler
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	if !appCfg.Debug {
		gin.SetMode(gin.ReleaseMode)
	}

	handler := api.NewHandler(postRepo, api.NewTokenStore(sc.TokenTTL), scheduler, api.HandlerOptions{
		Version:      appCfg.Version,
		TokenHeader:  sc.TokenHeader,
		RequireNonce: sc.RequireNonce,
		Style:        style,
	})
	server := api.NewServer(handler, api.ServerOptions{
		APIAccessKey: sc.APIAccessKey,
		Metrics:      metrics.New(registry),
		Gatherer:     registry,
	})

	httpServer := &http.Server{
		Addr:         ":" + sc.Port,
		Handler:      server,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	serverErrChan := make(chan error, 1)
	go func() {
		slog.Info("Starting HTTP server", "port", sc.Port, "require_nonce", sc.RequireNonce)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErrChan <- fmt.Errorf("HTTP server error: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		slog.Info("Received shutdown signal")
	case err := <-serverErrChan:
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	} else {
		slog.Info("HTTP server stopped")
	}

	return nil
}

func runImport(ctx context.Context, appCfg *cfg.Cfg) error {
	ic := appCfg.Import

	var feedConfig *feed.Config
	if ic.FeedConfig != "" {
		loaded, err := feed.LoadConfig(ic.FeedConfig)
		if err != nil {
			return err
		}
		feedConfig = loaded
	} else {
		feedConfig = &feed.Config{
			URL: ic.FeedURL,
			Settings: feed.ConfigSettings{
				Timeout:        ic.Timeout,
				MaxItems:       ic.MaxItems,
				RequireImage:   ic.RequireImage,
				ExtractContent: ic.ExtractContent,
			},
		}
		feed.ApplyDefaults(feedConfig)
		if err := feed.ValidateConfig(feedConfig); err != nil {
			return err
		}
	}

	db, err := database.Open(ic.DBPath)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	task := tasks.NewImportFeedTask(feedConfig, &http.Client{}, feed.NewParser(), feed.NewFilterer(), feed.NewContentExtractor(),
		database.NewPostRepository(db), appCfg.UserAgent)

	for {
		task.Start()
		err := task.Execute(ctx)
		if err == nil {
			break
		}
		if !task.CanRetry() || ctx.Err() != nil {
			return fmt.Errorf("import failed after %d retries: %w", task.GetRetryCount(), err)
		}
		task.IncrementRetryCount()
		delay := tasks.RetryDelay(task.GetRetryCount())
		slog.Warn("Import failed, retrying", "feed", feedConfig.URL, "retry_count", task.GetRetryCount(), "delay", delay.String(), "error", err)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}

	fmt.Fprintf(os.Stdout, "Imported %s: %d items, %d created, %d updated, %d filtered, %d skipped\n",
		feedConfig.URL, task.Result.Total, task.Result.Created, task.Result.Updated, task.Result.Filtered, task.Result.Skipped)
	return nil
}

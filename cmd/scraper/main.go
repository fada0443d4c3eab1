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
	"sort"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/aluiziolira/go-scrape-fixprice/config"
	"github.com/aluiziolira/go-scrape-fixprice/extract"
	"github.com/aluiziolira/go-scrape-fixprice/fingerprint"
	"github.com/aluiziolira/go-scrape-fixprice/models"
	"github.com/aluiziolira/go-scrape-fixprice/pipeline"
	"github.com/aluiziolira/go-scrape-fixprice/render"
	"github.com/aluiziolira/go-scrape-fixprice/scraper"
)

func main() {
	os.Exit(run())
}

func run() int {
	defaults := config.DefaultConfig()

	configPath := flag.String("config", "", "YAML config file")
	envFile := flag.String("env-file", ".env", "dotenv file loaded before reading SCRAPER_* variables")
	categories := flag.String("categories", "", "Comma-separated category listing URLs")
	maxPages := flag.Int("pages", defaults.MaxPages, "Maximum listing pages per category (0 = no limit)")
	parallelism := flag.Int("parallel", defaults.Parallelism, "Global concurrent detail renders")
	perCategory := flag.Int("per-category", defaults.PerCategoryParallelism, "Concurrent detail renders per category")
	delay := flag.Duration("delay", defaults.Delay, "Delay between listing requests")
	randomDelay := flag.Duration("random-delay", defaults.RandomDelay, "Random jitter added to delay")
	requestTimeout := flag.Duration("request-timeout", defaults.RequestTimeout, "Deadline for one detail request")
	fieldTimeout := flag.Duration("field-timeout", defaults.FieldTimeout, "Wait bound for one detail field")
	runTimeout := flag.Duration("run-timeout", defaults.RunTimeout, "End the run cleanly after this long (0 = none)")
	maxRetries := flag.Int("max-retries", defaults.MaxRetries, "Maximum retry attempts per request")
	retryBackoff := flag.Duration("retry-backoff", defaults.RetryBackoff, "Initial retry backoff")
	retryBackoffMax := flag.Duration("retry-backoff-max", defaults.RetryBackoffMax, "Maximum retry backoff")
	blockedBackoff := flag.Duration("blocked-backoff", defaults.BlockedBackoff, "Base delay after a blocked response")
	outputDir := flag.String("output-dir", defaults.OutputDir, "Directory for per-category JSONL files")
	fingerprintLog := flag.String("fingerprint-log", defaults.FingerprintLog, "Append-only fingerprint log (empty disables)")
	fresh := flag.Bool("fresh", false, "Discard previous fingerprints and output instead of resuming")
	redisAddr := flag.String("redis-addr", "", "Keep fingerprints in Redis at this address")
	proxies := flag.String("proxies", "", "Comma-separated proxy URLs")
	useRender := flag.Bool("render", defaults.Render, "Render detail pages in a headless browser")
	headless := flag.Bool("headless", defaults.Headless, "Run the browser headless")
	browserBin := flag.String("browser-bin", "", "Browser executable (empty downloads one)")
	respectRobots := flag.Bool("respect-robots", false, "Respect robots.txt directives")
	verbose := flag.Bool("v", false, "Enable verbose logging")
	metricsAddr := flag.String("metrics-addr", "", "Prometheus metrics listen address (e.g. :9090)")

	flag.Parse()

	if err := config.LoadDotEnv(*envFile); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return 1
	}

	cfg := config.DefaultConfig()
	if *configPath != "" {
		if err := cfg.LoadFile(*configPath); err != nil {
			fmt.Fprintf(os.Stderr, "%v\n", err)
			return 1
		}
	}
	if err := cfg.ApplyEnv(); err != nil {
		fmt.Fprintf(os.Stderr, "invalid environment: %v\n", err)
		return 1
	}

	// Flags given on the command line win over file and environment.
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "categories":
			cfg.Categories = config.SplitList(*categories)
		case "pages":
			cfg.MaxPages = *maxPages
		case "parallel":
			cfg.Parallelism = *parallelism
		case "per-category":
			cfg.PerCategoryParallelism = *perCategory
		case "delay":
			cfg.Delay = *delay
		case "random-delay":
			cfg.RandomDelay = *randomDelay
		case "request-timeout":
			cfg.RequestTimeout = *requestTimeout
		case "field-timeout":
			cfg.FieldTimeout = *fieldTimeout
		case "run-timeout":
			cfg.RunTimeout = *runTimeout
		case "max-retries":
			cfg.MaxRetries = *maxRetries
		case "retry-backoff":
			cfg.RetryBackoff = *retryBackoff
		case "retry-backoff-max":
			cfg.RetryBackoffMax = *retryBackoffMax
		case "blocked-backoff":
			cfg.BlockedBackoff = *blockedBackoff
		case "output-dir":
			cfg.OutputDir = *outputDir
		case "fingerprint-log":
			cfg.FingerprintLog = *fingerprintLog
		case "fresh":
			cfg.Fresh = *fresh
		case "redis-addr":
			cfg.RedisAddr = *redisAddr
		case "proxies":
			cfg.Proxies = config.SplitList(*proxies)
		case "render":
			cfg.Render = *useRender
		case "headless":
			cfg.Headless = *headless
		case "browser-bin":
			cfg.BrowserBin = *browserBin
		case "respect-robots":
			cfg.RespectRobotsTxt = *respectRobots
		case "v":
			cfg.Verbose = *verbose
		case "metrics-addr":
			cfg.MetricsAddr = *metricsAddr
		}
	})

	logger, level := newLogger(cfg.Verbose)
	slog.SetDefault(logger)
	slog.SetLogLoggerLevel(level.Level())

	if err := cfg.Validate(); err != nil {
		slog.Error("invalid configuration", slog.Any("error", err))
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if cfg.RunTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.RunTimeout)
		defer cancel()
	}
	go func() {
		<-ctx.Done()
		slog.Info("stopping, waiting for in-flight work to finish", slog.Any("cause", context.Cause(ctx)))
	}()

	slog.Info("starting crawl",
		slog.Any("categories", cfg.Categories),
		slog.Int("pages", cfg.MaxPages),
		slog.Int("workers", cfg.Parallelism),
		slog.Bool("render", cfg.Render),
		slog.Bool("fresh", cfg.Fresh),
	)

	store, err := openStore(ctx, cfg, logger)
	if err != nil {
		slog.Error("opening fingerprint store", slog.Any("error", err))
		return 1
	}
	defer func() {
		if err := store.Close(); err != nil {
			slog.Error("close fingerprint store", slog.Any("error", err))
		}
	}()

	renderer, err := openRenderer(cfg, logger)
	if err != nil {
		slog.Error("starting renderer", slog.Any("error", err))
		return 1
	}
	defer func() {
		if err := renderer.Close(); err != nil {
			slog.Error("close renderer", slog.Any("error", err))
		}
	}()

	extractor := extract.New(extract.DefaultRules(), cfg.FieldTimeout, logger)
	s, err := scraper.NewScraper(cfg, renderer, store, extractor, logger)
	if err != nil {
		slog.Error("initialising scraper", slog.Any("error", err))
		return 1
	}

	partitioner, err := pipeline.NewPartitioner(cfg.OutputDir, cfg.Categories, !cfg.Fresh, logger)
	if err != nil {
		slog.Error("creating output partitioner", slog.Any("error", err))
		return 1
	}
	partitioner.OnUnroutable = func(*models.ProductRecord) { s.Metrics.IncUnroutable() }

	var metricsServer *http.Server
	if cfg.MetricsAddr != "" && s.Metrics != nil {
		metricsServer = &http.Server{
			Addr:    cfg.MetricsAddr,
			Handler: promhttp.HandlerFor(s.Metrics.Registry, promhttp.HandlerOpts{}),
		}
		go func() {
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.Error("metrics server failed", slog.Any("error", err))
			}
		}()
		slog.Info("metrics server enabled", slog.String("addr", cfg.MetricsAddr))
	}

	p, err := pipeline.NewPipeline(partitioner, pipeline.Options{
		BufferSize:    cfg.PipelineBufferSize,
		BatchSize:     cfg.BatchSize,
		DedupeMaxSize: cfg.DedupeMaxSize,
		Logger:        logger,
	})
	if err != nil {
		slog.Error("creating pipeline", slog.Any("error", err))
		return 1
	}
	p.Start(cfg.Parallelism)
	if cfg.Verbose {
		p.StartMetricsReporting(10 * time.Second)
	}

	startTime := time.Now()
	result, err := s.Run(ctx, p)
	if err != nil {
		slog.Error("crawl failed", slog.Any("error", err))
		return 1
	}

	if err := p.Close(); err != nil {
		slog.Error("pipeline shutdown failed", slog.Any("error", err))
		return 1
	}

	if metricsServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			slog.Error("metrics server shutdown failed", slog.Any("error", err))
		}
		cancel()
	}

	printSummary(result, time.Since(startTime), p.GetMetrics(), partitioner, cfg.OutputDir)

	if err := partitioner.Validate(); err != nil && result.DetailRequests > 0 {
		slog.Error("output validation failed", slog.Any("error", err))
		return 1
	}
	return 0
}

func openStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*fingerprint.Store, error) {
	opts := fingerprint.Options{
		LogPath: cfg.FingerprintLog,
		Fresh:   cfg.Fresh,
		Headers: cfg.FingerprintHeaders,
		Logger:  logger,
	}
	if cfg.RedisAddr != "" {
		backend, err := fingerprint.NewRedisBackend(ctx, cfg.RedisAddr, cfg.RedisDB, cfg.RedisKey)
		if err != nil {
			return nil, err
		}
		if cfg.Fresh {
			if err := backend.Reset(ctx); err != nil {
				backend.Close()
				return nil, fmt.Errorf("reset redis fingerprints: %w", err)
			}
		}
		// Redis holds the seen-set; no local log.
		opts.Backend = backend
		opts.LogPath = ""
	}
	return fingerprint.New(opts)
}

func openRenderer(cfg *config.Config, logger *slog.Logger) (*render.Controller, error) {
	policy := render.DefaultPolicy()
	if !cfg.Render {
		client := &http.Client{Timeout: cfg.RequestTimeout}
		return render.NewController(render.NewHTTPBackend(client), policy, logger), nil
	}

	opts := render.BrowserOptions{Headless: cfg.Headless, Bin: cfg.BrowserBin}
	if len(cfg.Proxies) > 0 {
		opts.Proxy = cfg.Proxies[0]
	}
	backend, err := render.LaunchBrowser(opts, logger)
	if err != nil {
		return nil, err
	}
	return render.NewController(backend, policy, logger), nil
}

func printSummary(result *models.CrawlResult, duration time.Duration, stats pipeline.Stats, partitioner *pipeline.Partitioner, outputDir string) {
	separator := "--------------------------------------------------"
	fmt.Println("\n" + separator)
	if result.Interrupted {
		fmt.Println("Crawl stopped early")
	} else {
		fmt.Println("Crawl complete")
	}

	itemsPerSec := 0.0
	if duration.Seconds() > 0 {
		itemsPerSec = float64(stats.Processed) / duration.Seconds()
	}

	fmt.Printf("  Categories:    %d\n", result.Categories)
	fmt.Printf("  Listing pages: %d\n", result.ListingPages)
	fmt.Printf("  Detail reqs:   %d (already seen: %d)\n", result.DetailRequests, result.SkippedSeen)
	fmt.Printf("  Records:       %d\n", stats.Processed)
	successRate := 0.0
	if result.DetailRequests > 0 {
		successRate = float64(result.RecordsEmitted) / float64(result.DetailRequests) * 100
	}
	fmt.Printf("  Success rate:  %.2f%%\n", successRate)
	fmt.Printf("  Errors:        %d\n", result.ErrorCount)
	fmt.Printf("  Retries:       %d\n", result.RetryCount)
	fmt.Printf("  Failed URLs:   %d\n", len(result.FailedURLs))
	if len(result.ErrorsByType) > 0 {
		fmt.Printf("  Error types:   %v\n", result.ErrorsByType)
	}
	if len(result.FieldFailures) > 0 {
		fmt.Printf("  Field misses:  %v\n", result.FieldFailures)
	}
	if result.PriceCoercions > 0 {
		fmt.Printf("  Coerced:       %d\n", result.PriceCoercions)
	}
	if len(stats.Dropped) > 0 {
		fmt.Printf("  Dropped:       %v\n", stats.Dropped)
	}
	if n := partitioner.Unroutable(); n > 0 {
		fmt.Printf("  Unroutable:    %d\n", n)
	}
	fmt.Printf("  Duration:      %v\n", duration)
	fmt.Printf("  Items/sec:     %.2f\n", itemsPerSec)
	fmt.Printf("  Output dir:    %s\n", outputDir)

	counts := partitioner.Counts()
	slugs := make([]string, 0, len(counts))
	for slug := range counts {
		slugs = append(slugs, slug)
	}
	sort.Strings(slugs)
	for _, slug := range slugs {
		fmt.Printf("    %-28s %d records (%s)\n", slug+".jsonl", counts[slug], result.CategoryDone[slug])
	}
	fmt.Println(separator)
}

func newLogger(verbose bool) (*slog.Logger, *slog.LevelVar) {
	level := &slog.LevelVar{}
	if verbose {
		level.Set(slog.LevelDebug)
	} else {
		level.Set(slog.LevelInfo)
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if isTerminal(os.Stdout) {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	return slog.New(handler), level
}

func isTerminal(f *os.File) bool {
	info, err := f.Stat()
	if err != nil {
		return false
	}
	return (info.Mode() & os.ModeCharDevice) != 0
}

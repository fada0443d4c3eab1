package scraper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gocolly/colly/v2"

	"github.com/aluiziolira/go-scrape-fixprice/config"
	"github.com/aluiziolira/go-scrape-fixprice/extract"
	"github.com/aluiziolira/go-scrape-fixprice/fingerprint"
	"github.com/aluiziolira/go-scrape-fixprice/models"
	"github.com/aluiziolira/go-scrape-fixprice/parser"
	"github.com/aluiziolira/go-scrape-fixprice/pipeline"
	"github.com/aluiziolira/go-scrape-fixprice/render"
)

const (
	ctxCategory    = "category"
	ctxPage        = "page"
	ctxFingerprint = "fingerprint"
	ctxStart       = "start"
	ctxParsed      = "parsed"
)

// Scraper walks catalog listings with colly and renders product details
// through the render controller.
type Scraper struct {
	cfg       *config.Config
	collector *colly.Collector
	transport http.RoundTripper
	renderer  *render.Controller
	extractor *extract.Extractor
	store     *fingerprint.Store
	listings  *fingerprint.Store
	identity  *Identity
	retry     *Coordinator
	pool      *detailPool
	selectors parser.ListingSelectors
	logger    *slog.Logger
	Metrics   *Metrics

	walkers map[string]*Walker
	order   []string

	work sync.WaitGroup

	listingPages   atomic.Int64
	detailRequests atomic.Int64
	skippedSeen    atomic.Int64
	recordsEmitted atomic.Int64
	priceCoercions atomic.Int64
	errorCount     atomic.Int64

	mu            sync.Mutex
	failedURLs    []string
	errorsByType  map[string]int
	fieldFailures map[string]int
	categoryDone  map[string]string

	handlersOnce sync.Once
	started      atomic.Bool
}

// NewScraper builds a scraper for cfg. store gates detail requests and may
// be shared across runs; listing pages are deduplicated per run.
func NewScraper(cfg *config.Config, renderer *render.Controller, store *fingerprint.Store, extractor *extract.Extractor, logger *slog.Logger) (*Scraper, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if renderer == nil || store == nil || extractor == nil {
		return nil, fmt.Errorf("renderer, fingerprint store and extractor are required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	identity, err := NewIdentity(cfg.UserAgents, cfg.Proxies)
	if err != nil {
		return nil, err
	}

	walkers := make(map[string]*Walker, len(cfg.Categories))
	order := make([]string, 0, len(cfg.Categories))
	var domains []string
	for _, raw := range cfg.Categories {
		w := NewWalker(raw, cfg.MaxPages)
		if w.Category == "" {
			return nil, fmt.Errorf("category URL %q has no slug", raw)
		}
		if _, dup := walkers[w.Category]; dup {
			return nil, fmt.Errorf("duplicate category slug %q", w.Category)
		}
		walkers[w.Category] = w
		order = append(order, w.Category)

		parsed, err := url.Parse(raw)
		if err != nil {
			return nil, fmt.Errorf("parse category url: %w", err)
		}
		domains = append(domains, parsed.Hostname())
	}

	listings, err := fingerprint.New(fingerprint.Options{Headers: cfg.FingerprintHeaders, Logger: logger})
	if err != nil {
		return nil, fmt.Errorf("listing fingerprints: %w", err)
	}

	collector := colly.NewCollector(
		colly.Async(true),
		colly.AllowedDomains(domains...),
		colly.UserAgent(cfg.UserAgents[0]),
		colly.AllowURLRevisit(),
	)

	collector.SetRequestTimeout(cfg.Timeout)
	collector.IgnoreRobotsTxt = !cfg.RespectRobotsTxt

	if err := collector.Limit(&colly.LimitRule{
		DomainGlob:  "*",
		Parallelism: cfg.Parallelism,
		Delay:       cfg.Delay,
		RandomDelay: cfg.RandomDelay,
	}); err != nil {
		return nil, fmt.Errorf("configure rate limits: %w", err)
	}

	s := &Scraper{
		cfg:       cfg,
		collector: collector,
		renderer:  renderer,
		extractor: extractor,
		store:     store,
		listings:  listings,
		identity:  identity,
		pool:      newDetailPool(cfg.Parallelism, cfg.PerCategoryParallelism),
		selectors: parser.DefaultListingSelectors(),
		logger:    logger,
		Metrics: NewMetrics(func() float64 {
			return float64(renderer.Active())
		}),
		walkers:       walkers,
		order:         order,
		errorsByType:  make(map[string]int),
		fieldFailures: make(map[string]int),
		categoryDone:  make(map[string]string),
	}
	s.retry = NewCoordinator(cfg, s.Metrics)
	s.SetTransport(&http.Transport{
		Proxy: identity.ProxyFunc(),
		DialContext: (&net.Dialer{
			Timeout:   cfg.Timeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:        100,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
	})
	return s, nil
}

// SetTransport replaces the transport used for listing fetches.
func (s *Scraper) SetTransport(rt http.RoundTripper) {
	s.transport = rt
	s.collector.WithTransport(rt)
}

// Identity exposes the user agent and proxy pool.
func (s *Scraper) Identity() *Identity { return s.identity }

// Run crawls every configured category and streams records through p. When
// ctx ends, no new requests are issued; in-flight work drains before Run
// returns. Run may be called once.
func (s *Scraper) Run(ctx context.Context, p *pipeline.Pipeline) (*models.CrawlResult, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if !s.started.CompareAndSwap(false, true) {
		return nil, errors.New("scraper: Run called twice")
	}
	s.retry.SetContext(ctx)
	s.configureHandlers(ctx, p)

	start := time.Now()
	for _, slug := range s.order {
		w := s.walkers[slug]
		s.visitListing(ctx, w, w.Start())
	}

	drained := make(chan struct{})
	go func() {
		s.work.Wait()
		close(drained)
	}()

	select {
	case <-drained:
	case <-ctx.Done():
		s.logger.Info("run cancelled, draining in-flight requests", slog.Any("cause", context.Cause(ctx)))
		s.retry.Stop()
		<-drained
	}
	s.retry.Stop()
	s.collector.Wait()

	if err := s.listings.Close(); err != nil {
		s.logger.Debug("close listing fingerprints", slog.Any("error", err))
	}

	return &models.CrawlResult{
		StartTime:      start,
		EndTime:        time.Now(),
		Categories:     len(s.order),
		ListingPages:   int(s.listingPages.Load()),
		DetailRequests: int(s.detailRequests.Load()),
		SkippedSeen:    int(s.skippedSeen.Load()),
		RecordsEmitted: int(s.recordsEmitted.Load()),
		PriceCoercions: int(s.priceCoercions.Load()),
		ErrorCount:     int(s.errorCount.Load()),
		RetryCount:     s.retry.TotalRetries(),
		FailedURLs:     s.snapshotFailedURLs(),
		ErrorsByType:   snapshot(&s.mu, s.errorsByType),
		FieldFailures:  snapshot(&s.mu, s.fieldFailures),
		CategoryDone:   snapshot(&s.mu, s.categoryDone),
		Interrupted:    ctx.Err() != nil,
	}, nil
}

// visitListing issues a listing step unless the page was already requested.
func (s *Scraper) visitListing(ctx context.Context, w *Walker, step Step) {
	if ctx.Err() != nil {
		s.categoryFinished(w, w.Stop(DoneCancelled))
		return
	}
	req := models.NewListingRequest(step.URL, w.Category, step.Page)
	seen, err := s.listings.SeenOrMark(ctx, req)
	if err != nil {
		s.logger.Error("fingerprint check failed", slog.String("url", req.URL), slog.Any("error", err))
		s.categoryFinished(w, w.Fail())
		return
	}
	if seen {
		s.categoryFinished(w, w.Stop(DoneAlreadySeen))
		return
	}
	s.issueListing(w, req, s.listings.Fingerprint(req), s.identity.UserAgent())
}

func (s *Scraper) issueListing(w *Walker, req models.Request, fp, userAgent string) {
	cctx := colly.NewContext()
	cctx.Put(ctxCategory, w.Category)
	cctx.Put(ctxPage, req.Meta.Page)
	cctx.Put(ctxFingerprint, fp)

	header := req.Header.Clone()
	header.Set("User-Agent", userAgent)

	s.work.Add(1)
	if err := s.collector.Request(req.Method, req.URL, nil, cctx, header); err != nil {
		s.work.Done()
		classified := classifyError(err, 0)
		if classified == err {
			classified = ErrMalformedURL{Err: err}
		}
		s.recordError(req, classified)
		s.fail(req, Decision{Class: Classify(classified), Terminal: true}, classified)
		s.categoryFinished(w, w.Fail())
	}
}

func (s *Scraper) configureHandlers(ctx context.Context, p *pipeline.Pipeline) {
	s.handlersOnce.Do(func() {
		s.collector.OnRequest(func(r *colly.Request) {
			r.Ctx.Put(ctxStart, time.Now())
			s.Metrics.IncRequest(string(models.KindListing))
			s.logger.Debug("listing request",
				slog.String("url", r.URL.String()),
				slog.String("category", r.Ctx.Get(ctxCategory)),
			)
		})

		s.collector.OnResponse(func(r *colly.Response) {
			if start, ok := r.Request.Ctx.GetAny(ctxStart).(time.Time); ok {
				s.Metrics.ObserveDuration(string(models.KindListing), time.Since(start))
			}
		})

		s.collector.OnHTML("html", func(e *colly.HTMLElement) {
			e.Request.Ctx.Put(ctxParsed, true)
			w := s.walkers[e.Request.Ctx.Get(ctxCategory)]
			if w == nil {
				return
			}
			n, _ := e.Request.Ctx.GetAny(ctxPage).(int)
			pageURL := e.Request.URL.String()

			page := parser.ParseListing(e.DOM, s.selectors)
			s.listingPages.Add(1)
			if page.Skipped > 0 {
				s.logger.Debug("listing tiles without link", slog.String("url", pageURL), slog.Int("skipped", page.Skipped))
			}

			if ctx.Err() != nil {
				s.categoryFinished(w, w.Stop(DoneCancelled))
				return
			}
			for _, req := range w.DetailRequests(n, pageURL, page) {
				s.dispatchDetail(ctx, w, req, p)
			}

			step := w.Advance(n, pageURL, page)
			s.logger.Debug("listing page parsed",
				slog.String("category", w.Category),
				slog.Int("page", n),
				slog.Int("products", len(page.Products)),
				slog.Bool("done", step.Done),
			)
			if step.Done {
				s.categoryFinished(w, step)
				return
			}
			s.visitListing(ctx, w, step)
		})

		s.collector.OnScraped(func(r *colly.Response) {
			defer s.work.Done()
			if parsed, _ := r.Ctx.GetAny(ctxParsed).(bool); parsed {
				return
			}
			if w := s.walkers[r.Ctx.Get(ctxCategory)]; w != nil {
				s.logger.Warn("listing response is not HTML", slog.String("url", r.Request.URL.String()))
				s.categoryFinished(w, w.Fail())
			}
		})

		s.collector.OnError(func(r *colly.Response, err error) {
			defer s.work.Done()
			s.handleListingError(ctx, r, err)
		})
	})
}

func (s *Scraper) handleListingError(ctx context.Context, r *colly.Response, err error) {
	w := s.walkers[r.Ctx.Get(ctxCategory)]
	if w == nil {
		return
	}
	n, _ := r.Ctx.GetAny(ctxPage).(int)
	req := models.NewListingRequest(r.Request.URL.String(), w.Category, n)
	if ctx.Err() != nil {
		s.categoryFinished(w, w.Stop(DoneCancelled))
		return
	}

	classified := classifyError(err, r.StatusCode)
	s.recordError(req, classified)

	fp := r.Ctx.Get(ctxFingerprint)
	d := s.retry.Decide(fp, classified)
	if !d.Retry {
		if d.Terminal {
			s.fail(req, d, classified)
		}
		s.categoryFinished(w, w.Fail())
		return
	}
	if d.Rotate {
		s.identity.Rotate()
	}

	userAgent := s.identity.NextUserAgent(r.Request.Headers.Get("User-Agent"))
	s.work.Add(1)
	scheduled := s.retry.Schedule(fp, d.Delay,
		func() {
			s.issueListing(w, req, fp, userAgent)
			s.work.Done()
		},
		func() {
			s.categoryFinished(w, w.Stop(DoneCancelled))
			s.work.Done()
		},
	)
	if !scheduled {
		s.work.Done()
		s.categoryFinished(w, w.Stop(DoneCancelled))
		return
	}
	s.logger.Debug("retrying listing request",
		slog.String("url", req.URL),
		slog.String("class", string(d.Class)),
		slog.Int("attempt", d.Attempt),
		slog.Duration("delay", d.Delay),
	)
}

func (s *Scraper) recordError(req models.Request, err error) {
	s.errorCount.Add(1)
	label := errorTypeLabel(err)

	s.mu.Lock()
	s.errorsByType[label]++
	s.mu.Unlock()

	s.Metrics.IncError(label)
	s.logger.Error("request error",
		slog.String("url", req.URL),
		slog.String("kind", string(req.Kind)),
		slog.String("category", label),
		slog.Any("error", err),
	)
}

// fail records the terminal failure event for a request.
func (s *Scraper) fail(req models.Request, d Decision, err error) {
	s.mu.Lock()
	s.failedURLs = append(s.failedURLs, req.URL)
	s.mu.Unlock()

	s.Metrics.IncTerminal(string(req.Kind), string(d.Class))
	s.logger.Warn("request dropped",
		slog.String("url", req.URL),
		slog.String("kind", string(req.Kind)),
		slog.String("class", string(d.Class)),
		slog.Int("retries", d.Attempt),
		slog.Any("error", err),
	)
}

func (s *Scraper) categoryFinished(w *Walker, step Step) {
	s.mu.Lock()
	_, already := s.categoryDone[w.Category]
	if !already {
		s.categoryDone[w.Category] = string(step.Reason)
	}
	s.mu.Unlock()
	if already {
		return
	}

	pages, _, _ := w.State()
	s.Metrics.IncCategoryDone(string(step.Reason))
	s.logger.Info("category done",
		slog.String("category", w.Category),
		slog.String("reason", string(step.Reason)),
		slog.Int("pages", pages),
	)
}

func (s *Scraper) snapshotFailedURLs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.failedURLs))
	copy(out, s.failedURLs)
	sort.Strings(out)
	return out
}

func snapshot[V any](mu *sync.Mutex, in map[string]V) map[string]V {
	mu.Lock()
	defer mu.Unlock()
	out := make(map[string]V, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

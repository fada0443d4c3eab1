package scraper

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/aluiziolira/go-scrape-fixprice/extract"
	"github.com/aluiziolira/go-scrape-fixprice/models"
	"github.com/aluiziolira/go-scrape-fixprice/pipeline"
	"github.com/aluiziolira/go-scrape-fixprice/render"
)

// detailPool caps concurrent detail renders globally and per category.
type detailPool struct {
	global      *semaphore.Weighted
	perCategory int64

	mu         sync.Mutex
	categories map[string]*semaphore.Weighted
}

func newDetailPool(global, perCategory int) *detailPool {
	return &detailPool{
		global:      semaphore.NewWeighted(int64(global)),
		perCategory: int64(perCategory),
		categories:  make(map[string]*semaphore.Weighted),
	}
}

func (p *detailPool) category(name string) *semaphore.Weighted {
	p.mu.Lock()
	defer p.mu.Unlock()
	sem, ok := p.categories[name]
	if !ok {
		sem = semaphore.NewWeighted(p.perCategory)
		p.categories[name] = sem
	}
	return sem
}

// acquire takes a category slot, then a global slot.
func (p *detailPool) acquire(ctx context.Context, category string) (func(), error) {
	cat := p.category(category)
	if err := cat.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	if err := p.global.Acquire(ctx, 1); err != nil {
		cat.Release(1)
		return nil, err
	}
	var once sync.Once
	return func() {
		once.Do(func() {
			p.global.Release(1)
			cat.Release(1)
		})
	}, nil
}

// dispatchDetail gates req through the fingerprint store and starts its
// worker when it has not been issued before.
func (s *Scraper) dispatchDetail(ctx context.Context, w *Walker, req models.Request, p *pipeline.Pipeline) {
	fp := s.store.Fingerprint(req)
	seen, err := s.store.SeenOrMark(ctx, req)
	if err != nil {
		s.logger.Error("fingerprint check failed", slog.String("url", req.URL), slog.Any("error", err))
		return
	}
	if seen {
		s.skippedSeen.Add(1)
		s.logger.Debug("detail request already seen", slog.String("url", req.URL), slog.String("rpc", req.Meta.RPC))
		return
	}

	req = req.WithHeader("User-Agent", s.identity.UserAgent())
	s.logger.Debug("dispatching detail request", slog.String("url", req.URL), slog.String("link", req.Meta.Link))
	s.detailRequests.Add(1)
	s.work.Add(1)
	go s.runDetail(ctx, w, req, fp, p)
}

// runDetail fetches one product until it succeeds, is given up on, or the
// run ends.
func (s *Scraper) runDetail(ctx context.Context, w *Walker, req models.Request, fp string, p *pipeline.Pipeline) {
	defer s.work.Done()

	for {
		release, err := s.pool.acquire(ctx, req.Category)
		if err != nil {
			return
		}
		rec, fetchErr := s.fetchDetail(ctx, w, req)
		release()

		if fetchErr == nil {
			s.emit(p, rec)
			return
		}
		if ctx.Err() != nil {
			return
		}

		classified := classifyError(fetchErr, 0)
		s.recordError(req, classified)

		d := s.retry.Decide(fp, classified)
		if !d.Retry {
			if d.Terminal {
				s.fail(req, d, classified)
			}
			return
		}
		if d.Rotate {
			s.identity.Rotate()
		}
		req = req.WithHeader("User-Agent", s.identity.NextUserAgent(req.Header.Get("User-Agent")))
		s.logger.Debug("retrying detail request",
			slog.String("url", req.URL),
			slog.String("class", string(d.Class)),
			slog.Int("attempt", d.Attempt),
			slog.Duration("delay", d.Delay),
		)
		if err := s.retry.Wait(ctx, d.Delay); err != nil {
			return
		}
	}
}

// fetchDetail renders req under the per-request deadline and builds the
// record. The session is released before the record is returned.
func (s *Scraper) fetchDetail(ctx context.Context, w *Walker, req models.Request) (*models.ProductRecord, error) {
	rctx, cancel := context.WithTimeout(ctx, s.cfg.RequestTimeout)
	defer cancel()

	start := time.Now()
	s.Metrics.IncRequest(string(models.KindDetail))

	var fields extract.Fields
	err := s.renderer.Fetch(rctx, req, func(fctx context.Context, session render.Session) error {
		fields = s.extractor.Extract(fctx, session)
		return fctx.Err()
	})
	s.Metrics.ObserveDuration(string(models.KindDetail), time.Since(start))
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			return nil, ErrTimeout{Err: err}
		}
		return nil, err
	}

	rec, prices := extract.Build(req, w.Section, fields, time.Now())
	for _, f := range fields.Failures() {
		s.recordFieldFailure(req, f)
	}
	if prices.Coerced {
		s.priceCoercions.Add(1)
		s.Metrics.IncCoercion()
		s.logger.Warn("current price above original, coerced",
			slog.String("url", req.URL),
			slog.String("current", fields.CurrentPrice.Value),
			slog.String("original", fields.OriginalPrice.Value),
		)
	}
	for _, legErr := range []error{prices.CurrentErr, prices.OriginalErr} {
		if legErr != nil {
			s.logger.Debug("price left absent", slog.String("url", req.URL), slog.Any("error", legErr))
		}
	}
	return &rec, nil
}

func (s *Scraper) emit(p *pipeline.Pipeline, rec *models.ProductRecord) {
	s.Metrics.IncItems()
	if err := p.Process(rec); err != nil {
		if !errors.Is(err, pipeline.ErrPipelineClosed) {
			s.logger.Error("pipeline process error", slog.String("url", rec.URL), slog.Any("error", err))
		}
		return
	}
	s.recordsEmitted.Add(1)
}

func (s *Scraper) recordFieldFailure(req models.Request, f models.RawField) {
	s.Metrics.IncFieldFailure(f.Name, string(f.Status))
	s.mu.Lock()
	s.fieldFailures[f.Name]++
	s.mu.Unlock()
	s.logger.Debug("field absent",
		slog.String("url", req.URL),
		slog.String("field", f.Name),
		slog.String("status", string(f.Status)),
		slog.String("reason", f.Reason),
	)
}

package pipeline

import (
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/aluiziolira/go-scrape-fixprice/models"
)

// ErrUnroutable is returned by Route when a record matches no category.
var ErrUnroutable = errors.New("pipeline: record matches no configured category")

type route struct {
	slug    string
	section []string
}

// Partitioner is an OutputWriter that appends each record to the JSONL file
// of its source category. Sinks open lazily on first write.
type Partitioner struct {
	dir        string
	appendMode bool
	routes     []route
	logger     *slog.Logger

	mu     sync.Mutex
	sinks  map[string]*JSONWriter
	closed bool

	closeOnce  sync.Once
	closeErr   error
	unroutable atomic.Int64
	// OnUnroutable, when set, is called for every dropped record.
	OnUnroutable func(rec *models.ProductRecord)
}

// NewPartitioner prepares one route per configured listing URL.
func NewPartitioner(dir string, listingURLs []string, appendMode bool, logger *slog.Logger) (*Partitioner, error) {
	if logger == nil {
		logger = slog.Default()
	}
	p := &Partitioner{
		dir:        dir,
		appendMode: appendMode,
		logger:     logger,
		sinks:      make(map[string]*JSONWriter),
	}

	seen := make(map[string]string)
	for _, raw := range listingURLs {
		slug := models.CategorySlug(raw)
		if slug == "" {
			return nil, fmt.Errorf("category url %q has no path", raw)
		}
		if prev, ok := seen[slug]; ok && prev != raw {
			return nil, fmt.Errorf("categories %q and %q share slug %q", prev, raw, slug)
		}
		seen[slug] = raw
		p.routes = append(p.routes, route{slug: slug, section: models.SectionPath(raw)})
	}

	// Deepest section first so the most specific category wins.
	sort.SliceStable(p.routes, func(i, j int) bool {
		return len(p.routes[i].section) > len(p.routes[j].section)
	})
	return p, nil
}

// Category resolves the slug for a record URL. A category matches when its
// section path is a segment-wise prefix of the URL's; failing that, when its
// slug equals one of the URL's path segments. Substrings never match.
func (p *Partitioner) Category(recordURL string) (string, bool) {
	section := models.SectionPath(recordURL)
	for _, r := range p.routes {
		if hasPrefix(section, r.section) {
			return r.slug, true
		}
	}

	segments := models.PathSegments(recordURL)
	for _, r := range p.routes {
		for _, s := range segments {
			if s == r.slug {
				return r.slug, true
			}
		}
	}
	return "", false
}

func hasPrefix(segments, prefix []string) bool {
	if len(prefix) == 0 || len(prefix) > len(segments) {
		return false
	}
	for i := range prefix {
		if segments[i] != prefix[i] {
			return false
		}
	}
	return true
}

// Route appends rec to its category sink.
func (p *Partitioner) Route(rec *models.ProductRecord) error {
	slug, ok := p.Category(rec.URL)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnroutable, rec.URL)
	}
	sink, err := p.sink(slug)
	if err != nil {
		return err
	}
	return sink.Write([]*models.ProductRecord{rec})
}

func (p *Partitioner) sink(slug string) (*JSONWriter, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil, ErrPipelineClosed
	}
	if w, ok := p.sinks[slug]; ok {
		return w, nil
	}
	w, err := NewJSONWriter(p.path(slug), p.appendMode)
	if err != nil {
		return nil, fmt.Errorf("open sink %s: %w", slug, err)
	}
	p.sinks[slug] = w
	return w, nil
}

func (p *Partitioner) path(slug string) string {
	return filepath.Join(p.dir, slug+".jsonl")
}

// Write routes a batch. Unroutable records are counted and skipped; any
// other failure aborts the batch.
func (p *Partitioner) Write(records []*models.ProductRecord) error {
	for _, rec := range records {
		err := p.Route(rec)
		if errors.Is(err, ErrUnroutable) {
			p.unroutable.Add(1)
			p.logger.Warn("dropping unroutable record", "url", rec.URL, "rpc", rec.RPC)
			if p.OnUnroutable != nil {
				p.OnUnroutable(rec)
			}
			continue
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// Unroutable returns how many records matched no category.
func (p *Partitioner) Unroutable() int64 { return p.unroutable.Load() }

// Counts returns records written per category slug.
func (p *Partitioner) Counts() map[string]int {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make(map[string]int, len(p.sinks))
	for slug, w := range p.sinks {
		out[slug] = w.Written()
	}
	return out
}

// Close opens a sink for every category that never received a record, then
// flushes and closes all sinks. Only the first call does any work.
func (p *Partitioner) Close() error {
	p.closeOnce.Do(func() {
		var errs []error
		for _, r := range p.routes {
			if _, err := p.sink(r.slug); err != nil {
				errs = append(errs, err)
			}
		}

		p.mu.Lock()
		p.closed = true
		sinks := p.sinks
		p.mu.Unlock()

		for slug, w := range sinks {
			if err := w.Close(); err != nil {
				errs = append(errs, fmt.Errorf("close sink %s: %w", slug, err))
			}
		}
		p.closeErr = errors.Join(errs...)
	})
	return p.closeErr
}

// Validate fails when no record reached any category file.
func (p *Partitioner) Validate() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, w := range p.sinks {
		if w.Validate() == nil {
			return nil
		}
	}
	return errors.New("no records were written to any category")
}

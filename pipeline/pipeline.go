package pipeline

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/aluiziolira/go-scrape-fixprice/models"
)

var (
	// ErrPipelineClosed is returned when Process is called after shutdown.
	ErrPipelineClosed = errors.New("pipeline: closed")
)

// OutputWriter defines the interface for data output.
type OutputWriter interface {
	Write(records []*models.ProductRecord) error
	Close() error
	Validate() error
}

// Options sizes the pipeline.
type Options struct {
	BufferSize    int
	BatchSize     int
	DedupeMaxSize int
	Logger        *slog.Logger
}

// Pipeline coordinates validation, de-duplication, and output writing.
type Pipeline struct {
	writer    OutputWriter
	recordCh  chan *models.ProductRecord
	batchSize int
	logger    *slog.Logger

	wg sync.WaitGroup

	// seen holds recently emitted product codes; the same product can be
	// listed on several pages of a category.
	seen *lru.Cache[string, struct{}]

	metrics metrics

	mu     sync.Mutex // guards closed/err
	closed bool
	err    error

	closeOnce    sync.Once
	shutdown     chan struct{}
	shutdownOnce sync.Once
}

// NewPipeline builds a pipeline in front of writer.
func NewPipeline(writer OutputWriter, opts Options) (*Pipeline, error) {
	if opts.BufferSize <= 0 {
		opts.BufferSize = 512
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 64
	}
	if opts.DedupeMaxSize <= 0 {
		opts.DedupeMaxSize = 100_000
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	seen, err := lru.New[string, struct{}](opts.DedupeMaxSize)
	if err != nil {
		return nil, fmt.Errorf("create dedupe cache: %w", err)
	}

	return &Pipeline{
		writer:    writer,
		recordCh:  make(chan *models.ProductRecord, opts.BufferSize),
		batchSize: opts.BatchSize,
		logger:    opts.Logger,
		seen:      seen,
		metrics:   newMetrics(),
		shutdown:  make(chan struct{}),
	}, nil
}

// Start launches worker goroutines.
func (p *Pipeline) Start(workers int) {
	if workers <= 0 {
		workers = 1
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.mu.Unlock()

	for i := 0; i < workers; i++ {
		p.wg.Add(1)
		go p.worker()
	}
}

// Process enqueues records for downstream processing.
func (p *Pipeline) Process(records ...*models.ProductRecord) error {
	if len(records) == 0 {
		return nil
	}

	closed, err := p.state()
	if err != nil {
		return err
	}
	if closed {
		return ErrPipelineClosed
	}

	for _, rec := range records {
		if rec == nil {
			continue
		}
		if err := p.enqueue(rec); err != nil {
			return err
		}
	}
	return nil
}

// Close waits for workers to drain, then closes the writer.
func (p *Pipeline) Close() error {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
	}
	p.mu.Unlock()

	p.signalShutdown()
	p.closeOnce.Do(func() {
		close(p.recordCh)
	})

	p.wg.Wait()

	if err := p.writer.Close(); err != nil {
		p.setErr(fmt.Errorf("close writer: %w", err))
	}
	return p.Err()
}

// Err returns the first error encountered during processing.
func (p *Pipeline) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err
}

// Stats is a snapshot of pipeline counters.
type Stats struct {
	Processed int64
	Dropped   map[string]int
}

// GetMetrics returns a snapshot of the internal counters.
func (p *Pipeline) GetMetrics() Stats {
	return p.metrics.snapshot()
}

// StartMetricsReporting emits periodic progress logs.
func (p *Pipeline) StartMetricsReporting(interval time.Duration) {
	if interval <= 0 {
		return
	}

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				stats := p.GetMetrics()
				p.logger.Info("pipeline progress", "processed", stats.Processed, "dropped", stats.Dropped)
			case <-p.shutdown:
				return
			}
		}
	}()
}

func (p *Pipeline) worker() {
	defer p.wg.Done()

	batch := make([]*models.ProductRecord, 0, p.batchSize)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if err := p.writer.Write(batch); err != nil {
			return err
		}
		batch = batch[:0]
		return nil
	}

	for rec := range p.recordCh {
		prepared := p.prepare(rec)
		if prepared == nil {
			continue
		}
		batch = append(batch, prepared)
		if len(batch) >= p.batchSize {
			if err := flush(); err != nil {
				p.setErr(fmt.Errorf("write batch: %w", err))
				p.discard()
				return
			}
		}
	}

	if err := flush(); err != nil {
		p.setErr(fmt.Errorf("write batch: %w", err))
	}
}

// discard drains the channel after a write failure so producers never block.
func (p *Pipeline) discard() {
	for range p.recordCh {
		p.metrics.addDropped("write_failed")
	}
}

func (p *Pipeline) prepare(rec *models.ProductRecord) *models.ProductRecord {
	if err := Validate(rec); err != nil {
		p.metrics.addDropped("invalid_record")
		p.logger.Warn("dropping invalid record", "url", rec.URL, "error", err)
		return nil
	}

	key := rec.RPC
	if key == "" {
		key = rec.URL
	}
	if found, _ := p.seen.ContainsOrAdd(key, struct{}{}); found {
		p.metrics.addDropped("duplicate_product")
		return nil
	}

	p.metrics.incrementProcessed()
	return rec
}

// Validate checks the fields a record cannot be written without.
func Validate(rec *models.ProductRecord) error {
	if rec.URL == "" {
		return errors.New("missing url")
	}
	if rec.RPC == "" {
		return errors.New("missing product code")
	}
	if pd := rec.PriceData; pd.Current != nil && pd.Original != nil && *pd.Current > *pd.Original {
		return fmt.Errorf("current price %.2f exceeds original %.2f", *pd.Current, *pd.Original)
	}
	return nil
}

func (p *Pipeline) enqueue(rec *models.ProductRecord) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = ErrPipelineClosed
		}
	}()

	select {
	case <-p.shutdown:
		return ErrPipelineClosed
	case p.recordCh <- rec:
		return nil
	}
}

func (p *Pipeline) setErr(err error) {
	if err == nil {
		return
	}

	p.mu.Lock()
	if p.err != nil {
		p.mu.Unlock()
		return
	}
	p.err = err
	p.closed = true
	p.mu.Unlock()

	p.signalShutdown()
}

func (p *Pipeline) state() (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed, p.err
}

func (p *Pipeline) signalShutdown() {
	p.shutdownOnce.Do(func() {
		close(p.shutdown)
	})
}

type metrics struct {
	mu        sync.Mutex
	processed int64
	dropped   map[string]int
}

func newMetrics() metrics {
	return metrics{
		dropped: make(map[string]int),
	}
}

func (m *metrics) incrementProcessed() {
	m.mu.Lock()
	m.processed++
	m.mu.Unlock()
}

func (m *metrics) addDropped(kind string) {
	m.mu.Lock()
	m.dropped[kind]++
	m.mu.Unlock()
}

func (m *metrics) snapshot() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()

	dropped := make(map[string]int, len(m.dropped))
	for k, v := range m.dropped {
		dropped[k] = v
	}
	return Stats{Processed: m.processed, Dropped: dropped}
}

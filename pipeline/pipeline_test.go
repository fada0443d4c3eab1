package pipeline

import (
	"errors"
	"strconv"
	"sync"
	"testing"

	"github.com/aluiziolira/go-scrape-fixprice/models"
)

type mockWriter struct {
	mu          sync.Mutex
	batches     [][]*models.ProductRecord
	closed      int
	writeErr    error
	validateErr error
}

func (mw *mockWriter) Write(records []*models.ProductRecord) error {
	mw.mu.Lock()
	defer mw.mu.Unlock()
	if mw.writeErr != nil {
		return mw.writeErr
	}
	copyBatch := make([]*models.ProductRecord, len(records))
	copy(copyBatch, records)
	mw.batches = append(mw.batches, copyBatch)
	return nil
}

func (mw *mockWriter) Close() error {
	mw.mu.Lock()
	mw.closed++
	mw.mu.Unlock()
	return nil
}

func (mw *mockWriter) Validate() error {
	return mw.validateErr
}

func (mw *mockWriter) totalWritten() int {
	mw.mu.Lock()
	defer mw.mu.Unlock()
	total := 0
	for _, batch := range mw.batches {
		total += len(batch)
	}
	return total
}

func (mw *mockWriter) batchSizes() []int {
	mw.mu.Lock()
	defer mw.mu.Unlock()
	sizes := make([]int, 0, len(mw.batches))
	for _, batch := range mw.batches {
		sizes = append(sizes, len(batch))
	}
	return sizes
}

func record(rpc string) *models.ProductRecord {
	return &models.ProductRecord{
		RPC:   rpc,
		URL:   "https://fix-price.com/catalog/igrushki/razvivayushchie-igry/p-" + rpc,
		Brand: "Unknown brand",
	}
}

func newTestPipeline(t *testing.T, writer OutputWriter, opts Options) *Pipeline {
	t.Helper()
	p, err := NewPipeline(writer, opts)
	if err != nil {
		t.Fatalf("new pipeline: %v", err)
	}
	return p
}

func TestPipelineProcessValidationAndDedup(t *testing.T) {
	writer := &mockWriter{}
	p := newTestPipeline(t, writer, Options{})
	p.Start(1)

	valid := record("1001")
	invalid := &models.ProductRecord{URL: "https://fix-price.com/catalog/igrushki/p-x"}
	duplicate := record("1001")

	if err := p.Process(valid, invalid, duplicate); err != nil {
		t.Fatalf("process: %v", err)
	}
	if err := p.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	if got := writer.totalWritten(); got != 1 {
		t.Fatalf("written records = %d, want 1", got)
	}
	if writer.closed != 1 {
		t.Fatalf("writer closed %d times, want 1", writer.closed)
	}

	stats := p.GetMetrics()
	if stats.Dropped["invalid_record"] == 0 {
		t.Fatalf("expected invalid_record drop")
	}
	if stats.Dropped["duplicate_product"] == 0 {
		t.Fatalf("expected duplicate_product drop")
	}
}

func TestPipelineBatchFlushThreshold(t *testing.T) {
	writer := &mockWriter{}
	p := newTestPipeline(t, writer, Options{BatchSize: 64})
	p.Start(1)

	for i := 0; i < 65; i++ {
		if err := p.Process(record(strconv.Itoa(i))); err != nil {
			t.Fatalf("process: %v", err)
		}
	}
	if err := p.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	sizes := writer.batchSizes()
	if len(sizes) != 2 {
		t.Fatalf("batch writes = %d, want 2", len(sizes))
	}
	if sizes[0] != 64 || sizes[1] != 1 {
		t.Fatalf("batch sizes = %v, want [64 1]", sizes)
	}
}

func TestPipelineCloseDrainsPendingItems(t *testing.T) {
	writer := &mockWriter{}
	p := newTestPipeline(t, writer, Options{})
	p.Start(2)

	for i := 0; i < 100; i++ {
		if err := p.Process(record(strconv.Itoa(i + 200))); err != nil {
			t.Fatalf("process: %v", err)
		}
	}
	if err := p.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	if got := writer.totalWritten(); got != 100 {
		t.Fatalf("written records = %d, want 100", got)
	}
}

func TestPipelineProcessAfterClose(t *testing.T) {
	p := newTestPipeline(t, &mockWriter{}, Options{})
	p.Start(1)
	if err := p.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := p.Process(record("1")); !errors.Is(err, ErrPipelineClosed) {
		t.Fatalf("process after close = %v, want ErrPipelineClosed", err)
	}
}

func TestPipelineWriteErrorSurfaces(t *testing.T) {
	writer := &mockWriter{writeErr: errors.New("disk full")}
	p := newTestPipeline(t, writer, Options{BatchSize: 1})
	p.Start(1)

	_ = p.Process(record("1"))
	err := p.Close()
	if err == nil {
		t.Fatalf("expected write error from close")
	}
}

func TestValidateRejectsInvertedPrices(t *testing.T) {
	cur, orig := 300.0, 299.0
	rec := record("1")
	rec.PriceData = models.PriceData{Current: &cur, Original: &orig}
	if err := Validate(rec); err == nil {
		t.Fatalf("expected inverted price pair to be rejected")
	}
}

package fingerprint

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/redis/go-redis/v9"

	"github.com/aluiziolira/go-scrape-fixprice/models"
)

func newStore(t *testing.T, opts Options) *Store {
	t.Helper()
	s, err := New(opts)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestFingerprintIsStableAcrossEquivalentURLs(t *testing.T) {
	s := newStore(t, Options{})

	a := models.NewDetailRequest("HTTPS://Fix-Price.com:443/catalog/a/p-1/?b=2&a=1#reviews", "a", models.RequestMeta{})
	b := models.NewDetailRequest("https://fix-price.com/catalog/a/p-1?a=1&b=2", "a", models.RequestMeta{})

	fa, fb := s.Fingerprint(a), s.Fingerprint(b)
	if fa != fb {
		t.Fatalf("fingerprints differ: %s vs %s", fa, fb)
	}
	if len(fa) != 40 || strings.ToLower(fa) != fa {
		t.Fatalf("fingerprint %q is not 40-char lowercase hex", fa)
	}
}

func TestFingerprintHeaders(t *testing.T) {
	base := models.NewListingRequest("https://fix-price.com/catalog/a", "a", 1)
	withUA := base.WithHeader("User-Agent", "agent-1")
	withLang := base.WithHeader("Accept-Language", "ru")

	plain := newStore(t, Options{})
	if plain.Fingerprint(base) != plain.Fingerprint(withUA) {
		t.Fatalf("user agent must not change identity by default")
	}

	scoped := newStore(t, Options{Headers: []string{"accept-language"}})
	if scoped.Fingerprint(base) == scoped.Fingerprint(withLang) {
		t.Fatalf("configured identity header should change the fingerprint")
	}
	if scoped.Fingerprint(base) != scoped.Fingerprint(withUA) {
		t.Fatalf("unconfigured header changed the fingerprint")
	}
}

func TestFingerprintFallsBackOnEncodingFailure(t *testing.T) {
	s := newStore(t, Options{})
	req := models.NewListingRequest("https://fix-price.com/catalog/a", "a", 1)
	primary := s.Fingerprint(req)

	s.encode = func([]byte) (string, error) { return "", errors.New("not representable") }
	fallback := s.Fingerprint(req)
	if fallback == "" || fallback == primary {
		t.Fatalf("fallback fingerprint = %q", fallback)
	}
	if again := s.Fingerprint(req); again != fallback {
		t.Fatalf("fallback encoding is not stable: %q vs %q", again, fallback)
	}
}

func TestSeenOrMarkConcurrent(t *testing.T) {
	s := newStore(t, Options{})
	req := models.NewDetailRequest("https://fix-price.com/catalog/a/p-1", "a", models.RequestMeta{RPC: "1"})

	const callers = 64
	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		unseen int
	)
	start := make(chan struct{})
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			seen, err := s.SeenOrMark(context.Background(), req)
			if err != nil {
				t.Errorf("SeenOrMark error: %v", err)
				return
			}
			if !seen {
				mu.Lock()
				unseen++
				mu.Unlock()
			}
		}()
	}
	close(start)
	wg.Wait()

	if unseen != 1 {
		t.Fatalf("%d callers observed an unseen fingerprint, want 1", unseen)
	}
}

func TestLogResumeAndFresh(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state", "fingerprints.log")
	ctx := context.Background()

	first, err := New(Options{LogPath: path})
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	for i := 0; i < 3; i++ {
		req := models.NewListingRequest(fmt.Sprintf("https://fix-price.com/catalog/a?page=%d", i), "a", i)
		if seen, _ := first.SeenOrMark(ctx, req); seen {
			t.Fatalf("request %d unexpectedly seen", i)
		}
	}
	if err := first.Close(); err != nil {
		t.Fatalf("Close() error: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	if lines := strings.Count(string(data), "\n"); lines != 3 {
		t.Fatalf("log lines = %d, want 3", lines)
	}

	resumed := newStore(t, Options{LogPath: path})
	if n, _ := resumed.Len(ctx); n != 3 {
		t.Fatalf("resumed Len = %d, want 3", n)
	}
	seen, err := resumed.SeenOrMark(ctx, models.NewListingRequest("https://fix-price.com/catalog/a?page=1", "a", 1))
	if err != nil || !seen {
		t.Fatalf("resumed store should report page 1 as seen (seen=%v, err=%v)", seen, err)
	}
	resumed.Close()

	fresh := newStore(t, Options{LogPath: path, Fresh: true})
	if n, _ := fresh.Len(ctx); n != 0 {
		t.Fatalf("fresh Len = %d, want 0", n)
	}
}

func TestSeenOrMarkAfterClose(t *testing.T) {
	s, err := New(Options{})
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	s.Close()
	if _, err := s.SeenOrMark(context.Background(), models.NewListingRequest("https://fix-price.com/", "", 1)); !errors.Is(err, ErrStoreClosed) {
		t.Fatalf("error = %v, want ErrStoreClosed", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("second Close() error: %v", err)
	}
}

func TestRedisBackend(t *testing.T) {
	ctx := context.Background()

	client := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
	defer client.Close()
	if _, err := client.Ping(ctx).Result(); err != nil {
		t.Skip("Redis is not available, skipping test")
	}

	backend, err := NewRedisBackend(ctx, "localhost:6379", 0, "test_fingerprints")
	if err != nil {
		t.Fatalf("NewRedisBackend() error: %v", err)
	}
	if err := backend.Reset(ctx); err != nil {
		t.Fatalf("Reset() error: %v", err)
	}
	defer backend.Reset(ctx)

	s := newStore(t, Options{Backend: backend})
	req := models.NewListingRequest("https://fix-price.com/catalog/a", "a", 1)

	if seen, err := s.SeenOrMark(ctx, req); err != nil || seen {
		t.Fatalf("first SeenOrMark = (%v, %v), want (false, nil)", seen, err)
	}
	if seen, err := s.SeenOrMark(ctx, req); err != nil || !seen {
		t.Fatalf("second SeenOrMark = (%v, %v), want (true, nil)", seen, err)
	}
}

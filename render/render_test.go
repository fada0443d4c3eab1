package render

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/aluiziolira/go-scrape-fixprice/extract"
	"github.com/aluiziolira/go-scrape-fixprice/models"
)

func TestPolicyShouldBlock(t *testing.T) {
	p := DefaultPolicy()

	tests := []struct {
		resourceType string
		url          string
		want         bool
	}{
		{"Image", "https://fix-price.com/upload/a.png", true},
		{"Stylesheet", "https://fix-price.com/app.css", true},
		{"Font", "https://fix-price.com/f.woff2", true},
		{"Script", "https://mc.yandex.ru/metrika/tag.js", true},
		{"Script", "https://www.googletagmanager.com/gtm.js", true},
		{"XHR", "https://fix-price.com/api/popup/config", true},
		{"Script", "https://fix-price.com/cdn-cgi/challenge.js", true},
		{"Script", "https://fix-price.com/app.js", false},
		{"XHR", "https://api.fix-price.com/buyer/v1/product/1001", false},
		{"Document", "https://fix-price.com/catalog/igrushki/p-1-roads", false},
	}
	for _, tt := range tests {
		if got := p.ShouldBlock(tt.resourceType, tt.url); got != tt.want {
			t.Errorf("ShouldBlock(%q, %q) = %v, want %v", tt.resourceType, tt.url, got, tt.want)
		}
	}
}

type fakePage struct {
	*extract.DocumentSource
	status   int
	navErr   error
	navDelay time.Duration
	html     string

	mu     sync.Mutex
	closed int
}

func (p *fakePage) Navigate(ctx context.Context, _ string) error {
	if p.navDelay > 0 {
		select {
		case <-time.After(p.navDelay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return p.navErr
}

func (p *fakePage) Status() int { return p.status }

func (p *fakePage) HTML(context.Context) (string, error) { return p.html, nil }

func (p *fakePage) Close() error {
	p.mu.Lock()
	p.closed++
	p.mu.Unlock()
	return nil
}

type fakeBackend struct {
	page *fakePage
	last PageOptions
}

func (b *fakeBackend) NewPage(_ context.Context, opts PageOptions) (Page, error) {
	b.last = opts
	return b.page, nil
}

func (b *fakeBackend) Close() error { return nil }

func newFakePage(t *testing.T, html string) *fakePage {
	t.Helper()
	src, err := extract.NewDocumentSourceFromString(html)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	return &fakePage{DocumentSource: src, status: http.StatusOK, html: html}
}

func detailReq() models.Request {
	return models.NewDetailRequest("https://fix-price.com/catalog/a/p-1", "a", models.RequestMeta{RPC: "1"}).
		WithHeader("User-Agent", "agent-7")
}

func TestFetchReleasesOnEveryPath(t *testing.T) {
	tests := []struct {
		name    string
		fn      func(ctx context.Context, s Session) error
		wantErr bool
	}{
		{
			name: "success",
			fn: func(ctx context.Context, s Session) error {
				_, err := s.Text(ctx, "h1")
				return err
			},
		},
		{
			name:    "error",
			fn:      func(context.Context, Session) error { return errors.New("boom") },
			wantErr: true,
		},
		{
			name:    "panic",
			fn:      func(context.Context, Session) error { panic("extractor bug") },
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			page := newFakePage(t, "<html><body><h1>Товар</h1></body></html>")
			ctrl := NewController(&fakeBackend{page: page}, Policy{}, nil)

			err := ctrl.Fetch(context.Background(), detailReq(), tt.fn)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Fetch error = %v, wantErr %v", err, tt.wantErr)
			}
			if page.closed != 1 {
				t.Fatalf("page closed %d times, want 1", page.closed)
			}
			if ctrl.Active() != 0 {
				t.Fatalf("active sessions = %d, want 0", ctrl.Active())
			}
		})
	}
}

func TestFetchReleasesOnCancellation(t *testing.T) {
	page := newFakePage(t, "<html></html>")
	page.navDelay = time.Minute
	ctrl := NewController(&fakeBackend{page: page}, Policy{}, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := ctrl.Fetch(ctx, detailReq(), func(context.Context, Session) error {
		t.Fatalf("fn must not run when navigation is cancelled")
		return nil
	})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("error = %v, want deadline exceeded", err)
	}
	if page.closed != 1 || ctrl.Active() != 0 {
		t.Fatalf("session not released: closed=%d active=%d", page.closed, ctrl.Active())
	}
}

func TestOpenClassifiesNavigation(t *testing.T) {
	t.Run("http status", func(t *testing.T) {
		page := newFakePage(t, "<html></html>")
		page.status = http.StatusForbidden
		_, _, err := NewController(&fakeBackend{page: page}, Policy{}, nil).Open(context.Background(), detailReq())

		var navErr *NavigationError
		if !errors.As(err, &navErr) || navErr.Status != http.StatusForbidden {
			t.Fatalf("error = %v, want NavigationError with 403", err)
		}
		if page.closed != 1 {
			t.Fatalf("failed navigation must release the page")
		}
	})

	t.Run("network failure", func(t *testing.T) {
		page := newFakePage(t, "<html></html>")
		page.navErr = errors.New("net::ERR_CONNECTION_RESET")
		_, _, err := NewController(&fakeBackend{page: page}, Policy{}, nil).Open(context.Background(), detailReq())

		var navErr *NavigationError
		if !errors.As(err, &navErr) {
			t.Fatalf("error = %v, want NavigationError", err)
		}
	})

	t.Run("challenge page", func(t *testing.T) {
		page := newFakePage(t, `<html><script src="/cdn-cgi/challenge-platform/h/b"></script></html>`)
		policy := DefaultPolicy()
		_, _, err := NewController(&fakeBackend{page: page}, policy, nil).Open(context.Background(), detailReq())
		if !errors.Is(err, ErrBlockedPage) {
			t.Fatalf("error = %v, want ErrBlockedPage", err)
		}
	})
}

func TestOpenPassesIdentity(t *testing.T) {
	backend := &fakeBackend{page: newFakePage(t, "<html></html>")}
	_, release, err := NewController(backend, DefaultPolicy(), nil).Open(context.Background(), detailReq())
	if err != nil {
		t.Fatalf("Open error: %v", err)
	}
	release()
	release()

	if backend.last.UserAgent != "agent-7" {
		t.Fatalf("user agent = %q", backend.last.UserAgent)
	}
	if !backend.last.Policy.DismissDialogs || !backend.last.Policy.Stealth {
		t.Fatalf("policy not applied: %+v", backend.last.Policy)
	}
	if backend.page.closed != 1 {
		t.Fatalf("release is not idempotent: closed %d times", backend.page.closed)
	}
}

func TestHTTPBackend(t *testing.T) {
	var gotUA string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUA = r.Header.Get("User-Agent")
		if r.URL.Path == "/missing" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Write([]byte(`<html><body><div class="prices"><div class="regular-price">99,00 ₽</div></div></body></html>`))
	}))
	defer srv.Close()

	ctrl := NewController(NewHTTPBackend(srv.Client()), Policy{}, nil)

	req := models.NewDetailRequest(srv.URL+"/p-1", "a", models.RequestMeta{}).WithHeader("User-Agent", "agent-3")
	err := ctrl.Fetch(context.Background(), req, func(ctx context.Context, s Session) error {
		text, err := s.Text(ctx, "div.prices div.regular-price")
		if err != nil {
			return err
		}
		if text != "99,00 ₽" {
			t.Errorf("text = %q", text)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Fetch error: %v", err)
	}
	if gotUA != "agent-3" {
		t.Fatalf("user agent = %q", gotUA)
	}

	_, _, err = ctrl.Open(context.Background(), models.NewDetailRequest(srv.URL+"/missing", "a", models.RequestMeta{}))
	var navErr *NavigationError
	if !errors.As(err, &navErr) || navErr.Status != http.StatusNotFound {
		t.Fatalf("error = %v, want 404 NavigationError", err)
	}
}

package render

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/aluiziolira/go-scrape-fixprice/extract"
)

var errNotNavigated = errors.New("render: page not navigated")

// HTTPBackend fetches pages without a browser. Scripts do not run, so it
// serves server-rendered pages only.
type HTTPBackend struct {
	client *http.Client
}

func NewHTTPBackend(client *http.Client) *HTTPBackend {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPBackend{client: client}
}

func (b *HTTPBackend) NewPage(_ context.Context, opts PageOptions) (Page, error) {
	return &httpPage{client: b.client, opts: opts}, nil
}

func (b *HTTPBackend) Close() error { return nil }

type httpPage struct {
	client *http.Client
	opts   PageOptions
	status int
	doc    *extract.DocumentSource
}

func (p *httpPage) Navigate(ctx context.Context, rawURL string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return err
	}
	for k, vs := range p.opts.Header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	if p.opts.UserAgent != "" {
		req.Header.Set("User-Agent", p.opts.UserAgent)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	p.status = resp.StatusCode
	if resp.StatusCode >= http.StatusBadRequest {
		return nil
	}

	doc, err := extract.NewDocumentSource(resp.Body, resp.Header.Get("Content-Type"))
	if err != nil {
		return fmt.Errorf("read %s: %w", rawURL, err)
	}
	p.doc = doc
	return nil
}

func (p *httpPage) Status() int { return p.status }

func (p *httpPage) HTML(context.Context) (string, error) {
	if p.doc == nil {
		return "", errNotNavigated
	}
	return p.doc.Document().Html()
}

func (p *httpPage) Text(ctx context.Context, selector string) (string, error) {
	if p.doc == nil {
		return "", errNotNavigated
	}
	return p.doc.Text(ctx, selector)
}

func (p *httpPage) Texts(ctx context.Context, selector string) ([]string, error) {
	if p.doc == nil {
		return nil, errNotNavigated
	}
	return p.doc.Texts(ctx, selector)
}

func (p *httpPage) Attrs(ctx context.Context, selector, attr string) ([]string, error) {
	if p.doc == nil {
		return nil, errNotNavigated
	}
	return p.doc.Attrs(ctx, selector, attr)
}

func (p *httpPage) Close() error { return nil }

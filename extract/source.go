// Package extract pulls product fields out of a rendered detail page.
package extract

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html/charset"
)

// ErrNotFound reports that no element matched a selector.
var ErrNotFound = errors.New("extract: element not found")

// Source answers selector queries against one page. Implementations may block
// until an element appears; they must honour ctx.
type Source interface {
	Text(ctx context.Context, selector string) (string, error)
	Texts(ctx context.Context, selector string) ([]string, error)
	Attrs(ctx context.Context, selector, attr string) ([]string, error)
}

// DocumentSource is a Source over an already parsed HTML document.
type DocumentSource struct {
	doc *goquery.Document
}

// NewDocumentSource parses body, decoding it to UTF-8 according to the
// content type or the document's own charset declaration.
func NewDocumentSource(body io.Reader, contentType string) (*DocumentSource, error) {
	utf8Body, err := charset.NewReader(body, contentType)
	if err != nil {
		return nil, fmt.Errorf("detect charset: %w", err)
	}
	doc, err := goquery.NewDocumentFromReader(utf8Body)
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}
	return &DocumentSource{doc: doc}, nil
}

// NewDocumentSourceFromString is a convenience for already decoded HTML.
func NewDocumentSourceFromString(html string) (*DocumentSource, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}
	return &DocumentSource{doc: doc}, nil
}

// Document exposes the parsed document.
func (d *DocumentSource) Document() *goquery.Document { return d.doc }

func (d *DocumentSource) Text(ctx context.Context, selector string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	s := d.doc.Find(selector).First()
	if s.Length() == 0 {
		return "", fmt.Errorf("%w: %s", ErrNotFound, selector)
	}
	return innerText(s), nil
}

func (d *DocumentSource) Texts(ctx context.Context, selector string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s := d.doc.Find(selector)
	if s.Length() == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, selector)
	}
	out := make([]string, 0, s.Length())
	s.Each(func(_ int, el *goquery.Selection) {
		out = append(out, innerText(el))
	})
	return out, nil
}

func (d *DocumentSource) Attrs(ctx context.Context, selector, attr string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s := d.doc.Find(selector)
	if s.Length() == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, selector)
	}
	var out []string
	s.Each(func(_ int, el *goquery.Selection) {
		if v, ok := el.Attr(attr); ok && strings.TrimSpace(v) != "" {
			out = append(out, strings.TrimSpace(v))
		}
	})
	if len(out) == 0 {
		return nil, fmt.Errorf("%w: %s[%s]", ErrNotFound, selector, attr)
	}
	return out, nil
}

// innerText approximates a browser's innerText: block children end a line.
func innerText(s *goquery.Selection) string {
	clone := s.Clone()
	clone.Find("br").ReplaceWithHtml("\n")
	clone.Find("p, div, li").Each(func(_ int, el *goquery.Selection) {
		el.AppendHtml("\n")
	})
	return strings.TrimSpace(clone.Text())
}

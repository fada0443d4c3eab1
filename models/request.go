// Package models defines data structures for the scraper.
package models

import (
	"net/http"
	"net/url"
	"path"
	"strings"
)

// RequestKind separates catalog listing fetches from product detail fetches.
type RequestKind string

const (
	KindListing RequestKind = "listing"
	KindDetail  RequestKind = "detail"
)

// RequestMeta is the listing-derived context carried by a request.
type RequestMeta struct {
	RPC      string
	Title    string
	Link     string
	Variants *int
	Page     int
}

// Request is a single fetch issued by the crawler. Treat it as immutable once
// it has been handed to the fingerprint store.
type Request struct {
	Method   string
	URL      string
	Header   http.Header
	Kind     RequestKind
	Category string
	Meta     RequestMeta
}

// NewListingRequest builds the request for page n of a category listing.
func NewListingRequest(rawURL, category string, page int) Request {
	return Request{
		Method:   http.MethodGet,
		URL:      rawURL,
		Header:   http.Header{},
		Kind:     KindListing,
		Category: category,
		Meta:     RequestMeta{Page: page},
	}
}

// NewDetailRequest builds a product detail request from listing context.
func NewDetailRequest(rawURL, category string, meta RequestMeta) Request {
	return Request{
		Method:   http.MethodGet,
		URL:      rawURL,
		Header:   http.Header{},
		Kind:     KindDetail,
		Category: category,
		Meta:     meta,
	}
}

// WithHeader returns a copy of r with the header set. The receiver is left untouched.
func (r Request) WithHeader(key, value string) Request {
	out := r
	out.Header = r.Header.Clone()
	if out.Header == nil {
		out.Header = http.Header{}
	}
	out.Header.Set(key, value)
	return out
}

// NormalizeURL canonicalises a URL for identity purposes: lowercase scheme and
// host, no default port, no fragment, sorted query and no trailing slash on
// non-root paths. Unparsable input is returned trimmed.
func NormalizeURL(raw string) string {
	raw = strings.TrimSpace(raw)
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return raw
	}

	u.Scheme = strings.ToLower(u.Scheme)
	host := strings.ToLower(u.Hostname())
	port := u.Port()
	if (u.Scheme == "http" && port == "80") || (u.Scheme == "https" && port == "443") {
		port = ""
	}
	if port != "" {
		host = host + ":" + port
	}
	u.Host = host
	u.Fragment = ""
	u.RawFragment = ""

	if u.Path == "" {
		u.Path = "/"
	} else if u.Path != "/" {
		u.Path = strings.TrimSuffix(path.Clean(u.Path), "/")
	}
	u.RawPath = ""

	if u.RawQuery != "" {
		u.RawQuery = u.Query().Encode()
	}
	return u.String()
}

// PathSegments returns the non-empty path segments of a URL or path.
func PathSegments(raw string) []string {
	p := raw
	if u, err := url.Parse(raw); err == nil {
		p = u.Path
	}
	parts := strings.Split(p, "/")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}

// CategorySlug is the last path segment of a listing URL.
func CategorySlug(listingURL string) string {
	segments := PathSegments(listingURL)
	if len(segments) == 0 {
		return ""
	}
	return segments[len(segments)-1]
}

// SectionPath returns the catalog breadcrumb of a listing URL: every segment
// after "catalog", or all segments when the URL has no catalog prefix.
func SectionPath(listingURL string) []string {
	segments := PathSegments(listingURL)
	for i, s := range segments {
		if s == "catalog" {
			return append([]string(nil), segments[i+1:]...)
		}
	}
	return segments
}

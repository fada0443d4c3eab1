package scraper

import (
	"net/url"
	"strings"
	"sync"

	"github.com/aluiziolira/go-scrape-fixprice/models"
	"github.com/aluiziolira/go-scrape-fixprice/parser"
)

// DoneReason explains why a category stopped paginating.
type DoneReason string

const (
	DoneNoIndicator   DoneReason = "no_indicator"
	DoneNoNextControl DoneReason = "no_next_control"
	DoneMaxPages      DoneReason = "max_pages"
	DoneFailed        DoneReason = "failed"
	DoneAlreadySeen   DoneReason = "already_seen"
	DoneCancelled     DoneReason = "cancelled"
)

// Step is the walker state after a listing page: either FetchingPage(Page)
// at URL, or Done with a reason.
type Step struct {
	Done   bool
	Reason DoneReason
	Page   int
	URL    string
}

// Walker tracks pagination for one category.
type Walker struct {
	Category   string
	ListingURL string
	Section    []string
	maxPages   int

	mu     sync.Mutex
	pages  int
	done   bool
	reason DoneReason
}

func NewWalker(listingURL string, maxPages int) *Walker {
	return &Walker{
		Category:   models.CategorySlug(listingURL),
		ListingURL: listingURL,
		Section:    models.SectionPath(listingURL),
		maxPages:   maxPages,
	}
}

// Start returns the initial FetchingPage(1) step.
func (w *Walker) Start() Step {
	return Step{Page: 1, URL: w.ListingURL}
}

// Advance evaluates a fetched listing page. n is the page number the request
// was issued for; the page's own active indicator wins when present.
func (w *Walker) Advance(n int, pageURL string, page parser.ListingPage) Step {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.pages++

	if page.ActivePage == nil {
		return w.finishLocked(DoneNoIndicator)
	}
	current := *page.ActivePage
	if w.maxPages > 0 && current >= w.maxPages {
		return w.finishLocked(DoneMaxPages)
	}
	href, ok := page.PageLinks[current+1]
	if !ok {
		return w.finishLocked(DoneNoNextControl)
	}
	next, err := resolve(pageURL, href)
	if err != nil {
		return w.finishLocked(DoneNoNextControl)
	}
	return Step{Page: current + 1, URL: next}
}

// Fail ends the walk after a listing page could not be fetched.
func (w *Walker) Fail() Step {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.finishLocked(DoneFailed)
}

// Stop ends the walk because the next page was already requested.
func (w *Walker) Stop(reason DoneReason) Step {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.finishLocked(reason)
}

func (w *Walker) finishLocked(reason DoneReason) Step {
	if !w.done {
		w.done = true
		w.reason = reason
	}
	return Step{Done: true, Reason: reason}
}

// State reports pages evaluated and, once finished, the done reason.
func (w *Walker) State() (pages int, done bool, reason DoneReason) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.pages, w.done, w.reason
}

// DetailRequests turns listing tiles into detail requests. The listing
// context travels with the request; Meta.Link keeps the href as listed while
// the request URL is resolved against pageURL.
func (w *Walker) DetailRequests(n int, pageURL string, page parser.ListingPage) []models.Request {
	out := make([]models.Request, 0, len(page.Products))
	for _, product := range page.Products {
		abs, err := resolve(pageURL, product.Href)
		if err != nil {
			continue
		}
		out = append(out, models.NewDetailRequest(abs, w.Category, models.RequestMeta{
			RPC:      product.RPC,
			Title:    product.Title,
			Link:     product.Href,
			Variants: product.Variants,
			Page:     n,
		}))
	}
	return out
}

func resolve(base, href string) (string, error) {
	href = strings.TrimSpace(href)
	ref, err := url.Parse(href)
	if err != nil {
		return "", err
	}
	b, err := url.Parse(base)
	if err != nil {
		return "", err
	}
	return b.ResolveReference(ref).String(), nil
}

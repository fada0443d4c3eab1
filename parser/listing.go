package parser

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// ListingSelectors locate the parts of a catalog listing page.
type ListingSelectors struct {
	ProductWrapper string
	ProductID      string
	TitleLink      string
	Variants       string
	ActivePage     string
	PageAttr       string
}

// DefaultListingSelectors returns the selectors for the target catalog.
func DefaultListingSelectors() ListingSelectors {
	return ListingSelectors{
		ProductWrapper: "div.product__wrapper",
		ProductID:      "div.product.one-product-in-row",
		TitleLink:      "a.title",
		Variants:       "div.variants-count",
		ActivePage:     "a.button.active.number",
		PageAttr:       "data-page",
	}
}

// ListingProduct is one product tile found on a listing page.
type ListingProduct struct {
	RPC      string
	Title    string
	Href     string
	Variants *int
}

// ListingPage is the parsed content of one listing page.
type ListingPage struct {
	Products []ListingProduct
	// ActivePage is the page number the pagination control marks as current.
	ActivePage *int
	// PageLinks maps page numbers present in the pagination controls to hrefs.
	PageLinks map[int]string
	Skipped   int
}

// ParseListing extracts product tiles and pagination controls. Tiles without
// a link are skipped and counted; a page with zero tiles is valid.
func ParseListing(doc *goquery.Selection, sel ListingSelectors) ListingPage {
	page := ListingPage{PageLinks: make(map[int]string)}

	doc.Find(sel.ProductWrapper).Each(func(_ int, s *goquery.Selection) {
		link := s.Find(sel.TitleLink).First()
		href, ok := link.Attr("href")
		href = strings.TrimSpace(href)
		if !ok || href == "" {
			page.Skipped++
			return
		}

		id, _ := s.Find(sel.ProductID).First().Attr("id")
		product := ListingProduct{
			RPC:   ProductCode(id),
			Title: CleanText(link.Text()),
			Href:  href,
		}
		if v := s.Find(sel.Variants).First(); v.Length() > 0 {
			product.Variants = FirstInt(v.Text())
		}
		page.Products = append(page.Products, product)
	})

	if active := doc.Find(sel.ActivePage).First(); active.Length() > 0 {
		if raw, ok := active.Attr(sel.PageAttr); ok {
			if n, err := strconv.Atoi(strings.TrimSpace(raw)); err == nil {
				page.ActivePage = &n
			}
		}
	}

	doc.Find(fmt.Sprintf("a[%s]", sel.PageAttr)).Each(func(_ int, s *goquery.Selection) {
		raw, _ := s.Attr(sel.PageAttr)
		n, err := strconv.Atoi(strings.TrimSpace(raw))
		if err != nil {
			return
		}
		href, ok := s.Attr("href")
		if !ok || strings.TrimSpace(href) == "" {
			return
		}
		if _, exists := page.PageLinks[n]; !exists {
			page.PageLinks[n] = strings.TrimSpace(href)
		}
	})

	return page
}

// ProductCode strips the two-character element id prefix ("p-12345" -> "12345").
func ProductCode(id string) string {
	id = strings.TrimSpace(id)
	if len(id) <= 2 {
		return ""
	}
	return id[2:]
}

var intPattern = regexp.MustCompile(`\d+`)

// FirstInt returns the first integer found in text, nil if there is none.
func FirstInt(text string) *int {
	match := intPattern.FindString(strings.ReplaceAll(text, " ", ""))
	if match == "" {
		return nil
	}
	n, err := strconv.Atoi(match)
	if err != nil {
		return nil
	}
	return &n
}

// CleanText collapses runs of whitespace and trims the result.
func CleanText(text string) string {
	return strings.Join(strings.Fields(text), " ")
}

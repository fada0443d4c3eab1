package parser

import (
	"errors"
	"strings"
	"testing"

	"github.com/PuerkitoBio/goquery"
	"github.com/aluiziolira/go-scrape-fixprice/models"
)

func present(name, value string) models.RawField {
	return models.RawField{Name: name, Value: value, Status: models.FieldPresent}
}

func absent(name string) models.RawField {
	return models.RawField{Name: name, Status: models.FieldNotFound}
}

func TestParsePrice(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    float64
		wantErr bool
	}{
		{name: "comma decimal with glyph", input: "199,00 ₽", want: 199},
		{name: "surrounding whitespace", input: "  299,50 ₽\n", want: 299.5},
		{name: "thousands with nbsp", input: "1 299,99 ₽", want: 1299.99},
		{name: "dot thousands comma decimal", input: "1.299,00 ₽", want: 1299},
		{name: "dot decimal", input: "49.90", want: 49.9},
		{name: "rounds to cents", input: "10,006", want: 10.01},
		{name: "empty", input: " ₽ ", wantErr: true},
		{name: "garbage", input: "по запросу", wantErr: true},
		{name: "negative", input: "-5,00", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParsePrice(tt.input)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("ParsePrice(%q) = %v, want error", tt.input, got)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParsePrice(%q) error: %v", tt.input, err)
			}
			if got != tt.want {
				t.Fatalf("ParsePrice(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}

func TestParsePriceSentinels(t *testing.T) {
	if _, err := ParsePrice(""); !errors.Is(err, ErrEmptyPrice) {
		t.Fatalf("empty input error = %v, want ErrEmptyPrice", err)
	}
	if _, err := ParsePrice("-1"); !errors.Is(err, ErrNegativePrice) {
		t.Fatalf("negative input error = %v, want ErrNegativePrice", err)
	}
}

func TestResolvePrices(t *testing.T) {
	f := func(v float64) *float64 { return &v }

	tests := []struct {
		name         string
		current      models.RawField
		original     models.RawField
		wantCurrent  *float64
		wantOriginal *float64
		wantDiscount int
		wantCoerced  bool
	}{
		{
			name:         "special below regular",
			current:      present("current", "199,00 ₽"),
			original:     present("original", "299,00 ₽"),
			wantCurrent:  f(199),
			wantOriginal: f(299),
			wantDiscount: 33,
		},
		{
			name:         "special above regular is coerced",
			current:      present("current", "300,00 ₽"),
			original:     present("original", "299,00 ₽"),
			wantCurrent:  f(299),
			wantOriginal: f(299),
			wantCoerced:  true,
		},
		{
			name:         "equal prices carry no discount",
			current:      present("current", "99,00 ₽"),
			original:     present("original", "99,00 ₽"),
			wantCurrent:  f(99),
			wantOriginal: f(99),
		},
		{
			name:         "only regular present",
			current:      absent("current"),
			original:     present("original", "299,00 ₽"),
			wantCurrent:  f(299),
			wantOriginal: f(299),
		},
		{
			name:        "only special present",
			current:     present("current", "150,00 ₽"),
			original:    absent("original"),
			wantCurrent: f(150),
		},
		{
			name:     "neither present",
			current:  absent("current"),
			original: absent("original"),
		},
		{
			name:         "malformed special falls back to regular",
			current:      present("current", "акция"),
			original:     present("original", "299,00 ₽"),
			wantCurrent:  f(299),
			wantOriginal: f(299),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := ResolvePrices(tt.current, tt.original)
			assertPrice(t, "current", res.Data.Current, tt.wantCurrent)
			assertPrice(t, "original", res.Data.Original, tt.wantOriginal)
			if res.Discount != tt.wantDiscount {
				t.Fatalf("discount = %d, want %d", res.Discount, tt.wantDiscount)
			}
			if res.Coerced != tt.wantCoerced {
				t.Fatalf("coerced = %v, want %v", res.Coerced, tt.wantCoerced)
			}
			if want := SaleTag(tt.wantDiscount); res.Data.SaleTag != want {
				t.Fatalf("sale tag = %q, want %q", res.Data.SaleTag, want)
			}
			if res.Data.Current != nil && res.Data.Original != nil && *res.Data.Current > *res.Data.Original {
				t.Fatalf("current %v exceeds original %v", *res.Data.Current, *res.Data.Original)
			}
		})
	}
}

func TestResolvePricesReportsMalformedLeg(t *testing.T) {
	res := ResolvePrices(present("current", "n/a"), absent("original"))
	if res.CurrentErr == nil {
		t.Fatalf("expected current parse error")
	}
	if res.Data.Current != nil {
		t.Fatalf("malformed current should be absent, got %v", *res.Data.Current)
	}
}

func assertPrice(t *testing.T, leg string, got, want *float64) {
	t.Helper()
	switch {
	case got == nil && want == nil:
	case got == nil || want == nil:
		t.Fatalf("%s = %v, want %v", leg, got, want)
	case *got != *want:
		t.Fatalf("%s = %v, want %v", leg, *got, *want)
	}
}

func TestDiscount(t *testing.T) {
	tests := []struct {
		current, original float64
		want              int
	}{
		{199, 299, 33},
		{50, 100, 50},
		{0, 100, 100},
		{100, 100, 0},
		{120, 100, 0},
		{10, 0, 0},
	}
	for _, tt := range tests {
		if got := Discount(tt.current, tt.original); got != tt.want {
			t.Errorf("Discount(%v, %v) = %d, want %d", tt.current, tt.original, got, tt.want)
		}
	}
}

const listingHTML = `<html><body>
<div class="product__wrapper">
  <div class="product one-product-in-row" id="p-1001">
    <a class="title" href="/catalog/kosmetika/zubnaya-pasta/p-1001-pasta">  Зубная   паста </a>
    <div class="variants-count">3 варианта</div>
  </div>
</div>
<div class="product__wrapper">
  <div class="product one-product-in-row" id="p-1002">
    <a class="title" href="/catalog/kosmetika/zubnaya-pasta/p-1002-shchetka">Щётка</a>
  </div>
</div>
<div class="product__wrapper"><div class="product one-product-in-row" id="p-1003"></div></div>
<div class="pagination">
  <a class="button number" data-page="1" href="?page=1">1</a>
  <a class="button active number" data-page="2" href="?page=2">2</a>
  <a class="button number" data-page="3" href="?page=3">3</a>
</div>
</body></html>`

func mustDoc(t *testing.T, html string) *goquery.Selection {
	t.Helper()
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		t.Fatalf("parse html: %v", err)
	}
	return doc.Selection
}

func TestParseListing(t *testing.T) {
	page := ParseListing(mustDoc(t, listingHTML), DefaultListingSelectors())

	if len(page.Products) != 2 {
		t.Fatalf("products = %d, want 2", len(page.Products))
	}
	if page.Skipped != 1 {
		t.Fatalf("skipped = %d, want 1", page.Skipped)
	}

	first := page.Products[0]
	if first.RPC != "1001" || first.Title != "Зубная паста" {
		t.Fatalf("unexpected first product: %+v", first)
	}
	if first.Variants == nil || *first.Variants != 3 {
		t.Fatalf("variants = %v, want 3", first.Variants)
	}
	if page.Products[1].Variants != nil {
		t.Fatalf("second product should have no variant count")
	}

	if page.ActivePage == nil || *page.ActivePage != 2 {
		t.Fatalf("active page = %v, want 2", page.ActivePage)
	}
	if href := page.PageLinks[3]; href != "?page=3" {
		t.Fatalf("page 3 href = %q", href)
	}
}

func TestParseListingEmptyPage(t *testing.T) {
	page := ParseListing(mustDoc(t, `<html><body><a class="button active number" data-page="4" href="?page=4">4</a></body></html>`), DefaultListingSelectors())
	if len(page.Products) != 0 {
		t.Fatalf("products = %d, want 0", len(page.Products))
	}
	if page.ActivePage == nil || *page.ActivePage != 4 {
		t.Fatalf("active page should still be parsed on an empty page")
	}
}

func TestParseStock(t *testing.T) {
	tests := []struct {
		text      string
		wantIn    *bool
		wantCount *int
	}{
		{text: "", wantIn: nil, wantCount: nil},
		{text: "В наличии 15 шт", wantIn: boolPtr(true), wantCount: intPtr(15)},
		{text: "В наличии", wantIn: boolPtr(true), wantCount: nil},
		{text: "Нет в наличии", wantIn: boolPtr(false), wantCount: intPtr(0)},
	}
	for _, tt := range tests {
		in, count := ParseStock(tt.text)
		if !equalBool(in, tt.wantIn) || !equalInt(count, tt.wantCount) {
			t.Errorf("ParseStock(%q) = (%v, %v), want (%v, %v)", tt.text, in, count, tt.wantIn, tt.wantCount)
		}
	}
}

func TestSplitTags(t *testing.T) {
	got := SplitTags("Новинка\n  \nХит   продаж\nНовинка")
	if len(got) != 2 || got[0] != "Новинка" || got[1] != "Хит продаж" {
		t.Fatalf("SplitTags = %v", got)
	}
	if SplitTags("   ") != nil {
		t.Fatalf("blank text should yield nil tags")
	}
}

func TestProductCode(t *testing.T) {
	if got := ProductCode("p-12345"); got != "12345" {
		t.Fatalf("ProductCode = %q", got)
	}
	if got := ProductCode("p"); got != "" {
		t.Fatalf("short id should yield empty code, got %q", got)
	}
}

func boolPtr(b bool) *bool { return &b }
func intPtr(i int) *int    { return &i }

func equalBool(a, b *bool) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func equalInt(a, b *int) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

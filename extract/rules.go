package extract

// UnknownBrand is recorded when the brand cannot be found.
const UnknownBrand = "Unknown brand"

// Rules holds the selectors for one site's detail pages.
type Rules struct {
	Brand         string
	Description   string
	MarketingTag  string
	CurrentPrice  string
	OriginalPrice string
	Stock         string

	MainImage string
	SetImages string
	View360   string
	Video     string
	MediaAttr string

	PropertyKey   string
	PropertyValue string
}

// DefaultRules returns the detail-page selectors of the target catalog.
func DefaultRules() Rules {
	return Rules{
		Brand:         "div.properties a[href*='products?brand=']",
		Description:   "div.product-details div.description",
		MarketingTag:  "div.product-images div.sticker",
		CurrentPrice:  "div.prices div.special-price",
		OriginalPrice: "div.prices div.regular-price",
		Stock:         "div.product-details div.availability",

		MainImage: "div.product-images div.zoom-on-hover img",
		SetImages: "div.product-images div.swiper-slide img",
		View360:   "div.product-images div.view-360 img",
		Video:     "div.product-images video source",
		MediaAttr: "src",

		PropertyKey:   "div.properties p.property span.title",
		PropertyValue: "div.properties p.property span.value",
	}
}

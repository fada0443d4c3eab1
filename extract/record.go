package extract

import (
	"time"

	"github.com/aluiziolira/go-scrape-fixprice/models"
	"github.com/aluiziolira/go-scrape-fixprice/parser"
)

// Build composes a ProductRecord from listing context and extracted fields.
// The returned PriceResult tells the caller whether prices were coerced.
func Build(req models.Request, section []string, f Fields, now time.Time) (models.ProductRecord, parser.PriceResult) {
	prices := parser.ResolvePrices(f.CurrentPrice, f.OriginalPrice)

	brand := UnknownBrand
	if f.Brand.Present() {
		brand = f.Brand.Value
	}

	link := req.URL

	var title *string
	if req.Meta.Title != "" {
		t := req.Meta.Title
		title = &t
	}

	rec := models.ProductRecord{
		Timestamp: now.Unix(),
		RPC:       req.Meta.RPC,
		URL:       link,
		Title:     title,
		Brand:     brand,
		Section:   append([]string(nil), section...),
		PriceData: prices.Data,
		Assets: models.Assets{
			MainImage: f.MainImage.Ptr(),
			SetImages: values(f.SetImages),
			View360:   values(f.View360),
			Video:     values(f.Video),
		},
		Metadata: models.Metadata{
			Description: f.Description.Ptr(),
			Properties:  properties(f.PropertyKeys, f.PropertyValues),
		},
		Variants: req.Meta.Variants,
	}
	if f.MarketingTag.Present() {
		rec.MarketingTags = parser.SplitTags(f.MarketingTag.Value)
	}
	if f.Stock.Present() {
		rec.Stock.InStock, rec.Stock.Count = parser.ParseStock(f.Stock.Value)
	}
	if rec.Assets.MainImage == nil && len(rec.Assets.SetImages) > 0 {
		main := rec.Assets.SetImages[0]
		rec.Assets.MainImage = &main
	}
	return rec, prices
}

func values(f models.RawField) []string {
	if !f.Present() {
		return nil
	}
	return append([]string(nil), f.Values...)
}

// properties pairs keys with values by position; unmatched entries are dropped.
func properties(keys, vals models.RawField) map[string]string {
	if !keys.Present() || !vals.Present() {
		return nil
	}
	n := min(len(keys.Values), len(vals.Values))
	out := make(map[string]string, n)
	for i := 0; i < n; i++ {
		k := parser.CleanText(keys.Values[i])
		if k == "" {
			continue
		}
		out[k] = parser.CleanText(vals.Values[i])
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

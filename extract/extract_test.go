package extract

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/aluiziolira/go-scrape-fixprice/models"
)

const detailHTML = `<html><body>
<div class="product-images">
  <div class="sticker">Новинка</div>
  <div class="zoom-on-hover"><img src="https://img.example/main.jpg"></div>
  <div class="swiper-slide"><img src="https://img.example/1.jpg"></div>
  <div class="swiper-slide"><img src="https://img.example/2.jpg"></div>
</div>
<div class="prices">
  <div class="special-price">199,00 ₽</div>
  <div class="regular-price">299,00 ₽</div>
</div>
<div class="product-details">
  <div class="description">Мягкая щётка<br>для чувствительных зубов</div>
  <div class="availability">В наличии 12 шт</div>
</div>
<div class="properties">
  <p class="property"><span class="title">Бренд</span><span class="value"><a href="/products?brand=colgate">Colgate</a></span></p>
  <p class="property"><span class="title">Страна</span><span class="value">Китай</span></p>
</div>
</body></html>`

func detailRequest() models.Request {
	v := 2
	return models.NewDetailRequest("https://fix-price.com/catalog/kosmetika/p-1001-shchetka", "kosmetika", models.RequestMeta{
		RPC:      "1001",
		Title:    "Щётка",
		Link:     "https://fix-price.com/catalog/kosmetika/p-1001-shchetka",
		Variants: &v,
	})
}

func mustSource(t *testing.T, html string) *DocumentSource {
	t.Helper()
	src, err := NewDocumentSourceFromString(html)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	return src
}

func TestExtractAndBuild(t *testing.T) {
	ex := New(DefaultRules(), time.Second, nil)
	fields := ex.Extract(context.Background(), mustSource(t, detailHTML))

	if fields.Brand.Value != "Colgate" {
		t.Fatalf("brand = %+v", fields.Brand)
	}
	if fields.View360.Status != models.FieldNotFound {
		t.Fatalf("view360 status = %s, want not_found", fields.View360.Status)
	}

	now := time.Unix(1700000000, 0)
	rec, prices := Build(detailRequest(), []string{"kosmetika"}, fields, now)

	if rec.Timestamp != now.Unix() || rec.RPC != "1001" || rec.Title == nil || *rec.Title != "Щётка" {
		t.Fatalf("listing context not carried: %+v", rec)
	}
	if rec.Brand != "Colgate" {
		t.Fatalf("brand = %q", rec.Brand)
	}
	if *rec.PriceData.Current != 199 || *rec.PriceData.Original != 299 || prices.Discount != 33 {
		t.Fatalf("prices = %+v discount %d", rec.PriceData, prices.Discount)
	}
	if rec.PriceData.SaleTag != "Скидка 33%" {
		t.Fatalf("sale tag = %q", rec.PriceData.SaleTag)
	}
	if len(rec.MarketingTags) != 1 || rec.MarketingTags[0] != "Новинка" {
		t.Fatalf("marketing tags = %v", rec.MarketingTags)
	}
	if rec.Stock.InStock == nil || !*rec.Stock.InStock || rec.Stock.Count == nil || *rec.Stock.Count != 12 {
		t.Fatalf("stock = %+v", rec.Stock)
	}
	if rec.Assets.MainImage == nil || *rec.Assets.MainImage != "https://img.example/main.jpg" || len(rec.Assets.SetImages) != 2 {
		t.Fatalf("assets = %+v", rec.Assets)
	}
	if rec.Metadata.Description == nil || !strings.Contains(*rec.Metadata.Description, "Мягкая щётка") {
		t.Fatalf("description = %v", rec.Metadata.Description)
	}
	if rec.Metadata.Properties["Страна"] != "Китай" {
		t.Fatalf("properties = %v", rec.Metadata.Properties)
	}
	if rec.Variants == nil || *rec.Variants != 2 {
		t.Fatalf("variants = %v", rec.Variants)
	}
}

func TestMissingBrandFallsBack(t *testing.T) {
	html := strings.Replace(detailHTML, `<a href="/products?brand=colgate">Colgate</a>`, "", 1)
	fields := New(DefaultRules(), time.Second, nil).Extract(context.Background(), mustSource(t, html))
	rec, _ := Build(detailRequest(), nil, fields, time.Now())

	if rec.Brand != UnknownBrand {
		t.Fatalf("brand = %q, want %q", rec.Brand, UnknownBrand)
	}
	if rec.PriceData.Current == nil || *rec.PriceData.Current != 199 {
		t.Fatalf("other fields should be unaffected: %+v", rec.PriceData)
	}
}

func TestMissingDescriptionIsNull(t *testing.T) {
	html := strings.Replace(detailHTML, `<div class="description">Мягкая щётка<br>для чувствительных зубов</div>`, "", 1)
	fields := New(DefaultRules(), time.Second, nil).Extract(context.Background(), mustSource(t, html))
	rec, _ := Build(detailRequest(), nil, fields, time.Now())

	if rec.Metadata.Description != nil {
		t.Fatalf("description = %q, want nil", *rec.Metadata.Description)
	}
	if rec.Brand != "Colgate" || rec.PriceData.Original == nil {
		t.Fatalf("record degraded beyond the missing field: %+v", rec)
	}

	var failed []string
	for _, f := range fields.Failures() {
		failed = append(failed, f.Name)
	}
	if !containsString(failed, FieldDescription) {
		t.Fatalf("failures = %v, want description listed", failed)
	}
}

func TestStickersAndDescriptionKeepLines(t *testing.T) {
	html := strings.Replace(detailHTML, `<div class="sticker">Новинка</div>`, `<div class="sticker"><p>Новинка</p><p>Хит</p><p>Новинка</p></div>`, 1)
	fields := New(DefaultRules(), time.Second, nil).Extract(context.Background(), mustSource(t, html))
	rec, _ := Build(detailRequest(), nil, fields, time.Now())

	if len(rec.MarketingTags) != 2 || rec.MarketingTags[0] != "Новинка" || rec.MarketingTags[1] != "Хит" {
		t.Fatalf("marketing tags = %q, want [Новинка Хит]", rec.MarketingTags)
	}
	want := "Мягкая щётка\nдля чувствительных зубов"
	if rec.Metadata.Description == nil || *rec.Metadata.Description != want {
		t.Fatalf("description = %v, want %q", rec.Metadata.Description, want)
	}
	if fields.CurrentPrice.Value != "199,00 ₽" {
		t.Fatalf("current price text = %q", fields.CurrentPrice.Value)
	}
}

// slowSource blocks every query until the context ends.
type slowSource struct{}

func (slowSource) Text(ctx context.Context, _ string) (string, error) {
	<-ctx.Done()
	return "", ctx.Err()
}

func (slowSource) Texts(ctx context.Context, _ string) ([]string, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func (slowSource) Attrs(ctx context.Context, _, _ string) ([]string, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestFieldTimeoutBecomesAbsence(t *testing.T) {
	start := time.Now()
	fields := New(DefaultRules(), 20*time.Millisecond, nil).Extract(context.Background(), slowSource{})
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Fatalf("fields were not bounded independently, took %s", elapsed)
	}
	if fields.Description.Status != models.FieldTimedOut {
		t.Fatalf("description status = %s, want timed_out", fields.Description.Status)
	}

	rec, _ := Build(detailRequest(), nil, fields, time.Now())
	if rec.Brand != UnknownBrand || rec.PriceData.Current != nil || rec.Metadata.Description != nil {
		t.Fatalf("timed out fields should be absent: %+v", rec)
	}
	if rec.PriceData.SaleTag != "Скидка 0%" {
		t.Fatalf("sale tag = %q", rec.PriceData.SaleTag)
	}
}

func TestAbsenceClassification(t *testing.T) {
	tests := []struct {
		err  error
		want models.FieldStatus
	}{
		{context.DeadlineExceeded, models.FieldTimedOut},
		{ErrNotFound, models.FieldNotFound},
		{errors.New("cdp: node detached"), models.FieldMalformed},
	}
	for _, tt := range tests {
		if got := absence("f", tt.err).Status; got != tt.want {
			t.Errorf("absence(%v) = %s, want %s", tt.err, got, tt.want)
		}
	}
}

func TestDocumentSourceCharset(t *testing.T) {
	// "Цена" in windows-1251.
	body := []byte("<html><body><div class=\"p\">\xd6\xe5\xed\xe0</div></body></html>")
	src, err := NewDocumentSource(bytes.NewReader(body), "text/html; charset=windows-1251")
	if err != nil {
		t.Fatalf("NewDocumentSource: %v", err)
	}
	got, err := src.Text(context.Background(), "div.p")
	if err != nil || got != "Цена" {
		t.Fatalf("Text = %q, %v", got, err)
	}
	if _, err := src.Text(context.Background(), "div.missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("missing selector error = %v", err)
	}
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

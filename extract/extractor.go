package extract

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/aluiziolira/go-scrape-fixprice/models"
	"github.com/aluiziolira/go-scrape-fixprice/parser"
)

// Field names used in RawField.Name and failure metrics.
const (
	FieldBrand         = "brand"
	FieldDescription   = "description"
	FieldMarketingTag  = "marketing_tag"
	FieldCurrentPrice  = "current_price"
	FieldOriginalPrice = "original_price"
	FieldStock         = "stock"
	FieldMainImage     = "main_image"
	FieldSetImages     = "set_images"
	FieldView360       = "view360"
	FieldVideo         = "video"
	FieldPropertyKeys  = "property_keys"
	FieldPropertyVals  = "property_values"
)

// Fields is every raw value pulled from one detail page.
type Fields struct {
	Brand          models.RawField
	Description    models.RawField
	MarketingTag   models.RawField
	CurrentPrice   models.RawField
	OriginalPrice  models.RawField
	Stock          models.RawField
	MainImage      models.RawField
	SetImages      models.RawField
	View360        models.RawField
	Video          models.RawField
	PropertyKeys   models.RawField
	PropertyValues models.RawField
}

func (f *Fields) all() []*models.RawField {
	return []*models.RawField{
		&f.Brand, &f.Description, &f.MarketingTag, &f.CurrentPrice, &f.OriginalPrice,
		&f.Stock, &f.MainImage, &f.SetImages, &f.View360, &f.Video,
		&f.PropertyKeys, &f.PropertyValues,
	}
}

// Failures lists the fields that did not resolve to a value.
func (f Fields) Failures() []models.RawField {
	var out []models.RawField
	for _, field := range f.all() {
		if !field.Present() {
			out = append(out, *field)
		}
	}
	return out
}

// Extractor resolves Fields with independent per-field deadlines.
type Extractor struct {
	rules        Rules
	fieldTimeout time.Duration
	concurrency  int
	logger       *slog.Logger
}

// New returns an Extractor. A non-positive fieldTimeout disables per-field
// deadlines; the caller's context still applies.
func New(rules Rules, fieldTimeout time.Duration, logger *slog.Logger) *Extractor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Extractor{
		rules:        rules,
		fieldTimeout: fieldTimeout,
		concurrency:  len((&Fields{}).all()),
		logger:       logger,
	}
}

// Extract queries every field. It never returns an error: a field that
// cannot be resolved carries its absence status instead.
func (e *Extractor) Extract(ctx context.Context, src Source) Fields {
	r := e.rules
	var f Fields

	g := new(errgroup.Group)
	g.SetLimit(e.concurrency)
	text := func(dst *models.RawField, name, selector string) {
		g.Go(func() error {
			*dst = e.text(ctx, src, name, selector, parser.CleanText)
			return nil
		})
	}
	// Descriptions and stickers keep their line breaks.
	raw := func(dst *models.RawField, name, selector string) {
		g.Go(func() error {
			*dst = e.text(ctx, src, name, selector, strings.TrimSpace)
			return nil
		})
	}
	list := func(dst *models.RawField, name, selector, attr string) {
		g.Go(func() error {
			*dst = e.list(ctx, src, name, selector, attr)
			return nil
		})
	}

	text(&f.Brand, FieldBrand, r.Brand)
	raw(&f.Description, FieldDescription, r.Description)
	raw(&f.MarketingTag, FieldMarketingTag, r.MarketingTag)
	text(&f.CurrentPrice, FieldCurrentPrice, r.CurrentPrice)
	text(&f.OriginalPrice, FieldOriginalPrice, r.OriginalPrice)
	text(&f.Stock, FieldStock, r.Stock)
	list(&f.MainImage, FieldMainImage, r.MainImage, r.MediaAttr)
	list(&f.SetImages, FieldSetImages, r.SetImages, r.MediaAttr)
	list(&f.View360, FieldView360, r.View360, r.MediaAttr)
	list(&f.Video, FieldVideo, r.Video, r.MediaAttr)
	list(&f.PropertyKeys, FieldPropertyKeys, r.PropertyKey, "")
	list(&f.PropertyValues, FieldPropertyVals, r.PropertyValue, "")
	_ = g.Wait()

	if !f.Brand.Present() {
		e.logger.Debug("brand not found, using fallback", "status", f.Brand.Status, "reason", f.Brand.Reason)
	}
	return f
}

func (e *Extractor) fieldContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if e.fieldTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, e.fieldTimeout)
}

func (e *Extractor) text(ctx context.Context, src Source, name, selector string, clean func(string) string) models.RawField {
	if selector == "" {
		return models.RawField{Name: name, Status: models.FieldNotFound, Reason: "no selector"}
	}
	fctx, cancel := e.fieldContext(ctx)
	defer cancel()

	v, err := src.Text(fctx, selector)
	if err != nil {
		return absence(name, err)
	}
	v = clean(v)
	if v == "" {
		return models.RawField{Name: name, Status: models.FieldNotFound, Reason: "empty text"}
	}
	return models.RawField{Name: name, Value: v, Status: models.FieldPresent}
}

// list collects attribute values, or element texts when attr is empty.
func (e *Extractor) list(ctx context.Context, src Source, name, selector, attr string) models.RawField {
	if selector == "" {
		return models.RawField{Name: name, Status: models.FieldNotFound, Reason: "no selector"}
	}
	fctx, cancel := e.fieldContext(ctx)
	defer cancel()

	var (
		values []string
		err    error
	)
	if attr == "" {
		values, err = src.Texts(fctx, selector)
	} else {
		values, err = src.Attrs(fctx, selector, attr)
	}
	if err != nil {
		return absence(name, err)
	}
	if len(values) == 0 {
		return models.RawField{Name: name, Status: models.FieldNotFound, Reason: "no values"}
	}
	return models.RawField{Name: name, Value: values[0], Values: values, Status: models.FieldPresent}
}

func absence(name string, err error) models.RawField {
	var status models.FieldStatus
	switch {
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		status = models.FieldTimedOut
	case errors.Is(err, ErrNotFound):
		status = models.FieldNotFound
	default:
		status = models.FieldMalformed
	}
	return models.RawField{Name: name, Status: status, Reason: err.Error()}
}

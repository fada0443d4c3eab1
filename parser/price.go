// Package parser normalises scraped text into typed values.
package parser

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"unicode"

	"github.com/aluiziolira/go-scrape-fixprice/models"
)

var (
	// ErrEmptyPrice is returned for blank price text.
	ErrEmptyPrice = errors.New("parser: empty price")
	// ErrNegativePrice is returned when the parsed value is below zero.
	ErrNegativePrice = errors.New("parser: negative price")
)

var currencyTokens = []string{"₽", "руб.", "руб", "р.", "$", "€", "£", "Â£"}

// ParsePrice converts localized price text such as "1 299,00 ₽" into a
// value rounded to two fractional digits.
func ParsePrice(text string) (float64, error) {
	cleaned := strings.TrimSpace(text)
	for _, token := range currencyTokens {
		cleaned = strings.ReplaceAll(cleaned, token, "")
	}
	cleaned = strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return r
	}, cleaned)
	cleaned = strings.ReplaceAll(cleaned, ",", ".")
	if cleaned == "" {
		return 0, ErrEmptyPrice
	}

	// "1.299.00" after comma replacement: only the last dot is decimal.
	if strings.Count(cleaned, ".") > 1 {
		last := strings.LastIndex(cleaned, ".")
		cleaned = strings.ReplaceAll(cleaned[:last], ".", "") + cleaned[last:]
	}

	value, err := strconv.ParseFloat(cleaned, 64)
	if err != nil {
		return 0, fmt.Errorf("parse price %q: %w", text, err)
	}
	if math.IsNaN(value) || math.IsInf(value, 0) {
		return 0, fmt.Errorf("parse price %q: not a finite number", text)
	}
	if value < 0 {
		return 0, ErrNegativePrice
	}
	return RoundCents(value), nil
}

// RoundCents rounds to two fractional digits, half away from zero.
func RoundCents(v float64) float64 {
	return math.Round(v*100) / 100
}

// Discount returns round((original-current)/original*100) clamped to [0,100].
func Discount(current, original float64) int {
	if original <= 0 || current >= original {
		return 0
	}
	d := int(math.Round((original - current) / original * 100))
	if d < 0 {
		return 0
	}
	if d > 100 {
		return 100
	}
	return d
}

// SaleTag renders the display tag for a discount.
func SaleTag(discount int) string {
	return fmt.Sprintf("Скидка %d%%", discount)
}

// PriceResult is the outcome of resolving a current/original pair.
type PriceResult struct {
	Data     models.PriceData
	Discount int
	// Coerced is set when current exceeded original and was replaced by it.
	Coerced     bool
	CurrentErr  error
	OriginalErr error
}

// ResolvePrices parses both price legs and enforces current <= original.
// A leg that fails to parse is left absent; it never fails the record.
func ResolvePrices(current, original models.RawField) PriceResult {
	var res PriceResult

	cur, curOK := parseLeg(current, &res.CurrentErr)
	orig, origOK := parseLeg(original, &res.OriginalErr)

	switch {
	case curOK && origOK:
		switch {
		case cur > orig:
			cur = orig
			res.Coerced = true
		case cur < orig:
			res.Discount = Discount(cur, orig)
		}
		res.Data.Current = &cur
		res.Data.Original = &orig
	case origOK:
		c := orig
		res.Data.Current = &c
		res.Data.Original = &orig
	case curOK:
		res.Data.Current = &cur
	}

	res.Data.SaleTag = SaleTag(res.Discount)
	return res
}

func parseLeg(field models.RawField, errOut *error) (float64, bool) {
	if !field.Present() {
		return 0, false
	}
	v, err := ParsePrice(field.Value)
	if err != nil {
		*errOut = err
		return 0, false
	}
	return v, true
}

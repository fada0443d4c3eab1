package models

import "time"

// FieldStatus is the outcome of one extraction attempt.
type FieldStatus string

const (
	FieldPresent   FieldStatus = "present"
	FieldNotFound  FieldStatus = "not_found"
	FieldTimedOut  FieldStatus = "timed_out"
	FieldMalformed FieldStatus = "malformed"
)

// RawField holds either a present value or an absence marker with a reason.
type RawField struct {
	Name   string
	Value  string
	Values []string
	Status FieldStatus
	Reason string
}

// Present reports whether the field resolved to a value.
func (f RawField) Present() bool {
	return f.Status == FieldPresent
}

// Ptr returns the value as a pointer, nil when absent.
func (f RawField) Ptr() *string {
	if !f.Present() {
		return nil
	}
	v := f.Value
	return &v
}

// PriceData is the resolved price pair with its display tag.
type PriceData struct {
	Current  *float64 `json:"current"`
	Original *float64 `json:"original"`
	SaleTag  string   `json:"sale_tag"`
}

// Stock describes product availability.
type Stock struct {
	InStock *bool `json:"in_stock"`
	Count   *int  `json:"count"`
}

// Assets references product media.
type Assets struct {
	MainImage *string  `json:"main_image"`
	SetImages []string `json:"set_images"`
	View360   []string `json:"view360"`
	Video     []string `json:"video"`
}

// Metadata holds the raw description and the product property table.
type Metadata struct {
	Description *string           `json:"__description"`
	Properties  map[string]string `json:"properties"`
}

// ProductRecord is one emitted product line. Absent values encode as null.
type ProductRecord struct {
	Timestamp     int64     `json:"timestamp"`
	RPC           string    `json:"RPC"`
	URL           string    `json:"url"`
	Title         *string   `json:"title"`
	MarketingTags []string  `json:"marketing_tags"`
	Brand         string    `json:"brand"`
	Section       []string  `json:"section"`
	PriceData     PriceData `json:"price_data"`
	Stock         Stock     `json:"stock"`
	Assets        Assets    `json:"assets"`
	Metadata      Metadata  `json:"metadata"`
	Variants      *int      `json:"variants"`
}

// CrawlResult holds the overall result of a crawl run.
type CrawlResult struct {
	StartTime      time.Time
	EndTime        time.Time
	Categories     int
	ListingPages   int
	DetailRequests int
	SkippedSeen    int
	RecordsEmitted int
	PriceCoercions int
	ErrorCount     int
	RetryCount     int
	FailedURLs     []string
	ErrorsByType   map[string]int
	FieldFailures  map[string]int
	// CategoryDone maps each category slug to why its pagination ended.
	CategoryDone map[string]string
	Interrupted  bool
}

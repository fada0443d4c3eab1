package scraper

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics bundles Prometheus collectors for the crawler.
type Metrics struct {
	Registry           *prometheus.Registry
	RequestsTotal      *prometheus.CounterVec
	RequestDuration    *prometheus.HistogramVec
	ItemsScrapedTotal  prometheus.Counter
	RetriesTotal       *prometheus.CounterVec
	ErrorsTotal        *prometheus.CounterVec
	TerminalFailures   *prometheus.CounterVec
	FieldFailuresTotal *prometheus.CounterVec
	PriceCoercions     prometheus.Counter
	UnroutableTotal    prometheus.Counter
	CategoriesDone     *prometheus.CounterVec
	ActiveSessions     prometheus.GaugeFunc
}

// NewMetrics constructs and registers all metrics on a dedicated registry.
// activeSessions may be nil.
func NewMetrics(activeSessions func() float64) *Metrics {
	registry := prometheus.NewRegistry()

	requests := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scraper_requests_total",
			Help: "Total requests issued by the scraper.",
		},
		[]string{"kind"},
	)
	requestDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "scraper_request_duration_seconds",
			Help:    "Latency of listing fetches and detail renders.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"kind"},
	)
	itemsScraped := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "scraper_items_scraped_total",
			Help: "Total number of product records sent to the pipeline.",
		},
	)
	retries := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scraper_retries_total",
			Help: "Total number of retry attempts scheduled by class.",
		},
		[]string{"class"},
	)
	errorsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scraper_errors_total",
			Help: "Total number of scraper errors by type.",
		},
		[]string{"error_type"},
	)
	terminal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scraper_terminal_failures_total",
			Help: "Requests given up on, once per fingerprint.",
		},
		[]string{"kind", "class"},
	)
	fieldFailures := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scraper_field_failures_total",
			Help: "Detail fields that resolved to absence.",
		},
		[]string{"field", "status"},
	)
	coercions := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "scraper_price_coercions_total",
			Help: "Records whose current price exceeded the original price.",
		},
	)
	unroutable := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "scraper_unroutable_records_total",
			Help: "Records that matched no configured category.",
		},
	)
	categoriesDone := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scraper_categories_done_total",
			Help: "Categories that finished paginating by reason.",
		},
		[]string{"reason"},
	)

	registry.MustRegister(requests, requestDuration, itemsScraped, retries, errorsTotal,
		terminal, fieldFailures, coercions, unroutable, categoriesDone)

	m := &Metrics{
		Registry:           registry,
		RequestsTotal:      requests,
		RequestDuration:    requestDuration,
		ItemsScrapedTotal:  itemsScraped,
		RetriesTotal:       retries,
		ErrorsTotal:        errorsTotal,
		TerminalFailures:   terminal,
		FieldFailuresTotal: fieldFailures,
		PriceCoercions:     coercions,
		UnroutableTotal:    unroutable,
		CategoriesDone:     categoriesDone,
	}
	if activeSessions != nil {
		m.ActiveSessions = prometheus.NewGaugeFunc(
			prometheus.GaugeOpts{
				Name: "scraper_render_sessions_active",
				Help: "Render sessions opened and not yet released.",
			},
			activeSessions,
		)
		registry.MustRegister(m.ActiveSessions)
	}
	return m
}

// IncRequest increments the requests total counter.
func (m *Metrics) IncRequest(kind string) {
	if m == nil {
		return
	}
	m.RequestsTotal.WithLabelValues(kind).Inc()
}

// ObserveDuration records a request duration.
func (m *Metrics) ObserveDuration(kind string, d time.Duration) {
	if m == nil {
		return
	}
	m.RequestDuration.WithLabelValues(kind).Observe(d.Seconds())
}

// IncItems increments the items scraped counter.
func (m *Metrics) IncItems() {
	if m == nil {
		return
	}
	m.ItemsScrapedTotal.Inc()
}

// IncRetries increments the retries counter.
func (m *Metrics) IncRetries(class string) {
	if m == nil {
		return
	}
	m.RetriesTotal.WithLabelValues(class).Inc()
}

// IncError increments the errors counter for a type label.
func (m *Metrics) IncError(errorType string) {
	if m == nil {
		return
	}
	m.ErrorsTotal.WithLabelValues(errorType).Inc()
}

func (m *Metrics) IncTerminal(kind, class string) {
	if m == nil {
		return
	}
	m.TerminalFailures.WithLabelValues(kind, class).Inc()
}

func (m *Metrics) IncFieldFailure(field, status string) {
	if m == nil {
		return
	}
	m.FieldFailuresTotal.WithLabelValues(field, status).Inc()
}

func (m *Metrics) IncCoercion() {
	if m == nil {
		return
	}
	m.PriceCoercions.Inc()
}

func (m *Metrics) IncUnroutable() {
	if m == nil {
		return
	}
	m.UnroutableTotal.Inc()
}

func (m *Metrics) IncCategoryDone(reason string) {
	if m == nil {
		return
	}
	m.CategoriesDone.WithLabelValues(reason).Inc()
}

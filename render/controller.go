package render

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/aluiziolira/go-scrape-fixprice/extract"
	"github.com/aluiziolira/go-scrape-fixprice/models"
)

// ErrBlockedPage is returned when navigation lands on a challenge page.
var ErrBlockedPage = errors.New("render: blocked by anti-automation page")

// NavigationError is a failed page load. Status is the document's HTTP status
// when one was received; Reason is the browser's network error text.
type NavigationError struct {
	URL    string
	Status int
	Reason string
	Err    error
}

func (e *NavigationError) Error() string {
	switch {
	case e.Status != 0:
		return fmt.Sprintf("navigate %s: status %d", e.URL, e.Status)
	case e.Reason != "":
		return fmt.Sprintf("navigate %s: %s", e.URL, e.Reason)
	default:
		return fmt.Sprintf("navigate %s: %v", e.URL, e.Err)
	}
}

func (e *NavigationError) Unwrap() error { return e.Err }

// Session is a rendered page ready for extraction.
type Session interface {
	extract.Source
	HTML(ctx context.Context) (string, error)
	Status() int
}

// Page is a backend page before and after navigation.
type Page interface {
	Session
	Navigate(ctx context.Context, rawURL string) error
	Close() error
}

// PageOptions carries per-request identity into a new page.
type PageOptions struct {
	UserAgent string
	Header    http.Header
	Policy    Policy
}

// Backend creates pages. Implementations must be safe for concurrent use.
type Backend interface {
	NewPage(ctx context.Context, opts PageOptions) (Page, error)
	Close() error
}

// Controller opens rendering sessions and guarantees their release.
type Controller struct {
	backend Backend
	policy  Policy
	logger  *slog.Logger
	active  atomic.Int64
}

func NewController(backend Backend, policy Policy, logger *slog.Logger) *Controller {
	if logger == nil {
		logger = slog.Default()
	}
	return &Controller{backend: backend, policy: policy, logger: logger}
}

// Active returns the number of sessions not yet released.
func (c *Controller) Active() int64 { return c.active.Load() }

// Open navigates to req and returns the session with its release function.
// On error nothing needs releasing. release is safe to call more than once.
func (c *Controller) Open(ctx context.Context, req models.Request) (Session, func(), error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}

	page, err := c.backend.NewPage(ctx, PageOptions{
		UserAgent: req.Header.Get("User-Agent"),
		Header:    req.Header,
		Policy:    c.policy,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("open page: %w", err)
	}
	c.active.Add(1)

	var once sync.Once
	release := func() {
		once.Do(func() {
			if err := page.Close(); err != nil {
				c.logger.Debug("page close failed", "url", req.URL, "error", err)
			}
			c.active.Add(-1)
		})
	}

	if err := c.navigate(ctx, page, req.URL); err != nil {
		release()
		return nil, nil, err
	}
	return page, release, nil
}

func (c *Controller) navigate(ctx context.Context, page Page, rawURL string) error {
	if err := page.Navigate(ctx, rawURL); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return fmt.Errorf("navigate %s: %w", rawURL, ctxErr)
		}
		var navErr *NavigationError
		if errors.As(err, &navErr) {
			return err
		}
		return &NavigationError{URL: rawURL, Err: err}
	}

	if status := page.Status(); status >= http.StatusBadRequest {
		return &NavigationError{URL: rawURL, Status: status}
	}

	if len(c.policy.BlockedPageMarkers) > 0 {
		html, err := page.HTML(ctx)
		if err != nil {
			c.logger.Debug("read page html failed", "url", rawURL, "error", err)
			return nil
		}
		if c.policy.IsBlockedPage(html) {
			return fmt.Errorf("%w: %s", ErrBlockedPage, rawURL)
		}
	}
	return nil
}

// Fetch scopes a session to fn. The session is released when fn returns,
// fails, panics or ctx is cancelled. A panic in fn is returned as an error.
func (c *Controller) Fetch(ctx context.Context, req models.Request, fn func(ctx context.Context, s Session) error) (err error) {
	session, release, err := c.Open(ctx, req)
	if err != nil {
		return err
	}
	defer release()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("render %s: panic: %v", req.URL, r)
		}
	}()

	return fn(ctx, session)
}

// Close shuts the backend down.
func (c *Controller) Close() error {
	if n := c.active.Load(); n > 0 {
		c.logger.Warn("closing renderer with open sessions", "active", n)
	}
	return c.backend.Close()
}

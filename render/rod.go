package render

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"
)

// BrowserOptions configures the headless browser.
type BrowserOptions struct {
	Headless bool
	// Bin is the browser executable. Empty downloads a default build.
	Bin string
	// Proxy is passed to the browser at launch, e.g. "http://host:port".
	Proxy string
}

// RodBackend renders pages in a Chromium instance driven over CDP.
type RodBackend struct {
	browser  *rod.Browser
	launcher *launcher.Launcher
	logger   *slog.Logger
}

// LaunchBrowser starts a browser and connects to it.
func LaunchBrowser(opts BrowserOptions, logger *slog.Logger) (*RodBackend, error) {
	if logger == nil {
		logger = slog.Default()
	}

	bin := opts.Bin
	if bin == "" {
		logger.Info("no browser binary specified, downloading default")
		path, err := launcher.NewBrowser().Get()
		if err != nil {
			return nil, fmt.Errorf("download browser: %w", err)
		}
		bin = path
	}

	l := launcher.New().
		Headless(opts.Headless).
		Bin(bin).
		NoSandbox(true)
	if opts.Proxy != "" {
		l = l.Proxy(opts.Proxy)
	}

	controlURL, err := l.Launch()
	if err != nil {
		return nil, fmt.Errorf("launch browser: %w", err)
	}

	browser := rod.New().ControlURL(controlURL)
	if err := browser.Connect(); err != nil {
		l.Kill()
		return nil, fmt.Errorf("connect browser: %w", err)
	}

	logger.Info("browser started", "bin", bin, "headless", opts.Headless, "proxy", opts.Proxy != "")
	return &RodBackend{browser: browser, launcher: l, logger: logger}, nil
}

func (b *RodBackend) NewPage(ctx context.Context, opts PageOptions) (Page, error) {
	var (
		base *rod.Page
		err  error
	)
	if opts.Policy.Stealth {
		base, err = stealth.Page(b.browser)
	} else {
		base, err = b.browser.Page(proto.TargetCreateTarget{URL: ""})
	}
	if err != nil {
		return nil, fmt.Errorf("create page: %w", err)
	}

	eventCtx, cancel := context.WithCancel(context.Background())
	p := &rodPage{
		base:   base,
		events: base.Context(eventCtx),
		cancel: cancel,
		logger: b.logger,
	}

	if err := p.setup(opts); err != nil {
		p.Close()
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		p.Close()
		return nil, err
	}
	return p, nil
}

func (b *RodBackend) Close() error {
	err := b.browser.Close()
	b.launcher.Kill()
	b.launcher.Cleanup()
	return err
}

type rodPage struct {
	base   *rod.Page
	events *rod.Page
	cancel context.CancelFunc
	logger *slog.Logger

	router    *rod.HijackRouter
	status    atomic.Int64
	closeOnce sync.Once
	closeErr  error
}

func (p *rodPage) setup(opts PageOptions) error {
	if opts.UserAgent != "" {
		if err := p.base.SetUserAgent(&proto.NetworkSetUserAgentOverride{UserAgent: opts.UserAgent}); err != nil {
			return fmt.Errorf("set user agent: %w", err)
		}
	}

	var extra []string
	for k, vs := range opts.Header {
		if k == "User-Agent" || len(vs) == 0 {
			continue
		}
		extra = append(extra, k, vs[0])
	}
	if len(extra) > 0 {
		if _, err := p.base.SetExtraHeaders(extra); err != nil {
			return fmt.Errorf("set extra headers: %w", err)
		}
	}

	policy := opts.Policy
	p.router = p.events.HijackRequests()
	if err := p.router.Add("*", "", func(h *rod.Hijack) {
		if policy.ShouldBlock(string(h.Request.Type()), h.Request.URL().String()) {
			h.Response.Fail(proto.NetworkErrorReasonBlockedByClient)
			return
		}
		h.ContinueRequest(&proto.FetchContinueRequest{})
	}); err != nil {
		return fmt.Errorf("install request filter: %w", err)
	}
	go p.router.Run()

	go p.events.EachEvent(
		func(e *proto.PageJavascriptDialogOpening) {
			if !policy.DismissDialogs {
				return
			}
			if err := (proto.PageHandleJavaScriptDialog{Accept: false}).Call(p.base); err != nil {
				p.logger.Debug("dismiss dialog failed", "type", e.Type, "error", err)
			}
		},
		func(e *proto.NetworkResponseReceived) {
			if e.Type == proto.NetworkResourceTypeDocument && e.Response != nil {
				p.status.CompareAndSwap(0, int64(e.Response.Status))
			}
		},
	)()
	return nil
}

func (p *rodPage) Navigate(ctx context.Context, rawURL string) error {
	page := p.base.Context(ctx)
	if err := page.Navigate(rawURL); err != nil {
		var navErr *rod.NavigationError
		if errors.As(err, &navErr) {
			return &NavigationError{URL: rawURL, Reason: navErr.Reason, Err: err}
		}
		return err
	}
	if err := page.WaitLoad(); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		p.logger.Debug("wait load failed, continuing", "url", rawURL, "error", err)
	}
	return nil
}

func (p *rodPage) Status() int { return int(p.status.Load()) }

func (p *rodPage) HTML(ctx context.Context) (string, error) {
	return p.base.Context(ctx).HTML()
}

// Text waits for the first element matching selector.
func (p *rodPage) Text(ctx context.Context, selector string) (string, error) {
	el, err := p.base.Context(ctx).Element(selector)
	if err != nil {
		return "", err
	}
	return el.Text()
}

func (p *rodPage) elements(ctx context.Context, selector string) (rod.Elements, error) {
	page := p.base.Context(ctx)
	if _, err := page.Element(selector); err != nil {
		return nil, err
	}
	return page.Elements(selector)
}

func (p *rodPage) Texts(ctx context.Context, selector string) ([]string, error) {
	els, err := p.elements(ctx, selector)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(els))
	for _, el := range els {
		text, err := el.Text()
		if err != nil {
			return nil, err
		}
		out = append(out, text)
	}
	return out, nil
}

func (p *rodPage) Attrs(ctx context.Context, selector, attr string) ([]string, error) {
	els, err := p.elements(ctx, selector)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, el := range els {
		v, err := el.Attribute(attr)
		if err != nil {
			return nil, err
		}
		if v != nil && *v != "" {
			out = append(out, *v)
		}
	}
	return out, nil
}

func (p *rodPage) Close() error {
	p.closeOnce.Do(func() {
		if p.router != nil {
			if err := p.router.Stop(); err != nil {
				p.logger.Debug("stop request filter failed", "error", err)
			}
		}
		p.closeErr = p.base.Close()
		p.cancel()
	})
	return p.closeErr
}

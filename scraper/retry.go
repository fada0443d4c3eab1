package scraper

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/aluiziolira/go-scrape-fixprice/config"
)

// Decision is what to do with a failed request.
type Decision struct {
	Class   Class
	Attempt int
	Retry   bool
	Delay   time.Duration
	// Rotate asks for a fresh user agent and proxy before the next attempt.
	Rotate bool
	// Terminal is set exactly once per fingerprint, on the first decision
	// that gives up on it.
	Terminal bool
}

// Coordinator owns retry budgets, backoff delays and delayed re-issue for
// every failing fingerprint.
type Coordinator struct {
	cfg     *config.Config
	metrics *Metrics
	ctx     context.Context

	randMu sync.Mutex
	rand   *rand.Rand

	mu           sync.Mutex
	attempts     map[string]int
	terminal     map[string]struct{}
	timers       map[string]*pendingRetry
	totalRetries int
	stopped      bool
}

type pendingRetry struct {
	timer *time.Timer
	drop  func()
}

func NewCoordinator(cfg *config.Config, metrics *Metrics) *Coordinator {
	return &Coordinator{
		cfg:      cfg,
		metrics:  metrics,
		ctx:      context.Background(),
		rand:     rand.New(rand.NewSource(time.Now().UnixNano())),
		attempts: make(map[string]int),
		terminal: make(map[string]struct{}),
		timers:   make(map[string]*pendingRetry),
	}
}

// Decide records a failure for fp and returns the retry decision. Once a
// fingerprint has been given up on, every later call returns a non-retry,
// non-terminal decision.
func (c *Coordinator) Decide(fp string, err error) Decision {
	class := Classify(err)
	d := Decision{Class: class}

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, done := c.terminal[fp]; done {
		return d
	}

	giveUp := class == ClassPermanent ||
		c.stopped ||
		c.ctx.Err() != nil ||
		c.attempts[fp] >= c.cfg.MaxRetries
	if giveUp {
		c.terminal[fp] = struct{}{}
		d.Attempt = c.attempts[fp]
		d.Terminal = true
		return d
	}

	c.attempts[fp]++
	c.totalRetries++
	d.Attempt = c.attempts[fp]
	d.Retry = true
	d.Rotate = class == ClassBlocked
	d.Delay = c.delay(d.Attempt, class)
	c.metrics.IncRetries(string(class))
	return d
}

// Attempts returns the number of retries granted to fp so far.
func (c *Coordinator) Attempts(fp string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.attempts[fp]
}

func (c *Coordinator) delay(attempt int, class Class) time.Duration {
	if class == ClassBlocked {
		base := c.cfg.BlockedBackoff
		if base <= 0 {
			return c.backoff(attempt)
		}
		return base + c.jitter(base)
	}
	d := c.backoff(attempt)
	return d + c.jitter(d/2)
}

func (c *Coordinator) backoff(attempt int) time.Duration {
	if attempt <= 0 {
		attempt = 1
	}

	base := c.cfg.RetryBackoff
	if base <= 0 {
		base = 100 * time.Millisecond
	}

	if attempt > 30 {
		attempt = 30
	}
	delay := base * time.Duration(1<<(attempt-1))
	if max := c.cfg.RetryBackoffMax; max > 0 && (delay > max || delay <= 0) {
		delay = max
	}
	return delay
}

// jitter returns a random duration in [0, limit).
func (c *Coordinator) jitter(limit time.Duration) time.Duration {
	if limit <= 0 {
		return 0
	}
	c.randMu.Lock()
	defer c.randMu.Unlock()
	return time.Duration(c.rand.Int63n(int64(limit)))
}

// Wait sleeps for d or until ctx is done.
func (c *Coordinator) Wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Schedule runs fire after delay. If the coordinator is stopped or its
// context ends first, drop runs instead. Exactly one of the two runs for
// every scheduled retry; Schedule returns false and runs neither when the
// retry cannot be scheduled at all.
func (c *Coordinator) Schedule(fp string, delay time.Duration, fire, drop func()) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.stopped || c.ctx.Err() != nil {
		return false
	}
	if prev, ok := c.timers[fp]; ok && prev.timer.Stop() {
		delete(c.timers, fp)
		prev.drop()
	}

	pending := &pendingRetry{drop: drop}
	pending.timer = time.AfterFunc(delay, func() {
		c.mu.Lock()
		if c.timers[fp] == pending {
			delete(c.timers, fp)
		}
		live := !c.stopped && c.ctx.Err() == nil
		c.mu.Unlock()

		if live {
			fire()
			return
		}
		drop()
	})
	c.timers[fp] = pending
	return true
}

// Stop cancels every pending retry, running its drop callback.
func (c *Coordinator) Stop() {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return
	}
	c.stopped = true
	var drops []func()
	for fp, pending := range c.timers {
		if pending.timer.Stop() {
			drops = append(drops, pending.drop)
		}
		delete(c.timers, fp)
	}
	c.mu.Unlock()

	for _, drop := range drops {
		drop()
	}
}

// Pending returns the number of scheduled retries not yet fired.
func (c *Coordinator) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.timers)
}

func (c *Coordinator) TotalRetries() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.totalRetries
}

// SetContext bounds future decisions and scheduled retries to ctx.
func (c *Coordinator) SetContext(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if ctx == nil {
		c.ctx = context.Background()
		return
	}
	c.ctx = ctx
}

package scraper

import (
	"fmt"
	"math/rand"
	"net/http"
	"net/url"
	"sync"
	"time"
)

// Identity rotates the outbound user agent and proxy.
type Identity struct {
	mu         sync.Mutex
	rand       *rand.Rand
	userAgents []string
	proxies    []*url.URL
	proxyIdx   int
	rotations  int
}

// NewIdentity builds an identity pool. proxies may be empty.
func NewIdentity(userAgents, proxies []string) (*Identity, error) {
	if len(userAgents) == 0 {
		return nil, fmt.Errorf("identity: at least one user agent is required")
	}
	id := &Identity{rand: rand.New(rand.NewSource(time.Now().UnixNano()))}
	seen := make(map[string]struct{}, len(userAgents))
	for _, ua := range userAgents {
		if _, ok := seen[ua]; ok {
			continue
		}
		seen[ua] = struct{}{}
		id.userAgents = append(id.userAgents, ua)
	}
	for _, raw := range proxies {
		u, err := url.Parse(raw)
		if err != nil || u.Host == "" {
			return nil, fmt.Errorf("identity: invalid proxy %q", raw)
		}
		id.proxies = append(id.proxies, u)
	}
	return id, nil
}

// UserAgent picks a random user agent from the pool.
func (id *Identity) UserAgent() string {
	id.mu.Lock()
	defer id.mu.Unlock()
	return id.userAgents[id.rand.Intn(len(id.userAgents))]
}

// NextUserAgent picks a user agent different from current when the pool
// allows it.
func (id *Identity) NextUserAgent(current string) string {
	id.mu.Lock()
	defer id.mu.Unlock()
	others := make([]string, 0, len(id.userAgents))
	for _, ua := range id.userAgents {
		if ua != current {
			others = append(others, ua)
		}
	}
	if len(others) == 0 {
		return id.userAgents[id.rand.Intn(len(id.userAgents))]
	}
	return others[id.rand.Intn(len(others))]
}

// Rotate advances to the next proxy. It is called after a blocked response.
func (id *Identity) Rotate() {
	id.mu.Lock()
	defer id.mu.Unlock()
	id.rotations++
	if len(id.proxies) > 0 {
		id.proxyIdx = (id.proxyIdx + 1) % len(id.proxies)
	}
}

// Rotations returns how many forced rotations happened.
func (id *Identity) Rotations() int {
	id.mu.Lock()
	defer id.mu.Unlock()
	return id.rotations
}

// Proxy returns the current proxy, or nil when none is configured.
func (id *Identity) Proxy() *url.URL {
	id.mu.Lock()
	defer id.mu.Unlock()
	if len(id.proxies) == 0 {
		return nil
	}
	return id.proxies[id.proxyIdx]
}

// ProxyFunc is a Transport.Proxy that follows rotation. Without configured
// proxies it defers to the environment.
func (id *Identity) ProxyFunc() func(*http.Request) (*url.URL, error) {
	return func(req *http.Request) (*url.URL, error) {
		if p := id.Proxy(); p != nil {
			return p, nil
		}
		return http.ProxyFromEnvironment(req)
	}
}

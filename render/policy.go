// Package render drives the page-rendering session used for product pages.
package render

import "strings"

// Policy is applied to every page before navigation.
type Policy struct {
	// BlockedTypes are resource types (image, media, stylesheet, font, ...)
	// that are aborted before they are fetched.
	BlockedTypes []string
	// BlockedURLKeywords abort any request whose URL contains one of them.
	BlockedURLKeywords []string
	// BlockedHosts abort requests whose URL mentions one of these hosts.
	BlockedHosts []string
	// BlockedPageMarkers identify anti-automation challenge pages.
	BlockedPageMarkers []string

	DismissDialogs bool
	Stealth        bool
}

// DefaultPolicy blocks heavy and tracking sub-resources of the target site.
func DefaultPolicy() Policy {
	return Policy{
		BlockedTypes: []string{"image", "media", "stylesheet", "font"},
		BlockedURLKeywords: []string{
			"popup", "modal", "advertisement", "ads",
			"tracker", "analytics", "doubleclick", "googletagmanager",
		},
		BlockedHosts: []string{
			"top-fwz1.mail.ru",
			"mc.yandex.ru",
			"vk.com",
			"img.fix-price.com",
			"secure.usedesk.ru",
			"cdn-cgi",
		},
		BlockedPageMarkers: []string{
			"challenge-platform",
			"cf-chl-",
			"Checking your browser before accessing",
			"smartcaptcha",
			"/_Incapsula_Resource",
		},
		DismissDialogs: true,
		Stealth:        true,
	}
}

// ShouldBlock reports whether a sub-resource request must be aborted.
// Resource types compare case-insensitively. Documents are never blocked.
func (p Policy) ShouldBlock(resourceType, rawURL string) bool {
	if strings.EqualFold(resourceType, "document") {
		return false
	}
	for _, t := range p.BlockedTypes {
		if strings.EqualFold(t, resourceType) {
			return true
		}
	}

	lower := strings.ToLower(rawURL)
	for _, kw := range p.BlockedURLKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}

	for _, h := range p.BlockedHosts {
		if strings.Contains(lower, h) {
			return true
		}
	}
	return false
}

// IsBlockedPage reports whether rendered HTML is a challenge page.
func (p Policy) IsBlockedPage(html string) bool {
	for _, m := range p.BlockedPageMarkers {
		if m != "" && strings.Contains(html, m) {
			return true
		}
	}
	return false
}

package bypass

import (
	"bytes"
	"net/http"
	"net/url"
	"strings"
)

// Page is a snapshot of what the target served: either an HTTP response from
// the preflight probe or the live document of the browser session. StatusCode
// is zero when it is unknown, as it is for browser snapshots.
type Page struct {
	URL        string
	StatusCode int
	Header     http.Header
	Body       []byte
}

// Detector reports whether page is a block, challenge or interstitial rather
// than the map application, and names its source.
type Detector func(page *Page) (detected bool, source string)

// Detection sources.
const (
	SourceUnusualTraffic = "GoogleUnusualTraffic"
	SourceConsentWall    = "GoogleConsent"
	SourceRecaptcha      = "reCAPTCHA"
	SourceRateLimited    = "RateLimited"
)

// DefaultDetectors returns the detectors for Google-hosted pages.
func DefaultDetectors() []Detector {
	return []Detector{
		detectUnusualTraffic,
		detectRecaptcha,
		detectRateLimited,
		detectConsentWall,
	}
}

// Analyze runs page through detectors in order and returns the first hit.
func Analyze(page *Page, detectors []Detector) (bool, string) {
	if page == nil {
		return false, ""
	}
	for _, d := range detectors {
		if detected, source := d(page); detected {
			return true, source
		}
	}
	return false, ""
}

func host(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Hostname())
}

func containsAny(body []byte, needles ...string) bool {
	for _, n := range needles {
		if bytes.Contains(body, []byte(n)) {
			return true
		}
	}
	return false
}

// detectUnusualTraffic matches the /sorry/ interstitial Google serves to
// traffic it considers automated.
func detectUnusualTraffic(p *Page) (bool, string) {
	if u, err := url.Parse(p.URL); err == nil && strings.HasPrefix(u.Path, "/sorry/") {
		return true, SourceUnusualTraffic
	}
	if containsAny(p.Body,
		"Our systems have detected unusual traffic",
		"unusual traffic from your computer network",
		"Sistemlerimiz, bilgisayar ağınızdan gelen olağan dışı trafik",
	) {
		return true, SourceUnusualTraffic
	}
	return false, ""
}

// detectRecaptcha matches an embedded reCAPTCHA challenge.
func detectRecaptcha(p *Page) (bool, string) {
	if containsAny(p.Body, "g-recaptcha", "www.google.com/recaptcha/api", "recaptcha/api2/anchor") {
		return true, SourceRecaptcha
	}
	return false, ""
}

// detectRateLimited matches an explicit HTTP 429.
func detectRateLimited(p *Page) (bool, string) {
	if p.StatusCode == http.StatusTooManyRequests {
		return true, SourceRateLimited
	}
	return false, ""
}

// detectConsentWall matches the cookie consent interstitial that replaces the
// map for EU visitors until a choice is made.
func detectConsentWall(p *Page) (bool, string) {
	if host(p.URL) == "consent.google.com" {
		return true, SourceConsentWall
	}
	if containsAny(p.Body, `action="https://consent.google.com/save"`, "consent.google.com/ml") {
		return true, SourceConsentWall
	}
	return false, ""
}

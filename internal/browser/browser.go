// Package browser drives a headless Chromium instance for image pages
// that only expose their asset URL after client-side rendering.
package browser

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"sync"
	"time"

	"github.com/playwright-community/playwright-go"
	log "github.com/sirupsen/logrus"
)

// imageSelector matches the main image element on a Civitai image
// detail page once rendering has finished.
const imageSelector = ".relative.flex.size-full.items-center.justify-center img"

// ErrNoImage is returned when the page rendered but no image element
// produced a source URL.
var ErrNoImage = errors.New("no image source found on page")

// PageResult carries the two values scraped from an image page: the
// direct image URL and the model version id encoded in a sibling link.
type PageResult struct {
	ImageSrc  string
	VersionID string
}

// PageFetcher is the scrape surface the asset locator consumes.
type PageFetcher interface {
	FetchImagePage(pageURL string) (PageResult, error)
}

// Options configures a Browser launch.
type Options struct {
	ChromePath  string        // executable path; empty uses the bundled browser
	CookieFile  string        // JSON cookie file for authenticated galleries
	Headless    bool
	WaitTimeout time.Duration // bounded wait for the image element
}

// Browser owns one Chromium page. The underlying instance is not safe
// for concurrent use, so every fetch holds the mutex: scrape-strategy
// locates serialize even while other work runs in parallel.
type Browser struct {
	mu          sync.Mutex
	pw          *playwright.Playwright
	browser     playwright.Browser
	context     playwright.BrowserContext
	page        playwright.Page
	waitTimeout time.Duration
}

// cookie mirrors the fields of a browser-exported cookies.json entry.
type cookie struct {
	Name     string  `json:"name"`
	Value    string  `json:"value"`
	Domain   string  `json:"domain"`
	Path     string  `json:"path"`
	Expires  float64 `json:"expires"`
	HttpOnly bool    `json:"httpOnly"`
	Secure   bool    `json:"secure"`
}

// Launch starts Chromium and prepares a page, loading cookies from the
// configured file when present.
func Launch(opts Options) (*Browser, error) {
	pw, err := playwright.Run()
	if err != nil {
		return nil, fmt.Errorf("failed to start playwright: %w", err)
	}

	launchOpts := playwright.BrowserTypeLaunchOptions{
		Headless: playwright.Bool(opts.Headless),
		Args:     []string{"--disable-blink-features=AutomationControlled"},
	}
	if opts.ChromePath != "" {
		launchOpts.ExecutablePath = playwright.String(opts.ChromePath)
	}

	chromium, err := pw.Chromium.Launch(launchOpts)
	if err != nil {
		_ = pw.Stop()
		return nil, fmt.Errorf("failed to launch chromium: %w", err)
	}

	context, err := chromium.NewContext()
	if err != nil {
		_ = chromium.Close()
		_ = pw.Stop()
		return nil, fmt.Errorf("failed to create browser context: %w", err)
	}

	if opts.CookieFile != "" {
		if err := loadCookies(context, opts.CookieFile); err != nil {
			log.WithError(err).Warnf("Could not load cookies from %s, continuing unauthenticated", opts.CookieFile)
		}
	}

	page, err := context.NewPage()
	if err != nil {
		_ = context.Close()
		_ = chromium.Close()
		_ = pw.Stop()
		return nil, fmt.Errorf("failed to open page: %w", err)
	}

	waitTimeout := opts.WaitTimeout
	if waitTimeout <= 0 {
		waitTimeout = 60 * time.Second
	}

	log.Info("Headless browser ready")
	return &Browser{
		pw:          pw,
		browser:     chromium,
		context:     context,
		page:        page,
		waitTimeout: waitTimeout,
	}, nil
}

func loadCookies(context playwright.BrowserContext, cookieFile string) error {
	data, err := os.ReadFile(cookieFile)
	if err != nil {
		return fmt.Errorf("reading cookie file: %w", err)
	}
	var cookies []cookie
	if err := json.Unmarshal(data, &cookies); err != nil {
		return fmt.Errorf("parsing cookie file: %w", err)
	}

	converted := make([]playwright.OptionalCookie, 0, len(cookies))
	for _, c := range cookies {
		converted = append(converted, playwright.OptionalCookie{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   playwright.String(c.Domain),
			Path:     playwright.String(c.Path),
			Expires:  playwright.Float(c.Expires),
			HttpOnly: playwright.Bool(c.HttpOnly),
			Secure:   playwright.Bool(c.Secure),
		})
	}
	if err := context.AddCookies(converted); err != nil {
		return fmt.Errorf("adding cookies: %w", err)
	}
	log.Debugf("Loaded %d cookies from %s", len(converted), cookieFile)
	return nil
}

// FetchImagePage navigates to pageURL, waits for the image element,
// and extracts the image source plus the version id from the sibling
// filter link. The in-page extraction is retried once after a short
// pause, since the src attribute can lag behind element attachment.
func (b *Browser) FetchImagePage(pageURL string) (PageResult, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, err := b.page.Goto(pageURL, playwright.PageGotoOptions{
		WaitUntil: playwright.WaitUntilStateDomcontentloaded,
	}); err != nil {
		return PageResult{}, fmt.Errorf("navigating to %s: %w", pageURL, err)
	}

	if _, err := b.page.WaitForSelector(imageSelector, playwright.PageWaitForSelectorOptions{
		Timeout: playwright.Float(float64(b.waitTimeout.Milliseconds())),
	}); err != nil {
		return PageResult{}, fmt.Errorf("waiting for image element on %s: %w", pageURL, err)
	}

	var imgSrc string
	for attempt := 0; attempt < 2; attempt++ {
		value, err := b.page.EvalOnSelector(imageSelector, "img => img.src", nil)
		if err != nil {
			return PageResult{}, fmt.Errorf("extracting image source on %s: %w", pageURL, err)
		}
		if src, ok := value.(string); ok && src != "" {
			imgSrc = src
			break
		}
		if attempt == 0 {
			b.page.WaitForTimeout(500)
		}
	}
	if imgSrc == "" {
		return PageResult{}, ErrNoImage
	}

	result := PageResult{ImageSrc: imgSrc}

	// The gallery filter link next to the image carries the version id.
	value, err := b.page.Evaluate(
		`() => { const a = document.querySelector('a[href*="modelVersionId="]'); return a ? a.href : ''; }`)
	if err != nil {
		log.WithError(err).Debugf("No version link found on %s", pageURL)
	} else if href, ok := value.(string); ok && href != "" {
		result.VersionID = versionIDFromHref(href)
	}

	return result, nil
}

func versionIDFromHref(href string) string {
	u, err := url.Parse(href)
	if err != nil {
		return ""
	}
	return u.Query().Get("modelVersionId")
}

// Close shuts the page, context, browser, and driver down in order.
func (b *Browser) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.page != nil {
		if err := b.page.Close(); err != nil {
			log.WithError(err).Debug("Error closing browser page")
		}
	}
	if b.context != nil {
		if err := b.context.Close(); err != nil {
			log.WithError(err).Debug("Error closing browser context")
		}
	}
	if b.browser != nil {
		if err := b.browser.Close(); err != nil {
			log.WithError(err).Debug("Error closing browser")
		}
	}
	if b.pw != nil {
		if err := b.pw.Stop(); err != nil {
			log.WithError(err).Debug("Error stopping playwright driver")
		}
	}
}

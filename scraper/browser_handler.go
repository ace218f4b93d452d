package scraper

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/playwright-community/playwright-go"
	"go.uber.org/zap"

	"dealerscan/httputil"
	"dealerscan/models"
)

// BrowserHandler renders the inventory page in headless Chromium for sites
// that build their listings client-side.
type BrowserHandler struct {
	extractor *Extractor
	timeout   time.Duration
	logger    *zap.Logger

	mu          sync.Mutex
	pw          *playwright.Playwright
	browser     playwright.Browser
	initialized bool
}

func NewBrowserHandler(extractor *Extractor, timeout time.Duration, logger *zap.Logger) *BrowserHandler {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &BrowserHandler{extractor: extractor, timeout: timeout, logger: logger}
}

func (h *BrowserHandler) ID() string {
	return "browser"
}

func (h *BrowserHandler) Scrape(ctx context.Context, sourceURL string, maxListings int, includeImages bool) ([]models.RawRecord, error) {
	if err := h.ensureBrowser(); err != nil {
		return nil, err
	}

	page, err := h.newPage()
	if err != nil {
		return nil, err
	}
	defer page.Close()

	stop := context.AfterFunc(ctx, func() { page.Close() })
	defer stop()

	h.logger.Info("navigating", zap.String("url", sourceURL))
	if _, err := page.Goto(sourceURL, playwright.PageGotoOptions{
		Timeout:   playwright.Float(float64(h.timeout.Milliseconds())),
		WaitUntil: playwright.WaitUntilStateNetworkidle,
	}); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("navigate %s: %w", sourceURL, err)
	}

	h.handleConsent(page)

	content, err := page.Content()
	if err != nil {
		return nil, fmt.Errorf("read page content: %w", err)
	}

	records, err := h.extractor.Extract(strings.NewReader(content), includeImages)
	if err != nil {
		return nil, err
	}
	h.logger.Info("inventory page rendered",
		zap.String("url", sourceURL),
		zap.Int("records", len(records)),
		zap.Int("max_listings", maxListings),
	)
	return records, nil
}

func (h *BrowserHandler) ensureBrowser() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.initialized {
		return nil
	}

	var err error
	h.pw, err = playwright.Run()
	if err != nil {
		return fmt.Errorf("failed to start playwright: %w", err)
	}

	h.browser, err = h.pw.Chromium.Launch(playwright.BrowserTypeLaunchOptions{
		Headless: playwright.Bool(true),
		Args: []string{
			"--disable-blink-features=AutomationControlled",
			"--disable-dev-shm-usage",
			"--no-sandbox",
		},
	})
	if err != nil {
		h.pw.Stop()
		return fmt.Errorf("failed to launch browser: %w", err)
	}

	h.initialized = true
	return nil
}

func (h *BrowserHandler) newPage() (playwright.Page, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	page, err := h.browser.NewPage(playwright.BrowserNewPageOptions{
		UserAgent: playwright.String(httputil.UserAgent),
		Viewport:  &playwright.Size{Width: 1280, Height: 800},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create page: %w", err)
	}
	return page, nil
}

// Close shuts the browser down; the next Scrape starts a new one.
func (h *BrowserHandler) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.browser != nil {
		h.browser.Close()
		h.browser = nil
	}
	if h.pw != nil {
		h.pw.Stop()
		h.pw = nil
	}
	h.initialized = false
}

func (h *BrowserHandler) handleConsent(page playwright.Page) {
	consentSelectors := []string{
		"button:has-text('Accept')",
		"button:has-text('Accept All')",
		"button:has-text('I Accept')",
		"button:has-text('Agree')",
		"button[id*='accept']",
		"button[class*='consent']",
		"#onetrust-accept-btn-handler",
	}

	for _, selector := range consentSelectors {
		btn := page.Locator(selector).First()
		if visible, _ := btn.IsVisible(); visible {
			h.logger.Debug("clicking consent button", zap.String("selector", selector))
			btn.Click()
			page.WaitForTimeout(1000)
			break
		}
	}
}

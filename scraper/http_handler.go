package scraper

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"go.uber.org/zap"

	"dealerscan/httputil"
	"dealerscan/models"
)

// maxPageBytes caps how much of an inventory page is read.
const maxPageBytes = 10 << 20

// HTTPHandler fetches server-rendered inventory pages.
type HTTPHandler struct {
	client    *http.Client
	extractor *Extractor
	logger    *zap.Logger
}

func NewHTTPHandler(client *http.Client, extractor *Extractor, logger *zap.Logger) *HTTPHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HTTPHandler{client: client, extractor: extractor, logger: logger}
}

func (h *HTTPHandler) ID() string {
	return "http"
}

func (h *HTTPHandler) Scrape(ctx context.Context, sourceURL string, maxListings int, includeImages bool) ([]models.RawRecord, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, sourceURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	httputil.BrowserHeaders(req)

	resp, err := h.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", sourceURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("fetch %s: unexpected status %d", sourceURL, resp.StatusCode)
	}

	records, err := h.extractor.Extract(io.LimitReader(resp.Body, maxPageBytes), includeImages)
	if err != nil {
		return nil, err
	}

	h.logger.Info("inventory page scraped",
		zap.String("url", sourceURL),
		zap.Int("records", len(records)),
		zap.Int("max_listings", maxListings),
	)
	return records, nil
}
